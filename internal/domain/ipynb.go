package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lsst-sqre/times-square/internal/domain/params"
)

// Notebook is a Jupyter notebook document. Only the fields the renderer
// touches are typed; everything else round-trips through raw JSON so that
// execution results and display metadata survive unchanged.
type Notebook struct {
	Cells         []Cell         `json:"cells"`
	Metadata      map[string]any `json:"metadata"`
	NBFormat      int            `json:"nbformat"`
	NBFormatMinor int            `json:"nbformat_minor"`
}

// Cell is a single notebook cell.
type Cell struct {
	CellType       string            `json:"cell_type"`
	ID             string            `json:"id,omitempty"`
	Metadata       map[string]any    `json:"metadata"`
	Source         SourceText        `json:"source"`
	ExecutionCount json.RawMessage   `json:"execution_count,omitempty"`
	Outputs        []json.RawMessage `json:"outputs,omitempty"`
	Attachments    json.RawMessage   `json:"attachments,omitempty"`
}

// SourceText is cell source, which the notebook format stores either as a
// single string or as a list of lines.
type SourceText string

func (s *SourceText) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = SourceText(single)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return fmt.Errorf("cell source is neither string nor string list")
	}
	*s = SourceText(strings.Join(lines, ""))
	return nil
}

func (s SourceText) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// ParseNotebook decodes notebook JSON.
func ParseNotebook(raw []byte) (*Notebook, error) {
	var nb Notebook
	if err := json.Unmarshal(raw, &nb); err != nil {
		return nil, fmt.Errorf("decode ipynb: %w", err)
	}
	if nb.Metadata == nil {
		nb.Metadata = map[string]any{}
	}
	return &nb, nil
}

// Marshal encodes the notebook back to JSON.
func (nb *Notebook) Marshal() ([]byte, error) {
	return json.Marshal(nb)
}

// templateVarPattern matches {{ params.name }} references in cell sources.
var templateVarPattern = regexp.MustCompile(`\{\{\s*params\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// RenderParameters injects resolved values into the notebook: the first
// code cell is replaced with generated parameter assignments, template
// references in every cell are substituted, and the resolved values are
// recorded in notebook metadata.
func (nb *Notebook) RenderParameters(p *params.Parameters, resolved map[string]any) error {
	block, err := parameterCellSource(p, resolved)
	if err != nil {
		return err
	}

	replacements := make(map[string]string, p.Len())
	for _, name := range p.Names() {
		schema, _ := p.Get(name)
		qs, err := schema.QueryStringValue(resolved[name])
		if err != nil {
			return err
		}
		replacements[name] = qs
	}

	replacedFirstCode := false
	for idx := range nb.Cells {
		cell := &nb.Cells[idx]
		if cell.CellType == "code" && !replacedFirstCode {
			cell.Source = SourceText(block)
			cell.Outputs = nil
			cell.ExecutionCount = nil
			replacedFirstCode = true
			continue
		}
		cell.Source = SourceText(substituteTemplates(string(cell.Source), replacements))
	}

	jsonValues, err := p.JSONValues(resolved)
	if err != nil {
		return err
	}
	nb.Metadata["times-square"] = map[string]any{"values": jsonValues}
	return nil
}

// ResolvedValues reads back the values recorded by RenderParameters, if
// present. Executed notebooks carry them so a render result can be matched
// to the request that produced it.
func (nb *Notebook) ResolvedValues() (map[string]any, bool) {
	ts, ok := nb.Metadata["times-square"].(map[string]any)
	if !ok {
		return nil, false
	}
	values, ok := ts["values"].(map[string]any)
	return values, ok
}

// parameterCellSource builds the generated first cell: a comment header,
// required imports, then one assignment per parameter in declaration order.
func parameterCellSource(p *params.Parameters, resolved map[string]any) (string, error) {
	importSet := map[string]bool{}
	assignments := make([]string, 0, p.Len())
	for _, name := range p.Names() {
		schema, _ := p.Get(name)
		stmt, err := schema.SourceAssignment(name, resolved[name])
		if err != nil {
			return "", err
		}
		assignments = append(assignments, stmt)
		for _, imp := range schema.SourceImports() {
			importSet[imp] = true
		}
	}

	imports := make([]string, 0, len(importSet))
	for imp := range importSet {
		imports = append(imports, imp)
	}
	sort.Strings(imports)

	lines := make([]string, 0, 1+len(imports)+len(assignments))
	lines = append(lines, "# Parameters")
	lines = append(lines, imports...)
	lines = append(lines, assignments...)
	return strings.Join(lines, "\n"), nil
}

func substituteTemplates(source string, replacements map[string]string) string {
	return templateVarPattern.ReplaceAllStringFunc(source, func(match string) string {
		name := templateVarPattern.FindStringSubmatch(match)[1]
		if value, ok := replacements[name]; ok {
			return value
		}
		return match
	})
}
