// Package render turns executed notebooks into standalone HTML documents.
// The output is a minimal faithful projection of the notebook: markdown
// cells as preformatted text blocks, code cells with their inputs
// (optionally hidden) and captured outputs.
package render

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/lsst-sqre/times-square/internal/domain"
)

// Options control one rendering pass.
type Options struct {
	// Title becomes the document title.
	Title string
	// HideCode omits code cell inputs, keeping only their outputs.
	HideCode bool
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2rem auto; max-width: 60rem; }
pre.input { background: #f4f4f4; padding: 0.75rem; overflow-x: auto; }
pre.output { padding: 0.75rem; overflow-x: auto; }
div.cell { margin-bottom: 1rem; }
img { max-width: 100%; }
</style>
</head>
<body>
{{- range .Cells}}
<div class="cell cell-{{.Kind}}">
{{- if .Markdown}}
<pre class="markdown">{{.Markdown}}</pre>
{{- end}}
{{- if .Input}}
<pre class="input"><code>{{.Input}}</code></pre>
{{- end}}
{{- range .Outputs}}
{{.}}
{{- end}}
</div>
{{- end}}
</body>
</html>
`

var tmpl = template.Must(template.New("page").Parse(pageTemplate))

type renderedCell struct {
	Kind     string
	Markdown string
	Input    string
	Outputs  []template.HTML
}

type renderedPage struct {
	Title string
	Cells []renderedCell
}

// HTML renders an executed notebook. The returned string is a complete
// document; hashing and provenance are the caller's concern.
func HTML(nb *domain.Notebook, opts Options) (string, error) {
	page := renderedPage{Title: opts.Title}
	if page.Title == "" {
		page.Title = "Notebook"
	}

	for _, cell := range nb.Cells {
		switch cell.CellType {
		case "markdown":
			page.Cells = append(page.Cells, renderedCell{
				Kind:     "markdown",
				Markdown: string(cell.Source),
			})
		case "code":
			rc := renderedCell{Kind: "code"}
			if !opts.HideCode {
				rc.Input = string(cell.Source)
			}
			for _, raw := range cell.Outputs {
				out, err := renderOutput(raw)
				if err != nil {
					return "", err
				}
				if out != "" {
					rc.Outputs = append(rc.Outputs, out)
				}
			}
			page.Cells = append(page.Cells, rc)
		}
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, page); err != nil {
		return "", fmt.Errorf("render notebook: %w", err)
	}
	return b.String(), nil
}

// cellOutput is the subset of nbformat output fields the renderer reads.
type cellOutput struct {
	OutputType string         `json:"output_type"`
	Text       multiline      `json:"text"`
	Data       map[string]any `json:"data"`
	EValue     string         `json:"evalue"`
	EName      string         `json:"ename"`
}

type multiline string

func (m *multiline) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*m = multiline(single)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return err
	}
	*m = multiline(strings.Join(lines, ""))
	return nil
}

func renderOutput(raw json.RawMessage) (template.HTML, error) {
	var out cellOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode cell output: %w", err)
	}

	switch out.OutputType {
	case "stream":
		return preformatted("output", string(out.Text)), nil
	case "error":
		return preformatted("output error", out.EName+": "+out.EValue), nil
	case "execute_result", "display_data":
		return renderData(out.Data)
	default:
		return "", nil
	}
}

// renderData picks the richest representation available from a MIME bundle.
func renderData(data map[string]any) (template.HTML, error) {
	if html, ok := bundleText(data["text/html"]); ok {
		return template.HTML(html), nil
	}
	if png, ok := bundleText(data["image/png"]); ok {
		if payload := stripWhitespace(png); validBase64(payload) {
			// Embedded payloads stay base64; browsers decode data URIs.
			src := "data:image/png;base64," + payload
			return template.HTML(fmt.Sprintf(`<img src=%q alt="output">`, src)), nil
		}
	}
	if svg, ok := bundleText(data["image/svg+xml"]); ok {
		return template.HTML(svg), nil
	}
	if text, ok := bundleText(data["text/plain"]); ok {
		return preformatted("output", text), nil
	}
	return "", nil
}

// bundleText joins a MIME bundle entry, which may be a string or a list of
// lines.
func bundleText(v any) (string, bool) {
	switch value := v.(type) {
	case string:
		return value, true
	case []any:
		var b strings.Builder
		for _, line := range value {
			s, ok := line.(string)
			if !ok {
				return "", false
			}
			b.WriteString(s)
		}
		return b.String(), true
	default:
		return "", false
	}
}

func preformatted(class, text string) template.HTML {
	escaped := template.HTMLEscapeString(text)
	return template.HTML(fmt.Sprintf(`<pre class=%q>%s</pre>`, class, escaped))
}

// validBase64 guards embedded images: a payload that does not decode is
// dropped rather than emitted as a broken data URI.
func validBase64(payload string) bool {
	_, err := base64.StdEncoding.DecodeString(payload)
	return err == nil
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
}
