package params

import (
	"fmt"
	"regexp"
	"sort"
	"time"
)

// pythonKeywords are the reserved (and soft) keywords of the notebook
// templating target language. A parameter becomes a variable in the injected
// parameter cell, so its name must be assignable.
var pythonKeywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true,
	"assert": true, "async": true, "await": true, "break": true,
	"class": true, "continue": true, "def": true, "del": true, "elif": true,
	"else": true, "except": true, "finally": true, "for": true, "from": true,
	"global": true, "if": true, "import": true, "in": true, "is": true,
	"lambda": true, "nonlocal": true, "not": true, "or": true, "pass": true,
	"raise": true, "return": true, "try": true, "while": true, "with": true,
	"yield": true,
	// Soft keywords.
	"match": true, "case": true, "type": true, "_": true,
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateName checks that a parameter name is identifier-shaped and not a
// reserved word.
func ValidateName(name string) error {
	if !identifierPattern.MatchString(name) {
		return definitionError(name, "name is not a valid identifier", nil)
	}
	if pythonKeywords[name] {
		return definitionError(name, "name is a reserved keyword", nil)
	}
	return nil
}

// Parameters is the immutable, ordered set of a page's parameter schemas.
type Parameters struct {
	names   []string
	schemas map[string]Schema
}

// NewParameters builds a parameter set from already-constructed schemas,
// validating every name. Order follows names.
func NewParameters(names []string, schemas map[string]Schema) (*Parameters, error) {
	if len(names) != len(schemas) {
		return nil, fmt.Errorf("parameter names and schemas disagree: %d vs %d", len(names), len(schemas))
	}
	for _, name := range names {
		if err := ValidateName(name); err != nil {
			return nil, err
		}
		if _, ok := schemas[name]; !ok {
			return nil, fmt.Errorf("no schema for parameter %q", name)
		}
	}
	ordered := make([]string, len(names))
	copy(ordered, names)
	return &Parameters{names: ordered, schemas: schemas}, nil
}

// Create constructs and validates a parameter set from raw JSON schemas.
// When the source mapping carries no order of its own, names are sorted.
func Create(schemas map[string]map[string]any, order []string) (*Parameters, error) {
	built := make(map[string]Schema, len(schemas))
	for name, doc := range schemas {
		schema, err := New(name, doc)
		if err != nil {
			return nil, err
		}
		built[name] = schema
	}
	if order == nil {
		order = sortedKeys(schemas)
	}
	return NewParameters(order, built)
}

// Names returns parameter names in declaration order.
func (p *Parameters) Names() []string {
	out := make([]string, len(p.names))
	copy(out, p.names)
	return out
}

func (p *Parameters) Len() int {
	if p == nil {
		return 0
	}
	return len(p.names)
}

// Get returns the schema for a parameter name.
func (p *Parameters) Get(name string) (Schema, bool) {
	s, ok := p.schemas[name]
	return s, ok
}

// JSONSchemas returns the raw schema documents, for persistence.
func (p *Parameters) JSONSchemas() map[string]map[string]any {
	out := make(map[string]map[string]any, len(p.names))
	for name, schema := range p.schemas {
		out[name] = schema.JSONSchema()
	}
	return out
}

// ResolveValues resolves a partial, possibly stringly-typed input mapping
// into a complete native-typed value map: for every declared parameter the
// input value is taken if present, else the default (dynamic defaults are
// evaluated against now); all values are cast, then all cast values are
// validated. The first failure aborts resolution with a ValueError naming
// the parameter. Input keys that are not declared are ignored so that
// callers cannot inject unexpected variables into the template.
func (p *Parameters) ResolveValues(input map[string]any, now time.Time) (map[string]any, error) {
	if p == nil {
		return map[string]any{}, nil
	}

	collected := make(map[string]any, len(p.names))
	for _, name := range p.names {
		schema := p.schemas[name]
		if v, ok := input[name]; ok {
			collected[name] = v
			continue
		}
		def, err := schema.Default(now)
		if err != nil {
			return nil, &ValueError{Name: name, Value: schema.JSONSchema()["default"], Err: err}
		}
		collected[name] = def
	}

	cast := make(map[string]any, len(collected))
	for _, name := range p.names {
		value, err := p.schemas[name].Cast(collected[name])
		if err != nil {
			return nil, &ValueError{Name: name, Value: collected[name], Err: err}
		}
		cast[name] = value
	}

	for _, name := range p.names {
		if !p.schemas[name].Validate(cast[name]) {
			return nil, &ValueError{Name: name, Value: cast[name]}
		}
	}

	return cast, nil
}

// QueryStringValues serializes resolved values to their query-string forms,
// the representation the cache-key codec consumes.
func (p *Parameters) QueryStringValues(resolved map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(resolved))
	for name, value := range resolved {
		schema, ok := p.schemas[name]
		if !ok {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
		qs, err := schema.QueryStringValue(value)
		if err != nil {
			return nil, &ValueError{Name: name, Value: value, Err: err}
		}
		out[name] = qs
	}
	return out, nil
}

// JSONValues serializes resolved values to their JSON-compatible forms, the
// representation recorded in notebook metadata and cache records.
func (p *Parameters) JSONValues(resolved map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(resolved))
	for name, value := range resolved {
		schema, ok := p.schemas[name]
		if !ok {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
		jv, err := schema.JSONValue(value)
		if err != nil {
			return nil, &ValueError{Name: name, Value: value, Err: err}
		}
		out[name] = jv
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
