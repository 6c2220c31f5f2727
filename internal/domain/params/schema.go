// Package params implements page parameter schemas: per-kind casting,
// validation, serialization, and default resolution for the template
// variables of a notebook page.
package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is the contract every parameter kind implements. A Schema is
// constructed once when a page definition is parsed and is immutable
// afterwards.
//
// Cast accepts either the native type or the string form a URL query
// parameter would carry, and is idempotent up to normalization. JSONValue,
// QueryStringValue and SourceAssignment are the three serializations of a
// cast value; each starts by casting, so raw input is never re-parsed.
type Schema interface {
	// Kind names the parameter kind ("string", "dayobs", ...).
	Kind() string

	// JSONSchema returns the raw JSON schema this parameter was built from.
	JSONSchema() map[string]any

	Cast(v any) (any, error)

	// Validate checks a value against the schema's structural rules using
	// the value's JSON-compatible form.
	Validate(v any) bool

	// Default resolves the schema's default. A static default is cast; a
	// dynamic default is evaluated against now on every call, so callers
	// must not hold the result beyond a single resolution.
	Default(now time.Time) (any, error)

	JSONValue(v any) (any, error)
	QueryStringValue(v any) (string, error)

	// SourceAssignment renders the assignment statement injected into the
	// notebook's parameter cell.
	SourceAssignment(name string, v any) (string, error)

	// SourceImports lists import statements the assignment needs.
	SourceImports() []string

	// HasDynamicDefault reports whether the default is a relative-date
	// expression instead of a static value.
	HasDynamicDefault() bool
}

type base struct {
	schema   map[string]any
	compiled *jsonschema.Schema
	dynamic  *DynamicDefault
}

func (b *base) JSONSchema() map[string]any { return b.schema }

func (b *base) HasDynamicDefault() bool { return b.dynamic != nil }

func (b *base) staticDefault() any { return b.schema["default"] }

// isValidJSON validates a JSON-compatible value against the compiled schema.
func (b *base) isValidJSON(v any) bool {
	normalized, err := jsonCompatible(v)
	if err != nil {
		return false
	}
	return b.compiled.Validate(normalized) == nil
}

// validateValue is the shared Validate implementation: serialize through the
// kind's JSONValue, then apply the compiled schema.
func validateValue(s Schema, b *base, v any) bool {
	jv, err := s.JSONValue(v)
	if err != nil {
		return false
	}
	return b.isValidJSON(jv)
}

// jsonCompatible round-trips a value through encoding/json so the validator
// sees the same shape a JSON decoder would produce.
func jsonCompatible(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

type kindKey struct {
	typ    string
	format string
}

type kindConstructor func(b base) Schema

// kinds is the closed dispatch table of supported parameter kinds, keyed by
// the declared JSON-schema type and format. Adding a kind means adding one
// entry here plus its Schema implementation.
var kinds = map[kindKey]kindConstructor{
	{typ: "string"}:                         func(b base) Schema { return &stringSchema{base: b} },
	{typ: "integer"}:                        func(b base) Schema { return &integerSchema{base: b} },
	{typ: "number"}:                         func(b base) Schema { return &numberSchema{base: b} },
	{typ: "boolean"}:                        func(b base) Schema { return &booleanSchema{base: b} },
	{typ: "string", format: "date"}:         func(b base) Schema { return &dateSchema{base: b} },
	{typ: "string", format: "date-time"}:    func(b base) Schema { return &datetimeSchema{base: b} },
	{typ: "string", format: formatDayObs}:   func(b base) Schema { return &dayObsSchema{base: b} },
	{typ: "string", format: formatDayObsDate}: func(b base) Schema {
		return &dayObsDateSchema{base: b}
	},
}

const (
	formatDayObs     = "dayobs"
	formatDayObsDate = "dayobs-date"
)

// dynamicDefaultKinds are the kinds that may carry an X-Dynamic-Default
// expression instead of a static default.
var dynamicDefaultKinds = map[string]bool{
	"date":           true,
	formatDayObs:     true,
	formatDayObsDate: true,
}

// New constructs and fully validates a parameter schema: the rule set itself
// must compile, exactly one of default and X-Dynamic-Default must be present,
// and a static default must satisfy the schema.
func New(name string, schema map[string]any) (Schema, error) {
	doc, err := normalizeSchemaDoc(schema)
	if err != nil {
		return nil, definitionError(name, "schema is not JSON-compatible", err)
	}

	key := schemaKindKey(doc)
	construct, ok := kinds[key]
	if !ok {
		return nil, definitionError(name,
			fmt.Sprintf("unsupported schema type %q with format %q", key.typ, key.format),
			ErrUnsupportedKind)
	}

	_, hasStatic := doc["default"]
	dynamicExpr, hasDynamic := doc["X-Dynamic-Default"].(string)
	if !hasStatic && !hasDynamic {
		return nil, definitionError(name, "either default or X-Dynamic-Default must be set", nil)
	}
	if hasStatic && hasDynamic {
		return nil, definitionError(name, "default and X-Dynamic-Default are mutually exclusive", nil)
	}

	b := base{schema: doc}

	if hasDynamic {
		kindName := key.format
		if kindName == "" {
			kindName = key.typ
		}
		if !dynamicDefaultKinds[kindName] {
			return nil, definitionError(name,
				fmt.Sprintf("dynamic defaults are not supported for %s parameters", kindName), nil)
		}
		dynamic, err := ParseDynamicDefault(dynamicExpr)
		if err != nil {
			return nil, definitionError(name, "invalid dynamic default", err)
		}
		b.dynamic = dynamic
	}

	compiled, err := compileSchema(validationDoc(doc, key))
	if err != nil {
		return nil, definitionError(name, "schema is invalid", err)
	}
	b.compiled = compiled

	instance := construct(b)

	if hasStatic {
		cast, err := instance.Cast(doc["default"])
		if err != nil {
			return nil, definitionError(name, "default value cannot be cast", err)
		}
		if !instance.Validate(cast) {
			return nil, definitionError(name,
				fmt.Sprintf("default value %v does not satisfy the schema", doc["default"]), nil)
		}
	}

	return instance, nil
}

// schemaKindKey extracts the dispatch key. The sidecar settings file moves
// the custom dayobs formats to X-TS-Format so that the schema remains valid
// against standard JSON-schema tooling; both spellings are accepted here.
func schemaKindKey(doc map[string]any) kindKey {
	typ, _ := doc["type"].(string)
	if typ == "" {
		typ = "string"
	}
	format, _ := doc["format"].(string)
	if tsFormat, ok := doc["X-TS-Format"].(string); ok {
		format = tsFormat
	}
	if typ != "string" {
		format = ""
	}
	return kindKey{typ: typ, format: format}
}

// validationDoc prepares the schema document handed to the validator. The
// dayobs kinds validate their JSON form (a digit string) with an injected
// pattern, and drop the nonstandard format marker.
func validationDoc(doc map[string]any, key kindKey) map[string]any {
	switch key.format {
	case formatDayObs, formatDayObsDate:
		strict := make(map[string]any, len(doc)+1)
		for k, v := range doc {
			strict[k] = v
		}
		delete(strict, "format")
		delete(strict, "X-TS-Format")
		if key.format == formatDayObs {
			strict["pattern"] = `^\d{8}$`
		} else {
			strict["pattern"] = `^\d{4}-\d{2}-\d{2}$`
		}
		return strict
	default:
		return doc
	}
}

func compileSchema(doc map[string]any) (*jsonschema.Schema, error) {
	normalized, err := jsonCompatible(doc)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("parameter.json", normalized); err != nil {
		return nil, err
	}
	return compiler.Compile("parameter.json")
}

// normalizeSchemaDoc round-trips the schema map through JSON so documents
// sourced from YAML sidecar files and notebook metadata look identical.
func normalizeSchemaDoc(schema map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// dayObsLocation is the UTC-12 timezone that defines the observatory day.
var dayObsLocation = time.FixedZone("UTC-12", -12*60*60)
