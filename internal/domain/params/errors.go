package params

import (
	"errors"
	"fmt"
)

// ErrUnsupportedKind reports a schema whose type/format pair matches no
// registered parameter kind.
var ErrUnsupportedKind = errors.New("unsupported parameter schema kind")

// DefinitionError reports a malformed parameter schema at page-definition
// construction time: an invalid rule set, a missing or duplicate default, or
// an invalid parameter name.
type DefinitionError struct {
	Name   string
	Reason string
	Err    error
}

func (e *DefinitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parameter %q: %s: %v", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("parameter %q: %s", e.Name, e.Reason)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

func definitionError(name, reason string, err error) *DefinitionError {
	return &DefinitionError{Name: name, Reason: reason, Err: err}
}

// CastError reports a value that cannot be cast to a parameter kind's native
// type.
type CastError struct {
	Value any
	Kind  string
}

func (e *CastError) Error() string {
	return fmt.Sprintf("value %v cannot be cast to %s", e.Value, e.Kind)
}

func castError(v any, kind string) *CastError {
	return &CastError{Value: v, Kind: kind}
}

// ValueError reports a caller-supplied value that failed casting or
// validation during resolution. Resolution stops at the first failure.
type ValueError struct {
	Name  string
	Value any
	Err   error
}

func (e *ValueError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid value %v for parameter %q: %v", e.Value, e.Name, e.Err)
	}
	return fmt.Sprintf("invalid value %v for parameter %q", e.Value, e.Name)
}

func (e *ValueError) Unwrap() error { return e.Err }
