// Package failure defines the failure values produced while resolving action
// parameters. Every failure carries a stable Kind tag so result routing can
// match on the tag instead of comparing type names.
package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the concrete failure variant.
type Kind string

const (
	KindValidation Kind = "ValidationFailure"
	KindParse      Kind = "ParameterParseError"
)

// Failure is implemented by every failure variant in this package.
type Failure interface {
	error
	Kind() Kind
}

// Base holds the fields shared by all failure variants. They serialize as
// "name" and "message" so clients can tell variants apart on the wire. Name
// is informational; each variant reports its Kind through its own method.
type Base struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (b Base) Error() string {
	return b.Message
}

// ValidationError is a single field-level constraint violation.
type ValidationError struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint,omitempty"`
	Message    string `json:"message"`
}

func (e ValidationError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationFailure reports a structurally valid payload that violates the
// constraints of its declared shape. Errors lists every violation, not just
// the first one found.
type ValidationFailure struct {
	Base
	Errors []ValidationError `json:"errors"`
}

// NewValidationFailure creates a ValidationFailure for the given field errors.
func NewValidationFailure(errs []ValidationError) *ValidationFailure {
	return &ValidationFailure{
		Base: Base{
			Name:    string(KindValidation),
			Message: "Invalid message body, check 'errors' property for more info.",
		},
		Errors: errs,
	}
}

func (f *ValidationFailure) Kind() Kind {
	return KindValidation
}

// Details joins all field errors into one line, for logging.
func (f *ValidationFailure) Details() string {
	parts := make([]string, len(f.Errors))
	for i, e := range f.Errors {
		parts[i] = e.String()
	}
	return strings.Join(parts, "; ")
}

// ParameterParseError reports a textual payload that could not be parsed
// into structured data. Value is the offending raw value.
type ParameterParseError struct {
	Base
	Value any `json:"value"`

	cause error
}

// NewParameterParseError creates a ParameterParseError for the raw value.
// cause may be nil.
func NewParameterParseError(value any, cause error) *ParameterParseError {
	return &ParameterParseError{
		Base: Base{
			Name:    string(KindParse),
			Message: fmt.Sprintf("Parameter value %q cannot be parsed into JSON.", fmt.Sprint(value)),
		},
		Value: value,
		cause: cause,
	}
}

func (e *ParameterParseError) Kind() Kind {
	return KindParse
}

func (e *ParameterParseError) Unwrap() error {
	return e.cause
}

// KindOf returns the Kind of the first Failure in err's chain.
func KindOf(err error) (Kind, bool) {
	var f Failure
	if errors.As(err, &f) {
		return f.Kind(), true
	}
	return "", false
}

// Is reports whether err's chain contains a Failure of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
