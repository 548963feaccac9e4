// Package coerce converts raw inbound payloads into typed parameter values,
// validates structured payloads against their declared shapes and flattens
// outbound values into plain JSON-compatible data.
package coerce

import (
	"reflect"
	"sync"

	"github.com/tsarna/actionsocket/pkg/actionsocket/failure"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Type is the declared semantic type of a parameter.
type Type int

const (
	TypeNone Type = iota
	TypeNumber
	TypeString
	TypeBoolean
	// TypeObject is the generic "any object" type: the payload is parsed but
	// never mapped or validated.
	TypeObject
	// TypeShape is a declared struct shape that the payload is mapped into.
	TypeShape
)

func (t Type) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeBoolean:
		return "boolean"
	case TypeObject:
		return "object"
	case TypeShape:
		return "shape"
	default:
		return "none"
	}
}

// ShapeOptions control how plain values are mapped into shape instances.
type ShapeOptions struct {
	// DisallowUnknownFields rejects payload fields the shape does not declare.
	DisallowUnknownFields bool
}

// PlainOptions control how outbound values are flattened.
type PlainOptions struct {
	// ExcludePaths are removed from the flattened value. Paths use gjson/sjson
	// dot syntax, e.g. "password" or "owner.token".
	ExcludePaths []string
}

// Merge returns o with the exclusions of other appended.
func (o PlainOptions) Merge(other *PlainOptions) PlainOptions {
	if other == nil || len(other.ExcludePaths) == 0 {
		return o
	}
	merged := make([]string, 0, len(o.ExcludePaths)+len(other.ExcludePaths))
	merged = append(merged, o.ExcludePaths...)
	merged = append(merged, other.ExcludePaths...)
	return PlainOptions{ExcludePaths: merged}
}

// ValidateOptions control schema generation for shape validation. The zero
// value enforces only declared constraints: properties the shape does not
// declare are accepted and only fields tagged `jsonschema:"required"` must
// be present.
type ValidateOptions struct {
	DisallowAdditionalProperties bool
	// RequireAllFields makes every field without omitempty required.
	RequireAllFields bool
}

// SelfValidator may be implemented by shapes that carry constraints a JSON
// Schema cannot express. It is consulted after mapping when validation is on.
type SelfValidator interface {
	ValidateShape() []failure.ValidationError
}

// Service is the coercion and validation contract used by the dispatcher.
type Service interface {
	// Coerce converts a raw value to a primitive declared type. It never fails:
	// non-numeric input for TypeNumber yields NaN.
	Coerce(raw any, t Type) any
	// StructuredParse parses textual values as JSON and passes other values
	// through. Malformed text yields a *failure.ParameterParseError.
	StructuredParse(raw any) (any, error)
	// MapToShape maps a plain value into a new instance of shape and returns a
	// pointer to it.
	MapToShape(plain any, shape reflect.Type, opts ShapeOptions) (any, error)
	// Validate checks a plain value against the schema of shape and returns
	// every violation found.
	Validate(value any, shape reflect.Type, opts ValidateOptions) ([]failure.ValidationError, error)
	// ToPlain flattens an outbound value into JSON-compatible data.
	ToPlain(value any, opts PlainOptions) (any, error)
}

// DefaultService implements Service with encoding/json mapping, gjson parsing
// and JSON Schema validation. Compiled schemas are cached per shape.
type DefaultService struct {
	schemas sync.Map // schemaKey -> *jsonschema.Schema
	printer *message.Printer
}

type schemaKey struct {
	shape reflect.Type
	opts  ValidateOptions
}

// NewService creates a DefaultService.
func NewService() *DefaultService {
	return &DefaultService{
		printer: message.NewPrinter(language.English),
	}
}

var _ Service = (*DefaultService)(nil)
