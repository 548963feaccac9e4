package coerce

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tsarna/actionsocket/pkg/actionsocket/failure"
)

// StructuredParse parses strings and byte slices as JSON text. Any other
// value is assumed to be structured already and is returned unchanged.
func (s *DefaultService) StructuredParse(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		if !gjson.Valid(v) {
			return nil, failure.NewParameterParseError(raw, errors.New("invalid JSON text"))
		}
		return gjson.Parse(v).Value(), nil
	case []byte:
		if !gjson.ValidBytes(v) {
			return nil, failure.NewParameterParseError(string(v), errors.New("invalid JSON text"))
		}
		return gjson.ParseBytes(v).Value(), nil
	case json.RawMessage:
		if !gjson.ValidBytes(v) {
			return nil, failure.NewParameterParseError(string(v), errors.New("invalid JSON text"))
		}
		return gjson.ParseBytes(v).Value(), nil
	default:
		return raw, nil
	}
}

// ExtractPath returns the value at path (gjson syntax) inside raw. Textual
// raw values are read as JSON text, anything else is marshaled first. A
// missing path yields nil.
func ExtractPath(raw any, path string) (any, error) {
	if path == "" {
		return raw, nil
	}

	var doc []byte
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if !gjson.Valid(v) {
			return nil, failure.NewParameterParseError(raw, errors.New("invalid JSON text"))
		}
		doc = []byte(v)
	case []byte:
		doc = v
	default:
		var err error
		doc, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload for path %q: %w", path, err)
		}
	}

	result := gjson.GetBytes(doc, path)
	if !result.Exists() {
		return nil, nil
	}
	return result.Value(), nil
}

// MapToShape maps plain into a new instance of shape using the shape's JSON
// field names. A value whose field types do not fit the shape is reported as
// a validation failure for that field.
func (s *DefaultService) MapToShape(plain any, shape reflect.Type, opts ShapeOptions) (any, error) {
	if shape == nil {
		return plain, nil
	}
	for shape.Kind() == reflect.Pointer {
		shape = shape.Elem()
	}

	data, err := json.Marshal(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value for %s: %w", shape, err)
	}

	target := reflect.New(shape)
	dec := json.NewDecoder(bytes.NewReader(data))
	if opts.DisallowUnknownFields {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(target.Interface()); err != nil {
		return nil, mappingFailure(err)
	}

	return target.Interface(), nil
}

func mappingFailure(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return failure.NewValidationFailure([]failure.ValidationError{{
			Field:      pointer(strings.Split(typeErr.Field, ".")),
			Constraint: "type",
			Message:    fmt.Sprintf("expected %s but got %s", typeErr.Type, typeErr.Value),
		}})
	}
	// json reports unknown fields only through the message text
	return failure.NewValidationFailure([]failure.ValidationError{{
		Constraint: "shape",
		Message:    err.Error(),
	}})
}
