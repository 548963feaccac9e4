package coerce

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"github.com/tsarna/actionsocket/pkg/actionsocket/failure"
)

// Validate checks value against the JSON Schema reflected from shape. Shape
// constraints come from `json` and `jsonschema` struct tags, for example
// `jsonschema:"minLength=1,maximum=120"`. The returned slice holds every
// violation, ordered by field.
func (s *DefaultService) Validate(value any, shape reflect.Type, opts ValidateOptions) ([]failure.ValidationError, error) {
	if shape == nil {
		return nil, nil
	}
	for shape.Kind() == reflect.Pointer {
		shape = shape.Elem()
	}

	sch, err := s.schemaFor(shape, opts)
	if err != nil {
		return nil, err
	}

	instance, err := toJSONTypes(value)
	if err != nil {
		return nil, err
	}

	err = sch.Validate(instance)
	if err == nil {
		return nil, nil
	}

	var verr *jschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, fmt.Errorf("failed to validate %s: %w", shape, err)
	}

	errs := s.collect(verr, nil)
	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].Field < errs[j].Field
	})
	return errs, nil
}

// Schema returns the JSON Schema document reflected from shape.
func Schema(shape reflect.Type, opts ValidateOptions) *jsonschema.Schema {
	for shape.Kind() == reflect.Pointer {
		shape = shape.Elem()
	}
	r := jsonschema.Reflector{
		DoNotReference:            true,
		Anonymous:                 true,
		AllowAdditionalProperties:  !opts.DisallowAdditionalProperties,
		RequiredFromJSONSchemaTags: !opts.RequireAllFields,
	}
	return r.ReflectFromType(shape)
}

func (s *DefaultService) schemaFor(shape reflect.Type, opts ValidateOptions) (*jschema.Schema, error) {
	key := schemaKey{shape: shape, opts: opts}
	if cached, ok := s.schemas.Load(key); ok {
		return cached.(*jschema.Schema), nil
	}

	schemaBytes, err := json.Marshal(Schema(shape, opts))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema for %s: %w", shape, err)
	}

	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, fmt.Errorf("failed to parse schema JSON for %s: %w", shape, err)
	}

	c := jschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource("schema.json", schemaData); err != nil {
		return nil, fmt.Errorf("failed to add schema resource for %s: %w", shape, err)
	}

	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema for %s: %w", shape, err)
	}

	actual, _ := s.schemas.LoadOrStore(key, sch)
	return actual.(*jschema.Schema), nil
}

// collect flattens the error tree into one ValidationError per leaf. A
// missing-properties leaf is split so each absent field gets its own entry.
func (s *DefaultService) collect(verr *jschema.ValidationError, out []failure.ValidationError) []failure.ValidationError {
	if len(verr.Causes) > 0 {
		for _, cause := range verr.Causes {
			out = s.collect(cause, out)
		}
		return out
	}

	constraint := strings.Join(verr.ErrorKind.KeywordPath(), "/")

	if required, ok := verr.ErrorKind.(*kind.Required); ok {
		for _, name := range required.Missing {
			out = append(out, failure.ValidationError{
				Field:      pointer(append(append([]string{}, verr.InstanceLocation...), name)),
				Constraint: constraint,
				Message:    "is required",
			})
		}
		return out
	}

	return append(out, failure.ValidationError{
		Field:      pointer(verr.InstanceLocation),
		Constraint: constraint,
		Message:    verr.ErrorKind.LocalizedString(s.printer),
	})
}

// toJSONTypes brings structs and typed collections down to the plain values
// the schema validator understands.
func toJSONTypes(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value for validation: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value for validation: %w", err)
	}
	return out, nil
}

// pointer renders a location as a JSON pointer.
func pointer(location []string) string {
	if len(location) == 0 {
		return "/"
	}
	escaped := make([]string, len(location))
	for i, part := range location {
		part = strings.ReplaceAll(part, "~", "~0")
		escaped[i] = strings.ReplaceAll(part, "/", "~1")
	}
	return "/" + strings.Join(escaped, "/")
}
