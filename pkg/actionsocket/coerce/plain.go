package coerce

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ToPlain flattens value with Plain.
func (s *DefaultService) ToPlain(value any, opts PlainOptions) (any, error) {
	return Plain(value, opts)
}

// Plain flattens structured values (structs, maps, slices and pointers to
// them) into plain JSON data, honoring `json` tags and removing excluded
// paths. Primitive values are returned unchanged.
func Plain(value any, opts PlainOptions) (any, error) {
	if !IsObject(value) {
		return value, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", value, err)
	}

	for _, path := range opts.ExcludePaths {
		data, err = sjson.DeleteBytes(data, path)
		if err != nil {
			return nil, fmt.Errorf("failed to exclude path %q: %w", path, err)
		}
	}

	return gjson.ParseBytes(data).Value(), nil
}

// IsObject reports whether v is a structured value that flattening applies to.
func IsObject(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct, reflect.Map, reflect.Array:
		return true
	case reflect.Slice:
		return t.Elem().Kind() != reflect.Uint8
	default:
		return false
	}
}

// IsEmpty reports whether v is absent: nil, or a nil pointer, map, slice,
// interface, channel or func.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
