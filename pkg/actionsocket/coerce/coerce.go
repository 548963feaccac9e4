package coerce

import (
	"math"
	"strconv"
	"strings"
)

// Coerce converts raw into the primitive type t. Object and shape types are
// not handled here, see StructuredParse.
func (s *DefaultService) Coerce(raw any, t Type) any {
	switch t {
	case TypeNumber:
		return ToNumber(raw)
	case TypeBoolean:
		return ToBoolean(raw)
	default:
		return raw
	}
}

// ToNumber converts v to a float64. Values with no numeric reading yield NaN.
func ToNumber(v any) float64 {
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case string:
		return parseNumber(n)
	default:
		return math.NaN()
	}
}

func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}

	// strconv accepts digit separators in base-prefixed literals.
	if strings.Contains(s, "_") {
		return math.NaN()
	}

	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "0x") || strings.HasPrefix(lower, "0o") || strings.HasPrefix(lower, "0b") {
		i, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return math.NaN()
		}
		return float64(i)
	}

	// ParseFloat also accepts spellings like "inf" and "nan"; only the
	// explicit Infinity forms above count as numeric.
	if strings.ContainsAny(lower, "in") {
		return math.NaN()
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// ToBoolean maps the literal strings "true" and "false" to their boolean
// values and otherwise applies truthiness: empty strings, zero, NaN and nil
// are false, everything else is true.
func ToBoolean(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	case string:
		switch b {
		case "true":
			return true
		case "false":
			return false
		}
		return b != ""
	case float64:
		return b != 0 && !math.IsNaN(b)
	case float32:
		return b != 0 && !math.IsNaN(float64(b))
	case int:
		return b != 0
	case int64:
		return b != 0
	case int32:
		return b != 0
	case uint:
		return b != 0
	case uint64:
		return b != 0
	default:
		return true
	}
}
