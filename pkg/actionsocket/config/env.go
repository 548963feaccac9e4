package config

import (
	"os"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// EnvObject returns the process environment as a cty object, exposed to
// configuration expressions as env.NAME. Names are rewritten into valid
// HCL identifiers.
func EnvObject() cty.Value {
	return envObject(os.Environ())
}

func envObject(environ []string) cty.Value {
	vars := make(map[string]cty.Value, len(environ))
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		vars[identifier(key)] = cty.StringVal(value)
	}
	return cty.ObjectVal(vars)
}

// identifier replaces every character not allowed in an HCL identifier with
// an underscore. Identifiers cannot start with a digit or hyphen.
func identifier(name string) string {
	if name == "" {
		return "_"
	}

	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
