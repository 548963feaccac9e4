package action

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
	"github.com/tsarna/actionsocket/pkg/actionsocket/coerce"
)

// JQ returns a Resolver that evaluates a jq query against the message body.
// Textual bodies are parsed as JSON first. The query can refer to
// $socket_id and $namespace. A query producing several results resolves to
// an array of them; no result resolves to nil.
//
//	action.CustomParam(action.MustJQ(`.items | map(.sku)`))
func JQ(expr string) (Resolver, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JQ query '%s': %w", expr, err)
	}

	code, err := gojq.Compile(query, gojq.WithVariables([]string{"$socket_id", "$namespace"}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile JQ query '%s': %w", expr, err)
	}

	return func(ctx context.Context, inv Invocation) (any, error) {
		input, err := jqInput(inv.Data)
		if err != nil {
			return nil, err
		}

		var socketID, namespace string
		if inv.Socket != nil {
			socketID = inv.Socket.ID()
			namespace = inv.Socket.Namespace()
		}

		var results []any
		iter := code.RunWithContext(ctx, input, socketID, namespace)
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, isErr := v.(error); isErr {
				return nil, fmt.Errorf("JQ query '%s' failed: %w", expr, err)
			}
			results = append(results, v)
		}

		switch len(results) {
		case 0:
			return nil, nil
		case 1:
			return results[0], nil
		default:
			return results, nil
		}
	}, nil
}

// MustJQ is like JQ but panics when the query does not compile. It is meant
// for declarations made at startup.
func MustJQ(expr string) Resolver {
	r, err := JQ(expr)
	if err != nil {
		panic(err)
	}
	return r
}

// jqInput brings the payload into the plain form gojq accepts.
func jqInput(data any) (any, error) {
	switch v := data.(type) {
	case nil, bool, float64, map[string]any, []any:
		return v, nil
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			// not JSON text, query the string itself
			return v, nil
		}
		return parsed, nil
	default:
		return coerce.Plain(v, coerce.PlainOptions{})
	}
}
