package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/actionsocket/pkg/actionsocket/action"
	"github.com/tsarna/actionsocket/pkg/actionsocket/coerce"
	"github.com/tsarna/actionsocket/pkg/actionsocket/failure"
	"github.com/tsarna/actionsocket/pkg/actionsocket/o11y"
	"github.com/tsarna/actionsocket/pkg/actionsocket/transport"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type saveRequest struct {
	Name  string `json:"name" jsonschema:"minLength=1"`
	Age   int    `json:"age" jsonschema:"minimum=0,maximum=150"`
	Email string `json:"email,omitempty" jsonschema:"format=email"`
}

type savedItem struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

type booking struct {
	From int `json:"from"`
	To   int `json:"to"`
}

func (b *booking) ValidateShape() []failure.ValidationError {
	if b.To < b.From {
		return []failure.ValidationError{{Field: "/to", Constraint: "after_from", Message: "must not be before from"}}
	}
	return nil
}

type quotaError struct {
	Limit int `json:"limit"`
}

func (e *quotaError) Error() string {
	return fmt.Sprintf("quota of %d exceeded", e.Limit)
}

func returning(v any, err error) action.HandlerFunc {
	return func(ctx context.Context, args action.Args) (any, error) {
		return v, err
	}
}

func echo(ctx context.Context, args action.Args) (any, error) {
	return args.Get(0), nil
}

// newDispatcher builds reg and a dispatcher for it.
func newDispatcher(t *testing.T, reg *action.Registry, configure ...func(*Config)) *Dispatcher {
	t.Helper()
	provider, err := reg.Build()
	require.NoError(t, err)

	cfg := NewConfig().WithProvider(provider).WithLogger(zaptest.NewLogger(t))
	for _, f := range configure {
		f(cfg)
	}
	d, err := cfg.Build()
	require.NoError(t, err)
	return d
}

// only returns the single declared action.
func only(d *Dispatcher) (action.Controller, *action.Descriptor) {
	ctrl := d.provider.Controllers()[0]
	return ctrl, ctrl.Actions[0]
}

func dispatchOnce(t *testing.T, d *Dispatcher, data any, ack transport.AckFunc) *fakeSocket {
	t.Helper()
	socket := newFakeSocket("s1", url.Values{"token": {"abc"}})
	ctrl, a := only(d)
	d.Dispatch(context.Background(), ctrl, a, action.Invocation{Socket: socket, Data: data}, ack)
	return socket
}

func TestResolveOrdersByIndex(t *testing.T) {
	delayed := func(delay time.Duration, v string) action.Resolver {
		return func(ctx context.Context, inv action.Invocation) (any, error) {
			time.Sleep(delay)
			return v, nil
		}
	}

	reg := action.NewRegistry()
	reg.Controller("c").OnMessage("e", echo).Params(
		action.CustomParam(delayed(0, "third")).At(2),
		action.CustomParam(delayed(30*time.Millisecond, "first")).At(0),
		action.CustomParam(delayed(10*time.Millisecond, "second")).At(1),
	)
	d := newDispatcher(t, reg)
	_, a := only(d)

	for i := 0; i < 3; i++ {
		args, err := d.Resolve(context.Background(), a, action.Invocation{})
		require.NoError(t, err)
		assert.Equal(t, action.Args{"first", "second", "third"}, args)
	}
}

func TestResolveSources(t *testing.T) {
	reg := action.NewRegistry()
	reg.Controller("c").OnMessage("e", echo).Params(
		action.ConnectedSocket(),
		action.SocketServer(),
		action.SocketQueryParam("token"),
		action.SocketQueryParam("missing"),
		action.SocketID(),
		action.SocketRequest(),
		action.SocketRooms(),
		action.MessageBody(),
	)
	d := newDispatcher(t, reg)
	_, a := only(d)

	socket := newFakeSocket("s1", url.Values{"token": {"abc"}})
	socket.Join("lobby")
	server := newFakeServer("/")

	args, err := d.Resolve(context.Background(), a, action.Invocation{Socket: socket, Server: server, Data: "hi"})
	require.NoError(t, err)
	require.Len(t, args, 8)

	assert.Same(t, socket, args.Socket(0))
	assert.Same(t, server, args.Server(1))
	assert.Equal(t, "abc", args.Get(2))
	assert.Nil(t, args.Get(3))
	assert.Equal(t, "s1", args.Get(4))
	assert.Same(t, socket.request, args.Request(5))
	assert.Equal(t, []string{"s1", "lobby"}, args.Strings(6))
	assert.Equal(t, "hi", args.Get(7))
}

func TestResolveBodyCoercion(t *testing.T) {
	tests := []struct {
		name     string
		param    *action.ParamBuilder
		data     any
		expected any
	}{
		{"number", action.MessageBody().As(coerce.TypeNumber), "42", 42.0},
		{"boolean true", action.MessageBody().As(coerce.TypeBoolean), "true", true},
		{"boolean false", action.MessageBody().As(coerce.TypeBoolean), "false", false},
		{"boolean truthy", action.MessageBody().As(coerce.TypeBoolean), "1", true},
		{"empty string bypasses coercion", action.MessageBody().As(coerce.TypeBoolean), "", ""},
		{"nil bypasses coercion", action.MessageBody().As(coerce.TypeNumber), nil, nil},
		{"empty string bypasses parsing", action.BodyAs[saveRequest](), "", ""},
		{"string unchanged", action.MessageBody().As(coerce.TypeString), "007", "007"},
		{"no type unchanged", action.MessageBody(), `{"a":1}`, `{"a":1}`},
		{"object parsed", action.MessageBody().As(coerce.TypeObject), `{"a":1}`, map[string]any{"a": 1.0}},
		{"sub-path", action.MessageBody().Path("user.age").As(coerce.TypeNumber), `{"user":{"age":"7"}}`, 7.0},
		{"missing sub-path", action.MessageBody().Path("user.age").As(coerce.TypeNumber), `{"user":{}}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := action.NewRegistry()
			reg.Controller("c").OnMessage("e", echo).Params(tt.param)
			d := newDispatcher(t, reg)
			_, a := only(d)

			args, err := d.Resolve(context.Background(), a, action.Invocation{Data: tt.data})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, args.Get(0))
		})
	}

	t.Run("non-numeric is NaN", func(t *testing.T) {
		reg := action.NewRegistry()
		reg.Controller("c").OnMessage("e", echo).Params(action.MessageBody().As(coerce.TypeNumber))
		d := newDispatcher(t, reg)
		_, a := only(d)

		args, err := d.Resolve(context.Background(), a, action.Invocation{Data: "abc"})
		require.NoError(t, err)
		assert.True(t, math.IsNaN(args.Float(0)))
	})
}

func TestResolveShape(t *testing.T) {
	resolve := func(t *testing.T, param *action.ParamBuilder, data any, configure ...func(*Config)) (action.Args, error) {
		reg := action.NewRegistry()
		reg.Controller("c").OnMessage("e", echo).Params(param)
		d := newDispatcher(t, reg, configure...)
		_, a := only(d)
		return d.Resolve(context.Background(), a, action.Invocation{Data: data})
	}

	t.Run("maps valid body", func(t *testing.T) {
		args, err := resolve(t, action.BodyAs[saveRequest](), `{"name":"ada","age":36}`)
		require.NoError(t, err)
		assert.Equal(t, &saveRequest{Name: "ada", Age: 36}, args.Get(0))
	})

	t.Run("maps structured body", func(t *testing.T) {
		args, err := resolve(t, action.BodyAs[saveRequest](), map[string]any{"name": "ada", "age": 36.0})
		require.NoError(t, err)
		assert.Equal(t, &saveRequest{Name: "ada", Age: 36}, args.Get(0))
	})

	t.Run("undeclared and absent fields pass", func(t *testing.T) {
		args, err := resolve(t, action.BodyAs[saveRequest](), `{"name":"ada","extra":true}`)
		require.NoError(t, err)
		assert.Equal(t, &saveRequest{Name: "ada"}, args.Get(0))
	})

	t.Run("strict schema rejects them", func(t *testing.T) {
		_, err := resolve(t, action.BodyAs[saveRequest](), `{"name":"ada","extra":true}`,
			func(c *Config) {
				c.WithValidateOptions(coerce.ValidateOptions{DisallowAdditionalProperties: true, RequireAllFields: true})
			})
		var vf *failure.ValidationFailure
		require.ErrorAs(t, err, &vf)
		assert.Len(t, vf.Errors, 2)
	})

	t.Run("malformed text is a parse failure", func(t *testing.T) {
		_, err := resolve(t, action.BodyAs[saveRequest](), `{not json`)
		require.Error(t, err)
		assert.True(t, failure.Is(err, failure.KindParse))

		var parseErr *failure.ParameterParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, `{not json`, parseErr.Value)
	})

	t.Run("lists every violated field", func(t *testing.T) {
		_, err := resolve(t, action.BodyAs[saveRequest](), `{"name":"","age":200}`)
		require.Error(t, err)

		var vf *failure.ValidationFailure
		require.ErrorAs(t, err, &vf)
		fields := make([]string, len(vf.Errors))
		for i, e := range vf.Errors {
			fields[i] = e.Field
		}
		assert.Equal(t, []string{"/age", "/name"}, fields)
	})

	t.Run("validation disabled for the parameter", func(t *testing.T) {
		args, err := resolve(t, action.BodyAs[saveRequest]().Validate(false), `{"name":"","age":200}`)
		require.NoError(t, err)
		assert.Equal(t, &saveRequest{Age: 200}, args.Get(0))
	})

	t.Run("validation disabled globally", func(t *testing.T) {
		args, err := resolve(t, action.BodyAs[saveRequest](), `{"name":"","age":200}`,
			func(c *Config) { c.WithValidation(false) })
		require.NoError(t, err)
		assert.Equal(t, &saveRequest{Age: 200}, args.Get(0))
	})

	t.Run("parameter overrides global validation", func(t *testing.T) {
		_, err := resolve(t, action.BodyAs[saveRequest]().Validate(true), `{"name":"","age":20}`,
			func(c *Config) { c.WithValidation(false) })
		assert.True(t, failure.Is(err, failure.KindValidation))
	})

	t.Run("class transform disabled keeps plain value", func(t *testing.T) {
		args, err := resolve(t, action.BodyAs[saveRequest](), `{"name":"","age":200}`,
			func(c *Config) { c.WithClassTransform(false) })
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "", "age": 200.0}, args.Get(0))
	})

	t.Run("self validation", func(t *testing.T) {
		_, err := resolve(t, action.BodyAs[booking](), `{"from":5,"to":1}`)
		var vf *failure.ValidationFailure
		require.ErrorAs(t, err, &vf)
		require.Len(t, vf.Errors, 1)
		assert.Equal(t, "/to", vf.Errors[0].Field)
		assert.Equal(t, "after_from", vf.Errors[0].Constraint)
	})

	t.Run("unknown fields rejected when disallowed", func(t *testing.T) {
		_, err := resolve(t, action.BodyAs[booking]().ShapeOptions(coerce.ShapeOptions{DisallowUnknownFields: true}),
			map[string]any{"from": 1.0, "to": 2.0, "extra": true})
		assert.True(t, failure.Is(err, failure.KindValidation))
	})
}

func TestResolveTransform(t *testing.T) {
	upper := func(v any, s transport.Socket) (any, error) {
		return strings.ToUpper(fmt.Sprint(v)), nil
	}
	failing := func(v any, s transport.Socket) (any, error) {
		return nil, errors.New("rejected")
	}

	reg := action.NewRegistry()
	reg.Controller("c").OnMessage("e", echo).Params(
		action.SocketID().Transform(upper),
		action.MessageBody().As(coerce.TypeNumber).Transform(func(v any, s transport.Socket) (any, error) {
			return v.(float64) * 2, nil
		}),
		action.SocketQueryParam("token").Transform(upper),
	)
	d := newDispatcher(t, reg)
	_, a := only(d)

	socket := newFakeSocket("s1", url.Values{"token": {"abc"}})
	args, err := d.Resolve(context.Background(), a, action.Invocation{Socket: socket, Data: "21"})
	require.NoError(t, err)
	assert.Equal(t, action.Args{"S1", 42.0, "ABC"}, args)

	reg = action.NewRegistry()
	reg.Controller("c").OnMessage("e", echo).Params(action.SocketID(), action.MessageBody().Transform(failing))
	d = newDispatcher(t, reg)
	_, a = only(d)
	_, err = d.Resolve(context.Background(), a, action.Invocation{Socket: socket})
	assert.EqualError(t, err, "rejected")
}

func TestResolveIsIdempotent(t *testing.T) {
	reg := action.NewRegistry()
	reg.Controller("c").OnMessage("e", echo).Params(
		action.BodyAs[saveRequest]().At(1),
		action.SocketID().At(0),
		action.MessageBody().Path("age").As(coerce.TypeNumber).At(2),
	)
	d := newDispatcher(t, reg)
	_, a := only(d)

	inv := action.Invocation{Socket: newFakeSocket("s1", nil), Data: `{"name":"ada","age":36}`}
	first, err := d.Resolve(context.Background(), a, inv)
	require.NoError(t, err)
	second, err := d.Resolve(context.Background(), a, inv)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "s1", first.Get(0))
	assert.Equal(t, 36.0, first.Get(2))
}

func TestHandlerNotCalledOnResolveFailure(t *testing.T) {
	called := false
	reg := action.NewRegistry()
	reg.Controller("c").OnMessage("save", func(ctx context.Context, args action.Args) (any, error) {
		called = true
		return nil, nil
	}).
		Params(action.BodyAs[saveRequest]()).
		EmitOnFail("save/error")
	d := newDispatcher(t, reg)

	socket := dispatchOnce(t, d, `{"name":`, nil)

	assert.False(t, called)
	emitted := socket.emissions()
	require.Len(t, emitted, 1)
	assert.Equal(t, "save/error", emitted[0].Event)
	payload := emitted[0].Payload[0].(map[string]any)
	assert.Equal(t, "ParameterParseError", payload["name"])
	assert.Equal(t, `{"name":`, payload["value"])
}

func TestRouteSuccess(t *testing.T) {
	item := &savedItem{ID: "1", Name: "ada", Secret: "hunter2"}

	t.Run("flattened result on success event", func(t *testing.T) {
		reg := action.NewRegistry()
		reg.Controller("c").OnMessage("save", returning(item, nil)).
			EmitOnSuccess("save/success", coerce.PlainOptions{ExcludePaths: []string{"secret"}})
		d := newDispatcher(t, reg)

		emitted := dispatchOnce(t, d, nil, nil).emissions()
		require.Len(t, emitted, 1)
		assert.Equal(t, "save/success", emitted[0].Event)
		assert.Equal(t, []any{map[string]any{"id": "1", "name": "ada"}}, emitted[0].Payload)
	})

	t.Run("global and policy exclusions combine", func(t *testing.T) {
		reg := action.NewRegistry()
		reg.Controller("c").OnMessage("save", returning(item, nil)).
			EmitOnSuccess("save/success", coerce.PlainOptions{ExcludePaths: []string{"secret"}})
		d := newDispatcher(t, reg, func(c *Config) {
			c.WithPlainOptions(coerce.PlainOptions{ExcludePaths: []string{"id"}})
		})

		emitted := dispatchOnce(t, d, nil, nil).emissions()
		require.Len(t, emitted, 1)
		assert.Equal(t, []any{map[string]any{"name": "ada"}}, emitted[0].Payload)
	})

	t.Run("class transform off passes value through", func(t *testing.T) {
		reg := action.NewRegistry()
		reg.Controller("c").OnMessage("save", returning(item, nil)).
			EmitOnSuccess("save/success").
			ClassTransform(false)
		d := newDispatcher(t, reg)

		emitted := dispatchOnce(t, d, nil, nil).emissions()
		require.Len(t, emitted, 1)
		assert.Same(t, item, emitted[0].Payload[0])
	})

	t.Run("empty result emits without payload", func(t *testing.T) {
		reg := action.NewRegistry()
		reg.Controller("c").OnMessage("save", returning(nil, nil)).EmitOnSuccess("save/success")
		d := newDispatcher(t, reg)

		emitted := dispatchOnce(t, d, nil, nil).emissions()
		require.Len(t, emitted, 1)
		assert.Equal(t, "save/success", emitted[0].Event)
		assert.Empty(t, emitted[0].Payload)
	})

	t.Run("empty result skipped", func(t *testing.T) {
		ack := &ackRecorder{}
		reg := action.NewRegistry()
		reg.Controller("c").OnMessage("save", returning((*savedItem)(nil), nil)).
			EmitOnSuccess("save/success").
			SkipEmitOnEmptyResult()
		d := newDispatcher(t, reg)

		assert.Empty(t, dispatchOnce(t, d, nil, ack.ack).emissions())
		assert.Empty(t, ack.payloads())
	})

	t.Run("policy takes precedence over ack", func(t *testing.T) {
		ack := &ackRecorder{}
		reg := action.NewRegistry()
		reg.Controller("c").OnMessage("save", returning("ok", nil)).EmitOnSuccess("save/success")
		d := newDispatcher(t, reg)

		emitted := dispatchOnce(t, d, nil, ack.ack).emissions()
		require.Len(t, emitted, 1)
		assert.Equal(t, []any{"ok"}, emitted[0].Payload)
		assert.Empty(t, ack.payloads())
	})

	t.Run("ack with value when no policy", func(t *testing.T) {
		ack := &ackRecorder{}
		reg := action.NewRegistry()
		reg.Controller("c").OnMessage("ping", returning("pong", nil))
		d := newDispatcher(t, reg)

		assert.Empty(t, dispatchOnce(t, d, nil, ack.ack).emissions())
		assert.Equal(t, []any{"pong"}, ack.payloads())
	})

	t.Run("default ack when no value", func(t *testing.T) {
		ack := &ackRecorder{}
		reg := action.NewRegistry()
		reg.Controller("c").OnMessage("ping", returning(nil, nil))
		d := newDispatcher(t, reg)

		assert.Empty(t, dispatchOnce(t, d, nil, ack.ack).emissions())
		assert.Equal(t, []any{DefaultAck}, ack.payloads())
	})

	t.Run("nothing without policy or ack", func(t *testing.T) {
		reg := action.NewRegistry()
		reg.Controller("c").OnMessage("ping", returning("pong", nil))
		d := newDispatcher(t, reg)

		assert.Empty(t, dispatchOnce(t, d, nil, nil).emissions())
	})
}

func TestRouteFailure(t *testing.T) {
	declare := func(h action.HandlerFunc, configure func(*action.ActionBuilder)) *action.Registry {
		reg := action.NewRegistry()
		configure(reg.Controller("c").OnMessage("save", h))
		return reg
	}
	bothPolicies := func(a *action.ActionBuilder) {
		a.EmitOnFailFor(action.MatchKind(failure.KindValidation), "save/validation_error").
			EmitOnFail("save/error")
	}

	t.Run("fail-for wins over fail", func(t *testing.T) {
		vf := failure.NewValidationFailure([]failure.ValidationError{{Field: "/name", Message: "is required"}})
		d := newDispatcher(t, declare(returning(nil, vf), bothPolicies))

		emitted := dispatchOnce(t, d, nil, nil).emissions()
		require.Len(t, emitted, 1)
		assert.Equal(t, "save/validation_error", emitted[0].Event)
		payload := emitted[0].Payload[0].(map[string]any)
		assert.Equal(t, "ValidationFailure", payload["name"])
		assert.Len(t, payload["errors"], 1)
	})

	t.Run("resolution failure routed by kind", func(t *testing.T) {
		d := newDispatcher(t, declare(echo, func(a *action.ActionBuilder) {
			a.Params(action.BodyAs[saveRequest]())
			bothPolicies(a)
		}))

		emitted := dispatchOnce(t, d, `{"name":"","age":-1}`, nil).emissions()
		require.Len(t, emitted, 1)
		assert.Equal(t, "save/validation_error", emitted[0].Event)
		payload := emitted[0].Payload[0].(map[string]any)
		assert.Len(t, payload["errors"], 2)
	})

	t.Run("unmatched error falls back to message", func(t *testing.T) {
		d := newDispatcher(t, declare(returning(nil, errors.New("boom")), bothPolicies))

		emitted := dispatchOnce(t, d, nil, nil).emissions()
		require.Len(t, emitted, 1)
		assert.Equal(t, "save/error", emitted[0].Event)
		assert.Equal(t, []any{"boom"}, emitted[0].Payload)
	})

	t.Run("error with fields serialized", func(t *testing.T) {
		d := newDispatcher(t, declare(returning(nil, &quotaError{Limit: 3}), bothPolicies))

		emitted := dispatchOnce(t, d, nil, nil).emissions()
		require.Len(t, emitted, 1)
		assert.Equal(t, "save/error", emitted[0].Event)
		assert.Equal(t, []any{map[string]any{"limit": 3.0}}, emitted[0].Payload)
	})

	t.Run("type matcher along the chain", func(t *testing.T) {
		err := fmt.Errorf("saving: %w", &quotaError{Limit: 3})
		d := newDispatcher(t, declare(returning(nil, err), func(a *action.ActionBuilder) {
			a.EmitOnFailFor(action.MatchType[*quotaError](), "save/quota").EmitOnFail("save/error")
		}))

		emitted := dispatchOnce(t, d, nil, nil).emissions()
		require.Len(t, emitted, 1)
		assert.Equal(t, "save/quota", emitted[0].Event)
	})

	t.Run("unmatched error without fail policy is dropped", func(t *testing.T) {
		ack := &ackRecorder{}
		d := newDispatcher(t, declare(returning(nil, errors.New("boom")), func(a *action.ActionBuilder) {
			a.EmitOnFailFor(action.MatchKind(failure.KindValidation), "save/validation_error")
		}))

		assert.Empty(t, dispatchOnce(t, d, nil, ack.ack).emissions())
		assert.Empty(t, ack.payloads())
	})

	t.Run("empty failure prefers fail policy", func(t *testing.T) {
		var none *quotaError
		d := newDispatcher(t, declare(returning(nil, none), bothPolicies))

		emitted := dispatchOnce(t, d, nil, nil).emissions()
		require.Len(t, emitted, 1)
		assert.Equal(t, "save/error", emitted[0].Event)
		assert.Empty(t, emitted[0].Payload)
	})

	t.Run("empty failure with only fail-for", func(t *testing.T) {
		var none *quotaError
		d := newDispatcher(t, declare(returning(nil, none), func(a *action.ActionBuilder) {
			a.EmitOnFailFor(action.MatchKind(failure.KindValidation), "save/validation_error")
		}))

		emitted := dispatchOnce(t, d, nil, nil).emissions()
		require.Len(t, emitted, 1)
		assert.Equal(t, "save/validation_error", emitted[0].Event)
	})

	t.Run("empty failure skipped", func(t *testing.T) {
		var none *quotaError
		d := newDispatcher(t, declare(returning(nil, none), func(a *action.ActionBuilder) {
			bothPolicies(a)
			a.SkipEmitOnEmptyResult()
		}))

		assert.Empty(t, dispatchOnce(t, d, nil, nil).emissions())
	})

	t.Run("panic becomes a coded failure", func(t *testing.T) {
		panicking := func(ctx context.Context, args action.Args) (any, error) {
			panic("kaboom")
		}
		d := newDispatcher(t, declare(panicking, func(a *action.ActionBuilder) {
			a.EmitOnFailFor(action.MatchCode(CodeHandlerPanic), "save/panic").EmitOnFail("save/error")
		}))

		emitted := dispatchOnce(t, d, nil, nil).emissions()
		require.Len(t, emitted, 1)
		assert.Equal(t, "save/panic", emitted[0].Event)
	})

	t.Run("panic payload keeps server details private", func(t *testing.T) {
		panicking := func(ctx context.Context, args action.Args) (any, error) {
			panic("kaboom")
		}
		d := newDispatcher(t, declare(panicking, func(a *action.ActionBuilder) {
			a.EmitOnFail("save/error")
		}))

		emitted := dispatchOnce(t, d, nil, nil).emissions()
		require.Len(t, emitted, 1)
		assert.Equal(t, "save/error", emitted[0].Event)
		require.Len(t, emitted[0].Payload, 1)
		payload, ok := emitted[0].Payload[0].(map[string]any)
		require.True(t, ok)
		assert.Len(t, payload, 2)
		assert.Equal(t, CodeHandlerPanic, payload["code"])
		assert.Contains(t, payload["message"], "kaboom")
		assert.NotContains(t, payload, "stacktrace")
	})

	t.Run("coded handler error sends code and message", func(t *testing.T) {
		err := fmt.Errorf("saving: %w", oops.Code("QUOTA").Errorf("limit reached"))
		d := newDispatcher(t, declare(returning(nil, err), func(a *action.ActionBuilder) {
			a.EmitOnFailFor(action.MatchCode("QUOTA"), "save/quota")
		}))

		emitted := dispatchOnce(t, d, nil, nil).emissions()
		require.Len(t, emitted, 1)
		assert.Equal(t, "save/quota", emitted[0].Event)
		assert.Equal(t, []any{map[string]any{"code": "QUOTA", "message": "saving: limit reached"}}, emitted[0].Payload)
	})
}

func TestInvoke(t *testing.T) {
	reg := action.NewRegistry()
	reg.Controller("c").OnMessage("e", echo)
	d := newDispatcher(t, reg)
	_, a := only(d)

	out := d.Invoke(context.Background(), a, action.Args{"v"})
	assert.False(t, out.Failed)
	assert.Equal(t, "v", out.Value)
	assert.Equal(t, "success", out.Result())

	var none *quotaError
	a.Handler = returning(nil, none)
	out = d.Invoke(context.Background(), a, nil)
	assert.True(t, out.Failed)
	assert.False(t, out.HasError())

	a.Handler = func(ctx context.Context, args action.Args) (any, error) {
		panic(errors.New("bad state"))
	}
	out = d.Invoke(context.Background(), a, nil)
	require.True(t, out.HasError())
	oopsErr, ok := oops.AsOops(out.Err)
	require.True(t, ok)
	assert.Equal(t, CodeHandlerPanic, fmt.Sprint(oopsErr.Code()))
	assert.Equal(t, CodeHandlerPanic, failureKind(out.Err))
}

func TestAttach(t *testing.T) {
	reasons := make(chan any, 1)

	reg := action.NewRegistry()
	chat := reg.Controller("chat").Namespace("/chat")
	chat.OnConnect(func(ctx context.Context, args action.Args) (any, error) {
		return "hello " + args.String(0), nil
	}).Params(action.SocketID()).EmitOnSuccess("welcome")
	chat.OnMessage("echo", echo).Params(action.MessageBody())
	chat.OnDisconnect(func(ctx context.Context, args action.Args) (any, error) {
		reasons <- args.Get(0)
		return nil, nil
	}).Params(action.MessageBody())

	reg.Controller("root").OnMessage("ping", returning("pong", nil)).EmitOnSuccess("pong")

	d := newDispatcher(t, reg)
	root := newFakeServer(transport.DefaultNamespace)
	d.Attach(root)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	t.Run("namespaced controller", func(t *testing.T) {
		socket := newFakeSocket("abc", nil)
		root.child("/chat").connect(socket)

		welcome := socket.nextEmission(t)
		assert.Equal(t, "welcome", welcome.Event)
		assert.Equal(t, []any{"hello abc"}, welcome.Payload)

		ack := &ackRecorder{}
		require.True(t, socket.trigger("echo", "hi", ack.ack))
		require.NoError(t, d.Wait(ctx))
		assert.Equal(t, []any{"hi"}, ack.payloads())

		assert.False(t, socket.trigger("ping", nil, nil), "root actions are not bound in /chat")

		require.True(t, socket.disconnect("client closed"))
		select {
		case reason := <-reasons:
			assert.Equal(t, "client closed", reason)
		case <-ctx.Done():
			t.Fatal("disconnect action not invoked")
		}
		require.NoError(t, d.Wait(ctx))
	})

	t.Run("default namespace controller", func(t *testing.T) {
		socket := newFakeSocket("def", nil)
		root.connect(socket)

		assert.False(t, socket.trigger("echo", "hi", nil), "chat actions are not bound in /")
		require.True(t, socket.trigger("ping", nil, nil))

		pong := socket.nextEmission(t)
		assert.Equal(t, "pong", pong.Event)
		assert.Equal(t, []any{"pong"}, pong.Payload)
		require.NoError(t, d.Wait(ctx))
	})
}

func TestEveryDisconnectActionRuns(t *testing.T) {
	reasons := make(chan string, 4)
	record := func(name string) action.HandlerFunc {
		return func(ctx context.Context, args action.Args) (any, error) {
			reasons <- name + ":" + args.String(0)
			return nil, nil
		}
	}

	reg := action.NewRegistry()
	reg.Controller("presence").OnDisconnect(record("presence")).Params(action.MessageBody())
	reg.Controller("audit").OnDisconnect(record("audit")).Params(action.MessageBody())

	d := newDispatcher(t, reg)
	root := newFakeServer(transport.DefaultNamespace)
	d.Attach(root)

	socket := newFakeSocket("s1", nil)
	root.connect(socket)
	require.True(t, socket.disconnect("bye"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))

	close(reasons)
	var got []string
	for r := range reasons {
		got = append(got, r)
	}
	assert.ElementsMatch(t, []string{"presence:bye", "audit:bye"}, got)
}

func TestDispatchMetrics(t *testing.T) {
	metrics := o11y.NewMemoryProvider()

	reg := action.NewRegistry()
	reg.Controller("c").OnMessage("save", echo).
		Params(action.BodyAs[saveRequest]()).
		EmitOnSuccess("save/success").
		EmitOnFail("save/error")
	d := newDispatcher(t, reg, func(c *Config) { c.WithMetricsProvider(metrics) })

	dispatchOnce(t, d, `{"name":"ada","age":3}`, nil)
	dispatchOnce(t, d, `{"name":"","age":3}`, nil)

	label := func(k, v string) o11y.Label { return o11y.Label{Key: k, Value: v} }
	ns, act := label("namespace", "/"), label("action", "save")

	assert.EqualValues(t, 1, metrics.CounterValue("dispatch_invocations_total", ns, act, label("result", "success")))
	assert.EqualValues(t, 1, metrics.CounterValue("dispatch_invocations_total", ns, act, label("result", "failure")))
	assert.EqualValues(t, 1, metrics.CounterValue("dispatch_failures_total", act, label("kind", "ValidationFailure")))
	assert.EqualValues(t, 1, metrics.CounterValue("dispatch_emissions_total", label("event", "save/success"), label("policy", "success")))
	assert.EqualValues(t, 1, metrics.CounterValue("dispatch_emissions_total", label("event", "save/error"), label("policy", "fail")))

	snapshot := metrics.Snapshot()
	assert.Equal(t, 0.0, snapshot.Gauges["dispatch_invocations_in_flight"])
	assert.Len(t, snapshot.Histograms[o11y.SeriesKey("dispatch_invocation_duration_seconds", []o11y.Label{ns, act})], 2)
}

func TestConfigIsValid(t *testing.T) {
	_, err := NewConfig().Build()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidConfig, fmt.Sprint(oopsErr.Code()))

	provider := action.StaticProvider(action.Controller{
		Name:    "raw",
		Actions: []*action.Descriptor{{Kind: action.KindMessage, Event: "e"}},
	})
	_, err = NewConfig().WithProvider(provider).Build()
	assert.Error(t, err)

	d, err := NewConfig().WithProvider(action.StaticProvider()).Build()
	require.NoError(t, err)
	assert.NoError(t, d.Wait(context.Background()))
}
