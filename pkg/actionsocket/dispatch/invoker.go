package dispatch

import (
	"context"
	"fmt"

	"github.com/samber/oops"
	"github.com/tsarna/actionsocket/pkg/actionsocket/action"
	"github.com/tsarna/actionsocket/pkg/actionsocket/coerce"
	"github.com/tsarna/actionsocket/pkg/actionsocket/failure"
)

// Outcome is the settled result of one invocation.
type Outcome struct {
	Value  any
	Err    error
	Failed bool
}

// Succeeded returns a successful Outcome.
func Succeeded(value any) Outcome {
	return Outcome{Value: value}
}

// FailedWith returns a failed Outcome. A nil or typed-nil err describes a
// failure without an error value.
func FailedWith(err error) Outcome {
	return Outcome{Err: err, Failed: true}
}

// HasError reports whether a failed outcome carries an error value.
func (o Outcome) HasError() bool {
	return o.Failed && !coerce.IsEmpty(o.Err)
}

// Result names the outcome for logs and metrics.
func (o Outcome) Result() string {
	if o.Failed {
		return "failure"
	}
	return "success"
}

// failureKind labels a failure for metrics.
func failureKind(err error) string {
	if kind, ok := failure.KindOf(err); ok {
		return string(kind)
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := fmt.Sprint(oopsErr.Code()); code != "" && code != "<nil>" {
			return code
		}
	}
	if coerce.IsEmpty(err) {
		return "empty"
	}
	return "error"
}

// Invoke runs the handler of a with args and waits for it to return. A
// handler error, including a typed-nil one, yields a failed outcome. A panic
// becomes a failure with code HANDLER_PANIC.
func (d *Dispatcher) Invoke(ctx context.Context, a *action.Descriptor, args action.Args) Outcome {
	var (
		value any
		err   error
	)

	panicErr := oops.
		Code(CodeHandlerPanic).
		With("action", a.Name).
		Recover(func() {
			value, err = a.Handler(ctx, args)
		})
	if panicErr != nil {
		return FailedWith(panicErr)
	}

	if err != nil {
		return FailedWith(err)
	}
	return Succeeded(value)
}
