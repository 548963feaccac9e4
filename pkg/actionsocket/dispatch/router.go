package dispatch

import (
	"context"
	"fmt"

	"github.com/samber/oops"
	"github.com/tsarna/actionsocket/pkg/actionsocket/action"
	"github.com/tsarna/actionsocket/pkg/actionsocket/coerce"
	"github.com/tsarna/actionsocket/pkg/actionsocket/transport"
	"go.uber.org/zap"
)

// DefaultAck is sent to clients that asked for an acknowledgment of an
// action that neither returned a value nor declares a success policy.
const DefaultAck = "received"

const (
	policySuccess = "success"
	policyFail    = "fail"
	policyFailFor = "fail_for"
)

// Route turns a settled outcome into at most one emission or acknowledgment
// on socket. ack is nil when the client did not ask for one.
func (d *Dispatcher) Route(ctx context.Context, a *action.Descriptor, socket transport.Socket, outcome Outcome, ack transport.AckFunc) {
	if outcome.Failed {
		d.routeFailure(ctx, a, socket, outcome)
		return
	}
	d.routeSuccess(ctx, a, socket, outcome.Value, ack)
}

func (d *Dispatcher) routeSuccess(ctx context.Context, a *action.Descriptor, socket transport.Socket, value any, ack transport.AckFunc) {
	empty := coerce.IsEmpty(value)
	logger := d.actionLogger(a)

	switch {
	case a.OnSuccess != nil && !empty:
		payload, err := d.serialize(a, value, a.OnSuccess.Options)
		if err != nil {
			logger.Error("Failed to serialize result", zap.Error(err))
			d.routeFailure(ctx, a, socket, FailedWith(err))
			return
		}
		d.emit(ctx, socket, a, policySuccess, a.OnSuccess.Event, payload)

	case a.OnSuccess != nil:
		if a.SkipEmitOnEmptyResult {
			logger.Debug("Skipping emission of empty result", zap.String("event", a.OnSuccess.Event))
			return
		}
		d.emit(ctx, socket, a, policySuccess, a.OnSuccess.Event)

	case ack != nil && !empty:
		d.acknowledge(ctx, a, ack, value)

	case ack != nil:
		d.acknowledge(ctx, a, ack, DefaultAck)

	default:
		logger.Debug("No success policy or acknowledgment, result dropped")
	}
}

func (d *Dispatcher) routeFailure(ctx context.Context, a *action.Descriptor, socket transport.Socket, outcome Outcome) {
	logger := d.actionLogger(a)

	if outcome.HasError() {
		err := outcome.Err
		if a.OnFailFor != nil && a.OnFailFor.Matcher != nil && a.OnFailFor.Matcher.Match(err) {
			payload := d.errorPayload(a, err, a.OnFailFor.Options, false)
			d.emit(ctx, socket, a, policyFailFor, a.OnFailFor.Event, payload)
			return
		}
		if a.OnFail != nil {
			payload := d.errorPayload(a, err, a.OnFail.Options, true)
			d.emit(ctx, socket, a, policyFail, a.OnFail.Event, payload)
			return
		}
		logger.Debug("No failure policy applies, failure dropped", zap.Error(err))
		return
	}

	if a.SkipEmitOnEmptyResult {
		logger.Debug("Skipping emission of empty failure")
		return
	}

	// with no error to match, the general policy wins
	switch {
	case a.OnFail != nil:
		d.emit(ctx, socket, a, policyFail, a.OnFail.Event)
	case a.OnFailFor != nil:
		d.emit(ctx, socket, a, policyFailFor, a.OnFailFor.Event)
	default:
		logger.Debug("No failure policy, empty failure dropped")
	}
}

// serialize flattens value with the global options plus opts when
// structured transform is enabled for a.
func (d *Dispatcher) serialize(a *action.Descriptor, value any, opts *coerce.PlainOptions) (any, error) {
	if !d.transformEnabled(a) {
		return value, nil
	}
	return d.coercer.ToPlain(value, d.plainOptions.Merge(opts))
}

// errorPayload serializes err. With fallback set, an error that serializes
// to an object without fields is sent as its message instead. Coded errors
// are reduced to their code and message so stack traces stay on the server.
func (d *Dispatcher) errorPayload(a *action.Descriptor, err error, opts *coerce.PlainOptions, fallback bool) any {
	if coded, ok := oops.AsOops(err); ok {
		payload, serr := d.serialize(a, codedPayload(coded, err), opts)
		if serr != nil {
			return err.Error()
		}
		return payload
	}
	if fallback && hasNoFields(err) {
		return err.Error()
	}
	payload, serr := d.serialize(a, err, opts)
	if serr != nil {
		d.actionLogger(a).Warn("Failed to serialize error, sending message", zap.Error(serr))
		return err.Error()
	}
	return payload
}

func codedPayload(coded oops.OopsError, err error) map[string]any {
	payload := map[string]any{"message": err.Error()}
	if code := coded.Code(); code != nil && code != "" {
		payload["code"] = fmt.Sprint(code)
	}
	return payload
}

func hasNoFields(err error) bool {
	plain, perr := coerce.Plain(err, coerce.PlainOptions{})
	if perr != nil {
		return true
	}
	fields, isObject := plain.(map[string]any)
	return isObject && len(fields) == 0
}

func (d *Dispatcher) emit(ctx context.Context, socket transport.Socket, a *action.Descriptor, policy, event string, payload ...any) {
	logger := d.actionLogger(a)
	if socket == nil {
		logger.Warn("No socket to emit on", zap.String("event", event))
		return
	}

	if err := socket.Emit(ctx, event, payload...); err != nil {
		logger.Warn("Failed to emit event",
			zap.String("event", event),
			zap.String("socket_id", socket.ID()),
			zap.Error(err))
		return
	}

	d.metrics.RecordEmission(ctx, event, policy)
	logger.Debug("Emitted event", zap.String("event", event), zap.String("policy", policy))
}

func (d *Dispatcher) acknowledge(ctx context.Context, a *action.Descriptor, ack transport.AckFunc, payload any) {
	if err := ack(payload); err != nil {
		d.actionLogger(a).Warn("Failed to send acknowledgment", zap.Error(err))
		return
	}
	d.metrics.RecordAck(ctx, a.Name)
}

func (d *Dispatcher) actionLogger(a *action.Descriptor) *zap.Logger {
	return d.logger.With(
		zap.String("action", a.Name),
		zap.Stringer("kind", a.Kind),
	)
}
