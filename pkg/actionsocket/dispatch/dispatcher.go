// Package dispatch binds declared actions to transport events. For every
// inbound event it resolves the handler's parameters, invokes the handler and
// routes the outcome back to the client as an event or an acknowledgment.
package dispatch

import (
	"context"
	"sync"

	"github.com/tsarna/actionsocket/pkg/actionsocket/action"
	"github.com/tsarna/actionsocket/pkg/actionsocket/coerce"
	"github.com/tsarna/actionsocket/pkg/actionsocket/o11y"
	"github.com/tsarna/actionsocket/pkg/actionsocket/transport"
	"go.uber.org/zap"
)

// Dispatcher wires the actions of a Provider to a transport. Create one with
// NewConfig().Build(). A Dispatcher is safe for concurrent use; every
// invocation runs in its own goroutine.
type Dispatcher struct {
	provider        action.Provider
	logger          *zap.Logger
	coercer         coerce.Service
	classTransform  bool
	validate        bool
	shapeOptions    coerce.ShapeOptions
	plainOptions    coerce.PlainOptions
	validateOptions coerce.ValidateOptions
	metrics         *Metrics
	tracing         o11y.TracingProvider

	wg sync.WaitGroup
}

// Attach registers a connection handler per controller on root, or on the
// namespace of root the controller declares.
func (d *Dispatcher) Attach(root transport.Server) {
	for _, ctrl := range d.provider.Controllers() {
		server := root
		ns := action.NormalizeNamespace(ctrl.Namespace)
		if ns != action.NormalizeNamespace(root.Namespace()) {
			server = root.Of(ns)
		}

		d.logger.Debug("Attaching controller",
			zap.String("controller", ctrl.Name),
			zap.String("namespace", ns),
			zap.Int("actions", len(ctrl.Actions)))

		server.OnConnection(func(socket transport.Socket) {
			d.bind(ctrl, root, socket)
		})
	}
}

// bind registers the listeners of every action of ctrl on socket, in
// declaration order.
func (d *Dispatcher) bind(ctrl action.Controller, root transport.Server, socket transport.Socket) {
	for _, a := range ctrl.Actions {
		switch a.Kind {
		case action.KindConnect:
			d.spawn(socket.Context(), ctrl, a, action.Invocation{Socket: socket, Server: root}, nil)

		case action.KindDisconnect:
			socket.On(transport.EventDisconnect, func(ctx context.Context, data any, ack transport.AckFunc) {
				d.spawn(ctx, ctrl, a, action.Invocation{Socket: socket, Server: root, Data: data}, ack)
			})

		case action.KindMessage:
			socket.On(a.Event, func(ctx context.Context, data any, ack transport.AckFunc) {
				d.spawn(ctx, ctrl, a, action.Invocation{Socket: socket, Server: root, Data: data}, ack)
			})

		default:
			d.logger.Warn("Skipping action of unknown kind",
				zap.String("controller", ctrl.Name),
				zap.String("action", a.Name))
		}
	}
}

func (d *Dispatcher) spawn(ctx context.Context, ctrl action.Controller, a *action.Descriptor, inv action.Invocation, ack transport.AckFunc) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Dispatch(ctx, ctrl, a, inv, ack)
	}()
}

// Dispatch runs one invocation of a to completion: resolve, invoke, route.
// It blocks until the outcome has been routed.
func (d *Dispatcher) Dispatch(ctx context.Context, ctrl action.Controller, a *action.Descriptor, inv action.Invocation, ack transport.AckFunc) {
	ns := action.NormalizeNamespace(ctrl.Namespace)

	ctx, span := o11y.StartSpan(ctx, d.tracing, "dispatch "+a.Name)
	defer span.End()
	span.SetAttributes(
		o11y.Label{Key: "controller", Value: ctrl.Name},
		o11y.Label{Key: "namespace", Value: ns},
		o11y.Label{Key: "kind", Value: a.Kind.String()},
	)

	done := d.metrics.RecordStart(ctx, ns, a.Name)

	var outcome Outcome
	args, err := d.Resolve(ctx, a, inv)
	if err != nil {
		outcome = FailedWith(err)
	} else {
		outcome = d.Invoke(ctx, a, args)
	}
	done(outcome.Result())

	if outcome.Failed {
		kind := failureKind(outcome.Err)
		d.metrics.RecordFailure(ctx, a.Name, kind)
		span.SetStatus(o11y.SpanStatusError, kind)
		if ce := d.logger.Check(zap.DebugLevel, "Action failed"); ce != nil {
			fields := []zap.Field{
				zap.String("controller", ctrl.Name),
				zap.String("action", a.Name),
				zap.String("failure_kind", kind),
			}
			if outcome.HasError() {
				fields = append(fields, zap.Error(outcome.Err))
			}
			ce.Write(fields...)
		}
	} else {
		span.SetStatus(o11y.SpanStatusOK, "")
	}

	d.Route(ctx, a, inv.Socket, outcome, ack)
}

// Wait blocks until every running invocation has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
