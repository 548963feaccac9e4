package action

import (
	"reflect"

	"github.com/tsarna/actionsocket/pkg/actionsocket/coerce"
)

// ParamBuilder declares one handler parameter. Parameters take the index of
// their position in Params unless At is used.
type ParamBuilder struct {
	param    Parameter
	indexSet bool
}

func newParam(source Source) *ParamBuilder {
	return &ParamBuilder{param: Parameter{Source: source}}
}

// ConnectedSocket injects the connection.
func ConnectedSocket() *ParamBuilder { return newParam(SourceSocket) }

// SocketServer injects the root transport, for handlers that broadcast.
func SocketServer() *ParamBuilder { return newParam(SourceServer) }

// SocketID injects the connection id.
func SocketID() *ParamBuilder { return newParam(SourceSocketID) }

// SocketRequest injects the handshake request.
func SocketRequest() *ParamBuilder { return newParam(SourceRequest) }

// SocketRooms injects the connection's current rooms.
func SocketRooms() *ParamBuilder { return newParam(SourceRooms) }

// SocketQueryParam injects the handshake query value called name.
func SocketQueryParam(name string) *ParamBuilder {
	p := newParam(SourceQuery)
	p.param.Name = name
	return p
}

// MessageBody injects the message payload.
func MessageBody() *ParamBuilder { return newParam(SourceBody) }

// BodyAs injects the message payload mapped into a new *T.
func BodyAs[T any]() *ParamBuilder {
	return MessageBody().Shape(reflect.TypeFor[T]())
}

// CustomParam injects the value computed by resolver.
func CustomParam(resolver Resolver) *ParamBuilder {
	p := newParam(SourceCustom)
	p.param.Custom = resolver
	return p
}

// At sets the parameter index explicitly.
func (p *ParamBuilder) At(index int) *ParamBuilder {
	p.param.Index = index
	p.indexSet = true
	return p
}

// As declares the semantic type used for body coercion.
func (p *ParamBuilder) As(t coerce.Type) *ParamBuilder {
	p.param.Type = t
	return p
}

// Shape declares the struct type the body is mapped into.
func (p *ParamBuilder) Shape(shape reflect.Type) *ParamBuilder {
	p.param.Type = coerce.TypeShape
	p.param.Shape = shape
	return p
}

// Path selects a sub-value of the body (gjson syntax).
func (p *ParamBuilder) Path(path string) *ParamBuilder {
	p.param.Path = path
	return p
}

// Transform post-processes the resolved value.
func (p *ParamBuilder) Transform(fn TransformFunc) *ParamBuilder {
	p.param.Transform = fn
	return p
}

// Validate overrides whether the body is validated against its shape.
func (p *ParamBuilder) Validate(enabled bool) *ParamBuilder {
	p.param.Validate = &enabled
	return p
}

// ShapeOptions overrides how the body is mapped into its shape.
func (p *ParamBuilder) ShapeOptions(opts coerce.ShapeOptions) *ParamBuilder {
	p.param.ShapeOptions = &opts
	return p
}

// ActionBuilder declares one action.
type ActionBuilder struct {
	desc Descriptor
}

// Named sets a display name used in logs and route listings.
func (a *ActionBuilder) Named(name string) *ActionBuilder {
	a.desc.Name = name
	return a
}

// Params declares the handler parameters.
func (a *ActionBuilder) Params(params ...*ParamBuilder) *ActionBuilder {
	for _, p := range params {
		param := p.param
		if !p.indexSet {
			param.Index = len(a.desc.Parameters)
		}
		a.desc.Parameters = append(a.desc.Parameters, param)
	}
	return a
}

// EmitOnSuccess emits the handler result on event.
func (a *ActionBuilder) EmitOnSuccess(event string, opts ...coerce.PlainOptions) *ActionBuilder {
	a.desc.OnSuccess = newPolicy(event, opts)
	return a
}

// EmitOnFail emits any failure on event.
func (a *ActionBuilder) EmitOnFail(event string, opts ...coerce.PlainOptions) *ActionBuilder {
	a.desc.OnFail = newPolicy(event, opts)
	return a
}

// EmitOnFailFor emits failures accepted by matcher on event. It takes
// precedence over EmitOnFail.
func (a *ActionBuilder) EmitOnFailFor(matcher ErrorMatcher, event string, opts ...coerce.PlainOptions) *ActionBuilder {
	a.desc.OnFailFor = &FailForPolicy{
		Policy:  *newPolicy(event, opts),
		Matcher: matcher,
	}
	return a
}

// SkipEmitOnEmptyResult suppresses emissions for empty outcomes.
func (a *ActionBuilder) SkipEmitOnEmptyResult() *ActionBuilder {
	a.desc.SkipEmitOnEmptyResult = true
	return a
}

// ClassTransform overrides the dispatcher's structured transform toggle for
// this action.
func (a *ActionBuilder) ClassTransform(enabled bool) *ActionBuilder {
	a.desc.ClassTransform = &enabled
	return a
}

func newPolicy(event string, opts []coerce.PlainOptions) *Policy {
	p := &Policy{Event: event}
	if len(opts) > 0 {
		o := opts[0]
		p.Options = &o
	}
	return p
}

// ControllerBuilder declares a controller and its actions.
type ControllerBuilder struct {
	name      string
	namespace string
	actions   []*ActionBuilder
}

// Namespace scopes the controller to connections of namespace.
func (c *ControllerBuilder) Namespace(namespace string) *ControllerBuilder {
	c.namespace = namespace
	return c
}

// OnConnect declares an action run once per new connection.
func (c *ControllerBuilder) OnConnect(handler HandlerFunc) *ActionBuilder {
	return c.add(KindConnect, "", handler)
}

// OnDisconnect declares an action run once when a connection terminates.
func (c *ControllerBuilder) OnDisconnect(handler HandlerFunc) *ActionBuilder {
	return c.add(KindDisconnect, "", handler)
}

// OnMessage declares an action run for every event named event.
func (c *ControllerBuilder) OnMessage(event string, handler HandlerFunc) *ActionBuilder {
	return c.add(KindMessage, event, handler)
}

func (c *ControllerBuilder) add(kind Kind, event string, handler HandlerFunc) *ActionBuilder {
	a := &ActionBuilder{desc: Descriptor{Kind: kind, Event: event, Handler: handler}}
	c.actions = append(c.actions, a)
	return a
}
