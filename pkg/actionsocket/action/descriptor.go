// Package action describes controllers and their actions: which transport
// event each handler binds to, how its parameters are resolved and how its
// result is sent back to the client. Descriptors are built once with the
// fluent builders in this package and are immutable afterwards.
package action

import (
	"context"
	"reflect"

	"github.com/tsarna/actionsocket/pkg/actionsocket/coerce"
	"github.com/tsarna/actionsocket/pkg/actionsocket/transport"
)

// Kind is the transport event an action binds to.
type Kind int

const (
	KindConnect Kind = iota + 1
	KindDisconnect
	KindMessage
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Source is where a parameter value comes from.
type Source int

const (
	SourceSocket   Source = iota + 1 // the connection itself
	SourceServer                     // the root transport
	SourceQuery                      // a handshake query value, by Name
	SourceSocketID                   // the connection id
	SourceRequest                    // the handshake request
	SourceRooms                      // current room membership
	SourceBody                       // the message payload, optionally at Path
	SourceCustom                     // resolved by the Custom function
)

func (s Source) String() string {
	switch s {
	case SourceSocket:
		return "socket"
	case SourceServer:
		return "server"
	case SourceQuery:
		return "query"
	case SourceSocketID:
		return "socket-id"
	case SourceRequest:
		return "request"
	case SourceRooms:
		return "rooms"
	case SourceBody:
		return "body"
	case SourceCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Invocation is the context one action invocation resolves its parameters
// from.
type Invocation struct {
	Socket transport.Socket
	Server transport.Server
	Data   any
}

// Resolver computes a custom parameter value.
type Resolver func(ctx context.Context, inv Invocation) (any, error)

// TransformFunc post-processes a resolved parameter value.
type TransformFunc func(value any, socket transport.Socket) (any, error)

// HandlerFunc is the action body. args holds the resolved parameters in
// index order.
type HandlerFunc func(ctx context.Context, args Args) (any, error)

// Parameter describes one handler argument.
type Parameter struct {
	Index  int
	Source Source
	// Name is the query key for SourceQuery.
	Name string
	// Path selects a sub-value of the body for SourceBody, in gjson syntax.
	Path   string
	Custom Resolver

	Type coerce.Type
	// Shape is the struct type for coerce.TypeShape.
	Shape reflect.Type

	Transform TransformFunc

	// Validate overrides the dispatcher's validation default when set.
	Validate *bool
	// ShapeOptions overrides the dispatcher's mapping options when set.
	ShapeOptions *coerce.ShapeOptions
}

// Policy names the event an outcome is emitted on.
type Policy struct {
	Event   string
	Options *coerce.PlainOptions
}

// FailForPolicy is a Policy that only applies to failures Matcher accepts.
type FailForPolicy struct {
	Policy
	Matcher ErrorMatcher
}

// Descriptor describes one action.
type Descriptor struct {
	Kind       Kind
	Event      string
	Name       string
	Parameters []Parameter
	Handler    HandlerFunc

	OnSuccess *Policy
	OnFail    *Policy
	OnFailFor *FailForPolicy

	SkipEmitOnEmptyResult bool

	// ClassTransform overrides the dispatcher's structured transform toggle.
	ClassTransform *bool
}

// Controller is a namespace and its actions, in declaration order.
type Controller struct {
	Name      string
	Namespace string
	Actions   []*Descriptor
}

// Provider supplies the controllers to dispatch. The returned slice must not
// change once read.
type Provider interface {
	Controllers() []Controller
}
