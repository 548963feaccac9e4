// Package transport declares the capabilities the dispatcher needs from a
// bidirectional socket transport. The dispatcher never touches the wire; any
// transport that can provide these interfaces can host actions.
package transport

import (
	"context"
	"net/http"
	"net/url"
)

// Reserved event names.
const (
	EventConnection = "connection"
	EventDisconnect = "disconnect"
)

// DefaultNamespace is the namespace of connections that did not ask for one.
const DefaultNamespace = "/"

// AckFunc answers a client request directly. It is nil when the client did
// not ask for an acknowledgment.
type AckFunc func(payload any) error

// EventHandler receives the data of one inbound event occurrence.
type EventHandler func(ctx context.Context, data any, ack AckFunc)

// Socket is one live client connection.
type Socket interface {
	// ID is unique for the lifetime of the process.
	ID() string
	// Namespace the connection was accepted on.
	Namespace() string
	// Query is the handshake query data.
	Query() url.Values
	// Request is the handshake request.
	Request() *http.Request
	// Rooms returns a snapshot of the current room membership.
	Rooms() []string
	Join(room string)
	Leave(room string)
	// On adds a handler for the named event. Every handler of an event runs.
	// Disconnect handlers are registered with EventDisconnect and receive the
	// close reason as data.
	On(event string, handler EventHandler)
	// Emit sends an event to this connection. Omitting payload sends the
	// event without data.
	Emit(ctx context.Context, event string, payload ...any) error
	// Context is cancelled when the connection terminates.
	Context() context.Context
}

// Emitter broadcasts events to a set of connections.
type Emitter interface {
	Emit(ctx context.Context, event string, payload ...any) error
}

// Middleware runs for every new connection before connection handlers.
// Returning an error rejects the connection.
type Middleware func(ctx context.Context, socket Socket) error

// Server is the root transport or one of its namespaces.
type Server interface {
	Emitter
	Namespace() string
	// OnConnection registers a handler called once per accepted connection.
	OnConnection(handler func(Socket))
	// Of returns the server scoped to the given namespace.
	Of(namespace string) Server
	Use(middleware Middleware)
	// In returns an emitter for every connection of this namespace that is a
	// member of a room matching pattern.
	In(pattern string) Emitter
}
