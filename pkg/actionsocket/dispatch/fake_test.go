package dispatch

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/tsarna/actionsocket/pkg/actionsocket/transport"
)

type emission struct {
	Event   string
	Payload []any
}

type fakeSocket struct {
	id      string
	ns      string
	query   url.Values
	request *http.Request

	mu       sync.Mutex
	rooms    []string
	handlers map[string][]transport.EventHandler
	emitted  []emission
	emitCh   chan emission

	ctx    context.Context
	cancel context.CancelFunc
}

func newFakeSocket(id string, query url.Values) *fakeSocket {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeSocket{
		id:       id,
		ns:       transport.DefaultNamespace,
		query:    query,
		request:  &http.Request{URL: &url.URL{Path: "/ws", RawQuery: query.Encode()}},
		rooms:    []string{id},
		handlers: make(map[string][]transport.EventHandler),
		emitCh:   make(chan emission, 32),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *fakeSocket) ID() string               { return s.id }
func (s *fakeSocket) Namespace() string        { return s.ns }
func (s *fakeSocket) Query() url.Values        { return s.query }
func (s *fakeSocket) Request() *http.Request   { return s.request }
func (s *fakeSocket) Context() context.Context { return s.ctx }

func (s *fakeSocket) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rooms...)
}

func (s *fakeSocket) Join(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, room)
}

func (s *fakeSocket) Leave(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rooms {
		if r == room {
			s.rooms = append(s.rooms[:i], s.rooms[i+1:]...)
			return
		}
	}
}

func (s *fakeSocket) On(event string, handler transport.EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], handler)
}

func (s *fakeSocket) Emit(ctx context.Context, event string, payload ...any) error {
	e := emission{Event: event, Payload: payload}
	s.mu.Lock()
	s.emitted = append(s.emitted, e)
	s.mu.Unlock()
	s.emitCh <- e
	return nil
}

// trigger delivers an inbound event the way a transport read loop would.
func (s *fakeSocket) trigger(event string, data any, ack transport.AckFunc) bool {
	s.mu.Lock()
	handlers := append([]transport.EventHandler(nil), s.handlers[event]...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(context.Background(), data, ack)
	}
	return len(handlers) > 0
}

func (s *fakeSocket) disconnect(reason string) bool {
	s.cancel()
	return s.trigger(transport.EventDisconnect, reason, nil)
}

func (s *fakeSocket) emissions() []emission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]emission(nil), s.emitted...)
}

func (s *fakeSocket) nextEmission(t *testing.T) emission {
	t.Helper()
	select {
	case e := <-s.emitCh:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an emission")
		return emission{}
	}
}

type fakeServer struct {
	ns string

	mu       sync.Mutex
	handlers []func(transport.Socket)
	children map[string]*fakeServer
	emitted  []emission
}

func newFakeServer(ns string) *fakeServer {
	return &fakeServer{ns: ns, children: make(map[string]*fakeServer)}
}

func (s *fakeServer) Namespace() string { return s.ns }

func (s *fakeServer) OnConnection(handler func(transport.Socket)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

func (s *fakeServer) Of(namespace string) transport.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	child, ok := s.children[namespace]
	if !ok {
		child = newFakeServer(namespace)
		s.children[namespace] = child
	}
	return child
}

func (s *fakeServer) Use(transport.Middleware) {}

func (s *fakeServer) Emit(ctx context.Context, event string, payload ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitted = append(s.emitted, emission{Event: event, Payload: payload})
	return nil
}

func (s *fakeServer) In(string) transport.Emitter { return s }

// connect runs the connection handlers for socket.
func (s *fakeServer) connect(socket *fakeSocket) {
	socket.ns = s.ns
	s.mu.Lock()
	handlers := append([]func(transport.Socket){}, s.handlers...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(socket)
	}
}

func (s *fakeServer) child(ns string) *fakeServer {
	return s.Of(ns).(*fakeServer)
}

type ackRecorder struct {
	mu    sync.Mutex
	calls []any
}

func (r *ackRecorder) ack(payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, payload)
	return nil
}

func (r *ackRecorder) payloads() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.calls...)
}
