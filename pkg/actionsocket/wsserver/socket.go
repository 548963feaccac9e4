package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/tsarna/actionsocket/pkg/actionsocket/transport"
	"go.uber.org/zap"
)

var (
	// ErrClosed is returned when emitting on a socket that has terminated.
	ErrClosed = errors.New("socket closed")
	// ErrQueueFull is returned when the outbound queue of a socket is full.
	ErrQueueFull = errors.New("outbound queue full")
	// ErrAlreadyAcknowledged is returned by an AckFunc called more than once.
	ErrAlreadyAcknowledged = errors.New("event already acknowledged")
)

// Disconnect reasons passed to disconnect handlers.
const (
	ReasonClientDisconnect = "client disconnect"
	ReasonServerDisconnect = "server disconnect"
	ReasonServerShutdown   = "server shutting down"
	ReasonPingTimeout      = "ping timeout"
	ReasonTransportClose   = "transport close"
)

// Socket is one accepted WebSocket connection.
type Socket struct {
	id        string
	namespace string
	request   *http.Request
	query     url.Values
	conn      *websocket.Conn
	hub       *hub
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	roomsMutex sync.RWMutex
	rooms      map[string]struct{}

	handlersMutex sync.RWMutex
	handlers      map[string][]transport.EventHandler

	// Outbound frames go through one writer goroutine.
	outbound   chan WireMessage
	done       chan struct{}
	writerDone chan struct{}

	reasonMutex sync.Mutex
	reason      string

	cleanupOnce sync.Once
}

var _ transport.Socket = (*Socket)(nil)

func newSocket(r *http.Request, conn *websocket.Conn, namespace string, h *hub) *Socket {
	ctx, cancel := context.WithCancel(r.Context())
	id := uuid.NewString()

	return &Socket{
		id:         id,
		namespace:  namespace,
		request:    r,
		query:      r.URL.Query(),
		conn:       conn,
		hub:        h,
		logger:     h.logger.With(zap.String("socket_id", id), zap.String("namespace", namespace)),
		ctx:        ctx,
		cancel:     cancel,
		rooms:      map[string]struct{}{id: {}},
		handlers:   make(map[string][]transport.EventHandler),
		outbound:   make(chan WireMessage, h.config.queueSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (s *Socket) ID() string               { return s.id }
func (s *Socket) Namespace() string        { return s.namespace }
func (s *Socket) Query() url.Values        { return s.query }
func (s *Socket) Request() *http.Request   { return s.request }
func (s *Socket) Context() context.Context { return s.ctx }

// Rooms returns the rooms of the socket, sorted. Every socket is in the
// room named after its id.
func (s *Socket) Rooms() []string {
	s.roomsMutex.RLock()
	defer s.roomsMutex.RUnlock()
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (s *Socket) Join(room string) {
	s.roomsMutex.Lock()
	defer s.roomsMutex.Unlock()
	s.rooms[room] = struct{}{}
}

func (s *Socket) Leave(room string) {
	s.roomsMutex.Lock()
	defer s.roomsMutex.Unlock()
	delete(s.rooms, room)
}

// On adds a handler for an event. Handlers of the same event run in
// registration order on the read loop and must not block.
func (s *Socket) On(event string, handler transport.EventHandler) {
	s.handlersMutex.Lock()
	defer s.handlersMutex.Unlock()
	s.handlers[event] = append(s.handlers[event], handler)
}

func (s *Socket) handlersFor(event string) []transport.EventHandler {
	s.handlersMutex.RLock()
	defer s.handlersMutex.RUnlock()
	return append([]transport.EventHandler(nil), s.handlers[event]...)
}

// Emit queues an event for the client. One payload is sent as is, several
// are sent as an array.
func (s *Socket) Emit(ctx context.Context, event string, payload ...any) error {
	msg := WireMessage{Event: event}
	switch len(payload) {
	case 0:
	case 1:
		msg.Data = payload[0]
	default:
		msg.Data = payload
	}
	return s.enqueue(ctx, msg)
}

// Disconnect closes the connection from the server side.
func (s *Socket) Disconnect() {
	s.setReason(ReasonServerDisconnect)
	if err := s.conn.Close(websocket.StatusNormalClosure, "Disconnected by server"); err != nil {
		s.logger.Debug("WebSocket close error (may be expected)", zap.Error(err))
	}
}

func (s *Socket) enqueue(ctx context.Context, msg WireMessage) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.outbound <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		s.hub.metrics.RecordMessageDropped(ctx)
		s.logger.Warn("Outbound queue full, dropping message",
			zap.String("event", msg.Event),
			zap.String("kind", messageKindLabel(msg.Kind)),
		)
		return ErrQueueFull
	}
}

func (s *Socket) setReason(reason string) {
	s.reasonMutex.Lock()
	defer s.reasonMutex.Unlock()
	if s.reason == "" {
		s.reason = reason
	}
}

func (s *Socket) closeReason(fallback string) string {
	s.reasonMutex.Lock()
	defer s.reasonMutex.Unlock()
	if s.reason == "" {
		return fallback
	}
	return s.reason
}

// Start runs the connection handlers, then reads frames until the
// connection closes. It blocks until cleanup has finished.
func (s *Socket) Start(handlers []func(transport.Socket)) {
	s.logger.Debug("Starting WebSocket socket handler")

	go s.writer()

	for _, h := range handlers {
		h(s)
	}

	reason := s.reader()

	s.logger.Debug("WebSocket socket handler stopping", zap.String("reason", reason))
	s.cleanup(reason)
}

// writer serializes every write to the connection and sends pings.
func (s *Socket) writer() {
	defer close(s.writerDone)
	defer s.logger.Debug("Writer goroutine stopped")

	config := s.hub.config

	var pingChan <-chan time.Time
	if config.pingInterval > 0 {
		pingTicker := time.NewTicker(config.pingInterval)
		defer pingTicker.Stop()
		pingChan = pingTicker.C
	}

	for {
		select {
		case msg := <-s.outbound:
			if err := s.write(msg); err != nil {
				s.logger.Error("Failed to send WebSocket message",
					zap.Error(err),
					zap.String("event", msg.Event),
				)
				s.hub.metrics.RecordMessageError(s.ctx, "write_failed")

				if websocket.CloseStatus(err) != -1 || s.ctx.Err() != nil {
					return
				}
			}

		case <-pingChan:
			pingCtx, cancel := context.WithTimeout(s.ctx, config.writeTimeout)
			err := s.conn.Ping(pingCtx)
			cancel()

			if err != nil {
				if s.ctx.Err() == nil {
					s.logger.Debug("Client did not answer ping", zap.Error(err))
					s.hub.metrics.RecordPongTimeout(s.ctx)
					s.setReason(ReasonPingTimeout)
					s.cancel()
				}
				return
			}
			s.hub.metrics.RecordPingSent(s.ctx)

		case <-s.done:
			return

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Socket) write(msg WireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", msg.Event, err)
	}

	writeCtx, cancel := context.WithTimeout(s.ctx, s.hub.config.writeTimeout)
	defer cancel()

	if err := s.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return err
	}
	s.hub.metrics.RecordMessageSent(s.ctx, len(data), messageKindLabel(msg.Kind))
	return nil
}

// reader reads frames until the connection fails and returns the
// disconnect reason.
func (s *Socket) reader() string {
	defer s.logger.Debug("Reader stopped")

	s.conn.SetReadLimit(s.hub.config.readLimit)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				s.logger.Debug("WebSocket connection closed",
					zap.Int("close_status", int(status)),
				)
				return s.closeReason(ReasonClientDisconnect)
			}
			if s.ctx.Err() == nil {
				s.logger.Debug("Failed to read WebSocket message", zap.Error(err))
			}
			return s.closeReason(ReasonTransportClose)
		}

		if len(data) == 0 {
			continue
		}

		var msg WireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Failed to parse incoming WebSocket message",
				zap.Error(err),
				zap.Int("data_length", len(data)),
			)
			s.hub.metrics.RecordMessageError(s.ctx, "invalid_json")
			s.nack(nil, "Invalid JSON format")
			continue
		}

		s.hub.metrics.RecordMessageReceived(s.ctx, len(data), msg.Event)
		s.handle(msg)
	}
}

func (s *Socket) handle(msg WireMessage) {
	switch msg.Kind {
	case MessageKindEvent:
	case MessageKindAck, MessageKindNack:
		return
	default:
		s.nack(msg.Id, fmt.Sprintf("unsupported message kind: %s", msg.Kind))
		return
	}

	switch msg.Event {
	case "":
		s.nack(msg.Id, "event is required")
		return
	case transport.EventConnection, transport.EventDisconnect:
		s.nack(msg.Id, fmt.Sprintf("event %q is reserved", msg.Event))
		return
	}

	handlers := s.handlersFor(msg.Event)
	if len(handlers) == 0 {
		s.logger.Debug("No handler for event", zap.String("event", msg.Event))
		s.nack(msg.Id, fmt.Sprintf("unknown event: %s", msg.Event))
		return
	}

	s.logger.Debug("Received event",
		zap.String("event", msg.Event),
		zap.Any("id", msg.Id),
	)

	var ack transport.AckFunc
	if msg.Id != nil {
		ack = s.ackFunc(msg.Id)
	}
	for _, handler := range handlers {
		handler(s.ctx, msg.Data, ack)
	}
}

func (s *Socket) ackFunc(id any) transport.AckFunc {
	var once sync.Once
	return func(payload any) error {
		err := ErrAlreadyAcknowledged
		once.Do(func() {
			err = s.enqueue(s.ctx, WireMessage{Kind: MessageKindAck, Id: id, Data: payload})
		})
		return err
	}
}

// nack answers a request that carried an id. Requests without one are
// dropped silently.
func (s *Socket) nack(id any, reason string) {
	if id == nil {
		return
	}
	if err := s.enqueue(s.ctx, WireMessage{Kind: MessageKindNack, Id: id, Error: reason}); err != nil {
		s.logger.Debug("Failed to queue NACK", zap.Error(err))
	}
}

// cleanup stops the writer, closes the connection and runs the disconnect
// handlers. Safe to call more than once.
func (s *Socket) cleanup(reason string) {
	s.cleanupOnce.Do(func() {
		s.logger.Debug("Cleaning up WebSocket socket")

		close(s.done)
		s.cancel()
		<-s.writerDone

		if err := s.conn.Close(websocket.StatusNormalClosure, "Connection closed"); err != nil {
			s.logger.Debug("WebSocket close error (may be expected)", zap.Error(err))
		}

		for _, handler := range s.handlersFor(transport.EventDisconnect) {
			handler(context.WithoutCancel(s.ctx), reason, nil)
		}

		s.logger.Debug("WebSocket socket cleanup completed")
	})
}

// reject closes a socket refused by middleware. The error text becomes the
// close reason.
func (s *Socket) reject(err error) {
	s.cancel()
	reason := err.Error()
	if len(reason) > 120 {
		reason = reason[:120]
	}
	if cerr := s.conn.Close(websocket.StatusPolicyViolation, reason); cerr != nil {
		s.logger.Debug("WebSocket close error (may be expected)", zap.Error(cerr))
	}
}

// shutdownClose closes the connection during server shutdown. The reader
// then fails and the normal cleanup runs.
func (s *Socket) shutdownClose(code websocket.StatusCode, reason string) {
	s.setReason(ReasonServerShutdown)
	if err := s.conn.Close(code, reason); err != nil {
		s.logger.Debug("Error closing WebSocket during shutdown", zap.Error(err))
	}
}
