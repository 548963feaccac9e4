// Package wsserver is a WebSocket transport for the dispatcher. Each
// accepted connection becomes a transport.Socket in the namespace named by
// the request path below the mount path.
package wsserver

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/amir-yaghoubi/mqttpattern"
	"github.com/coder/websocket"
	"github.com/tsarna/actionsocket/pkg/actionsocket/transport"
	"go.uber.org/zap"
)

// hub is the state shared by the root Server and its namespaces.
type hub struct {
	config  *ServerConfig
	logger  *zap.Logger
	metrics *WebSocketMetrics

	nsMutex    sync.RWMutex
	namespaces map[string]*namespace

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

type namespace struct {
	name string

	mu         sync.RWMutex
	handlers   []func(transport.Socket)
	middleware []transport.Middleware
	sockets    map[string]*Socket
}

// Server is the root WebSocket transport or one of its namespaces. It
// implements both http.Handler and transport.Server.
type Server struct {
	hub *hub
	ns  *namespace
}

var (
	_ transport.Server = (*Server)(nil)
	_ http.Handler     = (*Server)(nil)
)

func newServer(config *ServerConfig) *Server {
	h := &hub{
		config:     config,
		logger:     config.logger,
		metrics:    NewWebSocketMetrics(config.metricsProvider),
		namespaces: make(map[string]*namespace),
		shutdown:   make(chan struct{}),
	}
	return &Server{hub: h, ns: h.namespace(transport.DefaultNamespace, true)}
}

func normalizeNamespace(ns string) string {
	ns = strings.Trim(ns, "/")
	if ns == "" {
		return transport.DefaultNamespace
	}
	return "/" + ns
}

func (h *hub) namespace(name string, create bool) *namespace {
	name = normalizeNamespace(name)

	h.nsMutex.RLock()
	ns, ok := h.namespaces[name]
	h.nsMutex.RUnlock()
	if ok || !create {
		return ns
	}

	h.nsMutex.Lock()
	defer h.nsMutex.Unlock()
	if ns, ok = h.namespaces[name]; !ok {
		ns = &namespace{name: name, sockets: make(map[string]*Socket)}
		h.namespaces[name] = ns
	}
	return ns
}

func (h *hub) allSockets() []*Socket {
	h.nsMutex.RLock()
	defer h.nsMutex.RUnlock()

	var sockets []*Socket
	for _, ns := range h.namespaces {
		sockets = append(sockets, ns.snapshot()...)
	}
	return sockets
}

func (ns *namespace) snapshot() []*Socket {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	sockets := make([]*Socket, 0, len(ns.sockets))
	for _, s := range ns.sockets {
		sockets = append(sockets, s)
	}
	return sockets
}

func (ns *namespace) add(s *Socket) int {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.sockets[s.id] = s
	return len(ns.sockets)
}

func (ns *namespace) remove(s *Socket) int {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	delete(ns.sockets, s.id)
	return len(ns.sockets)
}

// Namespace returns the name of this namespace, "/" for the root.
func (s *Server) Namespace() string {
	return s.ns.name
}

// OnConnection registers a handler called for every socket accepted in this
// namespace, after middleware and before the first frame is read.
func (s *Server) OnConnection(handler func(transport.Socket)) {
	s.ns.mu.Lock()
	defer s.ns.mu.Unlock()
	s.ns.handlers = append(s.ns.handlers, handler)
}

// Of returns the given namespace, creating it if needed. Connections to
// namespaces never created are refused.
func (s *Server) Of(namespace string) transport.Server {
	return &Server{hub: s.hub, ns: s.hub.namespace(namespace, true)}
}

// Use adds connection middleware to this namespace.
func (s *Server) Use(middleware transport.Middleware) {
	s.ns.mu.Lock()
	defer s.ns.mu.Unlock()
	s.ns.middleware = append(s.ns.middleware, middleware)
}

// Emit sends an event to every socket of this namespace.
func (s *Server) Emit(ctx context.Context, event string, payload ...any) error {
	return broadcast(ctx, s.ns.snapshot(), event, payload, nil)
}

// In returns an emitter for the sockets of this namespace that are in a room
// matching pattern. Patterns use MQTT syntax: "game/+/players" or "game/#".
func (s *Server) In(pattern string) transport.Emitter {
	return roomEmitter{ns: s.ns, pattern: pattern}
}

// Path is where the server expects to be mounted.
func (s *Server) Path() string {
	return s.hub.config.path
}

// ConnectionCount returns the number of sockets in this namespace.
func (s *Server) ConnectionCount() int {
	s.ns.mu.RLock()
	defer s.ns.mu.RUnlock()
	return len(s.ns.sockets)
}

// Namespaces lists the namespaces that accept connections.
func (s *Server) Namespaces() []string {
	s.hub.nsMutex.RLock()
	defer s.hub.nsMutex.RUnlock()
	names := make([]string, 0, len(s.hub.namespaces))
	for name := range s.hub.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type roomEmitter struct {
	ns      *namespace
	pattern string
}

func (e roomEmitter) Emit(ctx context.Context, event string, payload ...any) error {
	return broadcast(ctx, e.ns.snapshot(), event, payload, func(s *Socket) bool {
		for _, room := range s.Rooms() {
			if mqttpattern.Matches(e.pattern, room) {
				return true
			}
		}
		return false
	})
}

func broadcast(ctx context.Context, sockets []*Socket, event string, payload []any, filter func(*Socket) bool) error {
	var errs []error
	for _, s := range sockets {
		if filter != nil && !filter(s) {
			continue
		}
		if err := s.Emit(ctx, event, payload...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ServeHTTP upgrades the request to a WebSocket connection and runs the
// socket until it closes. The namespace is the request path below the mount
// path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := s.hub
	ctx := r.Context()

	rel := strings.TrimPrefix(r.URL.Path, h.config.path)
	ns := h.namespace(rel, false)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.config.allowedOrigins,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket connection",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
		h.metrics.RecordConnectionError(ctx, "upgrade_failed")
		return
	}

	select {
	case <-h.shutdown:
		h.logger.Debug("Rejecting new connection due to shutdown")
		conn.Close(websocket.StatusServiceRestart, "Server shutting down")
		return
	default:
	}

	if ns == nil {
		h.logger.Debug("Rejecting connection to unknown namespace",
			zap.String("namespace", normalizeNamespace(rel)),
			zap.String("remote_addr", r.RemoteAddr),
		)
		h.metrics.RecordConnectionError(ctx, "unknown_namespace")
		conn.Close(websocket.StatusPolicyViolation, "Invalid namespace")
		return
	}

	socket := newSocket(r, conn, ns.name, h)

	ns.mu.RLock()
	middleware := append([]transport.Middleware(nil), ns.middleware...)
	handlers := append(([]func(transport.Socket))(nil), ns.handlers...)
	ns.mu.RUnlock()

	for _, mw := range middleware {
		if err := mw(socket.ctx, socket); err != nil {
			h.logger.Debug("Connection rejected by middleware",
				zap.String("namespace", ns.name),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			h.metrics.RecordConnectionError(ctx, "rejected")
			socket.reject(err)
			return
		}
	}

	count := ns.add(socket)
	start := time.Now()
	h.metrics.RecordConnectionStart(ctx, ns.name)
	h.metrics.RecordConnectionActive(ctx, ns.name, count)

	h.logger.Debug("WebSocket connection established",
		zap.String("socket_id", socket.id),
		zap.String("namespace", ns.name),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("active_connections", count),
	)

	socket.Start(handlers)

	count = ns.remove(socket)
	h.metrics.RecordConnectionActive(ctx, ns.name, count)
	h.metrics.RecordConnectionEnd(ctx, time.Since(start))

	h.logger.Debug("WebSocket connection removed from tracking",
		zap.String("socket_id", socket.id),
		zap.String("namespace", ns.name),
		zap.Int("active_connections", count),
	)
}

// Shutdown stops accepting connections, closes every socket with
// StatusGoingAway and waits for them to finish or for ctx to be done.
func (s *Server) Shutdown(ctx context.Context) error {
	h := s.hub
	h.shutdownOnce.Do(func() {
		h.logger.Info("Starting graceful WebSocket shutdown")
		close(h.shutdown)

		sockets := h.allSockets()
		if len(sockets) == 0 {
			h.logger.Info("No active connections to close")
			return
		}

		h.logger.Info("Closing active WebSocket connections",
			zap.Int("connection_count", len(sockets)),
		)
		for _, socket := range sockets {
			go socket.shutdownClose(websocket.StatusGoingAway, "Server shutting down")
		}
	})

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		remaining := len(h.allSockets())
		if remaining == 0 {
			h.logger.Info("All WebSocket connections closed successfully")
			return nil
		}

		select {
		case <-ctx.Done():
			h.logger.Warn("Shutdown timeout reached with active connections",
				zap.Int("remaining_connections", remaining),
			)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
