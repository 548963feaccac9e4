package wsserver

import (
	"fmt"
	"strings"
	"time"

	"github.com/tsarna/actionsocket/pkg/actionsocket/o11y"
	"go.uber.org/zap"
)

// ServerConfig holds the configuration for creating a WebSocket Server.
// Use NewServerConfig() to create a new configuration and chain methods
// to set the required parameters before calling Build().
type ServerConfig struct {
	logger          *zap.Logger
	path            string
	queueSize       int
	pingInterval    time.Duration
	writeTimeout    time.Duration
	readLimit       int64
	allowedOrigins  []string
	metricsProvider o11y.MetricsProvider
}

const (
	// DefaultPath is where the server is mounted. Namespaces are the path
	// below it, e.g. /ws/chat is namespace /chat.
	DefaultPath = "/ws"

	// DefaultQueueSize is the default size of the per-socket outbound queue.
	DefaultQueueSize = 256

	// DefaultPingInterval is the default interval for sending WebSocket ping
	// frames. A failed ping closes the connection.
	DefaultPingInterval = 30 * time.Second

	// DefaultWriteTimeout is the default timeout for writing one frame.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultReadLimit is the default maximum size of an inbound frame.
	DefaultReadLimit = 32768
)

// NewServerConfig creates a new ServerConfig for building a Server.
//
// Example:
//
//	server, err := wsserver.NewServerConfig().
//	    WithLogger(logger).
//	    WithPath("/socket").
//	    WithQueueSize(512).
//	    WithPingInterval(45 * time.Second).
//	    WithAllowedOrigins("example.com").
//	    Build()
//	http.Handle("/socket/", server)
func NewServerConfig() *ServerConfig {
	return &ServerConfig{
		path:         DefaultPath,
		queueSize:    DefaultQueueSize,
		pingInterval: DefaultPingInterval,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    DefaultReadLimit,
	}
}

// WithLogger sets the Logger for the Server. Required.
func (c *ServerConfig) WithLogger(logger *zap.Logger) *ServerConfig {
	c.logger = logger
	return c
}

// WithPath sets the path the server is mounted at.
//
// Default: /ws
func (c *ServerConfig) WithPath(path string) *ServerConfig {
	if path != "" {
		c.path = "/" + strings.Trim(path, "/")
	}
	return c
}

// WithQueueSize sets how many outbound frames can be buffered per socket
// before Emit starts failing. Must be positive.
//
// Default: 256 frames per socket
func (c *ServerConfig) WithQueueSize(size int) *ServerConfig {
	if size > 0 {
		c.queueSize = size
	}
	return c
}

// WithPingInterval sets the interval for sending ping frames. Set to 0 to
// disable ping health monitoring.
//
// Default: 30 seconds
func (c *ServerConfig) WithPingInterval(interval time.Duration) *ServerConfig {
	if interval >= 0 {
		c.pingInterval = interval
	}
	return c
}

// WithWriteTimeout sets the timeout for writing one frame to a client.
//
// Default: 10 seconds
func (c *ServerConfig) WithWriteTimeout(timeout time.Duration) *ServerConfig {
	if timeout > 0 {
		c.writeTimeout = timeout
	}
	return c
}

// WithReadLimit sets the maximum size in bytes of an inbound frame.
//
// Default: 32KB
func (c *ServerConfig) WithReadLimit(limit int64) *ServerConfig {
	if limit > 0 {
		c.readLimit = limit
	}
	return c
}

// WithAllowedOrigins sets host patterns that cross-origin handshakes may
// come from. Same-origin requests are always accepted.
func (c *ServerConfig) WithAllowedOrigins(patterns ...string) *ServerConfig {
	c.allowedOrigins = append([]string(nil), patterns...)
	return c
}

// WithMetricsProvider enables WebSocket metrics.
func (c *ServerConfig) WithMetricsProvider(provider o11y.MetricsProvider) *ServerConfig {
	c.metricsProvider = provider
	return c
}

// IsValid checks if the configuration has all required parameters set.
func (c *ServerConfig) IsValid() error {
	var missing []string
	if c.logger == nil {
		missing = append(missing, "Logger")
	}

	if len(missing) > 0 {
		return fmt.Errorf("invalid server configuration, missing: %v", missing)
	}

	return nil
}

// Build creates a new Server from the configuration.
func (c *ServerConfig) Build() (*Server, error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}

	return newServer(c), nil
}
