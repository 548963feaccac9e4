package wsclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// AuthorizationProvider returns the value of the Authorization header sent
// with the handshake, e.g. "Bearer token123".
type AuthorizationProvider func(ctx context.Context) (string, error)

// EventHandler receives events the server emits to the client.
type EventHandler func(ctx context.Context, event string, data any)

// ClientBuilder provides a fluent interface for building WebSocket clients.
type ClientBuilder struct {
	url              string
	logger           *zap.Logger
	dialTimeout      time.Duration
	onEvent          EventHandler
	writeChannelSize int
	authProvider     AuthorizationProvider
	headers          map[string][]string
}

// NewClient creates a new WebSocket client builder.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		dialTimeout:      30 * time.Second,
		logger:           zap.NewNop(),
		writeChannelSize: 100,
	}
}

// WithURL sets the WebSocket URL to connect to, including the namespace path
// and any handshake query, e.g. ws://localhost:8080/ws/chat?token=abc.
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

// WithLogger sets the logger for the client.
func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout sets the timeout for establishing the connection.
func (b *ClientBuilder) WithDialTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithEventHandler sets the function receiving server events.
func (b *ClientBuilder) WithEventHandler(handler EventHandler) *ClientBuilder {
	b.onEvent = handler
	return b
}

// WithWriteChannelSize sets the buffer size for the internal write channel.
// Default is 100.
func (b *ClientBuilder) WithWriteChannelSize(size int) *ClientBuilder {
	if size > 0 {
		b.writeChannelSize = size
	}
	return b
}

// WithAuthorization sets a static Authorization header value.
func (b *ClientBuilder) WithAuthorization(authHeader string) *ClientBuilder {
	b.authProvider = func(ctx context.Context) (string, error) {
		return authHeader, nil
	}
	return b
}

// WithAuthorizationProvider sets a function called on connect to obtain the
// Authorization header.
func (b *ClientBuilder) WithAuthorizationProvider(provider AuthorizationProvider) *ClientBuilder {
	b.authProvider = provider
	return b
}

// WithHeader sets a single HTTP header for the handshake.
func (b *ClientBuilder) WithHeader(key, value string) *ClientBuilder {
	if b.headers == nil {
		b.headers = make(map[string][]string)
	}
	b.headers[key] = []string{value}
	return b
}

// IsValid checks that all required configuration is present.
func (b *ClientBuilder) IsValid() error {
	if b.url == "" {
		return fmt.Errorf("URL is required")
	}
	return nil
}

// Build creates a new Client with the configured options.
func (b *ClientBuilder) Build() (*Client, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	onEvent := b.onEvent
	if onEvent == nil {
		onEvent = func(context.Context, string, any) {}
	}

	return &Client{
		url:              b.url,
		logger:           b.logger,
		dialTimeout:      b.dialTimeout,
		onEvent:          onEvent,
		writeChannelSize: b.writeChannelSize,
		authProvider:     b.authProvider,
		headers:          b.headers,
	}, nil
}
