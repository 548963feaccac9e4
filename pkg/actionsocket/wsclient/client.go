// Package wsclient is a WebSocket client for actionsocket servers. It emits
// events, optionally waits for their acknowledgment, and delivers the events
// the server emits back.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/tsarna/actionsocket/pkg/actionsocket/wsserver"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when sending on a client that is not connected.
var ErrNotConnected = errors.New("client is not connected")

// NackError is returned by Call when the server refused the event.
type NackError struct {
	Event  string
	Reason string
}

func (e *NackError) Error() string {
	return fmt.Sprintf("server rejected %q: %s", e.Event, e.Reason)
}

// Client is a connection to one namespace of an actionsocket server.
type Client struct {
	// Configuration
	url              string
	logger           *zap.Logger
	dialTimeout      time.Duration
	onEvent          EventHandler
	writeChannelSize int
	authProvider     AuthorizationProvider
	headers          map[string][]string

	// Connection state
	conn     *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.RWMutex
	started  int32
	stopping int32

	// Requests waiting for an ack or nack, by id
	messageID   int64
	pendingReqs map[int64]chan response
	pendingMu   sync.Mutex

	writeChannel chan []byte
	done         chan struct{}
	writerDone   chan struct{}
}

type response struct {
	ack   bool
	data  any
	error string
}

// Connect dials the server and starts the read and write loops.
func (c *Client) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return fmt.Errorf("client is already started")
	}

	if _, err := url.Parse(c.url); err != nil {
		atomic.StoreInt32(&c.started, 0)
		return fmt.Errorf("invalid URL: %w", err)
	}

	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.done = make(chan struct{})
	c.writerDone = make(chan struct{})
	c.writeChannel = make(chan []byte, c.writeChannelSize)

	c.pendingMu.Lock()
	c.pendingReqs = make(map[int64]chan response)
	c.pendingMu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(ctx, c.dialTimeout)
	defer dialCancel()

	dialOptions := &websocket.DialOptions{}
	if c.headers != nil {
		dialOptions.HTTPHeader = make(map[string][]string)
		for key, values := range c.headers {
			dialOptions.HTTPHeader[key] = values
		}
	}

	// May override a custom Authorization header.
	if c.authProvider != nil {
		authValue, err := c.authProvider(dialCtx)
		if err != nil {
			c.cancel()
			atomic.StoreInt32(&c.started, 0)
			return fmt.Errorf("failed to get authorization: %w", err)
		}
		if authValue != "" {
			if dialOptions.HTTPHeader == nil {
				dialOptions.HTTPHeader = make(map[string][]string)
			}
			dialOptions.HTTPHeader["Authorization"] = []string{authValue}
		}
	}

	conn, _, err := websocket.Dial(dialCtx, c.url, dialOptions)
	if err != nil {
		c.cancel()
		atomic.StoreInt32(&c.started, 0)
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("WebSocket client connected", zap.String("url", c.url))

	go c.readLoop(conn)
	go c.writeLoop(conn)

	return nil
}

// Done is closed when the connection has ended, whether by Disconnect or
// because the server closed it.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Disconnect closes the connection and waits for the loops to stop.
func (c *Client) Disconnect() error {
	if !atomic.CompareAndSwapInt32(&c.stopping, 0, 1) {
		return nil
	}
	if atomic.LoadInt32(&c.started) == 0 {
		atomic.StoreInt32(&c.stopping, 0)
		return nil
	}

	c.logger.Info("Disconnecting WebSocket client")
	c.cleanup(websocket.StatusNormalClosure, "client disconnect")
	c.logger.Info("WebSocket client disconnected")
	return nil
}

func (c *Client) cleanup(status websocket.StatusCode, reason string) {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close(status, reason)
		c.conn = nil
	}
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	<-c.done
	<-c.writerDone

	atomic.StoreInt32(&c.started, 0)
	atomic.StoreInt32(&c.stopping, 0)
}

// connectionLost releases the client after the server closed the connection.
func (c *Client) connectionLost(err error) {
	if atomic.CompareAndSwapInt32(&c.stopping, 0, 1) {
		// readLoop must return before cleanup can finish
		go c.cleanup(websocket.StatusInternalError, "connection error")
	}
}

// Emit sends an event without asking for an acknowledgment.
func (c *Client) Emit(ctx context.Context, event string, data any) error {
	if atomic.LoadInt32(&c.started) == 0 {
		return ErrNotConnected
	}

	payload, err := json.Marshal(wsserver.WireMessage{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	select {
	case c.writeChannel <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrNotConnected
	default:
		return fmt.Errorf("write channel is full")
	}
}

// Call sends an event with a request id and waits for the server to answer.
// It returns the acknowledgment payload, or a *NackError when the server
// refused the event.
func (c *Client) Call(ctx context.Context, event string, data any) (any, error) {
	if atomic.LoadInt32(&c.started) == 0 {
		return nil, ErrNotConnected
	}

	msgID := atomic.AddInt64(&c.messageID, 1)
	payload, err := json.Marshal(wsserver.WireMessage{Event: event, Data: data, Id: msgID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	respChan := make(chan response, 1)
	c.pendingMu.Lock()
	c.pendingReqs[msgID] = respChan
	c.pendingMu.Unlock()
	defer c.takePending(msgID)

	select {
	case c.writeChannel <- payload:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrNotConnected
	}

	select {
	case resp := <-respChan:
		if !resp.ack {
			return nil, &NackError{Event: event, Reason: resp.error}
		}
		return resp.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrNotConnected
	}
}

func (c *Client) takePending(msgID int64) (chan response, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	respChan, exists := c.pendingReqs[msgID]
	if exists {
		delete(c.pendingReqs, msgID)
	}
	return respChan, exists
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.done)

	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug("WebSocket connection ended", zap.Error(err))
				c.connectionLost(err)
			}
			return
		}

		c.handleMessage(data)
	}
}

func (c *Client) writeLoop(conn *websocket.Conn) {
	defer close(c.writerDone)

	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.writeChannel:
			if err := conn.Write(c.ctx, websocket.MessageText, data); err != nil {
				if c.ctx.Err() == nil {
					c.logger.Error("Failed to write to WebSocket", zap.Error(err))
					c.connectionLost(err)
				}
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg wsserver.WireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("Failed to unmarshal WebSocket message", zap.Error(err))
		return
	}

	switch msg.Kind {
	case wsserver.MessageKindAck, wsserver.MessageKindNack:
		c.handleResponse(msg)
	case wsserver.MessageKindEvent:
		if msg.Event != "" {
			c.onEvent(c.ctx, msg.Event, msg.Data)
		}
	default:
		c.logger.Warn("Unknown message kind", zap.String("kind", msg.Kind))
	}
}

func (c *Client) handleResponse(msg wsserver.WireMessage) {
	// JSON numbers decode as float64
	msgID, ok := msg.Id.(float64)
	if !ok {
		return
	}

	respChan, exists := c.takePending(int64(msgID))
	if !exists {
		return
	}

	select {
	case respChan <- response{ack: msg.Kind == wsserver.MessageKindAck, data: msg.Data, error: msg.Error}:
	default:
	}
}
