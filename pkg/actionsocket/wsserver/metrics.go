package wsserver

import (
	"context"
	"time"

	"github.com/tsarna/actionsocket/pkg/actionsocket/o11y"
)

// WebSocketMetrics holds the instruments recorded by the WebSocket server.
// A nil *WebSocketMetrics records nothing.
type WebSocketMetrics struct {
	// Connection metrics
	activeConnections  o11y.Gauge     // current sockets, by namespace
	totalConnections   o11y.Counter   // sockets accepted, by namespace
	connectionDuration o11y.Histogram // socket lifetime
	connectionErrors   o11y.Counter   // upgrade failures and rejected handshakes

	// Message metrics
	messagesReceived o11y.Counter
	messagesSent     o11y.Counter
	messageErrors    o11y.Counter
	messagesDropped  o11y.Counter   // outbound queue full
	messageSize      o11y.Histogram // bytes, by direction

	// Health metrics
	pingsSent    o11y.Counter
	pongTimeouts o11y.Counter
}

// NewWebSocketMetrics creates the WebSocket instruments. Returns nil when
// provider is nil.
func NewWebSocketMetrics(provider o11y.MetricsProvider) *WebSocketMetrics {
	if provider == nil {
		return nil
	}

	return &WebSocketMetrics{
		activeConnections:  provider.Gauge("websocket_active_connections"),
		totalConnections:   provider.Counter("websocket_connections_total"),
		connectionDuration: provider.Histogram("websocket_connection_duration_seconds"),
		connectionErrors:   provider.Counter("websocket_connection_errors_total"),

		messagesReceived: provider.Counter("websocket_messages_received_total"),
		messagesSent:     provider.Counter("websocket_messages_sent_total"),
		messageErrors:    provider.Counter("websocket_message_errors_total"),
		messagesDropped:  provider.Counter("websocket_messages_dropped_total"),
		messageSize:      provider.Histogram("websocket_message_size_bytes"),

		pingsSent:    provider.Counter("websocket_pings_sent_total"),
		pongTimeouts: provider.Counter("websocket_pong_timeouts_total"),
	}
}

// RecordConnectionStart records an accepted socket.
func (m *WebSocketMetrics) RecordConnectionStart(ctx context.Context, namespace string) {
	if m == nil {
		return
	}
	m.totalConnections.Add(ctx, 1, o11y.Label{Key: "namespace", Value: namespace})
}

// RecordConnectionActive updates the socket count of a namespace.
func (m *WebSocketMetrics) RecordConnectionActive(ctx context.Context, namespace string, count int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(ctx, float64(count), o11y.Label{Key: "namespace", Value: namespace})
}

// RecordConnectionEnd records the lifetime of a closed socket.
func (m *WebSocketMetrics) RecordConnectionEnd(ctx context.Context, duration time.Duration) {
	if m == nil {
		return
	}
	m.connectionDuration.Record(ctx, duration.Seconds())
}

// RecordConnectionError records a failed or rejected handshake.
func (m *WebSocketMetrics) RecordConnectionError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.connectionErrors.Add(ctx, 1, o11y.Label{Key: "error_type", Value: errorType})
}

// RecordMessageReceived records an inbound frame.
func (m *WebSocketMetrics) RecordMessageReceived(ctx context.Context, sizeBytes int, event string) {
	if m == nil {
		return
	}
	m.messagesReceived.Add(ctx, 1, o11y.Label{Key: "event", Value: event})
	m.messageSize.Record(ctx, float64(sizeBytes), o11y.Label{Key: "direction", Value: "received"})
}

// RecordMessageSent records an outbound frame.
func (m *WebSocketMetrics) RecordMessageSent(ctx context.Context, sizeBytes int, messageKind string) {
	if m == nil {
		return
	}
	m.messagesSent.Add(ctx, 1, o11y.Label{Key: "kind", Value: messageKind})
	m.messageSize.Record(ctx, float64(sizeBytes), o11y.Label{Key: "direction", Value: "sent"})
}

// RecordMessageError records a frame that could not be read or written.
func (m *WebSocketMetrics) RecordMessageError(ctx context.Context, errorType string) {
	if m == nil {
		return
	}
	m.messageErrors.Add(ctx, 1, o11y.Label{Key: "error_type", Value: errorType})
}

// RecordMessageDropped records an outbound frame dropped on a full queue.
func (m *WebSocketMetrics) RecordMessageDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.messagesDropped.Add(ctx, 1)
}

// RecordPingSent records a ping frame.
func (m *WebSocketMetrics) RecordPingSent(ctx context.Context) {
	if m == nil {
		return
	}
	m.pingsSent.Add(ctx, 1)
}

// RecordPongTimeout records a client that did not answer a ping.
func (m *WebSocketMetrics) RecordPongTimeout(ctx context.Context) {
	if m == nil {
		return
	}
	m.pongTimeouts.Add(ctx, 1)
}

func messageKindLabel(kind string) string {
	switch kind {
	case MessageKindAck:
		return "ack"
	case MessageKindNack:
		return "nack"
	default:
		return "event"
	}
}
