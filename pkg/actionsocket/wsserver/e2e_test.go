package wsserver_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/actionsocket/pkg/actionsocket/action"
	"github.com/tsarna/actionsocket/pkg/actionsocket/dispatch"
	"github.com/tsarna/actionsocket/pkg/actionsocket/wsclient"
	"github.com/tsarna/actionsocket/pkg/actionsocket/wsserver"
	"go.uber.org/zap"
)

type chatMessage struct {
	Room string `json:"room" jsonschema:"required,minLength=1"`
	Text string `json:"text" jsonschema:"required,minLength=1"`
}

type received struct {
	event string
	data  any
}

func chatRegistry() *action.Registry {
	reg := action.NewRegistry()
	chat := reg.Controller("chat").Namespace("/chat")

	chat.OnConnect(func(ctx context.Context, args action.Args) (any, error) {
		return "hello " + args.String(0), nil
	}).Params(action.SocketID()).EmitOnSuccess("welcome")

	chat.OnMessage("say", func(ctx context.Context, args action.Args) (any, error) {
		msg, _ := action.Arg[*chatMessage](args, 0)
		return map[string]any{"room": msg.Room, "text": strings.ToUpper(msg.Text)}, nil
	}).Params(action.BodyAs[chatMessage]()).EmitOnFail("say/error")

	chat.OnMessage("ping", func(ctx context.Context, args action.Args) (any, error) {
		return nil, nil
	})

	return reg
}

func TestChatEndToEnd(t *testing.T) {
	provider, err := chatRegistry().Build()
	require.NoError(t, err)
	d, err := dispatch.NewConfig().WithProvider(provider).WithLogger(zap.NewNop()).Build()
	require.NoError(t, err)
	srv, err := wsserver.NewServerConfig().WithLogger(zap.NewNop()).Build()
	require.NoError(t, err)
	d.Attach(srv)

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
		assert.NoError(t, d.Wait(ctx))
		ts.Close()
	})

	events := make(chan received, 8)
	client, err := wsclient.NewClient().
		WithURL("ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat").
		WithEventHandler(func(ctx context.Context, event string, data any) {
			events <- received{event, data}
		}).
		Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, client.Connect(ctx))
	defer client.Disconnect()

	next := func(t *testing.T) received {
		t.Helper()
		select {
		case ev := <-events:
			return ev
		case <-ctx.Done():
			t.Fatal("no event received")
			return received{}
		}
	}

	welcome := next(t)
	assert.Equal(t, "welcome", welcome.event)
	assert.True(t, strings.HasPrefix(welcome.data.(string), "hello "))

	t.Run("ack carries result", func(t *testing.T) {
		reply, err := client.Call(ctx, "say", map[string]any{"room": "lobby", "text": "hi"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"room": "lobby", "text": "HI"}, reply)
	})

	t.Run("json text body is parsed", func(t *testing.T) {
		reply, err := client.Call(ctx, "say", `{"room":"lobby","text":"yo"}`)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"room": "lobby", "text": "YO"}, reply)
	})

	t.Run("validation failure is emitted", func(t *testing.T) {
		require.NoError(t, client.Emit(ctx, "say", map[string]any{"room": "lobby", "text": ""}))
		ev := next(t)
		assert.Equal(t, "say/error", ev.event)
		payload, ok := ev.data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "ValidationFailure", payload["name"])
		assert.NotEmpty(t, payload["errors"])
	})

	t.Run("default ack", func(t *testing.T) {
		reply, err := client.Call(ctx, "ping", nil)
		require.NoError(t, err)
		assert.Equal(t, dispatch.DefaultAck, reply)
	})

	t.Run("unknown event is refused", func(t *testing.T) {
		_, err := client.Call(ctx, "shout", "hi")
		var nack *wsclient.NackError
		require.ErrorAs(t, err, &nack)
		assert.Equal(t, "unknown event: shout", nack.Reason)
	})
}

func TestDisconnectActionsAcrossControllers(t *testing.T) {
	reasons := make(chan string, 4)
	record := func(name string) action.HandlerFunc {
		return func(ctx context.Context, args action.Args) (any, error) {
			reasons <- name
			return nil, nil
		}
	}

	reg := action.NewRegistry()
	reg.Controller("presence").OnDisconnect(record("presence"))
	reg.Controller("audit").OnDisconnect(record("audit"))
	provider, err := reg.Build()
	require.NoError(t, err)
	d, err := dispatch.NewConfig().WithProvider(provider).WithLogger(zap.NewNop()).Build()
	require.NoError(t, err)
	srv, err := wsserver.NewServerConfig().WithLogger(zap.NewNop()).Build()
	require.NoError(t, err)
	d.Attach(srv)

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
		assert.NoError(t, d.Wait(ctx))
		ts.Close()
	})

	client, err := wsclient.NewClient().
		WithURL("ws" + strings.TrimPrefix(ts.URL, "http") + "/ws").
		Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.Disconnect())

	var got []string
	for len(got) < 2 {
		select {
		case name := <-reasons:
			got = append(got, name)
		case <-ctx.Done():
			t.Fatalf("disconnect actions invoked: %v", got)
		}
	}
	assert.ElementsMatch(t, []string{"presence", "audit"}, got)
}
