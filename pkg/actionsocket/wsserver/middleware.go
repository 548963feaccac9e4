package wsserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/amir-yaghoubi/mqttpattern"
	"github.com/tsarna/actionsocket/pkg/actionsocket/transport"
)

// Predefined connection middleware. Register with Server.Use.

// DenyAll rejects every connection. Useful to close a namespace temporarily.
func DenyAll(ctx context.Context, socket transport.Socket) error {
	return fmt.Errorf("connections are not allowed")
}

// RequireQuery rejects handshakes that lack any of the given query keys.
func RequireQuery(keys ...string) transport.Middleware {
	return func(ctx context.Context, socket transport.Socket) error {
		q := socket.Query()
		for _, key := range keys {
			if q.Get(key) == "" {
				return fmt.Errorf("missing query parameter: %s", key)
			}
		}
		return nil
	}
}

// JoinRoomsFromQuery joins the socket to the comma separated rooms listed in
// query key. Every room must match the MQTT-style pattern, otherwise the
// connection is rejected.
//
// Pattern examples:
//   - "lobby" - only the lobby room
//   - "game/+" - game/1, game/chess, etc.
//   - "team/+team/#" - team/red, team/red/chat, etc.
func JoinRoomsFromQuery(key, pattern string) transport.Middleware {
	return func(ctx context.Context, socket transport.Socket) error {
		value := socket.Query().Get(key)
		if value == "" {
			return nil
		}

		var rooms []string
		for _, room := range strings.Split(value, ",") {
			room = strings.TrimSpace(room)
			if room == "" {
				continue
			}
			if !mqttpattern.Matches(pattern, room) {
				return fmt.Errorf("room not allowed: %s", room)
			}
			rooms = append(rooms, room)
		}

		for _, room := range rooms {
			socket.Join(room)
		}
		return nil
	}
}

// ChainMiddleware runs middleware in order and stops at the first error.
//
//	server.Use(ChainMiddleware(
//	    RequireQuery("token"),
//	    JoinRoomsFromQuery("rooms", "game/+"),
//	))
func ChainMiddleware(middleware ...transport.Middleware) transport.Middleware {
	return func(ctx context.Context, socket transport.Socket) error {
		for _, mw := range middleware {
			if err := mw(ctx, socket); err != nil {
				return err
			}
		}
		return nil
	}
}
