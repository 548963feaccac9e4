// Package chat is a small room based chat service built on action
// controllers. It is what `actionsocket server` runs.
package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tsarna/actionsocket/pkg/actionsocket/action"
	"github.com/tsarna/actionsocket/pkg/actionsocket/coerce"
	"github.com/tsarna/actionsocket/pkg/actionsocket/failure"
	"go.uber.org/zap"
)

// Namespace the chat controller is mounted on.
const Namespace = "/chat"

const (
	DefaultHistorySize = 50
	DefaultRoomLimit   = 100
)

// JoinRequest asks to join a room.
type JoinRequest struct {
	Room string `json:"room" jsonschema:"required,minLength=1,maxLength=64,pattern=^[a-z0-9][a-z0-9/_-]*$"`
}

// Message is posted by a client to a room it joined.
type Message struct {
	Room string `json:"room" jsonschema:"required,minLength=1,maxLength=64"`
	Text string `json:"text" jsonschema:"required,minLength=1,maxLength=1000"`
}

// Posted is a message as stored and broadcast.
type Posted struct {
	ID   string    `json:"id"`
	Room string    `json:"room"`
	From string    `json:"from"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Joined answers a successful join.
type Joined struct {
	Room    string   `json:"room"`
	Members int      `json:"members"`
	History []Posted `json:"history"`
}

// RoomFullError is returned when a room reached its member limit.
type RoomFullError struct {
	Room  string `json:"room"`
	Limit int    `json:"limit"`
}

func (e *RoomFullError) Error() string {
	return fmt.Sprintf("room %s is full (%d members)", e.Room, e.Limit)
}

// NotMemberError is returned when posting to a room the socket did not join.
type NotMemberError struct {
	Room string `json:"room"`
}

func (e *NotMemberError) Error() string {
	return fmt.Sprintf("not a member of %s", e.Room)
}

type room struct {
	members map[string]string // socket id -> nickname
	history []Posted
}

// Service keeps rooms, members and recent history in memory.
type Service struct {
	logger      *zap.Logger
	historySize int
	roomLimit   int
	now         func() time.Time

	mu    sync.Mutex
	rooms map[string]*room
	names map[string]string // socket id -> nickname
}

func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		logger:      logger,
		historySize: DefaultHistorySize,
		roomLimit:   DefaultRoomLimit,
		now:         time.Now,
		rooms:       make(map[string]*room),
		names:       make(map[string]string),
	}
}

// WithLimits sets the history kept per room and the members allowed per
// room. Non-positive values keep the defaults.
func (s *Service) WithLimits(historySize, roomLimit int) *Service {
	if historySize > 0 {
		s.historySize = historySize
	}
	if roomLimit > 0 {
		s.roomLimit = roomLimit
	}
	return s
}

// Register declares the chat controller on reg.
//
//	connect      -> "welcome" {id, name}
//	join {room}  -> "joined" {room, members, history} | "join/full" | "join/error"
//	say {room, text} -> broadcast "message" to the room, ack with the stored message
//	history "room" -> ack with the recent messages
//	leave {room} -> ack "received"
func (s *Service) Register(reg *action.Registry) {
	ctrl := reg.Controller("chat").Namespace(Namespace)

	ctrl.OnConnect(s.welcome).
		Params(action.SocketID(), action.SocketQueryParam("name")).
		EmitOnSuccess("welcome")

	ctrl.OnMessage("join", s.join).
		Params(action.ConnectedSocket(), action.BodyAs[JoinRequest]()).
		EmitOnSuccess("joined").
		EmitOnFailFor(action.MatchType[*RoomFullError](), "join/full").
		EmitOnFail("join/error")

	ctrl.OnMessage("say", s.say).
		Params(action.ConnectedSocket(), action.SocketServer(), action.BodyAs[Message]()).
		EmitOnFailFor(action.MatchAny(action.MatchKind(failure.KindValidation), action.MatchType[*NotMemberError]()), "say/error")

	ctrl.OnMessage("history", s.recent).
		Params(action.MessageBody().As(coerce.TypeString))

	ctrl.OnMessage("leave", s.leave).
		Params(action.ConnectedSocket(), action.MessageBody().Path("room").As(coerce.TypeString))

	ctrl.OnDisconnect(s.disconnected).
		Params(action.SocketID(), action.MessageBody())
}

func (s *Service) welcome(ctx context.Context, args action.Args) (any, error) {
	id, name := args.String(0), args.String(1)
	if name == "" {
		name = "guest-" + id[:min(8, len(id))]
	}

	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()

	return map[string]string{"id": id, "name": name}, nil
}

func (s *Service) join(ctx context.Context, args action.Args) (any, error) {
	socket := args.Socket(0)
	req, _ := action.Arg[*JoinRequest](args, 1)

	s.mu.Lock()
	r := s.room(req.Room)
	if _, member := r.members[socket.ID()]; !member && len(r.members) >= s.roomLimit {
		s.mu.Unlock()
		return nil, &RoomFullError{Room: req.Room, Limit: s.roomLimit}
	}
	r.members[socket.ID()] = s.names[socket.ID()]
	joined := &Joined{Room: req.Room, Members: len(r.members), History: append([]Posted(nil), r.history...)}
	s.mu.Unlock()

	socket.Join(req.Room)
	s.logger.Debug("Joined room", zap.String("socket_id", socket.ID()), zap.String("room", req.Room))
	return joined, nil
}

func (s *Service) say(ctx context.Context, args action.Args) (any, error) {
	socket := args.Socket(0)
	server := args.Server(1)
	msg, _ := action.Arg[*Message](args, 2)

	s.mu.Lock()
	r, ok := s.rooms[msg.Room]
	if !ok {
		s.mu.Unlock()
		return nil, &NotMemberError{Room: msg.Room}
	}
	from, member := r.members[socket.ID()]
	if !member {
		s.mu.Unlock()
		return nil, &NotMemberError{Room: msg.Room}
	}
	posted := Posted{ID: uuid.NewString(), Room: msg.Room, From: from, Text: msg.Text, At: s.now().UTC()}
	r.history = append(r.history, posted)
	if len(r.history) > s.historySize {
		r.history = r.history[len(r.history)-s.historySize:]
	}
	s.mu.Unlock()

	if err := server.Of(Namespace).In(msg.Room).Emit(ctx, "message", posted); err != nil {
		s.logger.Warn("Failed to broadcast message", zap.String("room", msg.Room), zap.Error(err))
	}
	return posted, nil
}

func (s *Service) recent(ctx context.Context, args action.Args) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[args.String(0)]
	if !ok {
		return []Posted{}, nil
	}
	return append([]Posted(nil), r.history...), nil
}

func (s *Service) leave(ctx context.Context, args action.Args) (any, error) {
	socket, name := args.Socket(0), args.String(1)

	s.mu.Lock()
	if r, ok := s.rooms[name]; ok {
		delete(r.members, socket.ID())
		s.prune(name)
	}
	s.mu.Unlock()

	socket.Leave(name)
	return nil, nil
}

func (s *Service) disconnected(ctx context.Context, args action.Args) (any, error) {
	id := args.String(0)

	s.mu.Lock()
	delete(s.names, id)
	for name, r := range s.rooms {
		delete(r.members, id)
		s.prune(name)
	}
	s.mu.Unlock()

	s.logger.Debug("Chat member left", zap.String("socket_id", id), zap.Any("reason", args.Get(1)))
	return nil, nil
}

// Rooms returns the number of members per room.
func (s *Service) Rooms() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make(map[string]int, len(s.rooms))
	for name, r := range s.rooms {
		rooms[name] = len(r.members)
	}
	return rooms
}

// room returns the named room, creating it. Callers hold mu.
func (s *Service) room(name string) *room {
	r, ok := s.rooms[name]
	if !ok {
		r = &room{members: make(map[string]string)}
		s.rooms[name] = r
	}
	return r
}

// prune drops an empty room and its history. Callers hold mu.
func (s *Service) prune(name string) {
	if r := s.rooms[name]; r != nil && len(r.members) == 0 {
		delete(s.rooms, name)
	}
}
