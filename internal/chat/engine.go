package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultHistoryLimit is the number of recent messages returned on join.
	DefaultHistoryLimit = 50
	// MaxPageSize caps history page sizes.
	MaxPageSize = 100
)

// Engine mediates every mutation to rooms, messages and presence on behalf of
// authenticated sessions.
type Engine struct {
	store        Store
	fanout       Fanout
	log          *zap.Logger
	now          func() time.Time
	newID        func() string
	historyLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides the id generator used for rooms and messages.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// WithHistoryLimit sets how many recent messages a join returns.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historyLimit = n
		}
	}
}

// NewEngine creates an Engine over store, delivering through fanout.
func NewEngine(store Store, fanout Fanout, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		fanout:       fanout,
		log:          zap.NewNop(),
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// storeErr passes domain errors through and wraps everything else as a
// persistence failure after logging it.
func (e *Engine) storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		e.log.Warn("store operation interrupted", zap.String("op", op), zap.Error(err))
	} else {
		e.log.Error("store operation failed", zap.String("op", op), zap.Error(err))
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// Connect records the session's identity as online and tells every other
// live connection.
func (e *Engine) Connect(ctx context.Context, s *Session) error {
	id := s.Identity()
	if err := e.store.SaveUser(ctx, id); err != nil {
		return e.storeErr("save user", err)
	}
	if err := e.store.SetPresence(ctx, id.ID, true, e.now()); err != nil {
		return e.storeErr("set online", err)
	}
	e.fanout.Publish(ToEveryone().Excluding(s.ID()), Event{
		Name: EventUserOnline,
		Data: PresenceEvent{UserID: id.ID},
	})
	e.log.Info("user online", zap.String("user_id", id.ID), zap.String("session_id", s.ID()))
	return nil
}

// Disconnect records the session's identity as offline and tells every other
// live connection. The offline event is broadcast even when the store write
// fails so that live clients never keep a stale online marker.
func (e *Engine) Disconnect(ctx context.Context, s *Session) error {
	id := s.Identity()
	err := e.store.SetPresence(ctx, id.ID, false, e.now())
	e.fanout.Publish(ToEveryone().Excluding(s.ID()), Event{
		Name: EventUserOffline,
		Data: PresenceEvent{UserID: id.ID},
	})
	e.log.Info("user offline", zap.String("user_id", id.ID), zap.String("session_id", s.ID()))
	return e.storeErr("set offline", err)
}

// Typing relays a typing or stop-typing signal to the other subscribers of
// roomID. Nothing is stored.
func (e *Engine) Typing(_ context.Context, s *Session, roomID string, active bool) error {
	if roomID == "" {
		return ErrRoomIDRequired
	}
	name := EventUserStopTyping
	if active {
		name = EventUserTyping
	}
	id := s.Identity()
	e.fanout.Publish(ToRoom(roomID).Excluding(s.ID()), Event{
		Name: name,
		Data: TypingEvent{UserID: id.ID, Username: id.DisplayName, RoomID: roomID},
	})
	return nil
}
