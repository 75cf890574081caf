// Package room implements the room engine: the registry of live rooms, the
// per-room session set, the debounced snapshot pipeline and the idle
// lifecycle.
package room

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/inkhub/inkhub/internal/collab"
	"github.com/inkhub/inkhub/internal/config"
	"github.com/inkhub/inkhub/internal/log"
	"github.com/inkhub/inkhub/internal/metrics"
	"github.com/inkhub/inkhub/internal/store"
)

// Engine owns all live rooms. The registry is its own concurrency domain;
// each room serializes its own mutable state.
type Engine struct {
	cfg    config.Config
	store  *store.Store
	logger zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewEngine builds an engine over the given snapshot store.
func NewEngine(cfg config.Config, st *store.Store) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  st,
		logger: log.WithComponent("engine"),
		rooms:  make(map[string]*Room),
	}
}

// Obtain returns the live room for id, creating it from the stored snapshot
// (or empty) on first touch. Concurrent calls for the same id yield exactly
// one room: the loser of the insert race adopts the winner's registration.
func (e *Engine) Obtain(ctx context.Context, id string) (*Room, error) {
	if err := store.ValidateID(id); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if r, ok := e.rooms[id]; ok && !r.IsClosed() {
		e.mu.Unlock()
		return r, nil
	}
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seed, err := e.store.ReadRoom(id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		// Unreadable snapshot means no prior state; the room starts empty.
		e.logger.Warn().Err(err).Str("room", id).
			Str("event", "engine.snapshot_unreadable").
			Msg("snapshot read failed, starting empty")
		seed = nil
	}
	doc, derr := collab.NewDocument(seed)
	if derr != nil {
		e.logger.Warn().Err(derr).Str("room", id).
			Str("event", "engine.snapshot_corrupt").
			Msg("snapshot undecodable, starting empty")
		doc, _ = collab.NewDocument(nil)
	}

	e.mu.Lock()
	if r, ok := e.rooms[id]; ok && !r.IsClosed() {
		e.mu.Unlock()
		return r, nil
	}
	r := newRoom(id, doc, e)
	e.rooms[id] = r
	total := len(e.rooms)
	e.mu.Unlock()

	metrics.SetActiveRooms(total)
	e.logger.Info().
		Str("event", "engine.room_created").
		Str("room", id).
		Bool("from_snapshot", len(seed) > 0).
		Msg("room created")
	return r, nil
}

// Lookup returns the live room for id without creating one.
func (e *Engine) Lookup(id string) (*Room, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rooms[id]
	return r, ok
}

// remove drops a closed room from the registry. Called by Room.Close.
func (e *Engine) remove(r *Room) {
	e.mu.Lock()
	if cur, ok := e.rooms[r.id]; ok && cur == r {
		delete(e.rooms, r.id)
	}
	total := len(e.rooms)
	e.mu.Unlock()
	metrics.SetActiveRooms(total)
}

// RoomCount returns the number of live rooms.
func (e *Engine) RoomCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rooms)
}

// ActiveSessions returns the total session count across all rooms.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	rooms := make([]*Room, 0, len(e.rooms))
	for _, r := range e.rooms {
		rooms = append(rooms, r)
	}
	e.mu.Unlock()

	total := 0
	for _, r := range rooms {
		total += r.Stats().ActiveSessions
	}
	return total
}

func (e *Engine) sessionCountChanged() {
	metrics.SetActiveSessions(e.ActiveSessions())
}

// CanEvict reports whether the sweeper may delete the snapshot file for id:
// the room is unknown, closed, or has no attached sessions.
func (e *Engine) CanEvict(id string) bool {
	e.mu.Lock()
	r, ok := e.rooms[id]
	e.mu.Unlock()
	if !ok {
		return true
	}
	if r.IsClosed() {
		return true
	}
	return r.Stats().ActiveSessions == 0
}

// EvictClosed drops a stale registry entry for id if that room is closed.
func (e *Engine) EvictClosed(id string) {
	e.mu.Lock()
	r, ok := e.rooms[id]
	e.mu.Unlock()
	if ok && r.IsClosed() {
		e.remove(r)
	}
}

// Shutdown closes every room with a terminal flush attempt, bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	rooms := make([]*Room, 0, len(e.rooms))
	for _, r := range e.rooms {
		rooms = append(rooms, r)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, r := range rooms {
			r.Close("shutdown")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn().
			Str("event", "engine.shutdown_deadline").
			Int("rooms", len(rooms)).
			Msg("shutdown deadline expired before all rooms closed")
	}
}
