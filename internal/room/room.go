package room

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkhub/inkhub/internal/collab"
	"github.com/inkhub/inkhub/internal/metrics"
)

// ErrRoomClosed is returned when a session tries to attach to, or push into,
// a room that has already transitioned to its terminal state.
var ErrRoomClosed = errors.New("room: closed")

// Room owns the live document for one room id: its sessions, dirty flag and
// the flush, idle and maintenance timers. All mutable fields are guarded by
// mu; the room is the single writer of its snapshot file.
type Room struct {
	id     string
	engine *Engine
	logger zerolog.Logger

	mu           sync.Mutex
	doc          *collab.Document
	sessions     map[string]*Session
	dirty        bool
	flushing     bool
	changeSeq    uint64
	lastActivity time.Time
	closed       bool

	flushTimer *time.Timer    // at most one pending debounced flush
	idleTimer  *time.Timer    // at most one pending idle close
	inflight   sync.WaitGroup // tracks the snapshot write in flight

	maint     *time.Ticker
	maintDone chan struct{}
}

func newRoom(id string, doc *collab.Document, e *Engine) *Room {
	r := &Room{
		id:           id,
		engine:       e,
		logger:       e.logger.With().Str("room", id).Logger(),
		doc:          doc,
		sessions:     make(map[string]*Session),
		lastActivity: time.Now(),
		maint:        time.NewTicker(e.cfg.MaintTick),
		maintDone:    make(chan struct{}),
	}
	go r.maintLoop()
	return r
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// IsClosed reports whether the room has reached its terminal state.
func (r *Room) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Stats describes a room for the observability endpoints.
type Stats struct {
	ActiveSessions int
	LastActivity   time.Time
	Dirty          bool
}

// Stats returns a read-only view of the room.
func (r *Room) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		ActiveSessions: len(r.sessions),
		LastActivity:   r.lastActivity,
		Dirty:          r.dirty,
	}
}

// Attach installs a new session, cancels any pending idle close and queues
// the full-state init message. It fails with ErrRoomClosed if the room
// closed between Obtain and Attach.
func (r *Room) Attach(sessionID string) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRoomClosed
	}
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
	// A reconnect may reuse its session id before the old socket is fully
	// torn down; the newer attachment wins.
	if old, ok := r.sessions[sessionID]; ok {
		delete(r.sessions, sessionID)
		old.markDone()
	}
	s := newSession(sessionID, r)
	r.sessions[sessionID] = s
	r.lastActivity = time.Now()

	init, err := collab.Encode(r.doc.InitMessage())
	if err != nil {
		delete(r.sessions, sessionID)
		r.mu.Unlock()
		return nil, err
	}
	s.enqueue(init)
	active := len(r.sessions)
	r.mu.Unlock()

	metrics.SessionAccepted()
	r.engine.sessionCountChanged()
	r.logger.Info().
		Str("event", "session.attached").
		Str("session", sessionID).
		Int("active", active).
		Msg("session attached")
	return s, nil
}

// Detach removes a session. When the last session departs the idle grace
// timer is armed; only its expiry closes the room.
func (r *Room) Detach(s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.id]; !ok || cur != s {
		r.mu.Unlock()
		s.markDone()
		return
	}
	delete(r.sessions, s.id)
	remaining := len(r.sessions)
	if remaining == 0 && !r.closed {
		r.armIdleLocked()
	}
	r.mu.Unlock()

	s.markDone()
	r.engine.sessionCountChanged()
	r.logger.Info().
		Str("event", "session.detached").
		Str("session", s.id).
		Int("remaining", remaining).
		Msg("session detached")
}

func (r *Room) armIdleLocked() {
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	r.idleTimer = time.AfterFunc(r.engine.cfg.IdleGrace, r.idleExpired)
}

func (r *Room) idleExpired() {
	r.mu.Lock()
	if r.closed || len(r.sessions) > 0 {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.Close("idle")
}

// HandleMessage applies one inbound frame from a session and rebroadcasts
// the resulting patch to the other sessions. A malformed frame returns
// collab.ErrMalformed; the caller closes only that session.
func (r *Room) HandleMessage(from *Session, data []byte) error {
	msg, err := collab.Decode(data)
	if err != nil {
		metrics.MessageRejected()
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	patch, changed, err := r.doc.Apply(msg)
	if err != nil {
		r.mu.Unlock()
		metrics.MessageRejected()
		return err
	}
	r.lastActivity = time.Now()
	if !changed {
		r.mu.Unlock()
		metrics.MessageNoop()
		return nil
	}
	r.markDirtyLocked()

	frame, err := collab.Encode(patch)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	// Enqueue under the lock so every receiver observes patches in commit
	// order. Sessions that cannot keep up are dropped.
	var slow []*Session
	for _, s := range r.sessions {
		if s == from {
			continue
		}
		if !s.enqueue(frame) {
			slow = append(slow, s)
		}
	}
	for _, s := range slow {
		delete(r.sessions, s.id)
	}
	if len(r.sessions) == 0 && !r.closed {
		r.armIdleLocked()
	}
	r.mu.Unlock()

	for _, s := range slow {
		s.markDone()
		r.logger.Warn().
			Str("event", "session.dropped_slow").
			Str("session", s.id).
			Msg("outbound queue full, dropping session")
	}
	if len(slow) > 0 {
		r.engine.sessionCountChanged()
	}
	metrics.MessageApplied()
	return nil
}

// markDirtyLocked flips the dirty flag and (re)arms the debounced flush so
// that it fires FlushDebounce after the most recent change.
func (r *Room) markDirtyLocked() {
	r.dirty = true
	r.changeSeq++
	if r.flushTimer == nil {
		r.flushTimer = time.AfterFunc(r.engine.cfg.FlushDebounce, r.flush)
	} else {
		r.flushTimer.Reset(r.engine.cfg.FlushDebounce)
	}
}

// flush writes the current snapshot through the store. dirty is cleared only
// if no further change landed while the write was in flight; a failed write
// leaves dirty set for the next change or maintenance tick to retry.
func (r *Room) flush() {
	r.mu.Lock()
	if r.flushing || !r.dirty || r.closed {
		r.mu.Unlock()
		return
	}
	r.flushing = true
	r.inflight.Add(1)
	seq := r.changeSeq
	data, err := r.doc.Snapshot()
	r.mu.Unlock()

	if err != nil {
		r.mu.Lock()
		r.flushing = false
		r.mu.Unlock()
		r.inflight.Done()
		metrics.FlushFailed()
		r.logger.Error().Err(err).Str("event", "room.snapshot_failed").Msg("snapshot serialization failed")
		return
	}

	werr := r.engine.store.WriteRoom(r.id, data)

	r.mu.Lock()
	r.flushing = false
	if werr == nil && r.changeSeq == seq {
		r.dirty = false
	}
	r.mu.Unlock()
	r.inflight.Done()

	if werr != nil {
		metrics.FlushFailed()
		r.logger.Error().Err(werr).Str("event", "room.flush_failed").Msg("snapshot write failed, will retry")
		return
	}
	metrics.FlushSucceeded()
	r.logger.Debug().
		Str("event", "room.flushed").
		Int("bytes", len(data)).
		Msg("snapshot written")
}

// maintLoop is the per-room backup ticker: it flushes lingering dirty state
// that the debounced path failed to persist.
func (r *Room) maintLoop() {
	for {
		select {
		case <-r.maint.C:
			r.mu.Lock()
			closed, dirty := r.closed, r.dirty
			r.mu.Unlock()
			if closed {
				return
			}
			if dirty {
				r.flush()
			}
		case <-r.maintDone:
			return
		}
	}
}

// Close renders the room terminal: no new session may attach, all sessions
// are released, timers are cancelled and a final flush is attempted if the
// room is dirty. Close deregisters the room from the engine.
func (r *Room) Close(reason string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.flushTimer != nil {
		r.flushTimer.Stop()
		r.flushTimer = nil
	}
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	r.maint.Stop()
	close(r.maintDone)

	for _, s := range sessions {
		s.markDone()
	}

	// The snapshot file has one writer at a time: an in-flight debounced
	// write must land before the terminal one. closed is already set, so no
	// new flush can start behind the wait.
	r.inflight.Wait()

	r.mu.Lock()
	dirty := r.dirty
	var data []byte
	var snapErr error
	if dirty {
		data, snapErr = r.doc.Snapshot()
	}
	r.mu.Unlock()

	// Terminal flush is best-effort.
	if dirty {
		if snapErr != nil {
			r.logger.Error().Err(snapErr).Str("event", "room.final_snapshot_failed").Msg("final snapshot serialization failed")
		} else if err := r.engine.store.WriteRoom(r.id, data); err != nil {
			metrics.FlushFailed()
			r.logger.Error().Err(err).Str("event", "room.final_flush_failed").Msg("final snapshot write failed")
		} else {
			metrics.FlushSucceeded()
			r.mu.Lock()
			r.dirty = false
			r.mu.Unlock()
		}
	}

	r.engine.remove(r)
	if len(sessions) > 0 {
		r.engine.sessionCountChanged()
	}
	metrics.RoomClosed(reason)
	r.logger.Info().
		Str("event", "room.closed").
		Str("reason", reason).
		Msg("room closed")
}
