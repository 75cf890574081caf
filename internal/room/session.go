package room

import "sync"

// outboundBuffer is the per-session broadcast queue depth. A session that
// cannot drain this many pending messages is dropped rather than allowed to
// stall the room.
const outboundBuffer = 256

// Session is one client's attachment to a room. The room enqueues outbound
// frames; the gateway's write pump drains them. Done is closed exactly once
// when the session is removed, by either side.
type Session struct {
	id   string
	room *Room

	send     chan []byte
	done     chan struct{}
	doneOnce sync.Once
}

func newSession(id string, r *Room) *Session {
	return &Session{
		id:   id,
		room: r,
		send: make(chan []byte, outboundBuffer),
		done: make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Room returns the owning room.
func (s *Session) Room() *Room { return s.room }

// Outbound is the stream of frames the gateway must write to the socket.
func (s *Session) Outbound() <-chan []byte { return s.send }

// Done is closed when the session has been removed from its room.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// enqueue appends a frame to the outbound queue without blocking. It reports
// false when the queue is full, which marks the session as too slow to keep.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}
