// Package gateway terminates WebSocket upgrades on /connect/{roomID} and
// binds each socket to a session in the owning room.
package gateway

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/inkhub/inkhub/internal/collab"
	"github.com/inkhub/inkhub/internal/config"
	"github.com/inkhub/inkhub/internal/log"
	"github.com/inkhub/inkhub/internal/room"
	"github.com/inkhub/inkhub/internal/store"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 4 << 20
)

// wsWriter serializes all writes to one socket. gorilla/websocket allows a
// single writer; frames, pings and close codes come from two goroutines.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) write(msgType int, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(msgType, data)
}

func (w *wsWriter) close(code int, reason string) {
	_ = w.write(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	_ = w.conn.Close()
}

// Gateway accepts WebSocket upgrades and pumps frames between the socket
// and the room engine.
type Gateway struct {
	engine   *room.Engine
	cfg      config.Config
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New builds a gateway over the given engine.
func New(engine *room.Engine, cfg config.Config) *Gateway {
	return &Gateway{
		engine: engine,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Rooms are public to any client that knows the id.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log.WithComponent("gateway"),
	}
}

// Routes mounts the WebSocket endpoint on r.
func (g *Gateway) Routes(r chi.Router) {
	r.Get("/connect/{roomID}", g.handleConnect)
	r.Get("/connect/", g.handleMissingRoom)
}

// handleMissingRoom upgrades and immediately closes with a policy-violation
// code so the client sees a proper WebSocket close instead of an HTTP error.
func (g *Gateway) handleMissingRoom(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	(&wsWriter{conn: conn}).close(websocket.ClosePolicyViolation, "missing room id")
}

func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		sessionID = "anon-" + uuid.NewString()
	}
	logger := g.logger.With().Str("room", roomID).Str("session", sessionID).Logger()

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Str("event", "gateway.upgrade_failed").Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameSize)
	ww := &wsWriter{conn: conn}

	rm, err := g.engine.Obtain(r.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidID) {
			ww.close(websocket.ClosePolicyViolation, "invalid room id")
		} else {
			logger.Error().Err(err).Str("event", "gateway.obtain_failed").Msg("failed to obtain room")
			ww.close(websocket.CloseInternalServerErr, "room unavailable")
		}
		return
	}

	sess, err := rm.Attach(sessionID)
	if err != nil {
		// The room closed between Obtain and Attach.
		logger.Warn().Err(err).Str("event", "gateway.attach_failed").Msg("failed to attach session")
		ww.close(websocket.CloseInternalServerErr, "room closed")
		return
	}

	logger.Info().Str("event", "gateway.connected").Msg("session connected")

	go g.writePump(ww, sess, logger)
	g.readPump(conn, ww, rm, sess, logger)
}

// readPump feeds inbound frames into the room until the socket dies or the
// session misbehaves. Pong handling is a soft liveness hint only; the socket
// is torn down by read errors, not by missed pongs.
func (g *Gateway) readPump(conn *websocket.Conn, ww *wsWriter, rm *room.Room, sess *room.Session, logger zerolog.Logger) {
	defer func() {
		rm.Detach(sess)
		_ = conn.Close()
	}()

	conn.SetPongHandler(func(string) error {
		logger.Trace().Str("event", "gateway.pong").Msg("pong received")
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeDetails(err)
			logger.Info().
				Str("event", "gateway.closed").
				Int("code", code).
				Str("reason", reason).
				Msg("socket closed")
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if err := rm.HandleMessage(sess, data); err != nil {
			switch {
			case errors.Is(err, collab.ErrMalformed):
				logger.Warn().Err(err).Str("event", "gateway.protocol_error").Msg("malformed message, closing session")
				ww.close(websocket.CloseProtocolError, "malformed message")
			case errors.Is(err, room.ErrRoomClosed):
				ww.close(websocket.CloseInternalServerErr, "room closed")
			default:
				logger.Error().Err(err).Str("event", "gateway.apply_failed").Msg("message apply failed")
				ww.close(websocket.CloseInternalServerErr, "internal error")
			}
			return
		}
	}
}

// writePump drains the session's outbound queue, sends keepalive pings and
// emits the final close frame when the session ends.
func (g *Gateway) writePump(ww *wsWriter, sess *room.Session, logger zerolog.Logger) {
	pingInterval := g.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-sess.Outbound():
			if err := ww.write(websocket.TextMessage, frame); err != nil {
				logger.Debug().Err(err).Str("event", "gateway.write_failed").Msg("write failed")
				_ = ww.conn.Close()
				return
			}
		case <-ticker.C:
			if err := ww.write(websocket.PingMessage, nil); err != nil {
				_ = ww.conn.Close()
				return
			}
		case <-sess.Done():
			// Flush anything the room queued before it released the session.
			for {
				select {
				case frame := <-sess.Outbound():
					if err := ww.write(websocket.TextMessage, frame); err != nil {
						_ = ww.conn.Close()
						return
					}
				default:
					ww.close(websocket.CloseNormalClosure, "session ended")
					return
				}
			}
		}
	}
}

func closeDetails(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
