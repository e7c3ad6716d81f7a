package transport

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	// Browser clients are served from other origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// DeletedEvent is pushed once the watched session has been torn down.
type DeletedEvent struct {
	Deleted bool `json:"deleted"`
}

// handleSessionEvents streams the session document on every change. Only the latest
// version matters, so a slow client skips intermediate versions.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Subscribe before the snapshot so no change falls between the two.
	// Nil marks deletion.
	latest := make(chan *session.Session, 1)
	unsubscribe := s.sessions.Subscribe(id, func(sess *session.Session) {
		select {
		case latest <- sess:
		default:
			select {
			case <-latest:
			default:
			}
			latest <- sess
		}
	})
	defer unsubscribe()

	current, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	closed := drain(conn)
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	s.logger.Debug("session watcher connected", "session_id", id)
	if err := writeJSONFrame(conn, current); err != nil {
		return
	}
	sent := current.Version
	for {
		select {
		case <-closed:
			return
		case sess := <-latest:
			if sess == nil {
				_ = writeJSONFrame(conn, DeletedEvent{Deleted: true})
				closeNormal(conn)
				return
			}
			if sess.Version <= sent {
				continue
			}
			if err := writeJSONFrame(conn, sess); err != nil {
				return
			}
			sent = sess.Version
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// drain reads and discards client frames until the connection closes.
func drain(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return closed
}

func writeJSONFrame(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeStatus(w, http.StatusNotFound, errorBody{Error: "session not found"})
	case errors.Is(err, session.ErrInvalidInput):
		writeStatus(w, http.StatusBadRequest, errorBody{Error: "session id is required"})
	default:
		writeStatus(w, http.StatusInternalServerError, errorBody{Error: "failed to load session"})
	}
}
