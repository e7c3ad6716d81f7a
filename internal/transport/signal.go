package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signaling"
)

// handleSignal bridges one participant to the session's signaling relay. Outbound
// frames carry relay messages addressed to the participant; inbound frames are sent
// as that participant whatever their from field says.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	participantID := r.URL.Query().Get("participant")
	if participantID == "" {
		writeStatus(w, http.StatusBadRequest, errorBody{Error: "participant is required"})
		return
	}
	if _, err := s.sessions.Get(r.Context(), id); err != nil {
		writeLookupError(w, err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribed before the upgrade completes, so the client misses nothing sent
	// after its dial returns.
	out := make(chan signaling.Message, 64)
	unsubscribe, err := s.signals.Subscribe(ctx, id, participantID, func(msg signaling.Message) {
		select {
		case out <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		s.logger.Warn("signal subscription failed", "session_id", id, "participant_id", participantID, "error", err)
		writeStatus(w, http.StatusServiceUnavailable, errorBody{Error: "signaling unavailable"})
		return
	}
	defer func() {
		cancel()
		unsubscribe()
	}()

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			var msg signaling.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			msg.SessionID = id
			msg.From = participantID
			if _, err := s.signals.Publish(ctx, msg); err != nil {
				s.logger.Warn("dropping signal", "session_id", id, "participant_id", participantID, "type", msg.Type, "error", err)
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	s.logger.Debug("signal bridge connected", "session_id", id, "participant_id", participantID)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-out:
			if err := writeJSONFrame(conn, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
