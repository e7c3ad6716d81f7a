package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signaling"
)

// ErrSignalerClosed indicates the signaling connection is gone.
var ErrSignalerClosed = errors.New("signaling connection closed")

const signalWriteWait = 10 * time.Second

// Signaler carries one participant's signaling traffic over the server's websocket
// bridge. It serves a single session and participant.
type Signaler struct {
	client    *Client
	conn      *websocket.Conn
	sessionID string
	selfID    string

	writeMu sync.Mutex

	mu      sync.Mutex
	handler func(signaling.Message)
	gen     int
	closed  bool
	done    chan struct{}
}

// DialSignaler opens the signaling bridge for participantID in sessionID.
func (c *Client) DialSignaler(ctx context.Context, sessionID, participantID string) (*Signaler, error) {
	path := fmt.Sprintf("/sessions/%s/signal?participant=%s", url.PathEscape(sessionID), url.QueryEscape(participantID))
	conn, resp, err := c.Dialer.DialContext(ctx, c.wsURL(path), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing signaling: status %s", resp.Status)
		}
		return nil, fmt.Errorf("dialing signaling: %w", err)
	}

	s := &Signaler{
		client:    c,
		conn:      conn,
		sessionID: sessionID,
		selfID:    participantID,
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Subscribe implements signaling.Subscriber. Only one subscription is live; a new
// one replaces the previous handler.
func (s *Signaler) Subscribe(_ context.Context, sessionID, selfID string, onMessage func(signaling.Message)) (func(), error) {
	if sessionID != s.sessionID || selfID != s.selfID {
		return nil, fmt.Errorf("%w: signaler serves %s as %s", signaling.ErrInvalidMessage, s.sessionID, s.selfID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSignalerClosed
	}
	s.gen++
	gen := s.gen
	s.handler = onMessage
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen == gen {
			s.handler = nil
		}
	}, nil
}

// Send writes msg to the bridge. The server stamps the sender and expiry.
func (s *Signaler) Send(_ context.Context, msg signaling.Message) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSignalerClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(signalWriteWait)); err != nil {
		return err
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("sending %s: %w", msg.Type, err)
	}
	return nil
}

// Done is closed once the connection drops or Close is called.
func (s *Signaler) Done() <-chan struct{} {
	return s.done
}

// Close shuts the connection down. Closing twice is a no-op.
func (s *Signaler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.handler = nil
	s.mu.Unlock()

	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(signalWriteWait))
	s.writeMu.Unlock()
	return s.conn.Close()
}

func (s *Signaler) readLoop() {
	defer close(s.done)
	for {
		var msg signaling.Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.mu.Lock()
			closed := s.closed
			s.closed = true
			s.handler = nil
			s.mu.Unlock()
			_ = s.conn.Close()
			if !closed {
				s.client.Logger.Warn("signaling connection lost", "session_id", s.sessionID, "error", err)
			}
			return
		}
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h != nil {
			h(msg)
		}
	}
}
