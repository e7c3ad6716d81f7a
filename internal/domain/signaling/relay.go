package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Options configures the relay.
type Options struct {
	// TTL is how long a message stays visible after it is sent.
	TTL time.Duration
	// FetchLimit bounds one read of the live window.
	FetchLimit int
	Now        func() time.Time
}

// Relay is a store-backed message bus carrying negotiation traffic for sessions.
type Relay struct {
	repo   Repository
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// NewRelay creates a relay over repo.
func NewRelay(repo Repository, opts Options, logger *slog.Logger) *Relay {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		repo:   repo,
		opts:   opts,
		logger: logger,
		subs:   make(map[*subscription]struct{}),
	}
}

// Send stamps msg with an id, timestamp and expiry and appends it to its session.
func (r *Relay) Send(ctx context.Context, msg Message) error {
	_, err := r.Publish(ctx, msg)
	return err
}

// Publish is Send returning the stored message.
func (r *Relay) Publish(ctx context.Context, msg Message) (Message, error) {
	if !msg.Type.Valid() {
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, msg.Type)
	}
	if msg.SessionID == "" || msg.From == "" {
		return Message{}, fmt.Errorf("%w: session and sender are required", ErrInvalidMessage)
	}

	now := r.opts.Now().UTC()
	msg.ID = uuid.NewString()
	msg.Timestamp = now
	msg.ExpiresAt = now.Add(r.opts.TTL)

	if err := r.repo.Append(ctx, &msg); err != nil {
		return Message{}, fmt.Errorf("appending signaling message: %w", err)
	}

	r.logger.Debug("signal sent",
		"session_id", msg.SessionID, "type", msg.Type, "from", msg.From, "to", msg.To)
	return msg, nil
}

// Subscribe delivers messages appended to the session after this call that are
// addressed to selfID (or broadcast) and not sent by selfID. Messages are delivered
// sequentially on one goroutine. The returned func releases the subscription.
func (r *Relay) Subscribe(ctx context.Context, sessionID, selfID string, onMessage func(Message)) (func(), error) {
	if sessionID == "" || selfID == "" {
		return nil, fmt.Errorf("%w: session and participant are required", ErrInvalidMessage)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	sub := &subscription{
		relay:     r,
		sessionID: sessionID,
		selfID:    selfID,
		onMessage: onMessage,
	}

	sub.mu.Lock()
	stopWatch := r.repo.Watch(sessionID, sub.poll)
	cursor, err := r.repo.LatestSeq(ctx, sessionID)
	if err != nil {
		sub.mu.Unlock()
		stopWatch()
		return nil, fmt.Errorf("reading signaling cursor: %w", err)
	}
	sub.cursor = cursor
	sub.stopWatch = stopWatch
	sub.mu.Unlock()

	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	r.logger.Debug("signal subscription opened", "session_id", sessionID, "participant_id", selfID)
	return sub.cancel, nil
}

// Cleanup removes every message of the session.
func (r *Relay) Cleanup(ctx context.Context, sessionID string) error {
	n, err := r.repo.DeleteBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("purging signaling messages: %w", err)
	}
	r.logger.Debug("signaling purged", "session_id", sessionID, "deleted", n)
	return nil
}

// PurgeExpired removes messages that expired before the given time.
func (r *Relay) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	n, err := r.repo.DeleteExpired(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purging expired signaling messages: %w", err)
	}
	return n, nil
}

// Count reports live subscriptions for a session.
func (r *Relay) Count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for sub := range r.subs {
		if sub.sessionID == sessionID {
			n++
		}
	}
	return n
}

// Close releases every subscription.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	subs := make([]*subscription, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
	}
}

type subscription struct {
	relay     *Relay
	sessionID string
	selfID    string
	onMessage func(Message)

	mu        sync.Mutex
	cursor    int64
	stopWatch func()
	closed    atomic.Bool
}

func (s *subscription) poll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return
	}

	r := s.relay
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var msgs []Message
	for {
		page, err := r.repo.ListLive(ctx, s.sessionID, s.cursor, r.opts.Now().UTC(), r.opts.FetchLimit)
		if err != nil {
			// The cursor only covers pages already read; the rest is retried on the next append.
			r.logger.Warn("reading signaling messages failed", "session_id", s.sessionID, "error", err)
			break
		}
		for _, m := range page {
			if m.Seq > s.cursor {
				s.cursor = m.Seq
			}
		}
		msgs = append(msgs, page...)
		if len(page) < r.opts.FetchLimit {
			break
		}
	}
	slices.SortStableFunc(msgs, func(a, b Message) int {
		if c := b.ExpiresAt.Compare(a.ExpiresAt); c != 0 {
			return c
		}
		return a.Timestamp.Compare(b.Timestamp)
	})

	for _, m := range msgs {
		if s.closed.Load() {
			return
		}
		if !m.DeliverableTo(s.selfID) {
			continue
		}
		s.onMessage(m)
	}
}

func (s *subscription) cancel() {
	if s.closed.Swap(true) {
		return
	}
	if s.stopWatch != nil {
		s.stopWatch()
	}
	r := s.relay
	r.mu.Lock()
	delete(r.subs, s)
	r.mu.Unlock()
	r.logger.Debug("signal subscription closed", "session_id", s.sessionID, "participant_id", s.selfID)
}
