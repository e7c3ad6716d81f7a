package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/imtompeel/swiftToHear-sub002/internal/repository"
)

// IDPrefix starts every session id.
const IDPrefix = "session-"

// Options configures session defaults and cleanup timing.
type Options struct {
	DefaultMinParticipants int
	DefaultMaxParticipants int
	DefaultRoundDuration   time.Duration
	// CleanupDelay is how long a completed session stays readable before teardown.
	CleanupDelay time.Duration
	Now          func() time.Time
}

// Service owns the session lifecycle: creation, lookup, subscription and teardown.
type Service struct {
	sessions  Repository
	signaling SignalingPurger
	opts      Options
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
}

// NewService creates a new session service.
func NewService(sessions Repository, signaling SignalingPurger, opts Options, logger *slog.Logger) *Service {
	if opts.DefaultMinParticipants <= 0 {
		opts.DefaultMinParticipants = 2
	}
	if opts.DefaultMaxParticipants <= 0 {
		opts.DefaultMaxParticipants = 6
	}
	if opts.DefaultRoundDuration <= 0 {
		opts.DefaultRoundDuration = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:  sessions,
		signaling: signaling,
		opts:      opts,
		logger:    logger,
		pending:   make(map[string]*time.Timer),
	}
}

// CreateRequest describes a new session.
type CreateRequest struct {
	HostID          string
	HostName        string
	Name            string
	Topic           string
	Type            Type
	MinParticipants int
	MaxParticipants int
	RoundDuration   time.Duration
}

// Create stores a new waiting session with the host as its first participant.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	req.HostID = strings.TrimSpace(req.HostID)
	req.HostName = strings.TrimSpace(req.HostName)
	if req.HostID == "" || req.HostName == "" {
		return nil, ErrInvalidInput
	}

	if req.Type == "" {
		req.Type = TypeVideo
	}
	if req.Type != TypeVideo && req.Type != TypeInPerson {
		return nil, fmt.Errorf("%w: unknown session type %q", ErrInvalidInput, req.Type)
	}
	if req.MinParticipants == 0 {
		req.MinParticipants = s.opts.DefaultMinParticipants
	}
	if req.MaxParticipants == 0 {
		req.MaxParticipants = s.opts.DefaultMaxParticipants
	}
	if req.MinParticipants < 1 || req.MaxParticipants < req.MinParticipants {
		return nil, fmt.Errorf("%w: participants range %d..%d", ErrInvalidInput, req.MinParticipants, req.MaxParticipants)
	}
	if req.RoundDuration < 0 {
		return nil, fmt.Errorf("%w: negative round duration", ErrInvalidInput)
	}
	if req.RoundDuration == 0 {
		req.RoundDuration = s.opts.DefaultRoundDuration
	}

	now := s.opts.Now().UTC()
	sess := &Session{
		ID:       NewID(),
		Name:     strings.TrimSpace(req.Name),
		Topic:    strings.TrimSpace(req.Topic),
		HostID:   req.HostID,
		HostName: req.HostName,
		Type:     req.Type,
		Status:   StatusWaiting,
		Participants: []Participant{{
			ID:       req.HostID,
			Name:     req.HostName,
			Role:     RoleNone,
			Status:   ParticipantReady,
			JoinedAt: now,
		}},
		RoundDurationMs:  req.RoundDuration.Milliseconds(),
		MinParticipants:  req.MinParticipants,
		MaxParticipants:  req.MaxParticipants,
		TopicSuggestions: []TopicSuggestion{},
		CreatedAt:        now,
		Version:          1,
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Info("session created", "session_id", sess.ID, "host_id", sess.HostID, "type", sess.Type)
	return sess, nil
}

// NewID returns a fresh, globally unique session id.
func NewID() string {
	return IDPrefix + uuid.NewString()
}

// Get returns the session or ErrSessionNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return sess, nil
}

// Subscribe calls onChange with every new version of the session and with nil once
// it is deleted. The returned func releases the subscription.
func (s *Service) Subscribe(id string, onChange func(*Session)) func() {
	return s.sessions.Subscribe(id, onChange)
}

// ListByStatus returns sessions in the given status.
func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Session, error) {
	out, err := s.sessions.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("listing sessions by status: %w", err)
	}
	return out, nil
}

// ListByHost returns sessions hosted by hostID.
func (s *Service) ListByHost(ctx context.Context, hostID string) ([]Session, error) {
	out, err := s.sessions.ListByHost(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions by host: %w", err)
	}
	return out, nil
}

// ListByParticipant returns sessions participantID is a member of.
func (s *Service) ListByParticipant(ctx context.Context, participantID string) ([]Session, error) {
	out, err := s.sessions.ListByParticipant(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions by participant: %w", err)
	}
	return out, nil
}

// Teardown purges the session's signaling traffic and deletes the document.
// A failed signaling purge is logged and does not stop the delete. Tearing down a
// session that is already gone succeeds.
func (s *Service) Teardown(ctx context.Context, id string) error {
	s.cancelPending(id)

	if s.signaling != nil {
		if err := s.signaling.Cleanup(ctx, id); err != nil {
			s.logger.Warn("signaling purge failed during teardown", "session_id", id, "error", err)
		}
	}

	if err := s.sessions.Delete(ctx, id, 0); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("deleting session: %w", err)
	}

	s.logger.Info("session torn down", "session_id", id)
	return nil
}

// TeardownAtVersion tears the session down only if it is still at version. A session
// written since fails with ErrConflict and is left alone, signaling included. The
// document goes first here so a lost race never purges a live session's traffic.
func (s *Service) TeardownAtVersion(ctx context.Context, id string, version int64) error {
	if err := s.sessions.Delete(ctx, id, version); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return ErrConflict
		case errors.Is(err, repository.ErrNotFound):
			return nil
		}
		return fmt.Errorf("deleting session: %w", err)
	}
	s.cancelPending(id)

	if s.signaling != nil {
		if err := s.signaling.Cleanup(ctx, id); err != nil {
			s.logger.Warn("signaling purge failed during teardown", "session_id", id, "error", err)
		}
	}

	s.logger.Info("session torn down", "session_id", id, "version", version)
	return nil
}

// ScheduleTeardown tears the session down after the configured cleanup delay.
// Scheduling an already scheduled session is a no-op.
func (s *Service) ScheduleTeardown(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.pending[id]; ok {
		return
	}
	s.pending[id] = time.AfterFunc(s.opts.CleanupDelay, func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Teardown(ctx, id); err != nil {
			s.logger.Error("deferred teardown failed", "session_id", id, "error", err)
		}
	})
	s.logger.Debug("teardown scheduled", "session_id", id, "delay", s.opts.CleanupDelay)
}

// PendingTeardowns reports how many deferred teardowns are waiting to run.
func (s *Service) PendingTeardowns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// PurgeCompletedBefore tears down completed sessions finished before cutoff.
func (s *Service) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.sessions.ListCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing completed sessions: %w", err)
	}
	purged := 0
	for _, id := range ids {
		if err := s.Teardown(ctx, id); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// Close stops pending deferred teardowns.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.pending {
		t.Stop()
		delete(s.pending, id)
	}
}

// Now returns the service clock.
func (s *Service) Now() time.Time {
	return s.opts.Now().UTC()
}

func (s *Service) cancelPending(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[id]; ok {
		t.Stop()
		delete(s.pending, id)
	}
}
