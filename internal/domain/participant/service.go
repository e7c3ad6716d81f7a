// Package participant manages session membership and role assignment.
package participant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
)

// MaxTopicLength bounds a topic suggestion.
const MaxTopicLength = 280

var errLastParticipant = errors.New("last participant leaving")

// Lifecycle tears a session down once nobody is left in it.
type Lifecycle interface {
	// TeardownAtVersion fails with session.ErrConflict when the session changed
	// after version was read.
	TeardownAtVersion(ctx context.Context, id string, version int64) error
}

// Service handles joins, leaves and per-participant state.
type Service struct {
	sessions  session.Repository
	lifecycle Lifecycle
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates a new participant service.
func NewService(sessions session.Repository, lifecycle Lifecycle, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:  sessions,
		lifecycle: lifecycle,
		now:       time.Now,
		logger:    logger,
	}
}

// JoinRequest describes a participant joining a session.
type JoinRequest struct {
	SessionID     string
	ParticipantID string
	Name          string
	Role          session.Role
}

// Join adds the participant to the session. Joining twice returns the session unchanged.
func (s *Service) Join(ctx context.Context, req JoinRequest) (*session.Session, error) {
	req.ParticipantID = strings.TrimSpace(req.ParticipantID)
	req.Name = strings.TrimSpace(req.Name)
	if req.SessionID == "" || req.ParticipantID == "" || req.Name == "" || !req.Role.Valid() {
		return nil, session.ErrInvalidInput
	}

	joined := false
	updated, err := session.Mutate(ctx, s.sessions, req.SessionID, func(cur *session.Session) (*session.Update, error) {
		joined = false
		if _, _, ok := cur.Participant(req.ParticipantID); ok {
			return nil, nil
		}
		if cur.Status == session.StatusCompleted {
			return nil, session.ErrSessionCompleted
		}
		if cur.IsFull() {
			return nil, session.ErrSessionFull
		}

		role := req.Role
		if cur.Type == session.TypeInPerson {
			role = inPersonRole(cur, req.ParticipantID, req.Role)
		} else if !session.RoleAvailable(cur.Participants, req.ParticipantID, role) {
			return nil, session.ErrRoleUnavailable
		}

		joined = true
		return &session.Update{
			Participants: append(cur.Participants, session.Participant{
				ID:       req.ParticipantID,
				Name:     req.Name,
				Role:     role,
				Status:   session.ParticipantNotReady,
				JoinedAt: s.now().UTC(),
			}),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if joined {
		p, _, _ := updated.Participant(req.ParticipantID)
		s.logger.Info("participant joined",
			"session_id", req.SessionID, "participant_id", req.ParticipantID, "role", p.Role)
	}
	return updated, nil
}

// inPersonRole picks the role of a new in-person joiner: the first three non-host
// joiners fill speaker, listener and scribe (a free requested role wins), everyone
// after that observes.
func inPersonRole(cur *session.Session, participantID string, requested session.Role) session.Role {
	if cur.CountedParticipants() >= 3 {
		return session.RoleObserver
	}
	if requested != session.RoleNone && session.RoleAvailable(cur.Participants, participantID, requested) {
		return requested
	}
	for _, r := range []session.Role{session.RoleSpeaker, session.RoleListener, session.RoleScribe} {
		if session.RoleAvailable(cur.Participants, participantID, r) {
			return r
		}
	}
	return session.RoleObserver
}

// Leave removes the participant. When nobody is left the session is torn down and
// Leave returns a nil session.
func (s *Service) Leave(ctx context.Context, sessionID, participantID string) (*session.Session, error) {
	if sessionID == "" || participantID == "" {
		return nil, session.ErrInvalidInput
	}
	return s.remove(ctx, sessionID, participantID)
}

// RemoveParticipant lets the host drop another participant, such as one that vanished
// without leaving.
func (s *Service) RemoveParticipant(ctx context.Context, sessionID, callerID, participantID string) (*session.Session, error) {
	if sessionID == "" || participantID == "" {
		return nil, session.ErrInvalidInput
	}
	cur, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !cur.IsHost(callerID) {
		return nil, session.ErrNotAuthorized
	}
	return s.remove(ctx, sessionID, participantID)
}

func (s *Service) remove(ctx context.Context, sessionID, participantID string) (*session.Session, error) {
	for attempt := 0; attempt < session.MaxMutateAttempts; attempt++ {
		var lastVersion int64
		updated, err := session.Mutate(ctx, s.sessions, sessionID, func(cur *session.Session) (*session.Update, error) {
			if _, _, ok := cur.Participant(participantID); !ok {
				return nil, session.ErrParticipantNotFound
			}
			remaining := slices.DeleteFunc(cur.Participants, func(p session.Participant) bool {
				return p.ID == participantID
			})
			if len(remaining) == 0 {
				lastVersion = cur.Version
				return nil, errLastParticipant
			}
			return &session.Update{Participants: remaining}, nil
		})
		if errors.Is(err, errLastParticipant) {
			// The delete only lands on the version that had this participant alone.
			err := s.lifecycle.TeardownAtVersion(ctx, sessionID, lastVersion)
			if errors.Is(err, session.ErrConflict) {
				continue
			}
			if err != nil {
				return nil, err
			}
			s.logger.Info("last participant left", "session_id", sessionID, "participant_id", participantID)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		s.logger.Info("participant left", "session_id", sessionID, "participant_id", participantID)
		return updated, nil
	}
	return nil, session.ErrConflict
}

// UpdateRole gives the participant a new role if nobody else holds it.
func (s *Service) UpdateRole(ctx context.Context, sessionID, participantID string, role session.Role) (*session.Session, error) {
	if sessionID == "" || participantID == "" || !role.Valid() {
		return nil, session.ErrInvalidInput
	}
	return session.Mutate(ctx, s.sessions, sessionID, func(cur *session.Session) (*session.Update, error) {
		p, i, ok := cur.Participant(participantID)
		if !ok {
			return nil, session.ErrParticipantNotFound
		}
		if cur.Status == session.StatusCompleted {
			return nil, session.ErrSessionCompleted
		}
		if p.Role == role {
			return nil, nil
		}
		if !session.RoleAvailable(cur.Participants, participantID, role) {
			return nil, session.ErrRoleUnavailable
		}
		cur.Participants[i].Role = role
		return &session.Update{Participants: cur.Participants}, nil
	})
}

// AutoAssignRoles fills every empty role. Calling it on a fully assigned session is a no-op.
func (s *Service) AutoAssignRoles(ctx context.Context, sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return nil, session.ErrInvalidInput
	}
	return session.Mutate(ctx, s.sessions, sessionID, func(cur *session.Session) (*session.Update, error) {
		assigned, changed := session.AutoAssign(cur.Participants, cur.CountedParticipants(), rotationSkipID(cur))
		if !changed {
			return nil, nil
		}
		return &session.Update{Participants: assigned}, nil
	})
}

// AvailableRoles lists roles nobody holds yet. The in-person host is not counted.
func (s *Service) AvailableRoles(ctx context.Context, sessionID string) ([]session.Role, error) {
	cur, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session.AvailableRoles(cur.Participants, rotationSkipID(cur)), nil
}

// SetReady toggles the participant's ready state.
func (s *Service) SetReady(ctx context.Context, sessionID, participantID string, ready bool) (*session.Session, error) {
	status := session.ParticipantNotReady
	if ready {
		status = session.ParticipantReady
	}
	return s.updateParticipant(ctx, sessionID, participantID, func(p *session.Participant) bool {
		if p.Status == status {
			return false
		}
		p.Status = status
		return true
	})
}

// SetHandRaised raises or lowers the participant's hand.
func (s *Service) SetHandRaised(ctx context.Context, sessionID, participantID string, raised bool) (*session.Session, error) {
	return s.updateParticipant(ctx, sessionID, participantID, func(p *session.Participant) bool {
		if p.HandRaised == raised {
			return false
		}
		p.HandRaised = raised
		return true
	})
}

// SetConnectionStatus records the participant's self-reported link quality.
func (s *Service) SetConnectionStatus(ctx context.Context, sessionID, participantID string, status session.ConnectionStatus) (*session.Session, error) {
	switch status {
	case session.ConnectionGood, session.ConnectionPoor, session.ConnectionDisconnected:
	default:
		return nil, session.ErrInvalidInput
	}
	return s.updateParticipant(ctx, sessionID, participantID, func(p *session.Participant) bool {
		if p.ConnectionStatus == status {
			return false
		}
		p.ConnectionStatus = status
		return true
	})
}

// UpdateScribeNotes replaces the current round's notes. Only the participant holding
// the scribe role may write them.
func (s *Service) UpdateScribeNotes(ctx context.Context, sessionID, participantID, notes string) (*session.Session, error) {
	if sessionID == "" || participantID == "" {
		return nil, session.ErrInvalidInput
	}
	return session.Mutate(ctx, s.sessions, sessionID, func(cur *session.Session) (*session.Update, error) {
		p, _, ok := cur.Participant(participantID)
		if !ok {
			return nil, session.ErrParticipantNotFound
		}
		if p.Role != session.RoleScribe {
			return nil, session.ErrNotAuthorized
		}
		if cur.Status == session.StatusCompleted {
			return nil, session.ErrSessionCompleted
		}
		if cur.ScribeNotes == notes {
			return nil, nil
		}
		return &session.Update{ScribeNotes: session.Ptr(notes)}, nil
	})
}

// SuggestTopic adds a topic suggestion while the topic is still open.
func (s *Service) SuggestTopic(ctx context.Context, sessionID, participantID, text string) (*session.Session, error) {
	text = strings.TrimSpace(text)
	if sessionID == "" || participantID == "" || text == "" || len(text) > MaxTopicLength {
		return nil, session.ErrInvalidInput
	}
	return session.Mutate(ctx, s.sessions, sessionID, func(cur *session.Session) (*session.Update, error) {
		if _, _, ok := cur.Participant(participantID); !ok {
			return nil, session.ErrParticipantNotFound
		}
		if !topicOpen(cur) {
			return nil, session.ErrInvalidTransition
		}
		suggestion := session.TopicSuggestion{
			ID:          uuid.NewString(),
			Text:        text,
			SuggestedBy: participantID,
			Voters:      []string{},
			CreatedAt:   s.now().UTC(),
		}
		return &session.Update{TopicSuggestions: append(cur.TopicSuggestions, suggestion)}, nil
	})
}

// VoteTopic counts one vote per participant per suggestion.
func (s *Service) VoteTopic(ctx context.Context, sessionID, participantID, suggestionID string) (*session.Session, error) {
	if sessionID == "" || participantID == "" || suggestionID == "" {
		return nil, session.ErrInvalidInput
	}
	return session.Mutate(ctx, s.sessions, sessionID, func(cur *session.Session) (*session.Update, error) {
		if _, _, ok := cur.Participant(participantID); !ok {
			return nil, session.ErrParticipantNotFound
		}
		if !topicOpen(cur) {
			return nil, session.ErrInvalidTransition
		}
		i := slices.IndexFunc(cur.TopicSuggestions, func(t session.TopicSuggestion) bool {
			return t.ID == suggestionID
		})
		if i < 0 {
			return nil, fmt.Errorf("%w: unknown suggestion %q", session.ErrInvalidInput, suggestionID)
		}
		t := &cur.TopicSuggestions[i]
		if slices.Contains(t.Voters, participantID) {
			return nil, nil
		}
		t.Voters = append(t.Voters, participantID)
		t.Votes = len(t.Voters)
		return &session.Update{TopicSuggestions: cur.TopicSuggestions}, nil
	})
}

func (s *Service) updateParticipant(ctx context.Context, sessionID, participantID string, fn func(*session.Participant) bool) (*session.Session, error) {
	if sessionID == "" || participantID == "" {
		return nil, session.ErrInvalidInput
	}
	return session.Mutate(ctx, s.sessions, sessionID, func(cur *session.Session) (*session.Update, error) {
		_, i, ok := cur.Participant(participantID)
		if !ok {
			return nil, session.ErrParticipantNotFound
		}
		if !fn(&cur.Participants[i]) {
			return nil, nil
		}
		return &session.Update{Participants: cur.Participants}, nil
	})
}

func (s *Service) load(ctx context.Context, sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return nil, session.ErrInvalidInput
	}
	cur, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, notFound(err)
	}
	return cur, nil
}

func topicOpen(cur *session.Session) bool {
	return cur.Status == session.StatusWaiting || cur.CurrentPhase == session.PhaseTopicSelection
}

// rotationSkipID is the participant left out of role counting: the in-person host.
func rotationSkipID(cur *session.Session) string {
	if cur.Type == session.TypeInPerson {
		return cur.HostID
	}
	return ""
}
