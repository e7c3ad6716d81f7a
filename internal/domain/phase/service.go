// Package phase drives the host-controlled session lifecycle: phases, rounds and
// role rotation.
package phase

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
)

// Scheduler defers teardown of a completed session.
type Scheduler interface {
	ScheduleTeardown(id string)
}

// Service applies phase transitions. Every transition is host-only and written with a
// version check, so a stale read never lands.
type Service struct {
	sessions  session.Repository
	scheduler Scheduler
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates a new phase service.
func NewService(sessions session.Repository, scheduler Scheduler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:  sessions,
		scheduler: scheduler,
		now:       time.Now,
		logger:    logger,
	}
}

// StartOptions tunes how a session starts.
type StartOptions struct {
	// TopicSelection opens the session with topic voting instead of the check-in.
	TopicSelection bool
}

// Start activates a waiting session at round 1, filling any empty roles.
func (s *Service) Start(ctx context.Context, sessionID, callerID string, opts StartOptions) (*session.Session, error) {
	return s.transition(ctx, "start", sessionID, callerID, func(cur *session.Session, now time.Time) (*session.Update, error) {
		if cur.Status != session.StatusWaiting {
			return nil, session.ErrInvalidTransition
		}
		n := cur.CountedParticipants()
		if n < cur.MinParticipants {
			return nil, fmt.Errorf("%w: %d of %d", session.ErrNotEnoughParticipants, n, cur.MinParticipants)
		}

		next := session.PhaseHelloCheckIn
		if opts.TopicSelection {
			next = session.PhaseTopicSelection
		}
		participants, _ := session.AutoAssign(cur.Participants, n, skipID(cur))
		return &session.Update{
			Status:         session.Ptr(session.StatusActive),
			CurrentPhase:   session.Ptr(next),
			CurrentRound:   session.Ptr(1),
			PhaseStartTime: &now,
			Participants:   participants,
		}, nil
	})
}

// CompleteTopicSelection settles the topic and moves on to the check-in. An empty
// suggestionID picks the most voted suggestion, earliest first on ties.
func (s *Service) CompleteTopicSelection(ctx context.Context, sessionID, callerID, suggestionID string) (*session.Session, error) {
	return s.transition(ctx, "complete_topic_selection", sessionID, callerID, func(cur *session.Session, now time.Time) (*session.Update, error) {
		if err := requirePhase(cur, session.PhaseTopicSelection); err != nil {
			return nil, err
		}
		upd := phaseUpdate(session.PhaseHelloCheckIn, now)
		if topic, ok := pickTopic(cur.TopicSuggestions, suggestionID); ok {
			upd.Topic = &topic
		} else if suggestionID != "" {
			return nil, fmt.Errorf("%w: unknown suggestion %q", session.ErrInvalidInput, suggestionID)
		}
		return upd, nil
	})
}

// CompleteHelloCheckIn starts the first listening round.
func (s *Service) CompleteHelloCheckIn(ctx context.Context, sessionID, callerID string) (*session.Session, error) {
	return s.simple(ctx, "complete_hello_checkin", sessionID, callerID, session.PhaseListening, session.PhaseHelloCheckIn)
}

// CompleteRound ends the current round. Before the last round of the cycle it rotates
// every role one step and enters the transition; after it, the session reaches completion.
func (s *Service) CompleteRound(ctx context.Context, sessionID, callerID string) (*session.Session, error) {
	return s.transition(ctx, "complete_round", sessionID, callerID, func(cur *session.Session, now time.Time) (*session.Update, error) {
		if err := requirePhase(cur, session.PhaseListening, session.PhaseRound, session.PhaseScribeFeedback,
			session.PhaseTransition); err != nil {
			return nil, err
		}
		n := cur.CountedParticipants()
		if cur.CurrentRound >= session.TotalRounds(n) {
			return phaseUpdate(session.PhaseCompletion, now), nil
		}
		upd := phaseUpdate(session.PhaseTransition, now)
		upd.CurrentRound = session.Ptr(cur.CurrentRound + 1)
		upd.Participants = session.Rotate(cur.Participants, n, skipID(cur))
		return upd, nil
	})
}

// AdvanceTransition ends the between-rounds transition.
func (s *Service) AdvanceTransition(ctx context.Context, sessionID, callerID string) (*session.Session, error) {
	return s.simple(ctx, "advance_transition", sessionID, callerID, session.PhaseListening, session.PhaseTransition)
}

// BeginScribeFeedback lets the scribe report back on the round.
func (s *Service) BeginScribeFeedback(ctx context.Context, sessionID, callerID string) (*session.Session, error) {
	return s.simple(ctx, "begin_scribe_feedback", sessionID, callerID, session.PhaseScribeFeedback,
		session.PhaseListening, session.PhaseRound)
}

// CompleteScribeFeedback returns to listening.
func (s *Service) CompleteScribeFeedback(ctx context.Context, sessionID, callerID string) (*session.Session, error) {
	return s.simple(ctx, "complete_scribe_feedback", sessionID, callerID, session.PhaseListening, session.PhaseScribeFeedback)
}

// ContinueRounds starts another cycle of listening rounds.
func (s *Service) ContinueRounds(ctx context.Context, sessionID, callerID string) (*session.Session, error) {
	return s.restartCycle(ctx, "continue_rounds", sessionID, callerID, session.PhaseListening)
}

// ContinueInPersonRounds starts another cycle of in-person rounds.
func (s *Service) ContinueInPersonRounds(ctx context.Context, sessionID, callerID string) (*session.Session, error) {
	return s.restartCycle(ctx, "continue_in_person_rounds", sessionID, callerID, session.PhaseRound)
}

// StartFreeDialogue opens unstructured conversation after the rounds.
func (s *Service) StartFreeDialogue(ctx context.Context, sessionID, callerID string) (*session.Session, error) {
	return s.simple(ctx, "start_free_dialogue", sessionID, callerID, session.PhaseFreeDialogue, session.PhaseCompletion)
}

// EndSession moves to the closing reflection.
func (s *Service) EndSession(ctx context.Context, sessionID, callerID string) (*session.Session, error) {
	return s.simple(ctx, "end_session", sessionID, callerID, session.PhaseReflection,
		session.PhaseCompletion, session.PhaseFreeDialogue)
}

// CompleteSession marks the session completed. With cleanup set, the session is torn
// down after the cleanup delay so clients can still read the final state.
func (s *Service) CompleteSession(ctx context.Context, sessionID, callerID string, cleanup bool) (*session.Session, error) {
	updated, err := s.transition(ctx, "complete_session", sessionID, callerID, func(cur *session.Session, now time.Time) (*session.Update, error) {
		upd := phaseUpdate(session.PhaseCompleted, now)
		upd.Status = session.Ptr(session.StatusCompleted)
		upd.CompletedAt = &now
		return upd, nil
	})
	if err != nil {
		return nil, err
	}
	if cleanup && s.scheduler != nil {
		s.scheduler.ScheduleTeardown(sessionID)
	}
	return updated, nil
}

// restartCycle resets the round counter for another cycle, first folding the current
// scribe notes into the accumulated log.
func (s *Service) restartCycle(ctx context.Context, op, sessionID, callerID string, next session.Phase) (*session.Session, error) {
	return s.transition(ctx, op, sessionID, callerID, func(cur *session.Session, now time.Time) (*session.Update, error) {
		if err := requirePhase(cur, session.PhaseCompletion, session.PhaseListening, session.PhaseRound,
			session.PhaseTransition, session.PhaseScribeFeedback); err != nil {
			return nil, err
		}
		upd := phaseUpdate(next, now)
		upd.CurrentRound = session.Ptr(1)
		if acc, ok := AccumulateNotes(cur.AccumulatedScribeNotes, cur.ScribeNotes, cur.CurrentRound); ok {
			upd.AccumulatedScribeNotes = &acc
		}
		return upd, nil
	})
}

// AccumulateNotes appends the round's notes to the log under a round header.
// Blank notes leave the log untouched and report false.
func AccumulateNotes(accumulated, notes string, round int) (string, bool) {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return accumulated, false
	}
	block := fmt.Sprintf("--- Round %d ---\n%s", round, notes)
	if accumulated == "" {
		return block, true
	}
	return accumulated + "\n\n" + block, true
}

func (s *Service) simple(ctx context.Context, op, sessionID, callerID string, next session.Phase, from ...session.Phase) (*session.Session, error) {
	return s.transition(ctx, op, sessionID, callerID, func(cur *session.Session, now time.Time) (*session.Update, error) {
		if err := requirePhase(cur, from...); err != nil {
			return nil, err
		}
		return phaseUpdate(next, now), nil
	})
}

// transition checks host authority and that the session is still open before fn
// builds the update. Checks repeat on every retry of the conditional write.
func (s *Service) transition(
	ctx context.Context,
	op, sessionID, callerID string,
	fn func(cur *session.Session, now time.Time) (*session.Update, error),
) (*session.Session, error) {
	if sessionID == "" || callerID == "" {
		return nil, session.ErrInvalidInput
	}

	updated, err := session.Mutate(ctx, s.sessions, sessionID, func(cur *session.Session) (*session.Update, error) {
		if !cur.IsHost(callerID) {
			return nil, session.ErrNotAuthorized
		}
		if cur.Status == session.StatusCompleted {
			return nil, session.ErrSessionCompleted
		}
		return fn(cur, s.now().UTC())
	})
	if err != nil {
		s.logger.Debug("phase transition rejected", "op", op, "session_id", sessionID, "caller_id", callerID, "error", err)
		return nil, err
	}

	s.logger.Info("phase advanced",
		"op", op, "session_id", sessionID, "phase", updated.CurrentPhase, "round", updated.CurrentRound)
	return updated, nil
}

func requirePhase(cur *session.Session, allowed ...session.Phase) error {
	if cur.Status != session.StatusActive || !slices.Contains(allowed, cur.CurrentPhase) {
		return fmt.Errorf("%w: %s from %q", session.ErrInvalidTransition, cur.Status, cur.CurrentPhase)
	}
	return nil
}

func phaseUpdate(next session.Phase, now time.Time) *session.Update {
	return &session.Update{
		CurrentPhase:   session.Ptr(next),
		PhaseStartTime: &now,
	}
}

func pickTopic(suggestions []session.TopicSuggestion, suggestionID string) (string, bool) {
	if suggestionID != "" {
		for _, t := range suggestions {
			if t.ID == suggestionID {
				return t.Text, true
			}
		}
		return "", false
	}
	best := -1
	for i, t := range suggestions {
		if best < 0 || t.Votes > suggestions[best].Votes {
			best = i
		}
	}
	if best < 0 {
		return "", false
	}
	return suggestions[best].Text, true
}

func skipID(cur *session.Session) string {
	if cur.Type == session.TypeInPerson {
		return cur.HostID
	}
	return ""
}
