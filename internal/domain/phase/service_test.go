package phase_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/participant"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/phase"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/repository/mocks"
	"github.com/imtompeel/swiftToHear-sub002/internal/sqlite"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingScheduler struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingScheduler) ScheduleTeardown(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

type fixture struct {
	sessions     *session.Service
	participants *participant.Service
	phases       *phase.Service
	scheduler    *recordingScheduler
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := testLogger()
	repo := sqlite.NewSessionRepository(db, logger)
	sessions := session.NewService(repo, nil, session.Options{}, logger)
	t.Cleanup(sessions.Close)
	scheduler := &recordingScheduler{}

	return &fixture{
		sessions:     sessions,
		participants: participant.NewService(repo, sessions, logger),
		phases:       phase.NewService(repo, scheduler, logger),
		scheduler:    scheduler,
	}
}

func (f *fixture) session(t *testing.T, typ session.Type, joiners ...string) *session.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := f.sessions.Create(ctx, session.CreateRequest{
		HostID:          "A",
		HostName:        "A",
		Type:            typ,
		MaxParticipants: 20,
	})
	require.NoError(t, err)
	for _, id := range joiners {
		sess, err = f.participants.Join(ctx, participant.JoinRequest{SessionID: sess.ID, ParticipantID: id, Name: id})
		require.NoError(t, err)
	}
	return sess
}

func roles(sess *session.Session) map[string]session.Role {
	out := make(map[string]session.Role, len(sess.Participants))
	for _, p := range sess.Participants {
		out[p.ID] = p.Role
	}
	return out
}

func TestThreePersonVideoSessionRunsFullCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.session(t, session.TypeVideo, "B", "C")

	sess, err := f.phases.Start(ctx, sess.ID, "A", phase.StartOptions{})
	require.NoError(t, err)
	require.Equal(t, session.StatusActive, sess.Status)
	require.Equal(t, session.PhaseHelloCheckIn, sess.CurrentPhase)
	require.Equal(t, 1, sess.CurrentRound)
	require.NotNil(t, sess.PhaseStartTime)
	require.Equal(t, map[string]session.Role{
		"A": session.RoleSpeaker, "B": session.RoleListener, "C": session.RoleScribe,
	}, roles(sess))

	sess, err = f.phases.CompleteHelloCheckIn(ctx, sess.ID, "A")
	require.NoError(t, err)
	require.Equal(t, session.PhaseListening, sess.CurrentPhase)

	sess, err = f.phases.CompleteRound(ctx, sess.ID, "A")
	require.NoError(t, err)
	require.Equal(t, session.PhaseTransition, sess.CurrentPhase)
	require.Equal(t, 2, sess.CurrentRound)
	require.Equal(t, map[string]session.Role{
		"A": session.RoleListener, "B": session.RoleScribe, "C": session.RoleSpeaker,
	}, roles(sess))

	sess, err = f.phases.AdvanceTransition(ctx, sess.ID, "A")
	require.NoError(t, err)
	require.Equal(t, session.PhaseListening, sess.CurrentPhase)

	sess, err = f.phases.CompleteRound(ctx, sess.ID, "A")
	require.NoError(t, err)
	require.Equal(t, 3, sess.CurrentRound)
	require.Equal(t, map[string]session.Role{
		"A": session.RoleScribe, "B": session.RoleSpeaker, "C": session.RoleListener,
	}, roles(sess))

	sess, err = f.phases.AdvanceTransition(ctx, sess.ID, "A")
	require.NoError(t, err)

	sess, err = f.phases.CompleteRound(ctx, sess.ID, "A")
	require.NoError(t, err)
	require.Equal(t, session.PhaseCompletion, sess.CurrentPhase)
	require.Equal(t, 3, sess.CurrentRound)

	sess, err = f.phases.StartFreeDialogue(ctx, sess.ID, "A")
	require.NoError(t, err)
	require.Equal(t, session.PhaseFreeDialogue, sess.CurrentPhase)

	sess, err = f.phases.EndSession(ctx, sess.ID, "A")
	require.NoError(t, err)
	require.Equal(t, session.PhaseReflection, sess.CurrentPhase)

	sess, err = f.phases.CompleteSession(ctx, sess.ID, "A", true)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, sess.Status)
	require.Equal(t, session.PhaseCompleted, sess.CurrentPhase)
	require.NotNil(t, sess.CompletedAt)
	require.Equal(t, []string{sess.ID}, f.scheduler.ids)

	_, err = f.phases.CompleteRound(ctx, sess.ID, "A")
	require.ErrorIs(t, err, session.ErrSessionCompleted)
}

func TestCompleteRoundFromTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.session(t, session.TypeVideo, "B", "C")

	sess, err := f.phases.Start(ctx, sess.ID, "A", phase.StartOptions{})
	require.NoError(t, err)
	sess, err = f.phases.CompleteHelloCheckIn(ctx, sess.ID, "A")
	require.NoError(t, err)

	sess, err = f.phases.CompleteRound(ctx, sess.ID, "A")
	require.NoError(t, err)
	require.Equal(t, session.PhaseTransition, sess.CurrentPhase)
	require.Equal(t, 2, sess.CurrentRound)

	sess, err = f.phases.CompleteRound(ctx, sess.ID, "A")
	require.NoError(t, err)
	require.Equal(t, session.PhaseTransition, sess.CurrentPhase)
	require.Equal(t, 3, sess.CurrentRound)
	require.Equal(t, map[string]session.Role{
		"A": session.RoleScribe, "B": session.RoleSpeaker, "C": session.RoleListener,
	}, roles(sess))

	sess, err = f.phases.CompleteRound(ctx, sess.ID, "A")
	require.NoError(t, err)
	require.Equal(t, session.PhaseCompletion, sess.CurrentPhase)
	require.Equal(t, 3, sess.CurrentRound)
}

func TestCompleteSessionWithoutCleanupKeepsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.session(t, session.TypeVideo, "B")

	_, err := f.phases.CompleteSession(ctx, sess.ID, "A", false)
	require.NoError(t, err)
	require.Empty(t, f.scheduler.ids)

	stored, err := f.sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, stored.Status)
}

func TestStartRequiresMinimumParticipants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.session(t, session.TypeVideo)

	_, err := f.phases.Start(ctx, sess.ID, "A", phase.StartOptions{})
	require.ErrorIs(t, err, session.ErrNotEnoughParticipants)
}

func TestTopicSelection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.session(t, session.TypeVideo, "B")

	sess, err := f.phases.Start(ctx, sess.ID, "A", phase.StartOptions{TopicSelection: true})
	require.NoError(t, err)
	require.Equal(t, session.PhaseTopicSelection, sess.CurrentPhase)

	sess, err = f.participants.SuggestTopic(ctx, sess.ID, "B", "Rest")
	require.NoError(t, err)
	sess, err = f.participants.SuggestTopic(ctx, sess.ID, "A", "Change")
	require.NoError(t, err)
	sess, err = f.participants.VoteTopic(ctx, sess.ID, "B", sess.TopicSuggestions[1].ID)
	require.NoError(t, err)

	sess, err = f.phases.CompleteTopicSelection(ctx, sess.ID, "A", "")
	require.NoError(t, err)
	require.Equal(t, session.PhaseHelloCheckIn, sess.CurrentPhase)
	require.Equal(t, "Change", sess.Topic)
}

func TestContinueInPersonRoundsAccumulatesNotes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.session(t, session.TypeInPerson, "P1", "P2", "P3")

	sess, err := f.phases.Start(ctx, sess.ID, "A", phase.StartOptions{})
	require.NoError(t, err)
	sess, err = f.phases.CompleteHelloCheckIn(ctx, sess.ID, "A")
	require.NoError(t, err)

	_, err = f.participants.UpdateScribeNotes(ctx, sess.ID, "P3", "Theme A")
	require.NoError(t, err)

	sess, err = f.phases.ContinueInPersonRounds(ctx, sess.ID, "A")
	require.NoError(t, err)
	require.Equal(t, session.PhaseRound, sess.CurrentPhase)
	require.Equal(t, 1, sess.CurrentRound)
	require.Equal(t, "--- Round 1 ---\nTheme A", sess.AccumulatedScribeNotes)
}

func TestAccumulateNotes(t *testing.T) {
	acc, ok := phase.AccumulateNotes("", "  first  ", 1)
	require.True(t, ok)
	require.Equal(t, "--- Round 1 ---\nfirst", acc)

	acc, ok = phase.AccumulateNotes(acc, "second", 2)
	require.True(t, ok)
	require.Equal(t, "--- Round 1 ---\nfirst\n\n--- Round 2 ---\nsecond", acc)

	same, ok := phase.AccumulateNotes(acc, " \n ", 3)
	require.False(t, ok)
	require.Equal(t, acc, same)
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.session(t, session.TypeVideo, "B")

	_, err := f.phases.CompleteRound(ctx, sess.ID, "A")
	require.ErrorIs(t, err, session.ErrInvalidTransition, "waiting session has no round")

	_, err = f.phases.Start(ctx, sess.ID, "A", phase.StartOptions{})
	require.NoError(t, err)

	_, err = f.phases.Start(ctx, sess.ID, "A", phase.StartOptions{})
	require.ErrorIs(t, err, session.ErrInvalidTransition)

	_, err = f.phases.AdvanceTransition(ctx, sess.ID, "A")
	require.ErrorIs(t, err, session.ErrInvalidTransition)

	_, err = f.phases.StartFreeDialogue(ctx, sess.ID, "A")
	require.ErrorIs(t, err, session.ErrInvalidTransition)

	_, err = f.phases.CompleteHelloCheckIn(ctx, sess.ID, "A")
	require.NoError(t, err)
	_, err = f.phases.CompleteHelloCheckIn(ctx, sess.ID, "A")
	require.ErrorIs(t, err, session.ErrInvalidTransition, "repeated click is rejected")

	_, err = f.phases.CompleteRound(ctx, "session-missing", "A")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestScribeFeedbackLoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.session(t, session.TypeVideo, "B", "C")

	_, err := f.phases.Start(ctx, sess.ID, "A", phase.StartOptions{})
	require.NoError(t, err)
	_, err = f.phases.CompleteHelloCheckIn(ctx, sess.ID, "A")
	require.NoError(t, err)

	out, err := f.phases.BeginScribeFeedback(ctx, sess.ID, "A")
	require.NoError(t, err)
	require.Equal(t, session.PhaseScribeFeedback, out.CurrentPhase)

	out, err = f.phases.CompleteScribeFeedback(ctx, sess.ID, "A")
	require.NoError(t, err)
	require.Equal(t, session.PhaseListening, out.CurrentPhase)
}

func TestNonHostCannotAdvanceAndNothingIsWritten(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.SessionRepository{}
	svc := phase.NewService(repo, nil, testLogger())

	sess := &session.Session{
		ID:           "s1",
		HostID:       "A",
		Type:         session.TypeVideo,
		Status:       session.StatusActive,
		CurrentPhase: session.PhaseListening,
		CurrentRound: 1,
		Version:      7,
		Participants: []session.Participant{{ID: "A"}, {ID: "B"}},
	}
	repo.On("Get", ctx, "s1").Return(sess, nil)

	_, err := svc.CompleteRound(ctx, "s1", "B")
	require.ErrorIs(t, err, session.ErrNotAuthorized)

	_, err = svc.CompleteSession(ctx, "s1", "B", true)
	require.ErrorIs(t, err, session.ErrNotAuthorized)

	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
