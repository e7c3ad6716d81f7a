package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/repository"
	"github.com/stretchr/testify/require"
)

func newSession(id, hostID string, participants ...string) *session.Session {
	now := time.Now().UTC()
	sess := &session.Session{
		ID:               id,
		HostID:           hostID,
		HostName:         "Host",
		Type:             session.TypeVideo,
		Status:           session.StatusWaiting,
		MinParticipants:  2,
		MaxParticipants:  6,
		RoundDurationMs:  300000,
		TopicSuggestions: []session.TopicSuggestion{},
		CreatedAt:        now,
		Participants: []session.Participant{
			{ID: hostID, Name: "Host", Status: session.ParticipantReady, JoinedAt: now},
		},
	}
	for _, p := range participants {
		sess.Participants = append(sess.Participants, session.Participant{
			ID: p, Name: p, Status: session.ParticipantNotReady, JoinedAt: now,
		})
	}
	return sess
}

func TestSessionRepository_CreateGet(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepository(db, testLogger())

	sess := newSession("session-1", "host", "p1")
	require.NoError(t, repo.Create(ctx, sess))

	loaded, err := repo.Get(ctx, "session-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), loaded.Version)
	require.Equal(t, "host", loaded.HostID)
	require.Len(t, loaded.Participants, 2)
	require.Equal(t, "p1", loaded.Participants[1].ID)

	err = repo.Create(ctx, newSession("session-1", "other"))
	require.ErrorIs(t, err, repository.ErrConflict)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSessionRepository_UpdateReplacesOnlyTargetedFields(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepository(db, testLogger())

	require.NoError(t, repo.Create(ctx, newSession("s1", "host", "p1")))

	updated, err := repo.Update(ctx, "s1", session.Update{
		CurrentPhase: session.Ptr(session.PhaseListening),
		CurrentRound: session.Ptr(2),
	}, 0)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)
	require.Equal(t, session.PhaseListening, updated.CurrentPhase)

	loaded, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 2, loaded.CurrentRound)
	require.Len(t, loaded.Participants, 2)
	require.Equal(t, session.StatusWaiting, loaded.Status)

	_, err = repo.Update(ctx, "missing", session.Update{CurrentRound: session.Ptr(1)}, 0)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSessionRepository_UpdateVersionCheck(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepository(db, testLogger())

	require.NoError(t, repo.Create(ctx, newSession("s1", "host")))

	_, err := repo.Update(ctx, "s1", session.Update{Topic: session.Ptr("first")}, 1)
	require.NoError(t, err)

	_, err = repo.Update(ctx, "s1", session.Update{Topic: session.Ptr("stale")}, 1)
	require.ErrorIs(t, err, repository.ErrConflict)

	loaded, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "first", loaded.Topic)
	require.Equal(t, int64(2), loaded.Version)
}

func TestSessionRepository_Delete(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepository(db, testLogger())

	require.NoError(t, repo.Create(ctx, newSession("s1", "host")))
	require.NoError(t, repo.Delete(ctx, "s1", 0))
	require.ErrorIs(t, repo.Delete(ctx, "s1", 0), repository.ErrNotFound)

	_, err := repo.Get(ctx, "s1")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSessionRepository_Queries(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepository(db, testLogger())

	require.NoError(t, repo.Create(ctx, newSession("s1", "alice", "bob")))
	require.NoError(t, repo.Create(ctx, newSession("s2", "alice", "carol")))
	require.NoError(t, repo.Create(ctx, newSession("s3", "dave", "bob")))

	done := time.Now().Add(-48 * time.Hour)
	_, err := repo.Update(ctx, "s3", session.Update{
		Status:      session.Ptr(session.StatusCompleted),
		CompletedAt: &done,
	}, 0)
	require.NoError(t, err)

	byHost, err := repo.ListByHost(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, byHost, 2)

	byParticipant, err := repo.ListByParticipant(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, byParticipant, 2)
	ids := []string{byParticipant[0].ID, byParticipant[1].ID}
	require.ElementsMatch(t, []string{"s1", "s3"}, ids)

	waiting, err := repo.ListByStatus(ctx, session.StatusWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 2)

	old, err := repo.ListCompletedBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"s3"}, old)

	recent, err := repo.ListCompletedBefore(ctx, time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	require.Empty(t, recent)
}

func TestSessionRepository_SubscribeSeesUpdatesAndDeletion(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepository(db, testLogger())

	require.NoError(t, repo.Create(ctx, newSession("s1", "host")))

	var mu sync.Mutex
	var seen []*session.Session
	cancel := repo.Subscribe("s1", func(s *session.Session) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer cancel()
	require.Equal(t, 1, repo.Subscribers("s1"))

	_, err := repo.Update(ctx, "s1", session.Update{CurrentRound: session.Ptr(1)}, 0)
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, "s1", 0))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, seen[0])
	require.Equal(t, int64(2), seen[0].Version)
	require.Nil(t, seen[1])

	cancel()
	require.Equal(t, 0, repo.Subscribers("s1"))
}

func TestSessionRepository_DeleteAtVersion(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepository(db, testLogger())

	require.NoError(t, repo.Create(ctx, newSession("s1", "host")))
	_, err := repo.Update(ctx, "s1", session.Update{CurrentRound: session.Ptr(1)}, 1)
	require.NoError(t, err)

	require.ErrorIs(t, repo.Delete(ctx, "s1", 1), repository.ErrConflict)
	_, err = repo.Get(ctx, "s1")
	require.NoError(t, err, "stale delete leaves the document")

	require.NoError(t, repo.Delete(ctx, "s1", 2))
	require.ErrorIs(t, repo.Delete(ctx, "s1", 2), repository.ErrNotFound)
}

func TestSessionRepository_SubscribersSeeVersionsInOrder(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewSessionRepository(db, testLogger())
	require.NoError(t, repo.Create(ctx, newSession("s1", "host")))

	var mu sync.Mutex
	var versions []int64
	cancel := repo.Subscribe("s1", func(s *session.Session) {
		mu.Lock()
		defer mu.Unlock()
		versions = append(versions, s.Version)
	})
	defer cancel()

	const writers = 10
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, "s1", session.Update{CurrentRound: session.Ptr(i)}, 0)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(versions) == writers
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(versions); i++ {
		require.Greater(t, versions[i], versions[i-1])
	}
}
