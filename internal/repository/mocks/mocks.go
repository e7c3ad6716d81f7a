package mocks

import (
	"context"
	"time"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signaling"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signup"
	"github.com/stretchr/testify/mock"
)

// SessionRepository is a mock for session.Repository.
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) Create(ctx context.Context, sess *session.Session) error {
	args := m.Called(ctx, sess)
	return args.Error(0)
}

func (m *SessionRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	args := m.Called(ctx, id)
	if sess, ok := args.Get(0).(*session.Session); ok {
		return sess.Clone(), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) Update(ctx context.Context, id string, upd session.Update, expectedVersion int64) (*session.Session, error) {
	args := m.Called(ctx, id, upd, expectedVersion)
	if sess, ok := args.Get(0).(*session.Session); ok {
		return sess, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) Delete(ctx context.Context, id string, expectedVersion int64) error {
	args := m.Called(ctx, id, expectedVersion)
	return args.Error(0)
}

func (m *SessionRepository) ListByStatus(ctx context.Context, status session.Status) ([]session.Session, error) {
	args := m.Called(ctx, status)
	if list, ok := args.Get(0).([]session.Session); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) ListByHost(ctx context.Context, hostID string) ([]session.Session, error) {
	args := m.Called(ctx, hostID)
	if list, ok := args.Get(0).([]session.Session); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) ListByParticipant(ctx context.Context, participantID string) ([]session.Session, error) {
	args := m.Called(ctx, participantID)
	if list, ok := args.Get(0).([]session.Session); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	args := m.Called(ctx, cutoff)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SessionRepository) Subscribe(id string, fn func(*session.Session)) func() {
	args := m.Called(id, fn)
	if cancel, ok := args.Get(0).(func()); ok {
		return cancel
	}
	return func() {}
}

// SignalingPurger is a mock for session.SignalingPurger.
type SignalingPurger struct {
	mock.Mock
}

func (m *SignalingPurger) Cleanup(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

// SignalingRepository is a mock for signaling.Repository.
type SignalingRepository struct {
	mock.Mock
}

func (m *SignalingRepository) Append(ctx context.Context, msg *signaling.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *SignalingRepository) ListLive(ctx context.Context, sessionID string, afterSeq int64, now time.Time, limit int) ([]signaling.Message, error) {
	args := m.Called(ctx, sessionID, afterSeq, now, limit)
	if list, ok := args.Get(0).([]signaling.Message); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SignalingRepository) LatestSeq(ctx context.Context, sessionID string) (int64, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *SignalingRepository) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	args := m.Called(ctx, sessionID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *SignalingRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *SignalingRepository) Watch(sessionID string, fn func()) func() {
	args := m.Called(sessionID, fn)
	if cancel, ok := args.Get(0).(func()); ok {
		return cancel
	}
	return func() {}
}

// EmailRepository is a mock for signup.Repository.
type EmailRepository struct {
	mock.Mock
}

func (m *EmailRepository) Create(ctx context.Context, email string) (*signup.Email, error) {
	args := m.Called(ctx, email)
	if e, ok := args.Get(0).(*signup.Email); ok {
		return e, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *EmailRepository) List(ctx context.Context) ([]signup.Email, error) {
	args := m.Called(ctx)
	if list, ok := args.Get(0).([]signup.Email); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}
