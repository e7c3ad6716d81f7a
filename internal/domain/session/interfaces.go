package session

import (
	"context"
	"time"
)

// Repository provides persistence and change notification for session documents.
type Repository interface {
	Create(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// Update replaces the fields named by upd. When expectedVersion is positive the
	// write only succeeds if the stored version still matches.
	Update(ctx context.Context, id string, upd Update, expectedVersion int64) (*Session, error)
	// Delete removes the document. A positive expectedVersion makes it conditional like Update.
	Delete(ctx context.Context, id string, expectedVersion int64) error
	ListByStatus(ctx context.Context, status Status) ([]Session, error)
	ListByHost(ctx context.Context, hostID string) ([]Session, error)
	ListByParticipant(ctx context.Context, participantID string) ([]Session, error)
	ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	// Subscribe calls fn with the new document after every write and with nil after deletion.
	Subscribe(id string, fn func(*Session)) (unsubscribe func())
}

// SignalingPurger removes all signaling traffic of a session.
type SignalingPurger interface {
	Cleanup(ctx context.Context, sessionID string) error
}
