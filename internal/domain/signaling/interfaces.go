package signaling

import (
	"context"
	"time"
)

// Repository stores signaling messages per session and announces appends.
type Repository interface {
	// Append stores msg and assigns its Seq.
	Append(ctx context.Context, msg *Message) error
	// ListLive returns messages of the session with Seq > afterSeq and ExpiresAt > now,
	// in Seq order, at most limit rows.
	ListLive(ctx context.Context, sessionID string, afterSeq int64, now time.Time, limit int) ([]Message, error)
	// LatestSeq returns the highest Seq stored for the session, or 0.
	LatestSeq(ctx context.Context, sessionID string) (int64, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
	// Watch calls fn after every append to the session. The returned func stops it.
	Watch(sessionID string, fn func()) (cancel func())
}
