package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signaling"
	"github.com/imtompeel/swiftToHear-sub002/internal/feed"
	"github.com/imtompeel/swiftToHear-sub002/internal/repository"
)

var _ signaling.Repository = (*SignalingRepository)(nil)

// SignalingRepository stores signaling messages and announces appends per session.
type SignalingRepository struct {
	db  *DB
	hub *feed.Hub[struct{}]
}

// NewSignalingRepository creates a new SignalingRepository
func NewSignalingRepository(db *DB, logger *slog.Logger) *SignalingRepository {
	return &SignalingRepository{
		db:  db,
		hub: feed.NewHub[struct{}](0, logger),
	}
}

// Append stores a message and assigns its sequence number
func (r *SignalingRepository) Append(ctx context.Context, msg *signaling.Message) error {
	if msg == nil || msg.ID == "" || msg.SessionID == "" {
		return repository.ErrInvalidInput
	}

	query := `
		INSERT INTO signaling_messages (
			id, session_id, type, from_id, to_id, data, timestamp, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	var data any
	if len(msg.Data) > 0 {
		data = string(msg.Data)
	}
	result, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.SessionID,
		msg.Type,
		msg.From,
		nullString(msg.To),
		data,
		toUnix(msg.Timestamp),
		toUnix(msg.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to append signaling message: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read message sequence: %w", err)
	}
	msg.Seq = seq

	r.hub.Publish(msg.SessionID, struct{}{})
	return nil
}

// ListLive returns one page of unexpired messages after afterSeq in sequence order
func (r *SignalingRepository) ListLive(ctx context.Context, sessionID string, afterSeq int64, now time.Time, limit int) ([]signaling.Message, error) {
	query := `
		SELECT seq, id, session_id, type, from_id, to_id, data, timestamp, expires_at
		FROM signaling_messages
		WHERE session_id = ? AND seq > ? AND expires_at > ?
		ORDER BY seq ASC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID, afterSeq, toUnix(now), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list signaling messages: %w", err)
	}
	defer rows.Close()

	var out []signaling.Message
	for rows.Next() {
		var m signaling.Message
		var to, data sql.NullString
		var ts, exp int64
		if err := rows.Scan(&m.Seq, &m.ID, &m.SessionID, &m.Type, &m.From, &to, &data, &ts, &exp); err != nil {
			return nil, fmt.Errorf("failed to scan signaling message: %w", err)
		}
		m.To = to.String
		if data.Valid {
			m.Data = []byte(data.String)
		}
		m.Timestamp = fromUnix(ts)
		m.ExpiresAt = fromUnix(exp)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate signaling messages: %w", err)
	}
	return out, nil
}

// LatestSeq returns the highest sequence number stored for the session
func (r *SignalingRepository) LatestSeq(ctx context.Context, sessionID string) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM signaling_messages WHERE session_id = ?`, sessionID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest sequence: %w", err)
	}
	return seq, nil
}

// DeleteBySession removes every message of a session
func (r *SignalingRepository) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	return r.delete(ctx, `DELETE FROM signaling_messages WHERE session_id = ?`, sessionID)
}

// DeleteExpired removes messages that expired before the given time
func (r *SignalingRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return r.delete(ctx, `DELETE FROM signaling_messages WHERE expires_at < ?`, toUnix(before))
}

// Watch calls fn after every append to the session
func (r *SignalingRepository) Watch(sessionID string, fn func()) func() {
	return r.hub.Subscribe(sessionID, func(struct{}) { fn() })
}

// Close releases every watcher
func (r *SignalingRepository) Close() {
	r.hub.Close()
}

func (r *SignalingRepository) delete(ctx context.Context, query string, arg any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, arg)
	if err != nil {
		return 0, fmt.Errorf("failed to delete signaling messages: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
