package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/feed"
	"github.com/imtompeel/swiftToHear-sub002/internal/repository"
)

var _ session.Repository = (*SessionRepository)(nil)

// SessionRepository stores session documents and notifies subscribers of changes.
// Writes are serialized so subscribers see versions in commit order.
type SessionRepository struct {
	db  *DB
	hub *feed.Hub[*session.Session]

	writeMu sync.Mutex
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *DB, logger *slog.Logger) *SessionRepository {
	return &SessionRepository{
		db:  db,
		hub: feed.NewHub[*session.Session](0, logger),
	}
}

// Create stores a new session document
func (r *SessionRepository) Create(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return repository.ErrInvalidInput
	}
	if sess.Version == 0 {
		sess.Version = 1
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	query := `
		INSERT INTO sessions (
			id, host_id, status, session_type, version, doc,
			created_at, updated_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	_, err = r.db.ExecContext(ctx, query,
		sess.ID,
		sess.HostID,
		sess.Status,
		sess.Type,
		sess.Version,
		string(doc),
		toUnix(sess.CreatedAt),
		toUnix(now),
		completedAt(sess),
	)
	if err != nil {
		if isPrimaryKeyViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.hub.Publish(sess.ID, sess.Clone())
	return nil
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT doc, version FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// Update replaces the fields named by upd. A positive expectedVersion must match the
// stored version or the write fails with repository.ErrConflict.
func (r *SessionRepository) Update(ctx context.Context, id string, upd session.Update, expectedVersion int64) (*session.Session, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sess, err := scanSession(tx.QueryRowContext(ctx, `SELECT doc, version FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if expectedVersion > 0 && sess.Version != expectedVersion {
		return nil, repository.ErrConflict
	}

	stored := sess.Version
	upd.Apply(sess)
	sess.Version = stored + 1

	doc, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	query := `
		UPDATE sessions
		SET status = ?, version = ?, doc = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND version = ?
	`
	result, err := tx.ExecContext(ctx, query,
		sess.Status,
		sess.Version,
		string(doc),
		toUnix(time.Now()),
		completedAt(sess),
		id,
		stored,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, repository.ErrConflict
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit session update: %w", err)
	}

	r.hub.Publish(id, sess.Clone())
	return sess, nil
}

// Delete removes a session. A positive expectedVersion must match the stored version
// or the delete fails with repository.ErrConflict.
func (r *SessionRepository) Delete(ctx context.Context, id string, expectedVersion int64) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	query := `DELETE FROM sessions WHERE id = ?`
	args := []any{id}
	if expectedVersion > 0 {
		query += ` AND version = ?`
		args = append(args, expectedVersion)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		if expectedVersion > 0 {
			var exists int
			err := r.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&exists)
			if err == nil {
				return repository.ErrConflict
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to check session: %w", err)
			}
		}
		return repository.ErrNotFound
	}

	r.hub.Publish(id, nil)
	return nil
}

// ListByStatus lists sessions with the given status, oldest first
func (r *SessionRepository) ListByStatus(ctx context.Context, status session.Status) ([]session.Session, error) {
	return r.list(ctx, `SELECT doc, version FROM sessions WHERE status = ? ORDER BY created_at`, status)
}

// ListByHost lists sessions hosted by hostID, oldest first
func (r *SessionRepository) ListByHost(ctx context.Context, hostID string) ([]session.Session, error) {
	return r.list(ctx, `SELECT doc, version FROM sessions WHERE host_id = ? ORDER BY created_at`, hostID)
}

// ListByParticipant lists sessions whose participants include participantID
func (r *SessionRepository) ListByParticipant(ctx context.Context, participantID string) ([]session.Session, error) {
	query := `
		SELECT doc, version FROM sessions
		WHERE EXISTS (
			SELECT 1 FROM json_each(sessions.doc, '$.participants') AS p
			WHERE json_extract(p.value, '$.id') = ?
		)
		ORDER BY created_at
	`
	return r.list(ctx, query, participantID)
}

// ListCompletedBefore returns ids of sessions completed before cutoff
func (r *SessionRepository) ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE status = 'completed' AND completed_at IS NOT NULL AND completed_at < ?`,
		toUnix(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Subscribe calls fn after every write to the session and with nil after deletion
func (r *SessionRepository) Subscribe(id string, fn func(*session.Session)) func() {
	return r.hub.Subscribe(id, fn)
}

// Subscribers reports live subscriptions for a session
func (r *SessionRepository) Subscribers(id string) int {
	return r.hub.Count(id)
}

// Close releases every subscription
func (r *SessionRepository) Close() {
	r.hub.Close()
}

func (r *SessionRepository) list(ctx context.Context, query string, args ...any) ([]session.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*session.Session, error) {
	var doc string
	var version int64
	if err := row.Scan(&doc, &version); err != nil {
		return nil, err
	}
	var sess session.Session
	if err := json.Unmarshal([]byte(doc), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	sess.Version = version
	return &sess, nil
}

func completedAt(sess *session.Session) any {
	if sess.CompletedAt == nil {
		return nil
	}
	return toUnix(*sess.CompletedAt)
}
