package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signup"
	"github.com/imtompeel/swiftToHear-sub002/internal/repository"
)

var _ signup.Repository = (*EmailRepository)(nil)

// EmailRepository stores mailing list entries
type EmailRepository struct {
	db *DB
}

// NewEmailRepository creates a new EmailRepository
func NewEmailRepository(db *DB) *EmailRepository {
	return &EmailRepository{db: db}
}

// Create inserts an address; duplicates fail with repository.ErrConflict
func (r *EmailRepository) Create(ctx context.Context, email string) (*signup.Email, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO emails (email, created_at) VALUES (?, ?)`, email, toUnix(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("failed to insert email: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read email id: %w", err)
	}
	return &signup.Email{ID: id, Email: email, CreatedAt: now}, nil
}

// List returns every entry, newest first
func (r *EmailRepository) List(ctx context.Context) ([]signup.Email, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, email, created_at FROM emails ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	defer rows.Close()

	out := []signup.Email{}
	for rows.Next() {
		var e signup.Email
		var created int64
		if err := rows.Scan(&e.ID, &e.Email, &created); err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		e.CreatedAt = fromUnix(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
