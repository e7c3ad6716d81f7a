package sqlite

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/imtompeel/swiftToHear-sub002/internal/repository"
)

// APIKeyRepository issues and resolves admin API keys. Only key hashes are stored.
type APIKeyRepository struct {
	db *DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Issue creates a key for label and returns the plaintext token
func (r *APIKeyRepository) Issue(ctx context.Context, label string) (string, error) {
	if label == "" {
		return "", repository.ErrInvalidInput
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	token := hex.EncodeToString(raw)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, label, created_at) VALUES (?, ?, ?)`,
		hashKey(token), label, toUnix(time.Now()))
	if err != nil {
		return "", fmt.Errorf("failed to store key: %w", err)
	}
	return token, nil
}

// Resolve returns the label of the key matching token
func (r *APIKeyRepository) Resolve(ctx context.Context, token string) (string, error) {
	hash := hashKey(token)
	var label string
	err := r.db.QueryRowContext(ctx, `SELECT label FROM api_keys WHERE key_hash = ?`, hash).Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", repository.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve key: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used = ? WHERE key_hash = ?`, toUnix(time.Now()), hash); err != nil {
		return "", fmt.Errorf("failed to touch key: %w", err)
	}
	return label, nil
}

func hashKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
