// Package signup keeps the mailing list of people interested in practice sessions.
package signup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/imtompeel/swiftToHear-sub002/internal/repository"
)

var (
	// ErrInvalidEmail indicates a missing or malformed address.
	ErrInvalidEmail = errors.New("valid email is required")
	// ErrAlreadyRegistered indicates the address is already on the list.
	ErrAlreadyRegistered = errors.New("email already registered")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Email is one mailing-list entry.
type Email struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists mailing-list entries.
type Repository interface {
	Create(ctx context.Context, email string) (*Email, error)
	List(ctx context.Context) ([]Email, error)
}

// Service handles mailing-list signups.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new signup service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Signup adds email to the list.
func (s *Service) Signup(ctx context.Context, email string) (*Email, error) {
	email = strings.TrimSpace(email)
	if email == "" || !emailPattern.MatchString(email) {
		return nil, ErrInvalidEmail
	}

	entry, err := s.repo.Create(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyRegistered
		}
		return nil, fmt.Errorf("saving email: %w", err)
	}

	s.logger.Info("mailing list signup", "id", entry.ID)
	return entry, nil
}

// List returns every entry, newest first.
func (s *Service) List(ctx context.Context) ([]Email, error) {
	emails, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing emails: %w", err)
	}
	return emails, nil
}
