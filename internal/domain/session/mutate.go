package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/imtompeel/swiftToHear-sub002/internal/repository"
)

// MaxMutateAttempts bounds the read-check-write retries of Mutate.
const MaxMutateAttempts = 5

// MutateFunc inspects a private copy of the current session and returns the fields to
// write. A nil or empty update skips the write; an error aborts without writing.
type MutateFunc func(current *Session) (*Update, error)

// Mutate loads the session, lets fn check its preconditions and build an update, and
// writes it conditioned on the version that was read. When another writer got there
// first the whole sequence is repeated, so preconditions are always re-checked
// against the state the write lands on.
func Mutate(ctx context.Context, repo Repository, id string, fn MutateFunc) (*Session, error) {
	for attempt := 0; attempt < MaxMutateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current, err := repo.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrSessionNotFound
			}
			return nil, fmt.Errorf("loading session: %w", err)
		}

		upd, err := fn(current.Clone())
		if err != nil {
			return nil, err
		}
		if upd == nil || upd.Empty() {
			return current, nil
		}

		updated, err := repo.Update(ctx, id, *upd, current.Version)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, repository.ErrConflict):
			continue
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrSessionNotFound
		default:
			return nil, fmt.Errorf("updating session: %w", err)
		}
	}
	return nil, ErrConflict
}
