package participant

import (
	"errors"
	"fmt"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/repository"
)

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return session.ErrSessionNotFound
	}
	return fmt.Errorf("loading session: %w", err)
}
