package mcp

import (
	"errors"
	"fmt"

	"github.com/imtompeel/swiftToHear-sub002/internal/domain/session"
	"github.com/imtompeel/swiftToHear-sub002/internal/domain/signaling"
)

// Error codes returned to intent callers.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeNotAuthorized     = "NOT_AUTHORIZED"
	CodeSessionFull       = "SESSION_FULL"
	CodeRoleUnavailable   = "ROLE_UNAVAILABLE"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeConflict          = "CONFLICT"
	CodeInternal          = "INTERNAL"
)

// APIError represents an intent error response.
type APIError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Details      any    `json:"details,omitempty"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) CodeValue() string {
	return e.Code
}

func (e *APIError) MessageValue() string {
	return e.Message
}

func (e *APIError) DetailsValue() any {
	return e.Details
}

func (e *APIError) RecoveryHintValue() string {
	return e.RecoveryHint
}

// MapError maps domain errors to API error codes. Unknown errors map to nil.
func MapError(err error) *APIError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return &APIError{Code: CodeNotFound, Message: "session not found", RecoveryHint: "Check the session id or create a new session"}
	case errors.Is(err, session.ErrParticipantNotFound):
		return &APIError{Code: CodeNotFound, Message: "participant not found", RecoveryHint: "Join the session first"}
	case errors.Is(err, session.ErrNotAuthorized):
		return &APIError{Code: CodeNotAuthorized, Message: "not authorized", RecoveryHint: "Only the host can do this"}
	case errors.Is(err, session.ErrSessionFull):
		return &APIError{Code: CodeSessionFull, Message: "session is full"}
	case errors.Is(err, session.ErrRoleUnavailable):
		return &APIError{Code: CodeRoleUnavailable, Message: "role unavailable", RecoveryHint: "Call availableRoles and pick a free role"}
	case errors.Is(err, session.ErrNotEnoughParticipants):
		return &APIError{Code: CodeInvalidTransition, Message: "not enough participants", RecoveryHint: "Wait for more participants to join"}
	case errors.Is(err, session.ErrSessionCompleted):
		return &APIError{Code: CodeInvalidTransition, Message: "session completed"}
	case errors.Is(err, session.ErrInvalidTransition):
		return &APIError{Code: CodeInvalidTransition, Message: "invalid phase transition", RecoveryHint: "Reload the session and check currentPhase"}
	case errors.Is(err, session.ErrInvalidInput), errors.Is(err, signaling.ErrInvalidMessage):
		return &APIError{Code: CodeInvalidInput, Message: err.Error()}
	case errors.Is(err, session.ErrConflict):
		return &APIError{Code: CodeConflict, Message: "session modified concurrently", RecoveryHint: "Retry the action"}
	default:
		return nil
	}
}
