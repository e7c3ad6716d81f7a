package session

import "errors"

var (
	// ErrSessionNotFound indicates the session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrParticipantNotFound indicates the participant is not a member of the session.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrNotAuthorized indicates the caller may not perform the action.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrSessionFull indicates the session has reached its capacity.
	ErrSessionFull = errors.New("session is full")
	// ErrRoleUnavailable indicates the role is held by another participant.
	ErrRoleUnavailable = errors.New("role unavailable")
	// ErrInvalidTransition indicates the session is not in a phase that allows the action.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrNotEnoughParticipants indicates the session cannot start below minParticipants.
	ErrNotEnoughParticipants = errors.New("not enough participants")
	// ErrSessionCompleted indicates the session no longer accepts changes.
	ErrSessionCompleted = errors.New("session completed")
	// ErrInvalidInput indicates invalid session input.
	ErrInvalidInput = errors.New("invalid session input")
	// ErrConflict indicates concurrent writers kept winning the version check.
	ErrConflict = errors.New("session modified concurrently")
)
