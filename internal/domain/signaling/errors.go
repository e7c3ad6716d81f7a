package signaling

import "errors"

var (
	// ErrInvalidMessage indicates a malformed signaling message.
	ErrInvalidMessage = errors.New("invalid signaling message")
	// ErrClosed indicates the relay no longer accepts subscriptions.
	ErrClosed = errors.New("signaling relay closed")
)
