package mesh

import "errors"

var (
	// ErrSessionFull indicates every peer slot of the session is taken.
	ErrSessionFull = errors.New("no free peer slot")

	// ErrMediaUnavailable indicates local media could not be acquired.
	ErrMediaUnavailable = errors.New("media unavailable")

	// ErrConnectionFailed indicates a peer link could not be negotiated or kept alive.
	ErrConnectionFailed = errors.New("peer connection failed")

	// ErrClosed indicates the manager has already left the session.
	ErrClosed = errors.New("mesh manager closed")
)
