package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExists is returned when a second realtime connection arrives
	// for a session id that already has a live router. Duplicates are
	// rejected instead of replaced so the first connection's upstream
	// sockets are never silently orphaned.
	ErrSessionExists = errors.New("session already registered")

	// ErrSessionNotFound is a registry lookup miss.
	ErrSessionNotFound = errors.New("session not found")

	// ErrAvatarUnavailable marks a failed or absent avatar-renderer
	// connection. The session continues with lip-sync disabled.
	ErrAvatarUnavailable = errors.New("avatar renderer unavailable")
)

// UpstreamConnectError reports a failed handshake with the speech-model
// endpoint. It is fatal for session setup and never retried automatically:
// silently redialing a realtime voice session would desynchronize turn state.
type UpstreamConnectError struct {
	Upstream string
	Err      error
}

func (e *UpstreamConnectError) Error() string {
	return fmt.Sprintf("connect %s upstream: %v", e.Upstream, e.Err)
}

func (e *UpstreamConnectError) Unwrap() error { return e.Err }
