package core

import "errors"

var (
	// ErrSessionNotActive - a viewer tried to join a session with no live host.
	ErrSessionNotActive = errors.New("session not active")

	// ErrBridgeUnavailable - the AI endpoint could not be reached; the room
	// keeps running without it.
	ErrBridgeUnavailable = errors.New("ai bridge unavailable")

	// ErrRelayTargetMissing - relay referenced a session with no registry
	// entry, usually a race with a host disconnect.
	ErrRelayTargetMissing = errors.New("relay target missing")

	// ErrHandoffFailure - the issue job could not be enqueued.
	ErrHandoffFailure = errors.New("issue hand-off failed")
)
