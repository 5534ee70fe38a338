package core

import "errors"

// Typed errors returned by the control surface and surfaced in snapshots.
// Handlers map these onto HTTP status codes, so they must stay stable.
var (
	// ErrAlreadyActive means a live supervisor is already registered for the instance.
	ErrAlreadyActive = errors.New("session already active")

	// ErrNotFound means no session was ever started for the instance.
	ErrNotFound = errors.New("session not found")

	// ErrSessionNotConnected means the session is not in the connected state
	// and buffering was not requested for it.
	ErrSessionNotConnected = errors.New("session not connected")

	// ErrQueueFull means the outbound buffer hit its depth bound.
	ErrQueueFull = errors.New("outbound queue full")

	// ErrDuplicateRequest means the idempotency key was already seen within
	// the dedup window. The original request keeps going, so callers should
	// treat this as success.
	ErrDuplicateRequest = errors.New("duplicate outbound request")

	// ErrPairingTimeout means no device scanned the challenge in time.
	ErrPairingTimeout = errors.New("pairing timed out")

	// ErrPairingRejected means the protocol layer refused or aborted pairing.
	ErrPairingRejected = errors.New("pairing rejected")

	// ErrTransportDisconnected is a recoverable transport drop. The supervisor
	// absorbs it and moves to reconnecting; it never propagates to callers.
	ErrTransportDisconnected = errors.New("transport disconnected")

	// ErrLoggedOut means the remote side invalidated the session. Terminal.
	ErrLoggedOut = errors.New("logged out by remote")

	// ErrReconnectExhausted means the reconnect attempt ceiling was hit. Terminal.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrDeliveryExhausted means a webhook delivery ran out of retries.
	// Reported through the delivery reporter, never affects session state.
	ErrDeliveryExhausted = errors.New("webhook delivery exhausted")

	// ErrNoCredential means the store has no credential for the instance.
	ErrNoCredential = errors.New("no stored credential")
)
