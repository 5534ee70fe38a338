package core

import (
	"context"
	"time"
)

// ClientEventKind classifies events coming off the transport before the
// supervisor translates them into dispatched Events.
type ClientEventKind int

const (
	ClientConnected ClientEventKind = iota
	ClientDisconnected
	ClientLoggedOut
	ClientMessage
	ClientPresence
	ClientCredentials
)

// ClientEvent is one raw event from the protocol client. The client pushes
// these into a bounded channel so a slow supervisor never blocks the
// transport's own read loop.
type ClientEvent struct {
	Kind    ClientEventKind
	JID     string
	Blob    []byte // credential blob for ClientCredentials
	Payload map[string]any
}

// PairingResult is one step of the pairing handshake. A non-empty Code is a
// fresh challenge for the caller to display. Done means the remote confirmed
// and Cred carries the credential blob to persist. Err terminates pairing.
type PairingResult struct {
	Code      string
	ExpiresAt time.Time
	Done      bool
	Cred      []byte
	Err       error
}

// ProtocolClient is the capability the core depends on: connect, send,
// receive, pair. The whatsmeow adapter implements it for production; tests
// use a scripted fake. A client instance is owned exclusively by one
// supervisor and never shared.
type ProtocolClient interface {
	// HasCredentials reports whether the client can connect without pairing.
	HasCredentials() bool

	// Connect establishes the transport and blocks until the session is
	// authenticated or ctx expires.
	Connect(ctx context.Context) error

	// Disconnect tears the transport down without invalidating credentials.
	Disconnect()

	// Logout invalidates the session on the remote side.
	Logout(ctx context.Context) error

	// Pair starts the pairing handshake and streams challenges until the
	// remote confirms, the ctx expires, or the handshake fails. The returned
	// channel is closed when pairing ends.
	Pair(ctx context.Context) (<-chan PairingResult, error)

	// SendText sends one text message and returns the server-assigned id
	// once the protocol acknowledged it.
	SendText(ctx context.Context, target, content string) (string, error)

	// Events returns the bounded inbound event channel. Closed when the
	// client is torn down.
	Events() <-chan ClientEvent
}

// TargetChecker is an optional ProtocolClient capability for verifying that
// a recipient can receive messages before one is queued.
type TargetChecker interface {
	CheckTarget(ctx context.Context, target string) (bool, error)
}

// ClientFactory builds a protocol client for an instance, resuming from the
// given credential when one exists (nil means start fresh, pairing required).
type ClientFactory func(ctx context.Context, instanceID string, cred *Credential) (ProtocolClient, error)
