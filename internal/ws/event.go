package ws

import "time"

// Event names shared between backend and frontend. The frontend switches
// on the Event field and casts Data to the matching payload shape.
const (
	EventSessionStatusChanged = "SESSION_STATUS_CHANGED"
	EventPairingChallenge     = "PAIRING_CHALLENGE"
	EventPairingSuccess       = "PAIRING_SUCCESS"
	EventPairingTimeout       = "PAIRING_TIMEOUT"
	EventPairingFailed        = "PAIRING_FAILED"
	EventMessageReceived      = "MESSAGE_RECEIVED"
	EventPresenceUpdate       = "PRESENCE_UPDATE"
)

// WsEvent is the envelope for every message pushed over the WebSocket.
type WsEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SessionStatusData is sent whenever a session's connection state changes.
type SessionStatusData struct {
	InstanceID string `json:"instance_id"`
	Status     string `json:"status"`
	Seq        uint64 `json:"seq"`
	Reason     string `json:"reason,omitempty"`
}

// PairingChallengeData is sent when a new pairing code is ready to scan.
type PairingChallengeData struct {
	InstanceID string    `json:"instance_id"`
	Code       string    `json:"code"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SessionEventData wraps protocol events (messages, presence) for an
// instance without committing to a per-type schema on the wire.
type SessionEventData struct {
	InstanceID string                 `json:"instance_id"`
	Seq        uint64                 `json:"seq"`
	Payload    map[string]interface{} `json:"payload"`
}
