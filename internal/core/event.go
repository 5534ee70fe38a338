package core

import "time"

// EventKind classifies inbound protocol events.
type EventKind string

const (
	KindMessage     EventKind = "message"
	KindPresence    EventKind = "presence"
	KindConnection  EventKind = "connection"
	KindPairing     EventKind = "pairing"
	KindCredentials EventKind = "credentials"
)

// Event is one inbound protocol event after the dispatcher stamped it with a
// per-session sequence number. Immutable once dispatched; consumers must not
// mutate Payload.
type Event struct {
	InstanceID string         `json:"instance_id"`
	Seq        uint64         `json:"seq"`
	Kind       EventKind      `json:"kind"`
	Payload    map[string]any `json:"payload,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}
