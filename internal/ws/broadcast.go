package ws

import (
	"time"

	"gowa-hub/internal/core"
)

// Broadcaster translates session events into WebSocket frames for the hub.
// It is registered as an event consumer per session; dispatch order within
// a session is preserved because the dispatcher drains each consumer on a
// single goroutine.
type Broadcaster struct {
	hub *Hub
}

func NewBroadcaster(hub *Hub) *Broadcaster {
	return &Broadcaster{hub: hub}
}

func (b *Broadcaster) Name() string { return "broadcast" }

func (b *Broadcaster) Consume(ev *core.Event) {
	switch ev.Kind {
	case core.KindConnection:
		b.hub.Publish(WsEvent{
			Event:     EventSessionStatusChanged,
			Timestamp: ev.ReceivedAt,
			Data: SessionStatusData{
				InstanceID: ev.InstanceID,
				Status:     payloadString(ev.Payload, "status"),
				Seq:        ev.Seq,
				Reason:     payloadString(ev.Payload, "error"),
			},
		})
	case core.KindPairing:
		b.hub.Publish(pairingEvent(ev))
	case core.KindMessage:
		b.hub.Publish(WsEvent{
			Event:     EventMessageReceived,
			Timestamp: ev.ReceivedAt,
			Data: SessionEventData{
				InstanceID: ev.InstanceID,
				Seq:        ev.Seq,
				Payload:    ev.Payload,
			},
		})
	case core.KindPresence:
		b.hub.Publish(WsEvent{
			Event:     EventPresenceUpdate,
			Timestamp: ev.ReceivedAt,
			Data: SessionEventData{
				InstanceID: ev.InstanceID,
				Seq:        ev.Seq,
				Payload:    ev.Payload,
			},
		})
	}
	// KindCredentials stays internal; credential material never goes
	// over the client-facing socket.
}

func pairingEvent(ev *core.Event) WsEvent {
	status := payloadString(ev.Payload, "status")
	switch status {
	case "challenge":
		expires := ev.ReceivedAt
		if t, ok := ev.Payload["expires_at"].(time.Time); ok {
			expires = t
		}
		return WsEvent{
			Event:     EventPairingChallenge,
			Timestamp: ev.ReceivedAt,
			Data: PairingChallengeData{
				InstanceID: ev.InstanceID,
				Code:       payloadString(ev.Payload, "code"),
				ExpiresAt:  expires,
			},
		}
	case "paired":
		return WsEvent{
			Event:     EventPairingSuccess,
			Timestamp: ev.ReceivedAt,
			Data:      SessionStatusData{InstanceID: ev.InstanceID, Status: status, Seq: ev.Seq},
		}
	case "timeout":
		return WsEvent{
			Event:     EventPairingTimeout,
			Timestamp: ev.ReceivedAt,
			Data:      SessionStatusData{InstanceID: ev.InstanceID, Status: status, Seq: ev.Seq},
		}
	default:
		return WsEvent{
			Event:     EventPairingFailed,
			Timestamp: ev.ReceivedAt,
			Data: SessionStatusData{
				InstanceID: ev.InstanceID,
				Status:     status,
				Seq:        ev.Seq,
				Reason:     payloadString(ev.Payload, "error"),
			},
		}
	}
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}
