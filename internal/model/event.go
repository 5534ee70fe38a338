package model

import (
	"encoding/json"
	"time"

	"gowa-hub/database"
	"gowa-hub/internal/core"
	"gowa-hub/internal/helper"

	"github.com/rs/zerolog"
)

// InsertEvent appends one dispatched event to the events table. The
// (instance_id, seq) unique index makes replays after a crash harmless.
func InsertEvent(ev *core.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO events (instance_id, seq, kind, payload, received_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (instance_id, seq) DO NOTHING`
	_, err = database.AppDB.Exec(query, ev.InstanceID, ev.Seq, string(ev.Kind), payload, ev.ReceivedAt)
	return err
}

// GetEvents returns an instance's events from seq onward, oldest first.
// Limit defaults to 100 and is capped at 1000.
func GetEvents(instanceID string, fromSeq uint64, limit int) ([]core.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	query := `
        SELECT instance_id, seq, kind, payload, received_at
        FROM events
        WHERE instance_id = $1 AND seq >= $2
        ORDER BY seq
        LIMIT $3`
	rows, err := database.AppDB.Query(query, instanceID, fromSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Event
	for rows.Next() {
		var ev core.Event
		var kind string
		var payload []byte
		if err := rows.Scan(&ev.InstanceID, &ev.Seq, &kind, &payload, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		ev.Kind = core.EventKind(kind)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// EventSink is the persistence consumer: every dispatched event lands in the
// events table, and connection/pairing events are mirrored onto the instance
// row so the DB view matches the live registry.
type EventSink struct {
	log zerolog.Logger
}

func NewEventSink(log zerolog.Logger) *EventSink {
	return &EventSink{log: log.With().Str("component", "event-sink").Logger()}
}

func (s *EventSink) Name() string { return "persistence" }

func (s *EventSink) Consume(ev *core.Event) {
	if err := InsertEvent(ev); err != nil {
		s.log.Error().Err(err).Str("instance_id", ev.InstanceID).Uint64("seq", ev.Seq).
			Msg("failed to persist event")
	}

	switch ev.Kind {
	case core.KindConnection:
		s.mirrorConnection(ev)
	case core.KindPairing:
		s.mirrorPairing(ev)
	}
}

func (s *EventSink) mirrorConnection(ev *core.Event) {
	status, _ := ev.Payload["status"].(string)
	if status == "" {
		return
	}
	var err error
	if status == "online" {
		jid, _ := ev.Payload["jid"].(string)
		err = UpdateInstanceOnConnected(ev.InstanceID, jid, helper.ExtractPhoneFromJID(jid))
	} else {
		lastErr, _ := ev.Payload["error"].(string)
		err = UpdateInstanceState(ev.InstanceID, status, false, lastErr)
	}
	if err != nil {
		s.log.Error().Err(err).Str("instance_id", ev.InstanceID).Str("status", status).
			Msg("failed to mirror connection state")
	}
}

func (s *EventSink) mirrorPairing(ev *core.Event) {
	status, _ := ev.Payload["status"].(string)
	if status != "challenge" {
		return
	}
	code, _ := ev.Payload["code"].(string)
	expiresAt, _ := ev.Payload["expires_at"].(time.Time)
	if err := UpdateInstanceQR(ev.InstanceID, code, expiresAt); err != nil {
		s.log.Error().Err(err).Str("instance_id", ev.InstanceID).Msg("failed to store pairing challenge")
	}
}
