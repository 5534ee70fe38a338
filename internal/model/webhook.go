package model

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"gowa-hub/database"
	"gowa-hub/internal/core"

	"github.com/rs/zerolog"
)

// Webhook is one instance's delivery target as stored in the webhooks table.
type Webhook struct {
	InstanceID string    `json:"instanceId"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	Events     []string  `json:"events,omitempty"` // empty = all kinds
	Enabled    bool      `json:"enabled"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func UpsertWebhook(wh *Webhook) error {
	query := `
        INSERT INTO webhooks (instance_id, url, secret, events, enabled, updated_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        ON CONFLICT (instance_id) DO UPDATE
        SET url = EXCLUDED.url, secret = EXCLUDED.secret,
            events = EXCLUDED.events, enabled = EXCLUDED.enabled,
            updated_at = NOW()`
	_, err := database.AppDB.Exec(query,
		wh.InstanceID, wh.URL, wh.Secret, strings.Join(wh.Events, ","), wh.Enabled)
	return err
}

// GetWebhookByInstanceID returns nil when no webhook is configured.
func GetWebhookByInstanceID(instanceID string) (*Webhook, error) {
	query := `
        SELECT instance_id, url, secret, events, enabled, updated_at
        FROM webhooks WHERE instance_id = $1`

	wh := &Webhook{}
	var events string
	err := database.AppDB.QueryRow(query, instanceID).Scan(
		&wh.InstanceID, &wh.URL, &wh.Secret, &events, &wh.Enabled, &wh.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if events != "" {
		wh.Events = strings.Split(events, ",")
	}
	return wh, nil
}

func DeleteWebhook(instanceID string) error {
	_, err := database.AppDB.Exec(`DELETE FROM webhooks WHERE instance_id = $1`, instanceID)
	return err
}

// WebhookProvider implements core.WebhookConfigProvider on the webhooks table.
type WebhookProvider struct{}

func (WebhookProvider) GetWebhookConfig(ctx context.Context, instanceID string) (*core.WebhookConfig, error) {
	wh, err := GetWebhookByInstanceID(instanceID)
	if err != nil || wh == nil {
		return nil, err
	}
	cfg := &core.WebhookConfig{URL: wh.URL, Secret: wh.Secret, Enabled: wh.Enabled}
	for _, kind := range wh.Events {
		cfg.Kinds = append(cfg.Kinds, core.EventKind(kind))
	}
	return cfg, nil
}

// InsertDeliveryFailure records one exhausted webhook delivery.
func InsertDeliveryFailure(report core.DeliveryReport) error {
	query := `
        INSERT INTO webhook_failures (instance_id, seq, kind, url, attempts, last_error, failed_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())`
	_, err := database.AppDB.Exec(query,
		report.InstanceID, report.Seq, string(report.Kind), report.URL, report.Attempts, report.LastError)
	return err
}

// NewDeliveryReporter builds the core.Reporter that records exhausted
// deliveries and logs them.
func NewDeliveryReporter(log zerolog.Logger) core.Reporter {
	log = log.With().Str("component", "webhook-reporter").Logger()
	return func(report core.DeliveryReport) {
		if err := InsertDeliveryFailure(report); err != nil {
			log.Error().Err(err).Str("instance_id", report.InstanceID).Uint64("seq", report.Seq).
				Msg("failed to record exhausted delivery")
		}
	}
}
