package helper

import (
	"fmt"

	"gowa-hub/database"
)

// InitAppSchema creates or ensures the application tables. Run with the
// --createschema flag; the whatsmeow store migrates itself separately.
func InitAppSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS instances (
			id                  SERIAL PRIMARY KEY,
			instance_id         VARCHAR(255)  NOT NULL UNIQUE,
			phone_number        VARCHAR(25),
			jid                 VARCHAR(255),

			status              VARCHAR(20)   NOT NULL DEFAULT 'initializing',
			is_connected        BOOLEAN       NOT NULL DEFAULT FALSE,
			last_error          TEXT,

			qr_code             TEXT,
			qr_expires_at       TIMESTAMP(6) WITH TIME ZONE,

			created_at          TIMESTAMP(6) WITH TIME ZONE NOT NULL DEFAULT NOW(),
			connected_at        TIMESTAMP(6) WITH TIME ZONE,
			disconnected_at     TIMESTAMP(6) WITH TIME ZONE,
			last_seen           TIMESTAMP(6) WITH TIME ZONE,

			session_data        BYTEA,
			session_updated_at  TIMESTAMP(6) WITH TIME ZONE
		);

		CREATE INDEX IF NOT EXISTS idx_instances_instance_id ON instances(instance_id);
		CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status);

		CREATE TABLE IF NOT EXISTS events (
			id           BIGSERIAL PRIMARY KEY,
			instance_id  VARCHAR(255) NOT NULL,
			seq          BIGINT       NOT NULL,
			kind         VARCHAR(30)  NOT NULL,
			payload      JSONB,
			received_at  TIMESTAMP(6) WITH TIME ZONE NOT NULL,

			UNIQUE (instance_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_events_instance_seq ON events(instance_id, seq);

		CREATE TABLE IF NOT EXISTS webhooks (
			instance_id  VARCHAR(255) PRIMARY KEY,
			url          TEXT         NOT NULL,
			secret       TEXT         NOT NULL DEFAULT '',
			events       TEXT         NOT NULL DEFAULT '',
			enabled      BOOLEAN      NOT NULL DEFAULT TRUE,
			updated_at   TIMESTAMP(6) WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS webhook_failures (
			id           BIGSERIAL PRIMARY KEY,
			instance_id  VARCHAR(255) NOT NULL,
			seq          BIGINT       NOT NULL,
			kind         VARCHAR(30)  NOT NULL,
			url          TEXT         NOT NULL,
			attempts     INT          NOT NULL,
			last_error   TEXT,
			failed_at    TIMESTAMP(6) WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_webhook_failures_instance ON webhook_failures(instance_id);
`
	if _, err := database.AppDB.Exec(schema); err != nil {
		return fmt.Errorf("init app schema: %w", err)
	}
	return nil
}
