package model

import (
	"context"
	"database/sql"
	"errors"

	"gowa-hub/database"
	"gowa-hub/internal/core"
)

// CredentialStore implements core.CredentialStore on the instances table.
// The blob rides in session_data; last-writer-wins per instance, which is
// fine because credential updates for one session arrive in event order.
type CredentialStore struct{}

func (CredentialStore) LoadCredential(ctx context.Context, instanceID string) (*core.Credential, error) {
	query := `SELECT session_data, session_updated_at FROM instances WHERE instance_id = $1`

	var blob []byte
	var updatedAt sql.NullTime
	err := database.AppDB.QueryRowContext(ctx, query, instanceID).Scan(&blob, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNoCredential
	}
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, core.ErrNoCredential
	}

	cred := &core.Credential{InstanceID: instanceID, Blob: blob}
	if updatedAt.Valid {
		cred.UpdatedAt = updatedAt.Time
	}
	return cred, nil
}

func (CredentialStore) SaveCredential(ctx context.Context, cred *core.Credential) error {
	query := `
        INSERT INTO instances (instance_id, status, is_connected, created_at, jid, session_data, session_updated_at)
        VALUES ($1, 'initializing', false, NOW(), $2, $3, $4)
        ON CONFLICT (instance_id) DO UPDATE
        SET session_data = EXCLUDED.session_data,
            session_updated_at = EXCLUDED.session_updated_at,
            jid = EXCLUDED.jid`
	_, err := database.AppDB.ExecContext(ctx, query,
		cred.InstanceID, string(cred.Blob), cred.Blob, cred.UpdatedAt)
	return err
}

func (CredentialStore) DeleteCredential(ctx context.Context, instanceID string) error {
	query := `
        UPDATE instances
        SET session_data = NULL, session_updated_at = NOW()
        WHERE instance_id = $1`
	_, err := database.AppDB.ExecContext(ctx, query, instanceID)
	return err
}
