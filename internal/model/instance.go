package model

import (
	"database/sql"
	"time"

	"gowa-hub/database"
)

// Instance mirrors one row of the instances table: the durable record of a
// session, alongside the in-memory registry state.
type Instance struct {
	ID          int64
	InstanceID  string
	PhoneNumber sql.NullString
	JID         sql.NullString
	Status      string
	IsConnected bool
	LastError   sql.NullString

	QRCode      sql.NullString
	QRExpiresAt sql.NullTime

	CreatedAt        time.Time
	ConnectedAt      sql.NullTime
	DisconnectedAt   sql.NullTime
	LastSeen         sql.NullTime
	SessionData      []byte
	SessionUpdatedAt sql.NullTime
}

// InstanceResp is the flattened JSON shape handlers return.
type InstanceResp struct {
	ID          int64     `json:"id"`
	InstanceID  string    `json:"instanceId"`
	PhoneNumber string    `json:"phoneNumber"`
	JID         string    `json:"jid"`
	Status      string    `json:"status"`
	IsConnected bool      `json:"isConnected"`
	LastError   string    `json:"lastError,omitempty"`
	QRCode      string    `json:"qrCode,omitempty"`
	QRExpiresAt time.Time `json:"qrExpiresAt,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ConnectedAt time.Time `json:"connectedAt,omitempty"`
	LastSeen    time.Time `json:"lastSeen,omitempty"`
	Registered  bool      `json:"registered"` // live supervisor in the registry
}

const instanceColumns = `
        id, instance_id, phone_number, jid, status, is_connected, last_error,
        qr_code, qr_expires_at, created_at, connected_at, disconnected_at,
        last_seen, session_data, session_updated_at`

func scanInstance(row interface{ Scan(...any) error }) (*Instance, error) {
	inst := &Instance{}
	err := row.Scan(
		&inst.ID,
		&inst.InstanceID,
		&inst.PhoneNumber,
		&inst.JID,
		&inst.Status,
		&inst.IsConnected,
		&inst.LastError,
		&inst.QRCode,
		&inst.QRExpiresAt,
		&inst.CreatedAt,
		&inst.ConnectedAt,
		&inst.DisconnectedAt,
		&inst.LastSeen,
		&inst.SessionData,
		&inst.SessionUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// InsertInstance creates the durable record for a new instance. Re-starting
// an existing instance keeps the old row.
func InsertInstance(instanceID string) error {
	query := `
        INSERT INTO instances (instance_id, status, is_connected, created_at)
        VALUES ($1, 'initializing', false, NOW())
        ON CONFLICT (instance_id) DO NOTHING`
	_, err := database.AppDB.Exec(query, instanceID)
	return err
}

func GetInstanceByInstanceID(instanceID string) (*Instance, error) {
	query := `SELECT` + instanceColumns + ` FROM instances WHERE instance_id = $1 LIMIT 1`
	return scanInstance(database.AppDB.QueryRow(query, instanceID))
}

func GetAllInstances() ([]Instance, error) {
	query := `SELECT` + instanceColumns + ` FROM instances ORDER BY created_at DESC`
	rows, err := database.AppDB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// GetResumableInstances returns instances that still hold a credential and
// were not terminated on purpose, so the gateway can bring them back up at
// boot.
func GetResumableInstances() ([]Instance, error) {
	query := `SELECT` + instanceColumns + `
        FROM instances
        WHERE session_data IS NOT NULL
          AND status NOT IN ('logged_out', 'terminated')
        ORDER BY created_at`
	rows, err := database.AppDB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// UpdateInstanceState mirrors a supervisor state change onto the row.
func UpdateInstanceState(instanceID, status string, connected bool, lastError string) error {
	query := `
        UPDATE instances
        SET status = $1,
            is_connected = $2,
            last_error = NULLIF($3, ''),
            connected_at = CASE WHEN $2 THEN NOW() ELSE connected_at END,
            disconnected_at = CASE WHEN $2 THEN disconnected_at ELSE NOW() END,
            last_seen = CASE WHEN $2 THEN NOW() ELSE last_seen END
        WHERE instance_id = $4`
	_, err := database.AppDB.Exec(query, status, connected, lastError, instanceID)
	return err
}

// UpdateInstanceOnConnected records the bound phone identity once known.
func UpdateInstanceOnConnected(instanceID, jid, phoneNumber string) error {
	query := `
        UPDATE instances
        SET jid = $1, phone_number = $2, status = 'connected', is_connected = true,
            connected_at = NOW(), last_seen = NOW(), qr_code = NULL, qr_expires_at = NULL
        WHERE instance_id = $3`
	_, err := database.AppDB.Exec(query, jid, phoneNumber, instanceID)
	return err
}

// UpdateInstanceQR stores the latest pairing challenge for dashboard polling.
func UpdateInstanceQR(instanceID, qr string, expiresAt time.Time) error {
	query := `
        UPDATE instances
        SET qr_code = $1, qr_expires_at = $2, status = 'pairing'
        WHERE instance_id = $3`
	_, err := database.AppDB.Exec(query, qr, expiresAt, instanceID)
	return err
}

func DeleteInstanceByInstanceID(instanceID string) error {
	_, err := database.AppDB.Exec(`DELETE FROM instances WHERE instance_id = $1`, instanceID)
	return err
}

// ToResponse flattens nullable columns into the API shape.
func ToResponse(inst Instance) InstanceResp {
	resp := InstanceResp{
		ID:          inst.ID,
		InstanceID:  inst.InstanceID,
		Status:      inst.Status,
		IsConnected: inst.IsConnected,
		CreatedAt:   inst.CreatedAt,
	}
	if inst.PhoneNumber.Valid {
		resp.PhoneNumber = inst.PhoneNumber.String
	}
	if inst.JID.Valid {
		resp.JID = inst.JID.String
	}
	if inst.LastError.Valid {
		resp.LastError = inst.LastError.String
	}
	if inst.QRCode.Valid {
		resp.QRCode = inst.QRCode.String
	}
	if inst.QRExpiresAt.Valid {
		resp.QRExpiresAt = inst.QRExpiresAt.Time
	}
	if inst.ConnectedAt.Valid {
		resp.ConnectedAt = inst.ConnectedAt.Time
	}
	if inst.LastSeen.Valid {
		resp.LastSeen = inst.LastSeen.Time
	}
	return resp
}
