package core

import (
	"context"
	"time"
)

// Credential is the opaque authentication material that lets a session resume
// without re-pairing. The blob's contents belong to the protocol layer; the
// core only stores and hands it back.
type Credential struct {
	InstanceID string
	Blob       []byte
	UpdatedAt  time.Time
}

// CredentialStore persists per-instance credentials. Implementations must be
// safe for concurrent use across instances; writes for one instance are
// last-writer-wins.
type CredentialStore interface {
	// LoadCredential returns ErrNoCredential when nothing is stored.
	LoadCredential(ctx context.Context, instanceID string) (*Credential, error)
	SaveCredential(ctx context.Context, cred *Credential) error
	DeleteCredential(ctx context.Context, instanceID string) error
}
