package wa

import (
	"context"
	"fmt"

	"gowa-hub/internal/core"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Factory builds protocol clients backed by the shared whatsmeow device
// container. The credential blob is the device JID; whatsmeow keeps the
// actual key material in its own store, so resuming a session means looking
// the device back up by JID.
type Factory struct {
	container *sqlstore.Container
	log       zerolog.Logger
}

func NewFactory(container *sqlstore.Container, log zerolog.Logger) *Factory {
	return &Factory{container: container, log: log}
}

// NewClient implements core.ClientFactory.
func (f *Factory) NewClient(ctx context.Context, instanceID string, cred *core.Credential) (core.ProtocolClient, error) {
	var device *store.Device

	if cred != nil && len(cred.Blob) > 0 {
		jid, err := types.ParseJID(string(cred.Blob))
		if err != nil {
			return nil, fmt.Errorf("stored credential for %s is not a valid JID: %w", instanceID, err)
		}
		device, err = f.container.GetDevice(ctx, jid)
		if err != nil {
			return nil, fmt.Errorf("load device %s: %w", jid, err)
		}
		if device == nil {
			// Credential points at a device whatsmeow no longer has;
			// fall through to a fresh device and re-pair.
			f.log.Warn().Str("instance_id", instanceID).Str("jid", jid.String()).
				Msg("stored device missing from container, pairing required")
		}
	}
	if device == nil {
		device = f.container.NewDevice()
	}

	clog := f.log.With().Str("instance_id", instanceID).Logger()
	wm := whatsmeow.NewClient(device, waLog.Zerolog(clog))
	return newClient(wm, clog), nil
}
