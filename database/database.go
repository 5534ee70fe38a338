package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

var Container *sqlstore.Container

// InitWhatsmeow opens the device store used by whatsmeow for key material
// and runs its migrations.
func InitWhatsmeow(ctx context.Context, dbURL string, log zerolog.Logger) error {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("open whatsmeow db: %w", err)
	}

	Container = sqlstore.NewWithDB(db, "postgres", waLog.Zerolog(log))
	if err := Container.Upgrade(ctx); err != nil {
		return fmt.Errorf("upgrade whatsmeow schema: %w", err)
	}

	log.Info().Msg("whatsmeow device store ready")
	return nil
}
