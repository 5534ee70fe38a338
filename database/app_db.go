package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

var AppDB *sql.DB

// InitAppDB opens the application database holding instances, events and
// webhook configuration (separate from the whatsmeow device store).
func InitAppDB(dbURL string, log zerolog.Logger) error {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("open app db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping app db: %w", err)
	}
	AppDB = db
	log.Info().Msg("app db ready")
	return nil
}
