package handler

import (
	"github.com/rs/zerolog"

	"gowa-hub/internal/core"
)

// Package-level dependencies, set once at startup by Init.
var (
	reg *core.Registry
	log zerolog.Logger
)

func Init(registry *core.Registry, logger zerolog.Logger) {
	reg = registry
	log = logger.With().Str("component", "handler").Logger()
}
