package logger

import (
	"strings"

	"go.uber.org/zap"
)

// New returns a zap logger for the given mode. "prod"/"production" yields
// JSON output at info level, anything else the human-readable development
// config at debug level.
func New(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}
