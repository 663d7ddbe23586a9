package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/markdave123-py/contexta-ingest/internal/config"
	"github.com/markdave123-py/contexta-ingest/internal/core"
)

// NewDbClient opens the store selected by DB_DRIVER.
func NewDbClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (core.DbClient, error) {
	switch cfg.DBDriver {
	case "postgres", "":
		return NewDatabaseClient(ctx, cfg, logger)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath, cfg.EmbedDim, logger)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
}
