package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/markdave123-py/contexta-ingest/internal/core"
)

//go:embed scripts/initdb.sql scripts/sqlite_init.sql
var bootstrapFS embed.FS

const schemaVersion = 1

// EnsureBootstrapped applies the Postgres schema when contexta_meta does
// not record schemaVersion, then checks that the chunk table's vector column
// has the configured width.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, dim int, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	version, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if version < schemaVersion {
		logger.Info("applying database schema",
			zap.Int("from_version", version),
			zap.Int("to_version", schemaVersion),
			zap.Int("embedding_dim", dim))
		if err := runBootstrap(ctx, db, dim); err != nil {
			return err
		}
	} else {
		logger.Debug("database schema already present", zap.Int("version", version))
	}
	return checkVectorWidth(ctx, db, dim)
}

// currentVersion is 0 on a database that was never bootstrapped.
func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('contexta_meta') IS NOT NULL`).Scan(&exists); err != nil {
		return 0, fmt.Errorf("meta table check failed: %w", err)
	}
	if !exists {
		return 0, nil
	}
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM contexta_meta`).Scan(&v); err != nil {
		return 0, fmt.Errorf("meta version check failed: %w", err)
	}
	return int(v.Int64), nil
}

// checkVectorWidth compares the declared vector(n) width with dim. pgvector
// stores n as the column's type modifier.
func checkVectorWidth(ctx context.Context, db *sql.DB, dim int) error {
	var width int
	err := db.QueryRowContext(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = 'document_chunks'::regclass AND attname = 'embedding'`).Scan(&width)
	if err != nil {
		return fmt.Errorf("read embedding column width: %w", err)
	}
	if width != dim {
		return fmt.Errorf("document_chunks.embedding was created for another model: %w",
			core.NewDimensionError(dim, width, -1))
	}
	return nil
}

func runBootstrap(ctx context.Context, db *sql.DB, dim int) error {
	script, err := loadScript("scripts/initdb.sql", dim)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}

// loadScript reads an embedded schema file and fills in the vector width.
func loadScript(name string, dim int) (string, error) {
	b, err := bootstrapFS.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return strings.ReplaceAll(string(b), "{{EMBED_DIM}}", strconv.Itoa(dim)), nil
}
