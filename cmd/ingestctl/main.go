package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/markdave123-py/contexta-ingest/internal/app"
	"github.com/markdave123-py/contexta-ingest/internal/config"
	"github.com/markdave123-py/contexta-ingest/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(openPipeline)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openPipeline builds the same pipeline the API server runs, from the
// environment.
func openPipeline(ctx context.Context, verbose bool) (pipeline, func(), error) {
	cfg := config.LoadConfig()
	mode := cfg.LogMode
	if verbose {
		mode = "development"
	}
	log, err := logger.New(mode)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("detail", w))
	}

	a, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, err
	}
	return a.Ingestor, func() {
		a.Close()
		_ = log.Sync()
	}, nil
}
