package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emaihada/yoonha/internal/config"
	"github.com/emaihada/yoonha/internal/homepage"
	"github.com/emaihada/yoonha/internal/live"
	"github.com/emaihada/yoonha/internal/logging"
	"github.com/emaihada/yoonha/internal/server"
	"github.com/emaihada/yoonha/internal/session"
	"github.com/emaihada/yoonha/internal/storage"
	"github.com/emaihada/yoonha/internal/storage/memory"
	"github.com/emaihada/yoonha/internal/storage/postgres"
	"github.com/emaihada/yoonha/internal/uploads"
)

// threadBatchWait is how long the thread loader collects keys before one
// batched comments read.
const threadBatchWait = 2 * time.Millisecond

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	storageType := flag.String("storage", "memory", "storage backend: memory or postgres")
	port := flag.String("addr", "", "listen port, overrides server.port")
	dsn := flag.String("dsn", "", "postgres DSN, overrides postgres.dsn")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dsn != "" {
		cfg.Postgres.DSN = *dsn
	}

	logger := logging.New(os.Stdout, cfg.Log.Level)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *storageType, logger); err != nil {
		logger.Error(ctx, "server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, storageType string, logger logging.Logger) error {
	var store storage.Storage
	switch storageType {
	case "postgres":
		logger.Info(ctx, "using postgres storage")
		pg, err := postgres.New(ctx, cfg.Postgres.DSN, logger)
		if err != nil {
			return fmt.Errorf("init postgres: %w", err)
		}
		store = pg
	case "memory":
		logger.Info(ctx, "using memory storage")
		store = memory.New()
	default:
		return fmt.Errorf("unknown storage type %q", storageType)
	}
	defer store.Close()

	changes, err := store.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch store: %w", err)
	}
	hub := live.NewHub(logger, cfg.Timeouts.Operation)
	defer hub.Close()
	go hub.Run(ctx, changes)

	var uploader homepage.Uploader
	if cfg.UploadsEnabled() {
		p, err := uploads.New(ctx, cfg.S3)
		if err != nil {
			return fmt.Errorf("init uploads: %w", err)
		}
		uploader = p
	} else {
		logger.Info(ctx, "image uploads disabled: s3 is not configured")
	}
	if len(cfg.Auth.Admins) == 0 {
		logger.Warn(ctx, "no admin accounts configured")
	}

	svc := homepage.New(homepage.Options{
		Store:    store,
		Hub:      hub,
		Threads:  live.NewThreadLoader(store, threadBatchWait),
		Auth:     session.NewAuthority(cfg.Auth),
		Uploader: uploader,
		Timeout:  cfg.Timeouts.Operation,
		Logger:   logger,
	})

	return server.New(cfg, svc, logger).Run(ctx)
}
