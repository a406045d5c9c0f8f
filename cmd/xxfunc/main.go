package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/xxfunc/internal/api"
	"github.com/seantiz/xxfunc/internal/config"
	"github.com/seantiz/xxfunc/internal/engine"
	"github.com/seantiz/xxfunc/internal/executor"
	"github.com/seantiz/xxfunc/internal/feed"
	"github.com/seantiz/xxfunc/internal/launcher"
	"github.com/seantiz/xxfunc/internal/store"
	"github.com/seantiz/xxfunc/internal/tracing"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	logger.Info("xxfunc: starting",
		"version", version,
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"module_dir", cfg.ModuleDir,
		"feed_url", cfg.FeedURL,
	)

	if cfg.Tracing {
		if err := tracing.Init("xxfunc", version, cfg.TraceFile); err != nil {
			log.Fatalf("failed to initialize tracing: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracing.Shutdown(ctx); err != nil {
				logger.Error("tracing shutdown", "error", err)
			}
		}()
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	cache, err := launcher.NewModuleCache(cfg.ModuleDir, db)
	if err != nil {
		log.Fatalf("failed to prepare module directory: %v", err)
	}

	eng, err := engine.New(
		&executor.Process{Stdout: os.Stdout, Stderr: os.Stderr, Timeout: cfg.ExecTimeout},
		engine.WithWorkers(cfg.Workers),
		engine.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}

	l := launcher.New(db, cache, eng, launcher.NewStatusBroker(), logger)
	srv := api.NewServer(cfg.ListenAddr, db, l, eng, logger, api.WithMaxUploadBytes(cfg.MaxUploadBytes))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if cfg.FeedURL != "" {
		src, err := feed.NewWebSocketSource(cfg.FeedURL, feed.WithLogger(logger))
		if err != nil {
			log.Fatalf("invalid feed: %v", err)
		}
		g.Go(func() error {
			return l.Run(gctx, src)
		})
	}

	runErr := g.Wait()

	// Running executions finish; queued ones are recorded as abandoned.
	eng.Close()
	l.Wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("xxfunc: stopped with error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("xxfunc: stopped")
}
