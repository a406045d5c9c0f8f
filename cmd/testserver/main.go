// testserver starts an xxfunc API server with an in-memory store and a stub
// executor, for poking at the HTTP surface by hand.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seantiz/xxfunc/internal/api"
	"github.com/seantiz/xxfunc/internal/engine"
	"github.com/seantiz/xxfunc/internal/executor"
	"github.com/seantiz/xxfunc/internal/launcher"
	"github.com/seantiz/xxfunc/internal/store"
)

// stubExecutor pretends to run a module: it waits, logs the argument and
// succeeds. Deployed binaries never have to be real executables.
func stubExecutor(logger *slog.Logger, delay time.Duration) executor.Executor {
	return executor.ExecutorFunc(func(ctx context.Context, path string, arg []byte) error {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		logger.Info("stub execution", "path", path, "arg", string(arg))
		return nil
	})
}

func main() {
	addr := ":3000"
	if v := os.Getenv("XXFUNC_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	dir, err := os.MkdirTemp("", "xxfunc-modules-")
	if err != nil {
		log.Fatalf("failed to create module directory: %v", err)
	}
	defer os.RemoveAll(dir)

	cache, err := launcher.NewModuleCache(dir, db)
	if err != nil {
		log.Fatalf("failed to prepare module directory: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	eng, err := engine.New(stubExecutor(logger, 500*time.Millisecond),
		engine.WithWorkers(4),
		engine.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}
	defer eng.Close()

	l := launcher.New(db, cache, eng, launcher.NewStatusBroker(), logger)
	srv := api.NewServer(addr, db, l, eng, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("testserver: starting", "addr", addr, "module_dir", dir)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
