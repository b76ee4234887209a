// cmd/worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"note-queue-service/internal/app"
	"note-queue-service/internal/config"
	"note-queue-service/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		panic(err)
	}
	logger := logging.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build worker")
	}
	defer a.Close()

	if cfg.RedisAddr == "" {
		logger.Warn().Dur("idle_delay", cfg.WorkerIdleDelay).Msg("REDIS_ADDR not set, idle slots poll the store instead of waiting on the doorbell")
	}

	logger.Info().
		Int("workers", cfg.Workers).
		Str("store", cfg.StoreDriver).
		Str("database_url", redactDSN(cfg.DatabaseURL)).
		Str("redis_addr", cfg.RedisAddr).
		Str("ai_provider", cfg.AIProvider).
		Bool("auto_retry", cfg.AutoRetry).
		Dur("stale_after", cfg.StaleAfter).
		Msg("worker started")

	// the reaper fails jobs whose worker died mid-flight so they can be retried
	pool := a.NewPool()
	reaper := a.NewReaper()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool.Run(gctx)
		return nil
	})
	g.Go(func() error {
		reaper.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker stopped with error")
		return
	}
	logger.Info().Msg("worker stopped")
}

// redactDSN masks the password of a URL-style DSN: user:pass@ -> user:****@.
// DSNs without a password are returned unchanged.
func redactDSN(dsn string) string {
	re := regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)
	return re.ReplaceAllString(dsn, `://$1:****@`)
}
