// @title Note Queue API
// @version 1.0
// @description Priority job queue for AI note generation.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"note-queue-service/internal/app"
	"note-queue-service/internal/config"
	"note-queue-service/internal/logging"
	httptransport "note-queue-service/internal/transport/http"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build app")
	}
	defer a.Close()

	h := httptransport.NewHandler(a.Jobs, a.Facade, cfg.FacadeTimeout, logger)
	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: httptransport.Routes(h, httptransport.RouteConfig{
			JWTSecret:       cfg.JWTSecret,
			CORSOrigins:     cfg.CORSOrigins,
			RateLimitPerMin: cfg.RateLimitPerMin,
			Log:             logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Str("feed", cfg.FeedBackend).Msg("API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	for _, run := range a.FeedRunners() {
		run := run
		g.Go(func() error { return run(gctx) })
	}

	if cfg.EmbeddedWorkers {
		pool := a.NewPool()
		reaper := a.NewReaper()
		g.Go(func() error {
			pool.Run(gctx)
			return nil
		})
		g.Go(func() error {
			reaper.Run(gctx)
			return nil
		})
		logger.Info().Int("workers", cfg.Workers).Msg("embedded workers started")
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api stopped with error")
		return
	}
	logger.Info().Msg("server stopped")
}
