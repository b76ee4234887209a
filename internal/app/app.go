// Package app builds the queue components from configuration. Both binaries
// share it so an API with embedded workers and a standalone worker agree on
// store, feed and doorbell.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"note-queue-service/internal/config"
	"note-queue-service/internal/entity"
	"note-queue-service/internal/facade"
	"note-queue-service/internal/feed"
	"note-queue-service/internal/notes"
	"note-queue-service/internal/repository"
	"note-queue-service/internal/repository/postgresql"
	"note-queue-service/internal/repository/sqlstore"
	"note-queue-service/internal/service"
	"note-queue-service/internal/subscription"
	"note-queue-service/internal/worker"
)

type App struct {
	Cfg    *config.Config
	Log    zerolog.Logger
	Store  repository.JobStore
	Broker *feed.Broker
	Bell   service.Doorbell
	Jobs   *service.JobService
	// Handlers resolves job types and facade-bound jobs for this process.
	Handlers *worker.Registry
	Facade   *facade.Facade

	pgPool  *pgxpool.Pool
	gormDB  *gorm.DB
	rdb     *redis.Client
	amqp    *feed.AMQPPublisher
	runners []func(context.Context) error
}

func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: log, Broker: feed.NewBroker(log, feed.DefaultBuffer), Handlers: worker.NewRegistry()}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, log := a.Cfg, a.Log

	if cfg.RedisAddr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	inner, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	pub, err := a.wireFeed()
	if err != nil {
		return err
	}
	a.Store = service.NewObservedStore(inner, pub, log)

	if a.rdb != nil {
		a.Bell = service.NewRedisDoorbell(a.rdb, "jobs:doorbell")
	} else {
		a.Bell = service.NewLocalDoorbell()
	}

	plans, err := a.planSource()
	if err != nil {
		return err
	}

	a.Jobs = service.NewJobService(a.Store, plans, a.Bell, a.Broker, service.Options{
		Workers:     cfg.Workers,
		MaxRetries:  cfg.DefaultMaxRetries,
		DefaultTier: entity.Tier(cfg.DefaultTier),
	}, log)

	if err := a.registerHandlers(); err != nil {
		return err
	}

	a.Facade = facade.New(a.Jobs, a.Handlers, log, facade.WithAutoRetry(cfg.AutoRetry))
	return nil
}

func (a *App) openStore(ctx context.Context) (repository.JobStore, error) {
	switch a.Cfg.StoreDriver {
	case "postgres":
		pool, err := postgresql.NewPool(ctx, a.Cfg.DatabaseURL, int32(a.Cfg.Workers+10))
		if err != nil {
			return nil, err
		}
		a.pgPool = pool
		return postgresql.NewJobRepository(pool), nil
	default:
		db, err := sqlstore.Open(a.Cfg.StoreDriver, a.Cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.gormDB = db
		return sqlstore.NewJobStore(db), nil
	}
}

// wireFeed returns what the store publishes to and registers the runners that
// deliver remote events into the local broker.
func (a *App) wireFeed() (feed.Publisher, error) {
	var pubs feed.Multi

	switch a.Cfg.FeedBackend {
	case "local":
		pubs = append(pubs, a.Broker)
	case "redis":
		pubs = append(pubs, feed.NewRedisPublisher(a.rdb, feed.DefaultRedisChannel))
		sub := feed.NewRedisSubscriber(a.rdb, feed.DefaultRedisChannel, a.Broker, a.Log)
		a.runners = append(a.runners, sub.Run)
	case "postgres":
		// the notify trigger publishes, the store does not
		l := postgresql.NewListener(a.pgPool, a.Broker, a.Log)
		a.runners = append(a.runners, l.Run)
	}

	if a.Cfg.AMQPURL != "" {
		p, err := feed.NewAMQPPublisher(a.Cfg.AMQPURL, a.Cfg.AMQPExchange)
		if err != nil {
			return nil, err
		}
		a.amqp = p
		pubs = append(pubs, p)
	}

	switch len(pubs) {
	case 0:
		return feed.Nop, nil
	case 1:
		return pubs[0], nil
	}
	return pubs, nil
}

func (a *App) planSource() (subscription.Source, error) {
	def := entity.Tier(a.Cfg.DefaultTier)
	if a.Cfg.SupabaseURL == "" {
		a.Log.Warn().Str("default_tier", string(def)).Msg("SUPABASE_URL not set, every user gets the default tier")
		return subscription.Static{Default: def}, nil
	}
	src, err := subscription.NewSupabaseSource(a.Cfg.SupabaseURL, a.Cfg.SupabaseKey)
	if err != nil {
		return nil, err
	}
	if a.rdb == nil {
		return src, nil
	}
	return subscription.NewCached(src, a.rdb, a.Cfg.PlanCacheTTL, a.Log), nil
}

func (a *App) registerHandlers() error {
	providers := notes.NewRegistry()
	providers.Register("ollama", func(model string) (notes.Generator, error) {
		return notes.NewOllamaGenerator(a.Cfg.OllamaBaseURL, model), nil
	})
	providers.Register("openrouter", func(model string) (notes.Generator, error) {
		if a.Cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("OPENROUTER_API_KEY is required for AI_PROVIDER=openrouter")
		}
		return notes.NewOpenRouterGenerator(a.Cfg.OpenRouterBaseURL, a.Cfg.OpenRouterAPIKey, model), nil
	})

	model := a.Cfg.OllamaModel
	if a.Cfg.AIProvider == "openrouter" {
		model = a.Cfg.OpenRouterModel
	}
	gen, err := providers.Get(a.Cfg.AIProvider, model)
	if err != nil {
		return err
	}

	notes.NewHandlers(gen, notes.NewFileFetcher(), notes.NewTranscriptClient(a.Cfg.TranscriptServiceURL)).Register(a.Handlers)
	return nil
}

// FeedRunners are the long-running loops that feed remote events into Broker.
func (a *App) FeedRunners() []func(context.Context) error {
	return a.runners
}

func (a *App) NewPool() *worker.Pool {
	processor := worker.NewProcessor(a.Store, a.Handlers, a.Cfg.AutoRetry, a.Log)
	return worker.NewPool(a.Store, processor, a.Bell, a.Cfg.Workers, a.Cfg.WorkerIdleDelay, a.Log)
}

func (a *App) NewReaper() *worker.Reaper {
	return worker.NewReaper(a.Store, a.Cfg.StaleAfter, a.Cfg.ReaperInterval, a.Cfg.AutoRetry, a.Log)
}

func (a *App) Close() {
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.Log.Warn().Err(err).Msg("close amqp")
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pgPool != nil {
		a.pgPool.Close()
	}
	if a.gormDB != nil {
		if sqlDB, err := a.gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
