// Package app builds the service graph shared by the binaries from Config.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-flow/internal/appointment"
	"github.com/hackgods/clinic-flow/internal/clock"
	"github.com/hackgods/clinic-flow/internal/config"
	"github.com/hackgods/clinic-flow/internal/db"
	"github.com/hackgods/clinic-flow/internal/lock"
	"github.com/hackgods/clinic-flow/internal/notify"
	"github.com/hackgods/clinic-flow/internal/queue"
	redisclient "github.com/hackgods/clinic-flow/internal/redis"
	"github.com/hackgods/clinic-flow/internal/triage"
	"github.com/hackgods/clinic-flow/internal/visit"
)

type App struct {
	Workflow *visit.Workflow
	PgPool   *pgxpool.Pool
	Redis    *redis.Client

	// Memory is set for the memory backend so callers can load clinics.
	Memory *appointment.MemoryRepository

	asynqClient *asynq.Client
	closers     []func()
}

// RedisOpt is the asynq connection for the configured Redis.
func RedisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{}
	clk := clock.Real()

	if cfg.UsesPostgres() {
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		cancel()
		if err != nil {
			return nil, err
		}
		a.PgPool = pool
		a.closers = append(a.closers, pool.Close)
		logger.Info().Msg("connected to Postgres")

		if err := db.Migrate(ctx, pool, logger); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	if cfg.UsesRedis() {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
		a.closers = append(a.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		})
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.LockBackend == config.LockRedis {
		locker = lock.NewRetrying(redisclient.NewRedisLocker(a.Redis, cfg.LockTTL), cfg.LockRetryAttempts, cfg.LockRetryBackoff)
	}

	var dispatcher notify.Dispatcher = notify.NewLogDispatcher(logger)
	if cfg.NotifyBackend == config.NotifyAsynq {
		a.asynqClient = asynq.NewClient(RedisOpt(cfg))
		a.closers = append(a.closers, func() { _ = a.asynqClient.Close() })
		dispatcher = notify.NewAsynqDispatcher(a.asynqClient, logger)
	}

	var (
		apptRepo   appointment.Repository
		directory  appointment.Directory
		triageRepo triage.Repository
		queueRepo  queue.Repository
	)
	if a.PgPool != nil {
		pg := appointment.NewPgRepository(a.PgPool)
		apptRepo, directory = pg, pg
		triageRepo = triage.NewPgRepository(a.PgPool)
		queueRepo = queue.NewPgRepository(a.PgPool)
	} else {
		mem := appointment.NewMemoryRepository()
		a.Memory = mem
		apptRepo, directory = mem, mem
		triageRepo = triage.NewMemoryRepository()
		queueRepo = queue.NewMemoryRepository()
	}

	a.Workflow = visit.NewWorkflow(
		appointment.NewService(apptRepo, directory, locker, clk, logger),
		triage.NewService(triageRepo, clk, logger),
		queue.NewManager(queueRepo, locker, clk, logger, cfg.DefaultAverageWait),
		dispatcher, clk, logger,
	)
	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
