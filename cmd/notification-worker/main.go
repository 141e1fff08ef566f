package main

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/hackgods/clinic-flow/internal/app"
	"github.com/hackgods/clinic-flow/internal/config"
	"github.com/hackgods/clinic-flow/internal/logger"
	"github.com/hackgods/clinic-flow/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("dev", "notification-worker")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, "notification-worker")
	log.Info().
		Str("redis", cfg.RedisAddr).
		Int("concurrency", cfg.WorkerConcurrency).
		Msg("notification-worker starting up")

	srv := asynq.NewServer(
		app.RedisOpt(cfg),
		asynq.Config{
			Concurrency:     cfg.WorkerConcurrency,
			Queues:          notify.Queues,
			ShutdownTimeout: cfg.ShutdownTimeout,
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				log.Error().Err(err).Str("type", task.Type()).Msg("task failed")
			}),
		},
	)

	mux := asynq.NewServeMux()
	notify.NewHandler(notify.LogSender{Logger: log}, log).Register(mux)

	// Run blocks until SIGTERM or SIGINT.
	if err := srv.Run(mux); err != nil {
		log.Fatal().Err(err).Msg("asynq server failed")
	}
}
