package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-flow/internal/app"
	"github.com/hackgods/clinic-flow/internal/config"
	"github.com/hackgods/clinic-flow/internal/logger"
	"github.com/hackgods/clinic-flow/internal/visit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("dev", "reminder-worker")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, "reminder-worker")
	log.Info().
		Dur("interval", cfg.WorkerInterval).
		Dur("window", cfg.ReminderWindow).
		Msg("reminder-worker starting up")

	if !cfg.UsesPostgres() {
		log.Warn().Msg("memory store has no appointments shared with the api-server; reminders will be empty")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(rootCtx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	// Run once at startup
	runOnce(rootCtx, a.Workflow, cfg.ReminderWindow, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Workflow, cfg.ReminderWindow, log)
		}
	}
}

func runOnce(ctx context.Context, wf *visit.Workflow, window time.Duration, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	sent, err := wf.SendReminders(runCtx, window)
	if err != nil {
		log.Error().Err(err).Msg("reminder run error")
		return
	}
	log.Info().Int("sent", sent).Dur("took", time.Since(start)).Msg("reminder run complete")
}
