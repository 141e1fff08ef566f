package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-flow/internal/visit"
)

type RouterConfig struct {
	Workflow  *visit.Workflow
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Logger    zerolog.Logger
	RateLimit RateLimiterConfig
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	wf := cfg.Workflow
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.RateLimit))

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", bookAppointmentHandler(wf))
			r.Get("/", listAppointmentsHandler(wf))
			r.Get("/{id}", getAppointmentHandler(wf))
			r.Get("/{id}/triage", latestTriageHandler(wf))
			r.Post("/{id}/check-in", checkInHandler(wf))
			r.Post("/{id}/reschedule", rescheduleHandler(wf))
			r.Post("/{id}/cancel", cancelHandler(wf))
			r.Post("/{id}/no-show", noShowHandler(wf))
		})

		r.Post("/triage", submitTriageHandler(wf))
		r.Get("/patients/{patientID}/triage", triageHistoryHandler(wf))

		r.Route("/clinics/{clinicID}/queue", func(r chi.Router) {
			r.Get("/", snapshotHandler(wf))
			r.Post("/", enqueueHandler(wf))
			r.Get("/position/{patientID}", positionHandler(wf))
			r.Post("/next", processNextHandler(wf))
			r.Post("/complete", completeHandler(wf))
			r.Post("/refresh", refreshHandler(wf))
		})
	})

	return r
}
