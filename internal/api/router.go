package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/booking-engine/internal/booking"
)

type RouterConfig struct {
	Service *booking.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/bookings", bookHandler(cfg.Service))
	r.Post("/waitlist", joinWaitlistHandler(cfg.Service))

	r.Route("/appointments/{uuid}", func(r chi.Router) {
		r.Get("/", getAppointmentHandler(cfg.Service))
		r.Get("/history", historyHandler(cfg.Service))
		r.Post("/confirm", confirmHandler(cfg.Service))
		r.Post("/start", startHandler(cfg.Service))
		r.Post("/cancel", cancelHandler(cfg.Service))
		r.Post("/reschedule", rescheduleHandler(cfg.Service))
		r.Post("/complete", completeHandler(cfg.Service))
		r.Post("/no-show", noShowHandler(cfg.Service))
	})

	r.Get("/clients/{id}/appointments", listClientAppointmentsHandler(cfg.Service))

	return r
}
