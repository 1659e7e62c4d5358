package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/dualwrite/internal/infrastructure/config"
	"github.com/cassiomorais/dualwrite/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/dualwrite/internal/middleware"
	"github.com/cassiomorais/dualwrite/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterDeps struct {
	AccountService *service.AccountService
	HealthChecks   []HealthCheck
	Metrics        *observability.Metrics
	CORSConfig     config.CORSConfig
	// RateLimit caps API writes per client IP per minute; zero disables it.
	RateLimit int

	// MetricsHandler serves /metrics; promhttp.Handler() when nil.
	MetricsHandler http.Handler
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}

	healthH := NewHealthController(deps.HealthChecks...)
	accountH := NewAccountController(deps.AccountService)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		if deps.RateLimit > 0 {
			r.Use(customMW.RateLimit(deps.RateLimit, time.Minute))
		}
		r.Post("/accounts", accountH.Create)
		r.Get("/accounts/{id}", accountH.Get)
		r.Post("/accounts/{id}/deposits", accountH.Deposit)
	})

	return r
}
