// Package httpapi serves the aggregator's read side to browsers: REST
// queries for charts and cards, a server-sent-events stream for live
// refresh, and the operational endpoints (health, readiness, metrics).
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"floorsight/services/dashboard/internal/aggregator"
)

const defaultRateLimit = 300

// Config controls runtime behaviour for the HTTP layer.
type Config struct {
	AllowedOrigins []string

	// RateLimit is the per-client request budget per minute.
	RateLimit int
}

// API wires the aggregator and configuration for HTTP handlers.
type API struct {
	agg    *aggregator.Aggregator
	config Config
}

// New initialises the API layer with defaults applied to the provided
// configuration.
func New(agg *aggregator.Aggregator, cfg Config) (*API, error) {
	if agg == nil {
		return nil, errors.New("aggregator is required")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	return &API{agg: agg, config: cfg}, nil
}

// Routes constructs the chi router containing all endpoints.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	allowed := a.config.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))
	r.Use(httprate.Limit(a.config.RateLimit, time.Minute))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		r.Method("GET", "/metrics", promhttp.Handler())

		r.Route("/v1", func(r chi.Router) {
			r.Get("/overview", a.handleOverview)
			r.Get("/machines", a.handleMachines)
			r.Get("/machines/{machineID}", a.handleMachine)
			r.Get("/machines/{machineID}/history", a.handleHistory)
			r.Get("/machines/{machineID}/markers", a.handleMarkers)
			r.Get("/activity", a.handleActivity)
			r.Delete("/activity", a.handleClearActivity)
			r.Get("/queue", a.handleQueue)
		})
	})

	// The event stream stays open indefinitely, so it lives outside the
	// request timeout group.
	r.Get("/sse/state", a.handleSSE)

	return r
}
