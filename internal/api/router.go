// Package api exposes the recommender over HTTP using the chi router.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"movierec/internal/domain"
	"movierec/internal/logging"
	"movierec/internal/service"
)

// Recommender is the query side used by the handlers.
type Recommender interface {
	Recommend(ctx context.Context, query string, k int) ([]service.Recommendation, error)
	Similar(ctx context.Context, id int64, k int) ([]service.Recommendation, error)
}

// Config holds the request limits of the API.
type Config struct {
	DefaultCount int
	MaxCount     int
	// RateLimit is the number of requests per minute allowed per client IP.
	// Zero disables rate limiting.
	RateLimit    int
	QueryTimeout time.Duration
}

// Server holds the handlers and their dependencies.
type Server struct {
	recommender Recommender
	store       domain.CorpusStore
	cfg         Config
	validate    *validator.Validate
	log         zerolog.Logger
}

// NewServer creates the API server. store is only used for health checks.
func NewServer(rec Recommender, store domain.CorpusStore, cfg Config) *Server {
	if cfg.DefaultCount < 1 {
		cfg.DefaultCount = 10
	}
	if cfg.MaxCount < cfg.DefaultCount {
		cfg.MaxCount = cfg.DefaultCount
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	return &Server{
		recommender: rec,
		store:       store,
		cfg:         cfg,
		validate:    validator.New(),
		log:         logging.Component("api"),
	}
}

// Handler builds the chi router with the global middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
		}
		r.Use(s.requestLogging)
		r.Use(prometheusMetrics)

		r.Get("/recommend/{feature}", s.Recommend)
		r.Get("/recommend/{feature}/{count}", s.Recommend)
		r.Get("/similar/{id}", s.Similar)
		r.Get("/similar/{id}/{count}", s.Similar)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})
	return r
}
