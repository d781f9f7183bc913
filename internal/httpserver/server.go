package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/InferiaAI/depin-sidecar/internal/config"
)

// Server holds the HTTP server dependencies.
type Server struct {
	Router *chi.Mux
	Logger *slog.Logger
	Redis  *redis.Client

	credentialNames func() []string
	startedAt       time.Time
}

// NewServer creates an HTTP server with the standard middleware chain and
// the /health and /metrics endpoints. Domain handlers (RouterSurface,
// LogBridge) are mounted on Router after calling NewServer. rdb may be nil
// when REDIS_URL is unset — the delegated signer then runs without a
// signature cache (spec.md §4.1), and readiness does not check Redis.
// credentialNames reports the live registry's credential names for the
// /health payload (spec.md §4.7).
func NewServer(cfg *config.Config, logger *slog.Logger, rdb *redis.Client, metricsReg *prometheus.Registry, credentialNames func() []string) *Server {
	s := &Server{
		Router:          chi.NewRouter(),
		Logger:          logger,
		Redis:           rdb,
		credentialNames: credentialNames,
		startedAt:       time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Get("/health", s.handleHealth)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	return s
}

// handleHealthz reports bare process liveness.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports whether the sidecar can serve traffic. Redis is
// optional (without it the delegated signer does not cache signatures), so
// readiness only fails when Redis is configured and unreachable.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.Redis != nil {
		if err := s.Redis.Ping(r.Context()).Err(); err != nil {
			s.Logger.Error("readiness check: redis ping failed", "error", err)
			RespondError(w, http.StatusServiceUnavailable, "redis not ready")
			return
		}
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// healthModules is the `modules` field of the /health response (spec.md
// §4.7, §6).
type healthModules struct {
	Nosana      string   `json:"nosana"`
	Credentials []string `json:"credentials"`
}

type healthResponse struct {
	Status       string        `json:"status"`
	Modules      healthModules `json:"modules"`
	ConfigSource string        `json:"config_source"`
}

// handleHealth reports the sidecar's one health signal: whether at least
// one credential is currently resolvable. There is no database to ping —
// the sidecar holds no persisted state and reconstructs everything from
// the Network on restart (spec.md §6 "Persisted state: none").
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	names := s.credentialNames()

	status := "ok"
	nosana := "active"
	if len(names) == 0 {
		status = "degraded"
		nosana = "disabled"
	}

	Respond(w, http.StatusOK, healthResponse{
		Status: status,
		Modules: healthModules{
			Nosana:      nosana,
			Credentials: names,
		},
		ConfigSource: "env",
	})
}
