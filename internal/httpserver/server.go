// Package httpserver exposes the read-only topic query surface plus the
// operator's enqueue-by-username endpoint over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"log/slog"

	"github.com/ashgrove/topicwatch/internal/social"
	"github.com/ashgrove/topicwatch/internal/store"
)

// Store is the subset of *store.Store the query surface reads and writes.
type Store interface {
	ListTopics(ctx context.Context) ([]store.Topic, error)
	UsersForTopic(ctx context.Context, topicName string) ([]store.UserTopic, error)
	TopicsForUser(ctx context.Context, userID string) ([]store.UserTopic, error)
	UpsertUser(ctx context.Context, u store.User) error
	DeclareUserTopic(ctx context.Context, userID, topicName string) error
}

// Server holds the HTTP server's dependencies and routes.
type Server struct {
	Router  *chi.Mux
	Logger  *slog.Logger
	DB      *pgxpool.Pool
	Redis   *redis.Client
	Store   Store
	Posts   social.Port
	Metrics *prometheus.Registry
}

// Config holds server-level settings unrelated to its dependencies.
type Config struct {
	CORSAllowedOrigins []string
}

// NewServer creates an HTTP server with middleware, health endpoints, and
// the topic query surface mounted.
func NewServer(cfg Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client, st Store, posts social.Port, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		Router:  chi.NewRouter(),
		Logger:  logger,
		DB:      db,
		Redis:   rdb,
		Store:   st,
		Posts:   posts,
		Metrics: metricsReg,
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Get("/topics", s.handleListTopics)
	s.Router.Get("/topics/{name}/users", s.handleUsersForTopic)
	s.Router.Get("/users/{id}/topics", s.handleTopicsForUser)
	s.Router.Post("/users", s.handleEnqueueUser)
	s.Router.Post("/users/{id}/topics", s.handleDeclareTopic)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("readiness check: database ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "database not ready")
		return
	}

	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("readiness check: redis ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "redis not ready")
		return
	}

	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}
