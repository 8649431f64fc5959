package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/askdoc/askdoc/internal/api/handlers"
	"github.com/askdoc/askdoc/internal/api/middleware"
	"github.com/askdoc/askdoc/internal/auth"
	"github.com/askdoc/askdoc/internal/config"
	"github.com/askdoc/askdoc/internal/queue"
	"github.com/askdoc/askdoc/internal/rag"
	"github.com/askdoc/askdoc/internal/session"
	"github.com/askdoc/askdoc/internal/storage"
)

// Router assembles the HTTP surface over an already-constructed pipeline.
// The db, redis, and queue fields may be nil when those backends are not
// configured; the affected routes degrade rather than disappear.
type Router struct {
	mux      *chi.Mux
	cfg      *config.Config
	pipeline *rag.Pipeline
	sessions *session.Manager
	spool    storage.Storage
	queue    *queue.Client
	db       *pgxpool.Pool
	redis    *redis.Client
}

func NewRouter(cfg *config.Config, p *rag.Pipeline, sm *session.Manager, spool storage.Storage, qc *queue.Client, db *pgxpool.Pool, rdb *redis.Client) *Router {
	return &Router{
		mux:      chi.NewRouter(),
		cfg:      cfg,
		pipeline: p,
		sessions: sm,
		spool:    spool,
		queue:    qc,
		db:       db,
		redis:    rdb,
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(rt.cfg.RateLimit.RPS, rt.cfg.RateLimit.Burst)
	r.Use(rl.Limit)

	// Health and metrics endpoints (no auth)
	health := handlers.NewHealthHandler(rt.db, rt.redis, rt.pipeline)
	r.Get("/health", health.Health)
	r.Get("/health/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	apikey := auth.NewAPIKeyMiddleware(rt.cfg.Auth.APIKeyHeader, rt.cfg.Auth.APIKeys)
	sessionAuth := auth.NewSessionAuth(rt.cfg.Auth.SessionSecret)

	docH := handlers.NewDocumentHandler(rt.pipeline, rt.spool, rt.queue, rt.cfg.Ingest.MaxUploadBytes())
	askH := handlers.NewAskHandler(rt.pipeline, rt.sessions)
	sessH := handlers.NewSessionHandler(rt.sessions, rt.cfg.Auth.SessionSecret, rt.cfg.Auth.SessionTTL)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apikey.Authenticate)

		r.Route("/documents", func(r chi.Router) {
			r.Post("/", docH.Upload)
			r.Get("/active", docH.Active)
			r.Delete("/active", docH.Delete)
		})

		r.Get("/status", docH.Status)
		r.Post("/ask", askH.Ask)
		r.Post("/search", askH.Search)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessH.Create)

			// Detail routes require the token minted at creation.
			r.Group(func(r chi.Router) {
				r.Use(sessionAuth.Authenticate)
				r.Get("/{id}", sessH.Get)
				r.Get("/{id}/history", sessH.History)
				r.Delete("/{id}", sessH.Delete)
			})
		})
	})

	return r
}
