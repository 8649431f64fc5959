package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/askdoc/askdoc/internal/api"
	"github.com/askdoc/askdoc/internal/cache"
	"github.com/askdoc/askdoc/internal/config"
	"github.com/askdoc/askdoc/internal/corpus"
	"github.com/askdoc/askdoc/internal/database"
	"github.com/askdoc/askdoc/internal/embedding"
	"github.com/askdoc/askdoc/internal/llm"
	"github.com/askdoc/askdoc/internal/queue"
	"github.com/askdoc/askdoc/internal/queue/workers"
	"github.com/askdoc/askdoc/internal/rag"
	"github.com/askdoc/askdoc/internal/session"
	"github.com/askdoc/askdoc/internal/storage"
	"github.com/askdoc/askdoc/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Corpus store: Postgres when DATABASE_URL is set, SQLite otherwise.
	var (
		store corpus.Store
		db    *pgxpool.Pool
	)
	if cfg.Database.URL != "" {
		db, err = database.NewPool(ctx, cfg.Database)
		if err != nil {
			slog.Error("connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		store, err = corpus.NewPostgresStore(ctx, db)
		if err != nil {
			slog.Error("prepare postgres corpus store", "error", err)
			os.Exit(1)
		}
	} else {
		store, err = corpus.NewSQLiteStore(cfg.Ingest.DataDir)
		if err != nil {
			slog.Error("prepare sqlite corpus store", "error", err)
			os.Exit(1)
		}
	}
	defer store.Close()

	// Redis connection (optional)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable, using in-memory sessions and inline ingestion", "error", err)
			rdb.Close()
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	gateway := llm.NewGateway(cfg.LLM)
	embedder := embedding.NewService(gateway, cfg.LLM.EmbeddingModel, cfg.LLM.EmbeddingDim)
	generator := rag.NewGenerator(gateway, cfg.LLM.CompletionModel, cfg.RAG.Temperature, cfg.RAG.MaxTokens)

	pipeline, err := rag.NewPipeline(cfg, embedder, generator, store, logger)
	if err != nil {
		slog.Error("build pipeline", "error", err)
		os.Exit(1)
	}

	if err := pipeline.Restore(ctx); err != nil {
		slog.Warn("restore corpus snapshot", "error", err)
	}

	var sessStore session.Store
	if rdb != nil {
		sessStore = session.NewRedisStore(cache.NewCache(rdb), cfg.Auth.SessionTTL)
	} else {
		sessStore = session.NewMemoryStore(cfg.Auth.SessionTTL)
	}
	sessions := session.NewManager(sessStore, cfg.Auth.SessionTTL, cfg.RAG.HistoryTurns, logger)

	// The history of a replaced document would mislead the model, so
	// every corpus change wipes all sessions.
	pipeline.OnCorpusChange(func(ctx context.Context) { sessions.ResetAll(ctx) })

	if len(cfg.Webhook.URLs) > 0 {
		dispatcher := webhook.NewDispatcher(cfg.Webhook.URLs, cfg.Webhook.Secret, logger)
		defer dispatcher.Close()
		pipeline.SetEmitter(dispatcher)
	}

	spool, err := storage.NewLocal(filepath.Join(cfg.Ingest.DataDir, "spool"))
	if err != nil {
		slog.Error("prepare spool dir", "error", err)
		os.Exit(1)
	}

	// With Redis, uploads are acknowledged immediately and consumed here.
	// The consumer lives in this process because ingestion swaps the
	// in-memory index that queries read from.
	var (
		queueClient *queue.Client
		qsrv        *queue.Server
	)
	if rdb != nil {
		queueClient = queue.NewClient(cfg.Redis)
		defer queueClient.Close()

		qsrv = queue.NewServer(cfg.Redis, logger)
		qsrv.Handle(queue.TypeIngestDocument, workers.NewIngestWorker(pipeline, spool, logger))

		go func() {
			if err := qsrv.Run(); err != nil {
				slog.Error("queue server error", "error", err)
				os.Exit(1)
			}
		}()
	}

	router := api.NewRouter(cfg, pipeline, sessions, spool, queueClient, db, rdb)
	handler := router.Setup()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	if qsrv != nil {
		qsrv.Shutdown()
	}
	slog.Info("server stopped")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
