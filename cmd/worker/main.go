package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/askdoc/askdoc/internal/config"
	"github.com/askdoc/askdoc/internal/corpus"
	"github.com/askdoc/askdoc/internal/database"
	"github.com/askdoc/askdoc/internal/embedding"
	"github.com/askdoc/askdoc/internal/llm"
	"github.com/askdoc/askdoc/internal/queue"
	"github.com/askdoc/askdoc/internal/queue/workers"
	"github.com/askdoc/askdoc/internal/rag"
	"github.com/askdoc/askdoc/internal/storage"
	"github.com/askdoc/askdoc/internal/watch"
	"github.com/askdoc/askdoc/internal/webhook"
)

// The worker owns ingestion for headless deployments: it consumes queued
// uploads when Redis is configured and re-indexes files dropped into the
// watch directory. Run it against the same corpus store the CLI reads.
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

	if cfg.Redis.Addr == "" && cfg.Ingest.WatchDir == "" {
		slog.Error("nothing to do: set REDIS_ADDR to consume the ingest queue or WATCH_DIR to watch a directory")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store corpus.Store
	if cfg.Database.URL != "" {
		db, err := database.NewPool(ctx, cfg.Database)
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

	var qsrv *queue.Server
	if cfg.Redis.Addr != "" {
		worker := workers.NewIngestWorker(pipeline, spool, logger)
		qsrv = queue.NewServer(cfg.Redis, logger)
		qsrv.Handle(queue.TypeIngestDocument, worker)

		go func() {
			slog.Info("consuming ingest queue", "redis", cfg.Redis.Addr)
			if err := qsrv.Run(); err != nil {
				slog.Error("queue server error", "error", err)
				os.Exit(1)
			}
		}()
	}

	if cfg.Ingest.WatchDir != "" {
		var qc *queue.Client
		if cfg.Redis.Addr != "" {
			qc = queue.NewClient(cfg.Redis)
			defer qc.Close()
		}

		// With a queue the settled file is spooled and enqueued so a
		// failed ingest is retried; without one it is ingested inline.
		handler := func(ctx context.Context, path string) {
			if qc != nil {
				f, err := os.Open(path)
				if err != nil {
					slog.Error("open watched file", "path", path, "error", err)
					return
				}
				key, err := spool.Save(ctx, filepath.Base(path), f)
				f.Close()
				if err != nil {
					slog.Error("spool watched file", "path", path, "error", err)
					return
				}
				if _, err := qc.EnqueueIngestDocument(queue.IngestDocumentPayload{
					Key:      key,
					Filename: filepath.Base(path),
					Source:   "watch",
				}); err != nil {
					slog.Error("enqueue watched file", "path", path, "error", err)
				}
				return
			}

			data, err := os.ReadFile(path)
			if err != nil {
				slog.Error("read watched file", "path", path, "error", err)
				return
			}
			if _, err := pipeline.Ingest(ctx, rag.IngestInput{Filename: filepath.Base(path), Data: data}); err != nil {
				slog.Error("ingest watched file", "path", path, "error", err)
			}
		}

		w, err := watch.New(cfg.Ingest.WatchDir, watch.DefaultQuiesce, handler, logger)
		if err != nil {
			slog.Error("start directory watcher", "error", err)
			os.Exit(1)
		}

		go func() {
			if err := w.Run(ctx); err != nil {
				slog.Error("watcher error", "error", err)
			}
		}()
	}

	<-ctx.Done()

	slog.Info("shutting down worker...")
	if qsrv != nil {
		qsrv.Shutdown()
	}
	slog.Info("worker stopped")
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
