package queue

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/askdoc/askdoc/internal/config"
)

// Server consumes ingestion tasks. Concurrency is fixed at one because
// the pipeline serves a single ingestion at a time; parallel workers
// would only reject each other and burn retries.
type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

func NewServer(cfg config.RedisConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      map[string]int{QueueIngest: 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				log.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)
	return &Server{srv: srv, mux: asynq.NewServeMux()}
}

func (s *Server) Handle(taskType string, h asynq.Handler) {
	s.mux.Handle(taskType, h)
}

// Run blocks until Shutdown is called.
func (s *Server) Run() error {
	return s.srv.Run(s.mux)
}

func (s *Server) Shutdown() {
	s.srv.Shutdown()
}
