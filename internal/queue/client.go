package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/askdoc/askdoc/internal/config"
)

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueIngestDocument schedules a spooled file for ingestion and
// returns the task id callers hand back to clients for tracking.
func (c *Client) EnqueueIngestDocument(payload IngestDocumentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	info, err := c.client.Enqueue(
		asynq.NewTask(TypeIngestDocument, data),
		asynq.Queue(QueueIngest),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", TypeIngestDocument, err)
	}
	return info.ID, nil
}
