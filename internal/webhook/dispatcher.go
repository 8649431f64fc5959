// Package webhook delivers pipeline lifecycle events to configured URLs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope POSTed to every configured URL.
type Event struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
	Data      any       `json:"data"`
}

type delivery struct {
	url     string
	event   string
	id      string
	payload []byte
}

// Dispatcher fans events out to subscriber URLs from a single background
// goroutine. Deliveries are fire-and-forget: a full queue drops rather
// than blocking the pipeline.
type Dispatcher struct {
	urls       []string
	secret     string
	httpClient *http.Client
	deliveries chan delivery
	done       chan struct{}
	log        *slog.Logger
}

func NewDispatcher(urls []string, secret string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		urls:   urls,
		secret: secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		deliveries: make(chan delivery, 1000),
		done:       make(chan struct{}),
		log:        log,
	}
	go d.processLoop()
	return d
}

// Emit queues one delivery per configured URL. Safe to call from any
// goroutine, but not after Close.
func (d *Dispatcher) Emit(event string, data any) {
	if len(d.urls) == 0 {
		return
	}

	ev := Event{
		ID:        uuid.NewString(),
		Event:     event,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		d.log.Error("encode webhook payload", "event", event, "error", err)
		return
	}

	for _, url := range d.urls {
		select {
		case d.deliveries <- delivery{url: url, event: event, id: ev.ID, payload: payload}:
		default:
			d.log.Warn("webhook delivery queue full, dropping", "url", url, "event", event)
		}
	}
}

// Close drains pending deliveries and stops the dispatch goroutine.
func (d *Dispatcher) Close() {
	close(d.deliveries)
	<-d.done
}

func (d *Dispatcher) processLoop() {
	for req := range d.deliveries {
		d.deliver(req)
	}
	close(d.done)
}

func (d *Dispatcher) deliver(req delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.url, bytes.NewReader(req.payload))
	if err != nil {
		d.log.Error("webhook request creation failed", "url", req.url, "error", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Webhook-Event", req.event)
	httpReq.Header.Set("X-Webhook-Signature", sign(req.payload, d.secret))
	httpReq.Header.Set("X-Webhook-ID", req.id)

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		d.log.Error("webhook delivery failed", "url", req.url, "event", req.event, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		d.log.Warn("webhook received non-success response", "url", req.url, "status", resp.StatusCode)
	}
}

// sign computes the signature subscribers verify: the hex HMAC-SHA256 of
// the payload under the shared secret, prefixed with the scheme.
func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}
