package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/askdoc/askdoc/internal/config"
	"github.com/askdoc/askdoc/internal/metrics"
)

// Gateway routes completion and embedding calls to their configured
// providers, paces outbound requests, and retries transient failures with
// quadratic backoff. Authentication and malformed-request failures are
// returned immediately.
type Gateway struct {
	providers  map[string]Provider
	completion string
	embedding  string
	maxRetries int
	limiter    *rate.Limiter
}

func NewGateway(cfg config.LLMConfig) *Gateway {
	limit := rate.Inf
	burst := 1
	if cfg.ProviderRPS > 0 {
		limit = rate.Limit(cfg.ProviderRPS)
		burst = max(1, int(cfg.ProviderRPS))
	}

	g := &Gateway{
		providers:  make(map[string]Provider),
		completion: cfg.CompletionProvider,
		embedding:  cfg.EmbeddingProvider,
		maxRetries: cfg.MaxRetries,
		limiter:    rate.NewLimiter(limit, burst),
	}

	if cfg.OpenAIKey != "" {
		g.providers["openai"] = NewOpenAIProvider(cfg.OpenAIKey)
	}
	if cfg.GroqKey != "" {
		g.providers["groq"] = NewGroqProvider(cfg.GroqKey)
	}
	if cfg.AnthropicKey != "" {
		g.providers["anthropic"] = NewAnthropicProvider(cfg.AnthropicKey)
	}
	if cfg.OllamaURL != "" {
		g.providers["ollama"] = NewOllamaProvider(cfg.OllamaURL)
	}

	return g
}

func (g *Gateway) Provider(name string) (Provider, error) {
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// Complete sends a chat request to the configured completion provider.
func (g *Gateway) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p, err := g.Provider(g.completion)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if err := g.pause(ctx, attempt, p.Name(), "completion"); err != nil {
			return nil, err
		}

		resp, err := p.ChatCompletion(ctx, req)
		if err == nil {
			metrics.LLMRequests.WithLabelValues(p.Name(), "completion", "ok").Inc()
			return resp, nil
		}
		metrics.LLMRequests.WithLabelValues(p.Name(), "completion", "error").Inc()
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("all retries exhausted for %s: %w", p.Name(), lastErr)
}

// Embed sends an embedding request to the configured embedding provider.
func (g *Gateway) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	p, err := g.Provider(g.embedding)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if err := g.pause(ctx, attempt, p.Name(), "embedding"); err != nil {
			return nil, err
		}

		resp, err := p.GenerateEmbedding(ctx, req)
		if err == nil {
			metrics.LLMRequests.WithLabelValues(p.Name(), "embedding", "ok").Inc()
			return resp, nil
		}
		metrics.LLMRequests.WithLabelValues(p.Name(), "embedding", "error").Inc()
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("all retries exhausted for %s: %w", p.Name(), lastErr)
}

// pause sleeps out the backoff for a retry attempt, then takes a rate
// limiter slot. Backoff grows quadratically: 500ms, 2s, 4.5s.
func (g *Gateway) pause(ctx context.Context, attempt int, provider, op string) error {
	if attempt > 0 {
		backoff := time.Duration(attempt*attempt) * 500 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		slog.Debug("retrying provider call", "provider", provider, "op", op, "attempt", attempt)
	}
	return g.limiter.Wait(ctx)
}

// retryable reports whether another attempt could plausibly succeed.
// Rate limits, server errors, and timeouts are transient; everything
// else, authentication failures in particular, is not.
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return transientStatus(reqErr.HTTPStatusCode)
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return transientStatus(antErr.StatusCode)
	}
	var stErr *statusError
	if errors.As(err, &stErr) {
		return transientStatus(stErr.status)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func transientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
