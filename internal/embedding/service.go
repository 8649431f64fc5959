// Package embedding turns chunk text into vectors through the LLM
// gateway, batching requests and enforcing dimensional consistency.
package embedding

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/askdoc/askdoc/internal/llm"
)

// Provider APIs cap embedding inputs per request; 100 stays under every
// configured provider's limit.
const batchSize = 100

// maxInFlight bounds concurrent embedding requests so a large document
// does not stampede the provider.
const maxInFlight = 4

// Embedder is the slice of the LLM gateway this service needs.
type Embedder interface {
	Embed(ctx context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error)
}

type Service struct {
	client Embedder
	model  string
	dim    int // 0 means adopt the dimension of the first vector seen
}

func NewService(client Embedder, model string, dim int) *Service {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &Service{client: client, model: model, dim: dim}
}

func (s *Service) Model() string {
	return s.model
}

// Embed returns one vector per input text, in input order. Batches run
// concurrently but results land by batch index, so ordering never
// depends on scheduling.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batches := (len(texts) + batchSize - 1) / batchSize
	results := make([][][]float32, batches)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for b := 0; b < batches; b++ {
		g.Go(func() error {
			lo := b * batchSize
			hi := min(lo+batchSize, len(texts))

			resp, err := s.client.Embed(ctx, llm.EmbeddingRequest{
				Model: s.model,
				Input: texts[lo:hi],
			})
			if err != nil {
				return fmt.Errorf("embed batch %d: %w", b, err)
			}
			if len(resp.Embeddings) != hi-lo {
				return fmt.Errorf("embed batch %d: got %d vectors for %d inputs", b, len(resp.Embeddings), hi-lo)
			}
			results[b] = resp.Embeddings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	vectors := make([][]float32, 0, len(texts))
	for _, batch := range results {
		vectors = append(vectors, batch...)
	}

	want := s.dim
	if want == 0 {
		want = len(vectors[0])
	}
	if want == 0 {
		return nil, fmt.Errorf("provider returned empty embedding vectors")
	}
	for i, v := range vectors {
		if len(v) != want {
			return nil, fmt.Errorf("embedding dimension mismatch: vector %d has %d dimensions, want %d", i, len(v), want)
		}
	}

	return vectors, nil
}

// EmbedSingle embeds one text, used for queries at ask time.
func (s *Service) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vectors[0], nil
}
