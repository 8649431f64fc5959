package rag

import (
	"context"
	"fmt"

	"github.com/askdoc/askdoc/internal/corpus"
	"github.com/askdoc/askdoc/pkg/chunker"
)

// Embedder is the slice of the embedding service retrieval needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Hit is one retrieved chunk. Rank is 1-based and follows descending
// score, ties broken toward the lower chunk ID.
type Hit struct {
	Rank  int           `json:"rank"`
	Score float64       `json:"score"`
	Chunk chunker.Chunk `json:"chunk"`
}

type Retriever struct {
	embedder Embedder
}

func NewRetriever(embedder Embedder) *Retriever {
	return &Retriever{embedder: embedder}
}

// Retrieve embeds the question and returns the k nearest chunks of the
// corpus. k larger than the corpus is capped, not an error.
func (r *Retriever) Retrieve(ctx context.Context, c *corpus.Corpus, question string, k int) ([]Hit, error) {
	queryVec, err := r.embedder.EmbedSingle(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := c.Index.Search(queryVec, k)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for i, res := range results {
		ch, ok := c.Chunk(res.ChunkID)
		if !ok {
			return nil, fmt.Errorf("index returned unknown chunk id %d", res.ChunkID)
		}
		hits = append(hits, Hit{Rank: i + 1, Score: res.Score, Chunk: ch})
	}
	return hits, nil
}
