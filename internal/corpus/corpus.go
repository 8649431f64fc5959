// Package corpus owns the ingested document state: the source document,
// its ordered chunks, and the index built over their embeddings. A corpus
// value is immutable once assembled; replacing a document swaps the whole
// value, never pieces of it.
package corpus

import (
	"context"
	"errors"
	"time"

	"github.com/askdoc/askdoc/internal/index"
	"github.com/askdoc/askdoc/pkg/chunker"
)

// ErrNotFound is returned by Store.Load when no snapshot has been saved.
var ErrNotFound = errors.New("no corpus saved")

// Document describes the source file a corpus was built from.
type Document struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Pages     int    `json:"pages"`
	SizeBytes int64  `json:"size_bytes"`
}

// Corpus is the complete ingested state for one document. Chunks and
// Vectors pair by position; chunk ids are sequential from zero.
type Corpus struct {
	Document       Document
	Chunks         []chunker.Chunk
	Vectors        [][]float32
	Index          *index.Index
	EmbeddingModel string
	Metric         index.Metric
	BuiltAt        time.Time
}

// New builds the index over the chunk embeddings and assembles the corpus.
func New(doc Document, chunks []chunker.Chunk, vectors [][]float32, model string, metric index.Metric) (*Corpus, error) {
	ids := make([]int, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	ix, err := index.Build(ids, vectors, metric)
	if err != nil {
		return nil, err
	}
	return &Corpus{
		Document:       doc,
		Chunks:         chunks,
		Vectors:        vectors,
		Index:          ix,
		EmbeddingModel: model,
		Metric:         metric,
		BuiltAt:        time.Now().UTC(),
	}, nil
}

// Chunk resolves a chunk id back to its record.
func (c *Corpus) Chunk(id int) (chunker.Chunk, bool) {
	if id < 0 || id >= len(c.Chunks) {
		return chunker.Chunk{}, false
	}
	return c.Chunks[id], true
}

func (c *Corpus) Len() int { return len(c.Chunks) }

func (c *Corpus) Dim() int {
	if c.Index == nil {
		return 0
	}
	return c.Index.Dim()
}

// Summary is the read model handed to status endpoints and the CLI.
type Summary struct {
	Document       Document  `json:"document"`
	Chunks         int       `json:"chunks"`
	EmbeddingModel string    `json:"embedding_model"`
	EmbeddingDim   int       `json:"embedding_dim"`
	Metric         string    `json:"metric"`
	BuiltAt        time.Time `json:"built_at"`
}

func (c *Corpus) Summary() Summary {
	return Summary{
		Document:       c.Document,
		Chunks:         c.Len(),
		EmbeddingModel: c.EmbeddingModel,
		EmbeddingDim:   c.Dim(),
		Metric:         string(c.Metric),
		BuiltAt:        c.BuiltAt,
	}
}

// Store persists a corpus snapshot so a restart serves the same document
// without re-extracting or re-embedding it. Save fully replaces whatever
// snapshot exists; Load rebuilds the index from the stored vectors and
// must answer queries exactly as the saved corpus did.
type Store interface {
	Save(ctx context.Context, c *Corpus) error
	Load(ctx context.Context) (*Corpus, error)
	Clear(ctx context.Context) error
	Close() error
}
