package corpus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdoc/askdoc/internal/index"
	"github.com/askdoc/askdoc/pkg/chunker"
)

func testCorpus(t *testing.T, docID string) *Corpus {
	t.Helper()
	chunks := []chunker.Chunk{
		{ID: 0, Text: "alpha section of the document", Page: 1, Start: 0, End: 29},
		{ID: 1, Text: "beta section with more detail", Page: 1, Start: 20, End: 49},
		{ID: 2, Text: "gamma closing remarks", Page: 2, Start: 0, End: 21},
	}
	vectors := [][]float32{
		{1, 0, 0},
		{0.5, 0.5, 0},
		{0, 0, 1},
	}
	c, err := New(
		Document{ID: docID, Filename: "report.pdf", Pages: 2, SizeBytes: 4096},
		chunks, vectors, "test-embed", index.MetricCosine,
	)
	require.NoError(t, err)
	return c
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteLoadWithoutSave(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	saved := testCorpus(t, "doc-1")

	require.NoError(t, store.Save(ctx, saved))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, saved.Document, loaded.Document)
	assert.Equal(t, saved.Chunks, loaded.Chunks)
	assert.Equal(t, saved.Vectors, loaded.Vectors)
	assert.Equal(t, saved.EmbeddingModel, loaded.EmbeddingModel)
	assert.Equal(t, saved.Metric, loaded.Metric)
	assert.WithinDuration(t, saved.BuiltAt, loaded.BuiltAt, time.Second)

	// The reloaded index must answer exactly as the saved one does.
	query := []float32{0.9, 0.1, 0}
	want, err := saved.Index.Search(query, 3)
	require.NoError(t, err)
	got, err := loaded.Index.Search(query, 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLiteSaveReplacesPriorCorpus(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, testCorpus(t, "doc-a")))

	replacement, err := New(
		Document{ID: "doc-b", Filename: "other.txt", Pages: 1, SizeBytes: 128},
		[]chunker.Chunk{
			{ID: 0, Text: "entirely new content", Page: 1, Start: 0, End: 20},
		},
		[][]float32{{0.2, 0.8, 0}},
		"test-embed", index.MetricCosine,
	)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, replacement))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "doc-b", loaded.Document.ID)
	assert.Len(t, loaded.Chunks, 1)
	assert.Equal(t, "entirely new content", loaded.Chunks[0].Text)
}

func TestSQLiteClear(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, testCorpus(t, "doc-1")))
	require.NoError(t, store.Clear(ctx))

	_, err := store.Load(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCorpusChunkLookup(t *testing.T) {
	c := testCorpus(t, "doc-1")

	ch, ok := c.Chunk(1)
	require.True(t, ok)
	assert.Equal(t, "beta section with more detail", ch.Text)

	_, ok = c.Chunk(99)
	assert.False(t, ok)
	_, ok = c.Chunk(-1)
	assert.False(t, ok)
}

func TestCorpusSummary(t *testing.T) {
	c := testCorpus(t, "doc-1")
	s := c.Summary()

	assert.Equal(t, "report.pdf", s.Document.Filename)
	assert.Equal(t, 3, s.Chunks)
	assert.Equal(t, 3, s.EmbeddingDim)
	assert.Equal(t, "cosine", s.Metric)
	assert.Equal(t, "test-embed", s.EmbeddingModel)
}
