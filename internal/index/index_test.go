package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdoc/askdoc/internal/errdefs"
)

func TestBuildRejectsBadInput(t *testing.T) {
	tests := []struct {
		name    string
		ids     []int
		vectors [][]float32
		metric  Metric
	}{
		{"length mismatch", []int{0, 1}, [][]float32{{1, 0}}, MetricCosine},
		{"no vectors", nil, nil, MetricCosine},
		{"zero dimension", []int{0}, [][]float32{{}}, MetricCosine},
		{"ragged dimensions", []int{0, 1}, [][]float32{{1, 0}, {1, 0, 0}}, MetricCosine},
		{"unknown metric", []int{0}, [][]float32{{1, 0}}, Metric("manhattan")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ix, err := Build(tt.ids, tt.vectors, tt.metric)
			assert.Nil(t, ix)
			assert.Error(t, err)
		})
	}
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("COSINE")
	require.NoError(t, err)
	assert.Equal(t, MetricCosine, m)

	m, err = ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, MetricCosine, m)

	m, err = ParseMetric("l2")
	require.NoError(t, err)
	assert.Equal(t, MetricL2, m)

	_, err = ParseMetric("dot")
	assert.Error(t, err)
}

func TestSearchRanksByDescendingScore(t *testing.T) {
	ix, err := Build(
		[]int{0, 1, 2, 3},
		[][]float32{
			{1, 0, 0},
			{0.9, 0.1, 0},
			{0, 1, 0},
			{0, 0, 1},
		},
		MetricCosine,
	)
	require.NoError(t, err)

	results, err := ix.Search([]float32{1, 0, 0}, 4)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, 0, results[0].ChunkID)
	assert.Equal(t, 1, results[1].ChunkID)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearchIsDeterministic(t *testing.T) {
	ids := []int{0, 1, 2, 3, 4}
	vectors := [][]float32{
		{0.2, 0.8}, {0.5, 0.5}, {0.9, 0.1}, {0.3, 0.7}, {0.6, 0.4},
	}
	query := []float32{0.7, 0.3}

	first, err := mustBuildSearch(t, ids, vectors, query, 5)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := mustBuildSearch(t, ids, vectors, query, 5)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func mustBuildSearch(t *testing.T, ids []int, vectors [][]float32, query []float32, k int) ([]Result, error) {
	t.Helper()
	ix, err := Build(ids, vectors, MetricCosine)
	require.NoError(t, err)
	return ix.Search(query, k)
}

func TestTiesBreakTowardLowerChunkID(t *testing.T) {
	// Chunks 7 and 3 carry identical vectors, so their scores tie exactly.
	ix, err := Build(
		[]int{7, 3, 5},
		[][]float32{
			{1, 1},
			{1, 1},
			{0, 1},
		},
		MetricCosine,
	)
	require.NoError(t, err)

	results, err := ix.Search([]float32{1, 1}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 3, results[0].ChunkID)
	assert.Equal(t, 7, results[1].ChunkID)
	assert.Equal(t, results[0].Score, results[1].Score)
	assert.Equal(t, 5, results[2].ChunkID)
}

func TestKLargerThanIndexIsCapped(t *testing.T) {
	ids := make([]int, 10)
	vectors := make([][]float32, 10)
	for i := range ids {
		ids[i] = i
		vectors[i] = []float32{float32(i + 1), 1}
	}
	ix, err := Build(ids, vectors, MetricCosine)
	require.NoError(t, err)

	results, err := ix.Search([]float32{1, 0}, 20)
	require.NoError(t, err)
	assert.Len(t, results, 10)

	results, err = ix.Search([]float32{1, 0}, 8)
	require.NoError(t, err)
	assert.Len(t, results, 8)

	seen := map[int]bool{}
	for _, r := range results {
		assert.False(t, seen[r.ChunkID], "duplicate chunk id %d", r.ChunkID)
		seen[r.ChunkID] = true
	}
}

func TestSearchValidation(t *testing.T) {
	ix, err := Build([]int{0}, [][]float32{{1, 0}}, MetricCosine)
	require.NoError(t, err)

	_, err = ix.Search([]float32{1, 0}, 0)
	assert.True(t, errdefs.IsValidation(err))

	_, err = ix.Search([]float32{1, 0}, -3)
	assert.True(t, errdefs.IsValidation(err))

	_, err = ix.Search([]float32{1, 0, 0}, 1)
	assert.True(t, errdefs.IsValidation(err))
}

func TestL2RanksByDistance(t *testing.T) {
	// Under cosine, the long vector along the query axis wins; under L2 the
	// geometrically closer point does.
	ids := []int{0, 1}
	vectors := [][]float32{
		{2, 0},
		{0.5, 0.5},
	}
	query := []float32{1, 0}

	cos, err := Build(ids, vectors, MetricCosine)
	require.NoError(t, err)
	cosResults, err := cos.Search(query, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, cosResults[0].ChunkID)

	l2, err := Build(ids, vectors, MetricL2)
	require.NoError(t, err)
	l2Results, err := l2.Search(query, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, l2Results[0].ChunkID)
	assert.Negative(t, l2Results[0].Score)
}
