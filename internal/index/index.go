// Package index implements the flat exact nearest-neighbor index a corpus
// is queried through. Everything lives in memory; the corpus store is
// responsible for persisting the vectors an index is rebuilt from.
package index

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/askdoc/askdoc/internal/errdefs"
)

// Metric selects the similarity function an index ranks with. It is fixed
// for the lifetime of a corpus.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
)

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(s)); m {
	case MetricCosine, MetricL2:
		return m, nil
	case "":
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown similarity metric %q", s)
	}
}

// Result is one ranked hit from a search.
type Result struct {
	ChunkID int
	Score   float64
}

// Index is immutable once built. Searches never mutate it, so any number
// of them may run concurrently.
type Index struct {
	metric  Metric
	dim     int
	ids     []int
	vectors [][]float32
}

// Build constructs an index over the given chunk ids and their embedding
// vectors. All vectors must share one nonzero dimension. Errors here are
// plain; the ingestion pipeline classifies them.
func Build(ids []int, vectors [][]float32, metric Metric) (*Index, error) {
	if len(ids) != len(vectors) {
		return nil, fmt.Errorf("ids and vectors disagree: %d ids, %d vectors", len(ids), len(vectors))
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("index requires at least one vector")
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("vectors must have nonzero dimension")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector for chunk %d has dimension %d, want %d", ids[i], len(v), dim)
		}
	}

	ix := &Index{
		metric:  metric,
		dim:     dim,
		ids:     make([]int, len(ids)),
		vectors: make([][]float32, len(vectors)),
	}
	copy(ix.ids, ids)
	copy(ix.vectors, vectors)
	return ix, nil
}

func (ix *Index) Len() int       { return len(ix.ids) }
func (ix *Index) Dim() int       { return ix.dim }
func (ix *Index) Metric() Metric { return ix.metric }

// Search returns up to k chunk ids ranked by non-increasing score. Equal
// scores break toward the lower chunk id, so identical inputs always
// produce identical output. Asking for more results than the index holds
// caps k rather than failing.
func (ix *Index) Search(query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, errdefs.Validation("k must be positive, got %d", k)
	}
	if len(query) != ix.dim {
		return nil, errdefs.Validation("query dimension %d does not match index dimension %d", len(query), ix.dim)
	}
	if k > len(ix.ids) {
		k = len(ix.ids)
	}

	results := make([]Result, len(ix.ids))
	for i, vec := range ix.vectors {
		results[i] = Result{ChunkID: ix.ids[i], Score: ix.score(query, vec)}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results[:k], nil
}

func (ix *Index) score(q, v []float32) float64 {
	if ix.metric == MetricL2 {
		return negL2(q, v)
	}
	return cosineSimilarity(q, v)
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// negL2 negates the Euclidean distance so that higher is better under
// both metrics and one sort order serves everywhere.
func negL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return -math.Sqrt(sum)
}
