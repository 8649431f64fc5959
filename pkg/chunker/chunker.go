// Package chunker cuts extracted document text into overlapping chunks
// sized for embedding. Splitting prefers natural boundaries (paragraph,
// then line, then word) and falls back to a hard character cut, and
// consecutive chunks share an exact run of characters so a passage
// crossing a cut is always fully contained in at least one chunk.
package chunker

import (
	"errors"
	"strings"
)

// Separator ladder, widest first. A window end is pulled back to the
// rightmost boundary of the first class that occurs inside the window;
// when none does, the cut lands on a bare character boundary.
var separators = []string{"\n\n", "\n", " "}

var (
	ErrChunkSize = errors.New("chunk size must be positive")
	ErrOverlap   = errors.New("chunk overlap must be smaller than chunk size")
)

type Options struct {
	ChunkSize    int // target chunk size in characters
	ChunkOverlap int // characters shared between consecutive chunks
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:    1000,
		ChunkOverlap: 300,
	}
}

// Page is one unit of extracted document text. Chunks never span pages.
type Page struct {
	Number int // 1-based
	Text   string
}

// Chunk is a contiguous span of page text. Start and End are character
// offsets into the page the span was cut from, for citation and debugging.
type Chunk struct {
	ID    int    `json:"id"`
	Text  string `json:"text"`
	Page  int    `json:"page"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type Splitter struct {
	size    int
	overlap int
}

// New validates the options up front so no chunk is ever produced from a
// bad size/overlap pair.
func New(opts Options) (*Splitter, error) {
	if opts.ChunkSize <= 0 {
		return nil, ErrChunkSize
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		return nil, ErrOverlap
	}
	return &Splitter{size: opts.ChunkSize, overlap: opts.ChunkOverlap}, nil
}

// Split chunks every page in order. Chunk IDs are sequential across the
// whole document. Overlap never carries across a page boundary; pages with
// no visible text yield no chunks. Every character of a non-empty page
// lands in at least one chunk, and each chunk after the first in a page
// begins with exactly the trailing overlap characters of its predecessor.
func (s *Splitter) Split(pages []Page) []Chunk {
	var chunks []Chunk
	id := 0

	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}

		runes := []rune(p.Text)
		for start := 0; start < len(runes); {
			end := start + s.size
			if end >= len(runes) {
				end = len(runes)
			} else {
				end = cutPoint(runes, start+s.overlap, end)
			}

			chunks = append(chunks, Chunk{
				ID:    id,
				Text:  string(runes[start:end]),
				Page:  p.Number,
				Start: start,
				End:   end,
			})
			id++

			if end == len(runes) {
				break
			}
			start = end - s.overlap
		}
	}

	return chunks
}

// SplitText chunks a bare string as a single page 1.
func (s *Splitter) SplitText(text string) []Chunk {
	return s.Split([]Page{{Number: 1, Text: text}})
}

// cutPoint returns the rightmost separator boundary in (lo, hi], trying
// wider separators first. The boundary sits just after the separator, so
// separators stay with the preceding chunk. Returns hi when no separator
// occurs in range, which keeps the next window start strictly advancing.
func cutPoint(runes []rune, lo, hi int) int {
	for _, sep := range separators {
		want := []rune(sep)
		for i := hi; i > lo; i-- {
			if endsWithAt(runes, i, want) {
				return i
			}
		}
	}
	return hi
}

func endsWithAt(runes []rune, end int, sep []rune) bool {
	if end < len(sep) {
		return false
	}
	for j, r := range sep {
		if runes[end-len(sep)+j] != r {
			return false
		}
	}
	return true
}
