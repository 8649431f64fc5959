// Package rag wires the ingestion and question-answering flows: chunk,
// embed, index, retrieve, and generate over a single active document.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/askdoc/askdoc/internal/config"
	"github.com/askdoc/askdoc/internal/corpus"
	"github.com/askdoc/askdoc/internal/errdefs"
	"github.com/askdoc/askdoc/internal/index"
	"github.com/askdoc/askdoc/internal/llm"
	"github.com/askdoc/askdoc/internal/metrics"
	"github.com/askdoc/askdoc/pkg/chunker"
	"github.com/askdoc/askdoc/pkg/textextract"
)

// Events the pipeline emits to the registered Emitter.
const (
	EventDocumentIngested     = "document.ingested"
	EventDocumentIngestFailed = "document.ingest_failed"
	EventCorpusCleared        = "corpus.cleared"
)

var (
	// ErrIngestBusy is returned when an ingestion is requested while
	// another one is still running. The caller should retry later.
	ErrIngestBusy = errdefs.Ingestion("an ingestion is already in progress")

	// ErrNoCorpus is returned by question, search, and clear operations
	// when no document has been ingested yet.
	ErrNoCorpus = errdefs.Query("no active corpus")
)

// Emitter receives pipeline lifecycle events, typically for webhook
// delivery. Emit must not block.
type Emitter interface {
	Emit(event string, payload any)
}

// Pipeline owns the active corpus and serializes its replacement. Reads
// take a snapshot under RLock, so questions keep answering against the
// previous corpus while a new document is being ingested; the swap at
// the end of a successful ingestion is the only write.
type Pipeline struct {
	splitter  *chunker.Splitter
	embedder  Embedder
	retriever *Retriever
	generator *Generator
	store     corpus.Store
	log       *slog.Logger

	metric    index.Metric
	topK      int
	maxUpload int64

	events   Emitter
	onChange []func(context.Context)

	mu        sync.RWMutex
	corpus    *corpus.Corpus
	ingesting atomic.Bool
}

func NewPipeline(cfg *config.Config, embedder Embedder, generator *Generator, store corpus.Store, log *slog.Logger) (*Pipeline, error) {
	split, err := chunker.New(chunker.Options{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
	})
	if err != nil {
		return nil, errdefs.Config("chunking options: %w", err)
	}
	metric, err := index.ParseMetric(cfg.RAG.Metric)
	if err != nil {
		return nil, errdefs.Config("similarity metric: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		splitter:  split,
		embedder:  embedder,
		retriever: NewRetriever(embedder),
		generator: generator,
		store:     store,
		log:       log,
		metric:    metric,
		topK:      cfg.RAG.TopK,
		maxUpload: cfg.Ingest.MaxUploadBytes(),
	}, nil
}

// SetEmitter registers the event sink. Call before serving.
func (p *Pipeline) SetEmitter(e Emitter) {
	p.events = e
}

// OnCorpusChange registers a hook that runs after the active corpus is
// replaced or cleared. Call before serving.
func (p *Pipeline) OnCorpusChange(fn func(context.Context)) {
	p.onChange = append(p.onChange, fn)
}

// Restore loads the persisted corpus snapshot, if any, into memory.
func (p *Pipeline) Restore(ctx context.Context) error {
	c, err := p.store.Load(ctx)
	if errors.Is(err, corpus.ErrNotFound) {
		p.log.Info("no stored corpus to restore")
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore corpus: %w", err)
	}

	p.mu.Lock()
	p.corpus = c
	p.mu.Unlock()

	metrics.ActiveChunks.Set(float64(c.Len()))
	p.log.Info("corpus restored",
		"document", c.Document.Filename,
		"chunks", c.Len(),
		"embedding_model", c.EmbeddingModel,
	)
	return nil
}

type IngestInput struct {
	Filename string
	FileType string // extension or MIME type; inferred from Filename when empty
	Data     []byte
}

type IngestResult struct {
	Document   corpus.Document `json:"document"`
	Chunks     int             `json:"chunks"`
	Replaced   bool            `json:"replaced"`
	DurationMs int64           `json:"duration_ms"`
}

// Ingest replaces the active corpus with one built from the given file.
// Only one ingestion may run at a time; a second call is rejected, not
// queued. On any failure the previous corpus stays active and unchanged.
func (p *Pipeline) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if !p.ingesting.CompareAndSwap(false, true) {
		return nil, ErrIngestBusy
	}
	defer p.ingesting.Store(false)

	start := time.Now()
	res, err := p.ingest(ctx, in)
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.IngestTotal.WithLabelValues("error").Inc()
		p.emit(EventDocumentIngestFailed, map[string]any{
			"filename": in.Filename,
			"error":    err.Error(),
		})
		p.log.Error("ingestion failed", "filename", in.Filename, "error", err)
		return nil, err
	}

	res.DurationMs = time.Since(start).Milliseconds()
	metrics.IngestTotal.WithLabelValues("ok").Inc()
	p.emit(EventDocumentIngested, res)
	p.log.Info("document ingested",
		"filename", res.Document.Filename,
		"pages", res.Document.Pages,
		"chunks", res.Chunks,
		"replaced", res.Replaced,
		"duration_ms", res.DurationMs,
	)
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if len(in.Data) == 0 {
		return nil, errdefs.Validation("file is empty")
	}
	if int64(len(in.Data)) > p.maxUpload {
		return nil, errdefs.Validation("file size %d bytes exceeds the %d MB upload limit", len(in.Data), p.maxUpload>>20)
	}

	fileType := in.FileType
	if fileType == "" {
		fileType = filepath.Ext(in.Filename)
	}
	if !textextract.Supported(fileType) {
		return nil, errdefs.Validation("unsupported file type %q", fileType)
	}

	extracted, err := textextract.ExtractBytes(in.Data, fileType)
	if err != nil {
		return nil, errdefs.Ingestion("extract text from %s: %w", in.Filename, err)
	}

	pages := make([]chunker.Page, len(extracted.Pages))
	for i, pg := range extracted.Pages {
		pages[i] = chunker.Page{Number: pg.Number, Text: pg.Text}
	}

	chunks := p.splitter.Split(pages)
	if len(chunks) == 0 {
		return nil, errdefs.Ingestion("document %s produced no chunks", in.Filename)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, errdefs.Ingestion("embed %d chunks: %w", len(chunks), err)
	}

	doc := corpus.Document{
		ID:        uuid.New().String(),
		Filename:  in.Filename,
		Pages:     len(pages),
		SizeBytes: int64(len(in.Data)),
	}
	c, err := corpus.New(doc, chunks, vectors, p.embedder.Model(), p.metric)
	if err != nil {
		return nil, errdefs.Ingestion("build index: %w", err)
	}

	if err := p.store.Save(ctx, c); err != nil {
		return nil, errdefs.Ingestion("persist corpus: %w", err)
	}

	p.mu.Lock()
	replaced := p.corpus != nil
	p.corpus = c
	p.mu.Unlock()

	metrics.ActiveChunks.Set(float64(c.Len()))
	p.notifyChange(ctx)

	return &IngestResult{Document: doc, Chunks: c.Len(), Replaced: replaced}, nil
}

type AskInput struct {
	Question string
	K        int           // 0 means the configured default
	History  []llm.Message // prior conversation turns, oldest first
}

type AskResult struct {
	Answer      string  `json:"answer"`
	Refused     bool    `json:"refused"`
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	TotalTokens int     `json:"total_tokens"`
	CostUSD     float64 `json:"cost_usd"`
	Sources     []Hit   `json:"sources"`
	DurationMs  int64   `json:"duration_ms"`
}

// Ask answers a question from the active corpus.
func (p *Pipeline) Ask(ctx context.Context, in AskInput) (*AskResult, error) {
	start := time.Now()
	res, err := p.ask(ctx, in)
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	res.DurationMs = time.Since(start).Milliseconds()
	status := "ok"
	if res.Refused {
		status = "refused"
	}
	metrics.QueryTotal.WithLabelValues(status).Inc()
	p.log.Info("question answered",
		"sources", len(res.Sources),
		"refused", res.Refused,
		"tokens", res.TotalTokens,
		"duration_ms", res.DurationMs,
	)
	return res, nil
}

func (p *Pipeline) ask(ctx context.Context, in AskInput) (*AskResult, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, errdefs.Validation("question must not be empty")
	}

	c := p.active()
	if c == nil {
		return nil, ErrNoCorpus
	}

	k := in.K
	if k == 0 {
		k = p.topK
	}

	hits, err := p.retriever.Retrieve(ctx, c, question, k)
	if err != nil {
		if errdefs.IsValidation(err) {
			return nil, err
		}
		return nil, errdefs.Query("retrieve context: %w", err)
	}

	ans, err := p.generator.Generate(ctx, question, hits, in.History)
	if err != nil {
		return nil, errdefs.Query("answer question: %w", err)
	}

	return &AskResult{
		Answer:      ans.Text,
		Refused:     ans.Refused,
		Provider:    ans.Provider,
		Model:       ans.Model,
		TotalTokens: ans.TotalTokens,
		CostUSD:     ans.CostUSD,
		Sources:     hits,
	}, nil
}

// Search returns the top-k chunks for a query without generating an
// answer.
func (p *Pipeline) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errdefs.Validation("query must not be empty")
	}

	c := p.active()
	if c == nil {
		return nil, ErrNoCorpus
	}

	if k == 0 {
		k = p.topK
	}
	hits, err := p.retriever.Retrieve(ctx, c, query, k)
	if err != nil {
		if errdefs.IsValidation(err) {
			return nil, err
		}
		return nil, errdefs.Query("retrieve context: %w", err)
	}
	return hits, nil
}

type State string

const (
	StateEmpty     State = "empty"
	StateReady     State = "ready"
	StateIngesting State = "ingesting"
)

type Status struct {
	State  State           `json:"state"`
	Corpus *corpus.Summary `json:"corpus,omitempty"`
}

// Status reports the corpus lifecycle state. During a replacement the
// summary still describes the corpus currently serving queries.
func (p *Pipeline) Status() Status {
	st := Status{State: StateEmpty}
	if c := p.active(); c != nil {
		st.State = StateReady
		s := c.Summary()
		st.Corpus = &s
	}
	if p.ingesting.Load() {
		st.State = StateIngesting
	}
	return st
}

// Active returns the summary of the corpus currently serving queries.
func (p *Pipeline) Active() (corpus.Summary, bool) {
	c := p.active()
	if c == nil {
		return corpus.Summary{}, false
	}
	return c.Summary(), true
}

// Clear drops the active corpus and its persisted snapshot.
func (p *Pipeline) Clear(ctx context.Context) error {
	p.mu.Lock()
	if p.corpus == nil {
		p.mu.Unlock()
		return ErrNoCorpus
	}
	if err := p.store.Clear(ctx); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("clear corpus store: %w", err)
	}
	p.corpus = nil
	p.mu.Unlock()

	metrics.ActiveChunks.Set(0)
	p.notifyChange(ctx)
	p.emit(EventCorpusCleared, map[string]any{"cleared_at": time.Now().UTC()})
	p.log.Info("corpus cleared")
	return nil
}

func (p *Pipeline) active() *corpus.Corpus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.corpus
}

func (p *Pipeline) emit(event string, payload any) {
	if p.events != nil {
		p.events.Emit(event, payload)
	}
}

func (p *Pipeline) notifyChange(ctx context.Context) {
	for _, fn := range p.onChange {
		fn(ctx)
	}
}
