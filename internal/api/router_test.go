package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdoc/askdoc/internal/config"
	"github.com/askdoc/askdoc/internal/corpus"
	"github.com/askdoc/askdoc/internal/llm"
	"github.com/askdoc/askdoc/internal/rag"
	"github.com/askdoc/askdoc/internal/session"
	"github.com/askdoc/askdoc/internal/storage"
)

type fixedEmbedder struct{}

func (f *fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0.5, 0.25}
	}
	return out, nil
}

func (f *fixedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0.5, 0.25}, nil
}

func (f *fixedEmbedder) Model() string { return "fake-embed" }

type fixedCompleter struct {
	reply string
}

func (f *fixedCompleter) Complete(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{
		Provider:     "fake",
		Model:        req.Model,
		Content:      f.reply,
		InputTokens:  10,
		OutputTokens: 5,
		TotalTokens:  15,
	}, nil
}

type memStore struct {
	saved *corpus.Corpus
}

func (m *memStore) Save(ctx context.Context, c *corpus.Corpus) error { m.saved = c; return nil }

func (m *memStore) Load(ctx context.Context) (*corpus.Corpus, error) {
	if m.saved == nil {
		return nil, corpus.ErrNotFound
	}
	return m.saved, nil
}

func (m *memStore) Clear(ctx context.Context) error { m.saved = nil; return nil }
func (m *memStore) Close() error                    { return nil }

func newTestServer(t *testing.T, apiKeys []string) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		RAG: config.RAGConfig{
			ChunkSize:    200,
			ChunkOverlap: 40,
			TopK:         4,
			Temperature:  0.1,
			MaxTokens:    256,
			Metric:       "cosine",
			HistoryTurns: 6,
		},
		Ingest:    config.IngestConfig{MaxUploadMB: 1},
		Auth:      config.AuthConfig{APIKeys: apiKeys, APIKeyHeader: "X-API-Key", SessionSecret: "unit-test-session-secret", SessionTTL: time.Hour},
		RateLimit: config.RateLimitConfig{RPS: 1000, Burst: 1000},
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen := rag.NewGenerator(&fixedCompleter{reply: "Grounded answer. [Chunk 1]"}, "fake-model", cfg.RAG.Temperature, cfg.RAG.MaxTokens)
	p, err := rag.NewPipeline(cfg, &fixedEmbedder{}, gen, &memStore{}, log)
	require.NoError(t, err)

	sm := session.NewManager(session.NewMemoryStore(cfg.Auth.SessionTTL), cfg.Auth.SessionTTL, cfg.RAG.HistoryTurns, log)
	p.OnCorpusChange(func(ctx context.Context) { sm.ResetAll(ctx) })

	spool, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(cfg, p, sm, spool, nil, nil, nil).Setup())
	t.Cleanup(srv.Close)
	return srv
}

func uploadDocument(t *testing.T, srv *httptest.Server, apiKey, filename, contents string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, contents)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/documents", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func sampleText() string {
	return strings.Repeat("The quarterly report covers revenue and churn in detail. ", 40)
}

func TestUploadThenAsk(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := uploadDocument(t, srv, "", "report.txt", sampleText())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var ingest struct {
		Document corpus.Document `json:"document"`
		Chunks   int             `json:"chunks"`
		Replaced bool            `json:"replaced"`
	}
	decodeBody(t, resp, &ingest)
	assert.Equal(t, "report.txt", ingest.Document.Filename)
	assert.Greater(t, ingest.Chunks, 1)
	assert.False(t, ingest.Replaced)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/status", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		State string `json:"state"`
	}
	decodeBody(t, resp, &status)
	assert.Equal(t, "ready", status.State)

	resp = doJSON(t, srv, http.MethodPost, "/api/v1/ask", map[string]any{"question": "What drove revenue?"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var answer struct {
		Answer  string    `json:"answer"`
		Refused bool      `json:"refused"`
		Sources []rag.Hit `json:"sources"`
	}
	decodeBody(t, resp, &answer)
	assert.Equal(t, "Grounded answer. [Chunk 1]", answer.Answer)
	assert.False(t, answer.Refused)
	assert.NotEmpty(t, answer.Sources)
	assert.Equal(t, 1, answer.Sources[0].Rank)
}

func TestAskWithoutCorpus(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := doJSON(t, srv, http.MethodPost, "/api/v1/ask", map[string]any{"question": "anything?"}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "no active corpus", body["error"])
}

func TestAskRequestValidation(t *testing.T) {
	srv := newTestServer(t, nil)

	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{"missing question", map[string]any{}, "question required"},
		{"zero k", map[string]any{"question": "x", "k": 0}, "k must be a positive integer"},
		{"negative k", map[string]any{"question": "x", "k": -3}, "k must be a positive integer"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doJSON(t, srv, http.MethodPost, "/api/v1/ask", tc.body, nil)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body map[string]string
			decodeBody(t, resp, &body)
			assert.Equal(t, tc.want, body["error"])
		})
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := uploadDocument(t, srv, "", "tool.exe", "MZbinary")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Contains(t, body["error"], "unsupported file type")
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	srv := newTestServer(t, nil)

	// Limit in the test config is 1 MB.
	big := strings.Repeat("a", (1<<20)+100)
	resp := uploadDocument(t, srv, "", "big.txt", big)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	resp.Body.Close()
}

func TestActiveDocumentLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := doJSON(t, srv, http.MethodGet, "/api/v1/documents/active", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodDelete, "/api/v1/documents/active", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = uploadDocument(t, srv, "", "report.txt", sampleText())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/documents/active", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary corpus.Summary
	decodeBody(t, resp, &summary)
	assert.Equal(t, "report.txt", summary.Document.Filename)
	assert.Equal(t, "fake-embed", summary.EmbeddingModel)

	resp = doJSON(t, srv, http.MethodDelete, "/api/v1/documents/active", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cleared map[string]string
	decodeBody(t, resp, &cleared)
	assert.Equal(t, "cleared", cleared["status"])

	resp = doJSON(t, srv, http.MethodPost, "/api/v1/ask", map[string]any{"question": "gone?"}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestSearchEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := uploadDocument(t, srv, "", "report.txt", sampleText())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodPost, "/api/v1/search", map[string]any{"query": "revenue", "k": 2}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []rag.Hit `json:"results"`
		Count   int       `json:"count"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, len(body.Results), body.Count)
	require.NotEmpty(t, body.Results)
	assert.Equal(t, 1, body.Results[0].Rank)
}

func TestAPIKeyEnforcement(t *testing.T) {
	srv := newTestServer(t, []string{"sekret"})

	resp := doJSON(t, srv, http.MethodGet, "/api/v1/status", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/status", nil, map[string]string{"X-API-Key": "wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/status", nil, map[string]string{"X-API-Key": "sekret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Health stays open without a key.
	resp = doJSON(t, srv, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestSessionFlow(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := uploadDocument(t, srv, "", "report.txt", sampleText())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodPost, "/api/v1/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		SessionID string `json:"session_id"`
		Token     string `json:"token"`
	}
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.SessionID)
	require.NotEmpty(t, created.Token)

	resp = doJSON(t, srv, http.MethodPost, "/api/v1/ask",
		map[string]any{"question": "What drove revenue?", "session_id": created.SessionID}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var answer struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, resp, &answer)
	assert.Equal(t, created.SessionID, answer.SessionID)

	authz := map[string]string{"Authorization": "Bearer " + created.Token}
	resp = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil, authz)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess session.Session
	decodeBody(t, resp, &sess)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, "What drove revenue?", sess.Turns[0].Question)

	// No token at all.
	resp = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// A token for one session never opens another.
	resp = doJSON(t, srv, http.MethodPost, "/api/v1/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var other struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, resp, &other)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+other.SessionID, nil, authz)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil, authz)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil, authz)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSessionHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := uploadDocument(t, srv, "", "report.txt", sampleText())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodPost, "/api/v1/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		SessionID string `json:"session_id"`
		Token     string `json:"token"`
	}
	decodeBody(t, resp, &created)

	for _, q := range []string{"What drove revenue?", "And churn?"} {
		resp = doJSON(t, srv, http.MethodPost, "/api/v1/ask",
			map[string]any{"question": q, "session_id": created.SessionID}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	authz := map[string]string{"Authorization": "Bearer " + created.Token}
	resp = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+created.SessionID+"/history", nil, authz)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history struct {
		SessionID string         `json:"session_id"`
		Turns     []session.Turn `json:"turns"`
		Count     int            `json:"count"`
	}
	decodeBody(t, resp, &history)
	assert.Equal(t, created.SessionID, history.SessionID)
	require.Equal(t, 2, history.Count)
	assert.Equal(t, "What drove revenue?", history.Turns[0].Question)
	assert.Equal(t, "And churn?", history.Turns[1].Question)
}

func TestAskWithUnknownSession(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := uploadDocument(t, srv, "", "report.txt", sampleText())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodPost, "/api/v1/ask",
		map[string]any{"question": "hello?", "session_id": "no-such-session"}, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "session not found", body["error"])
}

func TestSessionsResetWhenCorpusChanges(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := uploadDocument(t, srv, "", "first.txt", sampleText())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, srv, http.MethodPost, "/api/v1/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		SessionID string `json:"session_id"`
		Token     string `json:"token"`
	}
	decodeBody(t, resp, &created)

	resp = uploadDocument(t, srv, "", "second.txt", sampleText())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Turns referencing the old document would mislead the model, so the
	// replacement wiped every session.
	authz := map[string]string{"Authorization": "Bearer " + created.Token}
	resp = doJSON(t, srv, http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil, authz)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
