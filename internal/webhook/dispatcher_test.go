package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	body    []byte
	headers http.Header
}

type sink struct {
	mu       sync.Mutex
	requests []received
}

func (s *sink) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, received{body: body, headers: r.Header.Clone()})
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *sink) first() received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[0]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmitDeliversSignedEvent(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	d := NewDispatcher([]string{srv.URL}, "topsecret", discardLogger())
	d.Emit("document.ingested", map[string]any{"filename": "notes.txt"})
	d.Close()

	require.Equal(t, 1, s.count())
	got := s.first()

	assert.Equal(t, "document.ingested", got.headers.Get("X-Webhook-Event"))
	assert.NotEmpty(t, got.headers.Get("X-Webhook-ID"))
	assert.Equal(t, "application/json", got.headers.Get("Content-Type"))

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(got.body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, got.headers.Get("X-Webhook-Signature"))

	var ev Event
	require.NoError(t, json.Unmarshal(got.body, &ev))
	assert.Equal(t, "document.ingested", ev.Event)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, ev.ID, got.headers.Get("X-Webhook-ID"))
	assert.WithinDuration(t, time.Now(), ev.CreatedAt, 5*time.Second)

	data, ok := ev.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "notes.txt", data["filename"])
}

func TestEmitFansOutToEveryURL(t *testing.T) {
	a, b := &sink{}, &sink{}
	srvA := httptest.NewServer(a.handler())
	defer srvA.Close()
	srvB := httptest.NewServer(b.handler())
	defer srvB.Close()

	d := NewDispatcher([]string{srvA.URL, srvB.URL}, "s", discardLogger())
	d.Emit("corpus.cleared", nil)
	d.Close()

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestEmitWithoutURLsIsNoOp(t *testing.T) {
	d := NewDispatcher(nil, "s", discardLogger())
	d.Emit("document.ingested", nil)
	d.Close()
}

func TestCloseDrainsPendingDeliveries(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	d := NewDispatcher([]string{srv.URL}, "s", discardLogger())
	for i := 0; i < 5; i++ {
		d.Emit("document.ingested", map[string]int{"n": i})
	}
	d.Close()

	assert.Equal(t, 5, s.count())
}

func TestDeliveryFailureDoesNotStopLoop(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s.handler())
	defer srv.Close()

	d := NewDispatcher([]string{"http://127.0.0.1:0/unreachable", srv.URL}, "s", discardLogger())
	d.Emit("document.ingest_failed", nil)
	d.Close()

	assert.Equal(t, 1, s.count())
}
