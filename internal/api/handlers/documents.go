package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/askdoc/askdoc/internal/queue"
	"github.com/askdoc/askdoc/internal/rag"
	"github.com/askdoc/askdoc/internal/storage"
)

// DocumentHandler serves the single-document lifecycle: upload a file to
// become the active corpus, inspect it, and clear it. When a queue client
// is configured uploads are spooled and ingested by the worker; otherwise
// they are ingested inline before the response is written.
type DocumentHandler struct {
	pipeline *rag.Pipeline
	spool    storage.Storage
	queue    *queue.Client // nil when Redis is not configured
	maxBytes int64
}

func NewDocumentHandler(p *rag.Pipeline, spool storage.Storage, qc *queue.Client, maxBytes int64) *DocumentHandler {
	return &DocumentHandler{pipeline: p, spool: spool, queue: qc, maxBytes: maxBytes}
}

func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Slack on top of the document limit covers multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+(1<<20))

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body exceeds the upload limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file required"})
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": "file exceeds the upload limit",
		})
		return
	}

	if h.queue != nil && r.FormValue("sync") != "true" {
		h.enqueue(w, r, header.Filename, file)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read upload: " + err.Error()})
		return
	}

	res, err := h.pipeline.Ingest(r.Context(), rag.IngestInput{Filename: header.Filename, Data: data})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// enqueue spools the upload to disk and hands the key to the worker. The
// client polls GET /status to see the corpus switch over.
func (h *DocumentHandler) enqueue(w http.ResponseWriter, r *http.Request, filename string, file io.Reader) {
	key, err := h.spool.Save(r.Context(), filename, file)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "spool upload: " + err.Error()})
		return
	}

	taskID, err := h.queue.EnqueueIngestDocument(queue.IngestDocumentPayload{
		Key:      key,
		Filename: filename,
		Source:   "upload",
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "enqueue ingestion: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"task_id":  taskID,
		"status":   "queued",
		"filename": filename,
	})
}

func (h *DocumentHandler) Active(w http.ResponseWriter, r *http.Request) {
	summary, ok := h.pipeline.Active()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active corpus"})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Clear(r.Context()); err != nil {
		if errors.Is(err, rag.ErrNoCorpus) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active corpus"})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *DocumentHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Status())
}
