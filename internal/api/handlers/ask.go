package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/askdoc/askdoc/internal/rag"
	"github.com/askdoc/askdoc/internal/session"
)

// AskHandler answers questions against the active corpus. Passing a
// session_id threads the session's recent turns into the prompt and
// records the new exchange afterwards.
type AskHandler struct {
	pipeline *rag.Pipeline
	sessions *session.Manager
}

func NewAskHandler(p *rag.Pipeline, sm *session.Manager) *AskHandler {
	return &AskHandler{pipeline: p, sessions: sm}
}

type askRequest struct {
	Question  string `json:"question"`
	K         *int   `json:"k,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type askResponse struct {
	*rag.AskResult
	SessionID string `json:"session_id,omitempty"`
}

func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question required"})
		return
	}

	k := 0
	if req.K != nil {
		if *req.K <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "k must be a positive integer"})
			return
		}
		k = *req.K
	}

	var sess *session.Session
	if req.SessionID != "" {
		s, err := h.sessions.Get(r.Context(), req.SessionID)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "load session: " + err.Error()})
			return
		}
		sess = s
	}

	in := rag.AskInput{Question: req.Question, K: k}
	if sess != nil {
		in.History = h.sessions.History(sess)
	}

	res, err := h.pipeline.Ask(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}

	if sess != nil {
		turn := session.Turn{Question: req.Question, Answer: res.Answer, Refused: res.Refused}
		if err := h.sessions.Append(r.Context(), sess.ID, turn); err != nil {
			slog.Warn("record session turn", "session_id", sess.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, askResponse{AskResult: res, SessionID: req.SessionID})
}

type searchRequest struct {
	Query string `json:"query"`
	K     *int   `json:"k,omitempty"`
}

// Search returns the ranked chunks for a query without calling the
// completion provider. Useful for debugging retrieval quality.
func (h *AskHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query required"})
		return
	}

	k := 0
	if req.K != nil {
		if *req.K <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "k must be a positive integer"})
			return
		}
		k = *req.K
	}

	hits, err := h.pipeline.Search(r.Context(), req.Query, k)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": hits, "count": len(hits)})
}
