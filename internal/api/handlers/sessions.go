package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/askdoc/askdoc/internal/auth"
	"github.com/askdoc/askdoc/internal/session"
)

// SessionHandler manages conversation sessions. Creating one returns a
// bearer token scoped to that session; the detail routes verify the token
// subject matches the session in the URL.
type SessionHandler struct {
	sessions *session.Manager
	secret   string
	ttl      time.Duration
}

func NewSessionHandler(sm *session.Manager, secret string, ttl time.Duration) *SessionHandler {
	return &SessionHandler{sessions: sm, secret: secret, ttl: ttl}
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Create(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "create session: " + err.Error()})
		return
	}

	token, err := auth.IssueSessionToken(h.secret, s.ID, h.ttl)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "issue session token: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": s.ID,
		"token":      token,
		"expires_in": int(h.ttl.Seconds()),
	})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if auth.SessionIDFromContext(r.Context()) != id {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "token does not grant access to this session"})
		return
	}

	s, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "load session: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// History returns only the recorded turns, oldest first.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if auth.SessionIDFromContext(r.Context()) != id {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "token does not grant access to this session"})
		return
	}

	s, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "load session: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": s.ID,
		"turns":      s.Turns,
		"count":      len(s.Turns),
	})
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if auth.SessionIDFromContext(r.Context()) != id {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "token does not grant access to this session"})
		return
	}

	if err := h.sessions.Delete(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delete session: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
