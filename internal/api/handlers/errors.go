package handlers

import (
	"errors"
	"net/http"

	"github.com/askdoc/askdoc/internal/errdefs"
	"github.com/askdoc/askdoc/internal/rag"
)

// statusForError maps pipeline error kinds onto HTTP status codes in one
// place so every handler reports failures the same way.
func statusForError(err error) int {
	switch {
	case errors.Is(err, rag.ErrIngestBusy):
		return http.StatusConflict
	case errors.Is(err, rag.ErrNoCorpus):
		return http.StatusConflict
	case errdefs.IsValidation(err):
		return http.StatusBadRequest
	case errdefs.IsIngestion(err):
		return http.StatusUnprocessableEntity
	case errdefs.IsQuery(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusForError(err), map[string]string{"error": err.Error()})
}
