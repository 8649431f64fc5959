// Package auth guards the HTTP surface: a static API key check for all
// endpoints and signed bearer tokens scoping access to chat sessions.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
)

// APIKeyMiddleware authenticates requests against the configured key
// list. With no keys configured the middleware is a pass-through, which
// is the expected mode for local single-user deployments.
type APIKeyMiddleware struct {
	headerName string
	hashes     [][]byte
}

func NewAPIKeyMiddleware(headerName string, keys []string) *APIKeyMiddleware {
	hashes := make([][]byte, 0, len(keys))
	for _, k := range keys {
		h := sha256.Sum256([]byte(k))
		hashes = append(hashes, h[:])
	}
	return &APIKeyMiddleware{headerName: headerName, hashes: hashes}
}

func (m *APIKeyMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.hashes) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(m.headerName)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}

		// Compare digests, not keys, so the comparison length never
		// leaks how long a real key is.
		h := sha256.Sum256([]byte(key))
		for _, want := range m.hashes {
			if subtle.ConstantTimeCompare(want, h[:]) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "invalid API key")
	})
}
