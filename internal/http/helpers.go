package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"spendtrack/internal/auth"
	"spendtrack/internal/core"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads the request body into dst, rejecting oversized or
// malformed payloads.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorBody struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *core.ValidationError
	var terr *core.TransportError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:      "validation failed",
			Violations: verr.Violations,
		})
	case errors.Is(err, core.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required"})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "expense not found"})
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, auth.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.As(err, &terr):
		slog.ErrorContext(r.Context(), "Backend failure", "error", err, "url", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: terr.Message})
	default:
		slog.ErrorContext(r.Context(), "Unhandled error", "error", err, "url", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
