package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nimbusmesh/smo/internal/apierr"
)

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Respond writes v as a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response body", "error", err)
	}
}

// RespondError writes a JSON error response with the given status, error
// code, and human-readable message.
func RespondError(w http.ResponseWriter, status int, code, message string) {
	Respond(w, status, ErrorResponse{Error: code, Message: message})
}

// RespondAPIError maps err to an HTTP status via errors.Is against the
// apierr sentinels (spec §7's error-kind propagation policy) and writes it
// as a plain-text body, matching the graph API's text responses.
func RespondAPIError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(err.Error()))
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, apierr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apierr.ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, apierr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apierr.ErrDescriptorParse):
		return http.StatusInternalServerError
	case errors.Is(err, apierr.ErrSolverInfeasible):
		return http.StatusInternalServerError
	case errors.Is(err, apierr.ErrClusterUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, apierr.ErrSubprocessFailure):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
