package web

// errors.go provides unified JSON error response handling for the API.
// Technical errors are logged server-side with the chi request ID for
// correlation; clients get a short message and, where available, a
// machine-readable validation breakdown.

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"geobatch/internal/mapping"
)

// ErrorResponse is the JSON structure for API error responses.
type ErrorResponse struct {
	Error string `json:"error"`

	// Details carries per-field validation errors for mapping failures.
	Details []mapping.ValidationError `json:"details,omitempty"`
}

// respondError writes a JSON error response and logs it with request context.
func respondError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	respondValidationError(w, r, statusCode, message, nil)
}

// respondValidationError writes a JSON error response carrying per-field
// validation details.
func respondValidationError(w http.ResponseWriter, r *http.Request, statusCode int, message string, details []mapping.ValidationError) {
	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", message,
		"request_id", middleware.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Details: details})
}

// respondJSON encodes v as JSON with the given status code.
// Encoding errors are logged since headers are already sent.
func respondJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
