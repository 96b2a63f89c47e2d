// Package httputil centralizes JSON encoding and domain error translation for
// HTTP handlers so every endpoint returns the same envelopes.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	derrors "govqueue/pkg/domain-errors"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates a domain error into an HTTP response. Internal errors
// omit the description so infrastructure details never leak to callers.
func WriteError(w http.ResponseWriter, err error) {
	code := derrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != derrors.CodeInternal {
		if msg := derrors.MessageOf(err); msg != "" {
			body["error_description"] = msg
		}
	}
	WriteJSON(w, statusFor(code), body)
}

func statusFor(code derrors.Code) int {
	switch code {
	case derrors.CodeValidation, derrors.CodeInvariantViolation:
		return http.StatusBadRequest
	case derrors.CodeNotFound:
		return http.StatusNotFound
	case derrors.CodeConflict:
		return http.StatusConflict
	case derrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case derrors.CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Decode parses a JSON request body into T. On failure it writes a validation
// error response and returns ok=false; handlers should return immediately.
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (T, bool) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if logger != nil {
			logger.WarnContext(r.Context(), "failed to decode request body", "error", err)
		}
		WriteError(w, derrors.New(derrors.CodeValidation, "invalid request body"))
		return req, false
	}
	return req, true
}
