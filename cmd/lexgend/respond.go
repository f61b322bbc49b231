package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/direitopremium/lexgen"
	"github.com/direitopremium/lexgen/internal/fallback"
	"github.com/direitopremium/lexgen/internal/logging"
)

// writeJSON writes the {"success":true,"data":...} envelope the clients expect.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

// writeError writes the {"success":false,"error":...} envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, lexgen.ErrUnknownProfile):
		return http.StatusNotFound
	case errors.Is(err, lexgen.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, lexgen.ErrMisconfigured), errors.Is(err, fallback.ErrNoCredentials):
		return http.StatusInternalServerError
	case errors.Is(err, fallback.ErrAllProvidersExhausted):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and answers with its mapped status. Server-side
// failures get a generic message; the detail stays in the log.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		logging.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		msg = "internal configuration error"
	case http.StatusBadGateway:
		msg = "all providers failed, try again later"
	}
	writeError(w, status, msg)
}
