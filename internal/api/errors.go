package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"wgfleet"
)

// errToStatus maps the sentinel error taxonomy to HTTP status codes in one
// place, so every handler shares the same translation.
func errToStatus(err error) int {
	switch {
	case errors.Is(err, wgfleet.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, wgfleet.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, wgfleet.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errToStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}); encErr != nil {
		slog.Error("write error response", "err", encErr)
	}
}
