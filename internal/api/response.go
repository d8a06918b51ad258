package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/harmonia-erp/pulse/internal/stream"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeAdminError maps stream-layer errors onto HTTP statuses for the admin
// endpoints: missing streams and groups are 404, broker connectivity is 503,
// anything else is 500.
func writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stream.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, stream.ErrConnectivity):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
