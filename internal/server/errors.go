// Package server exposes the shared stock sheet over HTTP.
//
// Routes:
//   - GET  /v1/counters         current sheet with revision and digest
//   - PUT  /v1/counters         replace the sheet (X-Actor-Id required)
//   - POST /v1/counters/reset   clear the sheet (X-Actor-Id required)
//   - GET  /v1/counters/stream  NDJSON change feed, first line is the sheet
//   - GET  /v1/history          recent changes, newest first
//   - GET  /healthz             liveness
package server

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the JSON error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteJSONError writes a JSON error payload with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
