package server

import (
	"net/http"
)

// NewRouter registers HTTP routes and returns the handler with middleware.
func NewRouter(app *App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/counters", app.getCountersHandler)
	mux.HandleFunc("PUT /v1/counters", app.putCountersHandler)
	mux.HandleFunc("POST /v1/counters/reset", app.resetHandler)
	mux.HandleFunc("GET /v1/counters/stream", app.streamHandler)
	mux.HandleFunc("GET /v1/history", app.historyHandler)
	mux.HandleFunc("GET /healthz", app.healthHandler)
	return WithRequestID(WithLogging(app.logger, mux))
}
