package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/docket/internal/stock"
	"github.com/roach88/docket/internal/store"
)

// HeaderActorID names the station making a change.
const HeaderActorID = "X-Actor-Id"

// MaxHistoryLimit caps the history page size.
const MaxHistoryLimit = 500

// maxBodyBytes bounds PUT bodies; a full yard sheet is a few KiB.
const maxBodyBytes = 1 << 20

// WriteRequest is the PUT /v1/counters body.
type WriteRequest struct {
	Counters stock.Counters `json:"counters"`
}

// WriteResponse acknowledges a committed change.
type WriteResponse struct {
	Revision int64  `json:"revision"`
	Digest   string `json:"digest"`
}

// App holds the dependencies of the HTTP handlers.
type App struct {
	Store  *store.Store
	logger *slog.Logger

	closing      atomic.Bool
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewApp creates the handler set for st. A nil logger means slog.Default().
func NewApp(st *store.Store, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{Store: st, logger: logger, shutdown: make(chan struct{})}
}

// StartShutdown rejects new changes and ends open streams so that
// http.Server.Shutdown can drain.
func (a *App) StartShutdown() {
	a.shutdownOnce.Do(func() {
		a.closing.Store(true)
		close(a.shutdown)
	})
}

func (a *App) getCountersHandler(w http.ResponseWriter, r *http.Request) {
	sheet, err := a.Store.ReadSheet(r.Context())
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(sheet.Digest))
	writeJSON(w, http.StatusOK, sheet)
}

func (a *App) putCountersHandler(w http.ResponseWriter, r *http.Request) {
	if a.closing.Load() {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	if !isJSON(r) {
		WriteJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "expected application/json")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req WriteRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Counters == nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", "counters is required")
		return
	}
	if err := req.Counters.Validate(); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	c, err := a.Store.Apply(r.Context(), store.OpWrite, req.Counters, actor)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	a.logger.Info("sheet_written",
		"request_id", RequestIDFromContext(r.Context()),
		"actor_id", actor,
		"revision", c.Revision,
		"lines", len(c.Counters),
	)
	writeJSON(w, http.StatusOK, WriteResponse{Revision: c.Revision, Digest: c.Digest})
}

func (a *App) resetHandler(w http.ResponseWriter, r *http.Request) {
	if a.closing.Load() {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	c, err := a.Store.Apply(r.Context(), store.OpReset, nil, actor)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	a.logger.Info("sheet_reset",
		"request_id", RequestIDFromContext(r.Context()),
		"actor_id", actor,
		"revision", c.Revision,
	)
	writeJSON(w, http.StatusOK, WriteResponse{Revision: c.Revision, Digest: c.Digest})
}

func (a *App) historyHandler(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteJSONError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		limit = min(n, MaxHistoryLimit)
	}

	entries, err := a.Store.History(r.Context(), limit)
	if err != nil {
		a.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	if a.closing.Load() {
		WriteJSONError(w, http.StatusServiceUnavailable, "shutting_down", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, stock.ErrNegativeCount) || errors.Is(err, stock.ErrInvalidKey) {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	a.logger.Error("store_error",
		"request_id", RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"error", err,
	)
	WriteJSONError(w, http.StatusInternalServerError, "store_error", "")
}

func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := strings.TrimSpace(r.Header.Get(HeaderActorID))
	if actor == "" {
		WriteJSONError(w, http.StatusBadRequest, "validation_error", HeaderActorID+" header is required")
		return "", false
	}
	return actor, true
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/json")
}
