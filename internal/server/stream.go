package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/roach88/docket/internal/store"
)

// streamBuffer is how many changes a stream may fall behind before it is
// dropped. A dropped client reconnects and resyncs from the first line.
const streamBuffer = 64

// ContentTypeNDJSON is the change feed media type.
const ContentTypeNDJSON = "application/x-ndjson"

// streamHandler writes the current sheet, then one line per change.
func (a *App) streamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteJSONError(w, http.StatusInternalServerError, "streaming_unsupported", "")
		return
	}

	changes := make(chan store.Change, streamBuffer)
	overflow := make(chan struct{})
	var overflowOnce sync.Once

	// Subscribe before reading so nothing committed in between is lost.
	unsub := a.Store.Hub().Subscribe(func(c store.Change) {
		select {
		case changes <- c:
		default:
			overflowOnce.Do(func() { close(overflow) })
		}
	})
	defer unsub()

	sheet, err := a.Store.ReadSheet(r.Context())
	if err != nil {
		a.storeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", ContentTypeNDJSON)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	first := store.Change{
		Revision: sheet.Revision,
		Op:       store.OpSnapshot,
		Digest:   sheet.Digest,
		Counters: sheet.Counters,
	}
	if err := enc.Encode(first); err != nil {
		return
	}
	flusher.Flush()

	reqID := RequestIDFromContext(r.Context())
	a.logger.Debug("stream_opened", "request_id", reqID, "revision", sheet.Revision)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-a.shutdown:
			return
		case <-overflow:
			a.logger.Warn("stream_dropped: client too slow", "request_id", reqID)
			return
		case c := <-changes:
			if c.Revision <= sheet.Revision {
				continue
			}
			if err := enc.Encode(c); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
