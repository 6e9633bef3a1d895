package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// sseEvents streams controller snapshots as Server-Sent Events.
// Clients receive the current snapshot immediately, then every change.
func (h *Handlers) sseEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before reading the current state so no change is missed.
	id := uuid.New().String()
	ch := h.Events.Subscribe(id)
	defer h.Events.Unsubscribe(id)

	snap, err := h.snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	sendSSE(w, flusher, snap)

	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return
			}
			sendSSE(w, flusher, snap)
		case <-r.Context().Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
