package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// keepAlive is how often an idle stream gets a comment line so proxies do
// not drop it.
const keepAlive = 15 * time.Second

// sseEvents streams status snapshots as Server-Sent Events. The current
// status goes out immediately, then every snapshot published on the bus.
func (h *Handlers) sseEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	id := uuid.New().String()
	ch := h.events.Subscribe(id)
	defer h.events.Unsubscribe(id)

	var seq uint64
	send := func(v any) {
		seq++
		sendSSE(w, flusher, seq, v)
	}
	send(h.ctrl.Status())

	ping := time.NewTicker(keepAlive)
	defer ping.Stop()
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return
			}
			send(st)
		case <-ping.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, flusher http.Flusher, seq uint64, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: status\nid: %d\ndata: %s\n\n", seq, data)
	flusher.Flush()
}
