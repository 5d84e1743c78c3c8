package relay

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const keepAliveInterval = 15 * time.Second

// SSEHandler returns an http.HandlerFunc that streams events as SSE.
// Clients may filter feeds via ?feeds=name1,name2 query parameter.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return sseHandler(broker, keepAliveInterval)
}

func sseHandler(broker *Broker, keepAlive time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		var feedFilter map[string]bool
		if q := r.URL.Query().Get("feeds"); q != "" {
			feedFilter = make(map[string]bool)
			for _, f := range strings.Split(q, ",") {
				if f = strings.TrimSpace(f); f != "" {
					feedFilter[f] = true
				}
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if feedFilter != nil && !feedFilter[evt.Feed] {
					continue
				}
				writeEvent(w, evt)
				flusher.Flush()
			}
		}
	}
}

// writeEvent writes one SSE frame. Multi-line payloads span several data
// lines.
func writeEvent(w http.ResponseWriter, evt Event) {
	fmt.Fprintf(w, "id: %d\nevent: %s\n", evt.ID, evt.Feed)
	for _, line := range strings.Split(evt.Payload, "\n") {
		fmt.Fprintf(w, "data: %s\n", strings.TrimSuffix(line, "\r"))
	}
	fmt.Fprint(w, "\n")
}
