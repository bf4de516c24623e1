package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/warmbridge/internal/events"
)

// keepAliveInterval spaces comment frames that keep idle proxies from
// closing the stream.
const keepAliveInterval = 15 * time.Second

// handleEvents streams invocation lifecycle events as SSE. A reconnecting
// client sends Last-Event-ID and gets the hub backlog after that id first,
// so an invocation that finished while it was away is not missed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe first: anything published during the replay lands in live
	// and is dropped below by id.
	live, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sent := parseLastEventID(r.Header.Get("Last-Event-ID"))
	send := func(ev events.Event) bool {
		if ev.ID <= sent {
			return true
		}
		if err := writeSSE(w, ev); err != nil {
			return false
		}
		sent = ev.ID
		return true
	}

	for _, ev := range s.events.Since(sent) {
		if !send(ev) {
			return
		}
	}
	flusher.Flush()

	ping := time.NewTicker(keepAliveInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-live:
			if !open || !send(ev) {
				return
			}
			flusher.Flush()
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// parseLastEventID returns 0 for a missing or malformed header, which
// replays the whole backlog.
func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE writes one frame. Event payloads are single-line JSON, so one
// data line is enough.
func writeSSE(w http.ResponseWriter, ev events.Event) error {
	frame := "id: " + strconv.FormatInt(ev.ID, 10) + "\n"
	if ev.Type != "" {
		frame += "event: " + ev.Type + "\n"
	}
	frame += "data: " + string(ev.Data) + "\n\n"
	_, err := fmt.Fprint(w, frame)
	return err
}
