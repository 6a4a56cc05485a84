package server

import (
	"fmt"
	"net/http"
	"time"
)

// sseWriteTimeout is the maximum time allowed for a single SSE write. It
// must not exceed shutdownTimeout so slow clients cannot stall shutdown.
const sseWriteTimeout = 5 * time.Second

// handleSSE streams snapshot, status and notification events via
// Server-Sent Events.
//
// The handler uses write deadlines so a slow or vanished client cannot block
// it forever; a blocked write would otherwise keep the handler from noticing
// context cancellation.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// may not be supported by some ResponseWriter implementations
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// the current state of every collection is buffered by watch itself
	st := watch(s.src)
	defer st.close()

	for {
		select {
		case data := <-st.events:
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-st.lagged:
			s.logger.Warn("sse client lagging, disconnecting", "remote_addr", r.RemoteAddr)
			return

		case <-r.Context().Done():
			// fires on both client disconnect and server shutdown
			return
		}
	}
}
