// ABOUTME: Server-Sent Events feed streaming bus events to HTTP clients
// ABOUTME: Supports an optional ?convo= filter and periodic keepalive comments

package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/convo-sync/internal/api"
	"github.com/2389/convo-sync/internal/auth"
	"github.com/2389/convo-sync/internal/convo"
)

// handleEvents streams bus events until the client disconnects. Without a
// convo parameter every conversation's events are sent.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	convoID := r.URL.Query().Get("convo")
	if convoID != "" {
		if _, err := s.store.GetConvo(r.Context(), convoID); err != nil {
			s.storeError(w, "get convo", err)
			return
		}
	}

	ctx := r.Context()
	events := s.bus.Stream(ctx, convoID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	s.logger.Debug("event stream opened", "convo_id", convoID, "user", auth.UserID(ctx))
	defer s.logger.Debug("event stream closed", "convo_id", convoID, "user", auth.UserID(ctx))

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := s.writeSSEEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (s *Server) writeSSEEvent(w http.ResponseWriter, ev convo.Event) error {
	data, err := json.Marshal(api.EventToJSON(ev))
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return nil
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		return err
	}
	return nil
}
