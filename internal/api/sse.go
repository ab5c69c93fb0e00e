// ABOUTME: Server-Sent Events consumer for the chat event feed
// ABOUTME: StreamEvents reads one connection; Pump reconnects with capped backoff

package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/convo-sync/internal/convo"
)

const (
	pumpRetryBase = 500 * time.Millisecond
	pumpRetryMax  = 30 * time.Second
	// maxSSELine bounds one SSE line; message bodies travel inside it.
	maxSSELine = 1 << 20
)

// StreamEvents opens the event feed and calls handle for each event until
// the stream ends or ctx is cancelled. An empty convoID subscribes to every
// conversation. Malformed events are logged and skipped.
func (c *Client) StreamEvents(ctx context.Context, convoID string, handle func(convo.Event)) error {
	var q url.Values
	if convoID != "" {
		q = url.Values{"convo": []string{convoID}}
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/api/events", q, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// Streams outlive any client-wide timeout, so use a copy without one.
	hc := *c.http
	hc.Timeout = 0

	resp, err := hc.Do(req)
	if err != nil {
		return transportError(ctx, http.MethodGet, "/api/events", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	c.logger.Debug("event stream connected", "convo_id", convoID)

	err = readSSE(resp.Body, func(eventType, data string) {
		var wire EventJSON
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			c.logger.Warn("dropping undecodable event", "event", eventType, "error", err)
			return
		}
		ev, err := EventFromJSON(wire)
		if err != nil {
			c.logger.Warn("dropping invalid event", "event", eventType, "error", err)
			return
		}
		handle(ev)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return transportError(ctx, http.MethodGet, "/api/events", err)
	}
	return io.ErrUnexpectedEOF
}

// readSSE parses an event stream, calling fn once per complete event.
// Comment lines and events without data are ignored.
func readSSE(body io.Reader, fn func(eventType, data string)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxSSELine)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if len(dataLines) > 0 {
				if eventType == "" {
					eventType = "message"
				}
				fn(eventType, strings.Join(dataLines, "\n"))
			}
			eventType = ""
			dataLines = nil
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		if strings.HasPrefix(line, "event:") {
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}

		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			continue
		}
	}

	return scanner.Err()
}

// Pump keeps an event stream open, feeding every event to publish, until ctx
// is cancelled or the server rejects the caller permanently. Dropped
// connections are retried with capped exponential backoff; a stream that
// delivered events resets the backoff.
func (c *Client) Pump(ctx context.Context, convoID string, publish func(convo.Event)) error {
	attempt := 0
	for {
		delivered := false
		err := c.StreamEvents(ctx, convoID, func(ev convo.Event) {
			delivered = true
			publish(ev)
		})
		if ctx.Err() != nil {
			return nil
		}
		if convo.Classify(err) == convo.KindPermanent {
			return fmt.Errorf("event stream: %w", err)
		}

		if delivered {
			attempt = 0
		}
		wait := pumpBackoff(attempt)
		attempt++

		c.logger.Warn("event stream disconnected, reconnecting",
			"error", err,
			"retry_in", wait,
			"attempt", attempt,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// pumpBackoff returns the delay before reconnect attempt n, jittered into
// the upper half of the exponential step.
func pumpBackoff(n int) time.Duration {
	d := pumpRetryBase
	for i := 0; i < n && d < pumpRetryMax; i++ {
		d *= 2
	}
	d = min(d, pumpRetryMax)
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}
