// ABOUTME: Server-sent event stream of an owner's conversation updates
// ABOUTME: Lets other sessions of the same owner refresh their conversation lists live

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/parley/internal/apierr"
)

// keepaliveInterval is how often an idle stream gets a comment line
var keepaliveInterval = 30 * time.Second

// handleEvents streams conversation updates for the caller until the client
// disconnects or the gateway shuts down.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, apierr.CodeInternal, "streaming not supported")
		return
	}

	ownerID, ok := g.requireOwner(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	updates, subID := g.broadcaster.Subscribe(ctx, ownerID)
	defer g.broadcaster.Unsubscribe(ownerID, subID)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			g.writeSSEEvent(w, "conversation", u)
			flusher.Flush()
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	_, _ = fmt.Fprintf(w, "event: %s\n", event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
