// ABOUTME: Server-sent events subscription for live conversation updates
// ABOUTME: Parses event/data frames and delivers decoded updates on a channel

package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2389/parley/internal/conversation"
)

// EventConversation is the SSE event name for conversation updates
const EventConversation = "conversation"

// maxEventSize bounds one SSE line; updates carry whole conversations
const maxEventSize = 4 << 20

// Events subscribes to the caller's conversation updates. The channel closes
// when ctx is cancelled or the gateway ends the stream.
func (c *Client) Events(ctx context.Context) (<-chan *conversation.Update, error) {
	resp, err := c.send(ctx, http.MethodGet, "/api/events", nil, "text/event-stream")
	if err != nil {
		return nil, fmt.Errorf("subscribing to events: %w", err)
	}

	updates := make(chan *conversation.Update, 16)
	go func() {
		defer close(updates)
		defer resp.Body.Close()

		err := readEvents(ctx, resp.Body, func(event, data string) bool {
			if event != EventConversation {
				return true
			}
			var u conversation.Update
			if err := json.Unmarshal([]byte(data), &u); err != nil {
				c.logger.Warn("dropping malformed event", "error", err)
				return true
			}
			select {
			case updates <- &u:
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("event stream ended", "error", err)
		}
	}()
	return updates, nil
}

// readEvents calls handle for each complete event until the stream ends or
// handle returns false.
func readEvents(ctx context.Context, body io.Reader, handle func(event, data string) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventSize)

	var eventType string
	var dataLines []string

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Text()

		// Empty line ends an event
		if line == "" {
			if len(dataLines) > 0 {
				if eventType == "" {
					eventType = "message"
				}
				if !handle(eventType, strings.Join(dataLines, "\n")) {
					return nil
				}
			}
			eventType = ""
			dataLines = nil
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment or keepalive
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
