package daemonclient

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// StreamEvent is one parsed text/event-stream frame from the daemon's
// terminal output stream: ready, output, or error (spec.md §4.4).
type StreamEvent struct {
	Event      string
	Data       string
	NextOffset int64
}

// TerminalOutputStream opens a long-lived SSE connection for a terminal
// session starting at byte offset since, invoking onEvent for every frame
// until ctx is canceled or the connection closes. It parses the
// three-line text/event-stream wire format by hand -- there is no framing
// complex enough to warrant a dependency.
func (c *Client) TerminalOutputStream(ctx context.Context, session string, since int64, onEvent func(StreamEvent)) error {
	path := fmt.Sprintf("/terminal/%s/stream?since=%d", session, since)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("open terminal stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("terminal stream returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var evt, data string
	flush := func() {
		if evt == "" && data == "" {
			return
		}
		se := StreamEvent{Event: evt, Data: data}
		se.NextOffset = parseNextOffset(data)
		onEvent(se)
		evt, data = "", ""
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			evt = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data != "" {
				data += "\n"
			}
			data += strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
		default:
			// Unrecognized SSE field (id:, retry:, comment) -- ignored.
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read terminal stream: %w", err)
	}
	return nil
}

// parseNextOffset extracts a trailing "nextOffset" integer field from a
// raw SSE data payload if present, returning -1 when absent or malformed
// so callers can tell "no offset in this frame" from "offset zero."
func parseNextOffset(data string) int64 {
	const marker = `"nextOffset":`
	idx := strings.Index(data, marker)
	if idx < 0 {
		return -1
	}
	rest := data[idx+len(marker):]
	end := 0
	for end < len(rest) && (rest[end] == '-' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	n, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil {
		return -1
	}
	return n
}
