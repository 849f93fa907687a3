package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drone-hub/hub/internal/apierr"
	"github.com/drone-hub/hub/internal/daemonclient"
)

const (
	wsMaxChunkBytes   = 16 * 1024
	wsMaxPendingBytes = 128 * 1024
	wsIdleFlush       = 24 * time.Millisecond
	wsBurstThreshold  = 1024

	wsBackoffMin    = 40 * time.Millisecond
	wsBackoffCap    = 1800 * time.Millisecond
	wsBackoffFactor = 1.8
	wsMaxAttempts   = 12
)

var terminalUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // origin already vetted by the cors middleware
}

type wsFrame struct {
	Type        string `json:"type"`
	OffsetBytes int64  `json:"offsetBytes,omitempty"`
	Text        string `json:"text,omitempty"`
}

// apiTerminalStream implements the Terminal WebSocket Bridge (spec.md
// §4.10): resumable byte-offset SSE-to-WS relay with input coalescing and
// upstream reconnect, grounded on the teacher's sibling WS hub pattern
// (register/unregister/read-loop) and the other example repos' gorilla
// upgrader use.
func (s *Server) apiTerminalStream(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	session := r.PathValue("session")
	if !validSessionName(d.ID, session) {
		writeErr(w, apierr.Invalid("invalid_session", "session name is not valid for this drone"))
		return
	}
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	maxBytes, _ := strconv.Atoi(r.URL.Query().Get("maxBytes"))
	if maxBytes <= 0 {
		maxBytes = wsMaxPendingBytes
	}

	conn, err := terminalUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Log.Warn("terminal ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if s.deps.Metrics != nil {
		s.deps.Metrics.TerminalConnections.Inc()
		defer s.deps.Metrics.TerminalConnections.Dec()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := s.deps.NewDaemon(d.HostPort, d.Token)

	boot, err := client.TerminalOutput(ctx, session, since, maxBytes)
	if err != nil {
		_ = conn.WriteJSON(wsFrame{Type: "error", Text: "failed to bootstrap terminal offset"})
		return
	}
	offset := boot.NextOffset
	_ = conn.WriteJSON(wsFrame{Type: "ready", OffsetBytes: offset})

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	go s.terminalOutputPump(ctx, client, session, offset, writeJSON)

	s.terminalInputLoop(ctx, conn, client, session, writeJSON)
}

// terminalOutputPump forwards the daemon's SSE output stream to the
// client, reconnecting with exponential backoff (spec.md §4.10) on
// upstream failure and resuming from the last offset seen.
func (s *Server) terminalOutputPump(ctx context.Context, client *daemonclient.Client, session string, offset int64, writeJSON func(any) error) {
	interval := wsBackoffMin
	for attempt := 0; attempt < wsMaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		err := client.TerminalOutputStream(ctx, session, offset, func(evt daemonclient.StreamEvent) {
			switch evt.Event {
			case "output":
				if evt.NextOffset >= 0 {
					offset = evt.NextOffset
				}
				_ = writeJSON(wsFrame{Type: "output", OffsetBytes: offset, Text: evt.Data})
			case "error":
				_ = writeJSON(wsFrame{Type: "error", Text: evt.Data})
			}
		})
		if ctx.Err() != nil || err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		interval = time.Duration(float64(interval) * wsBackoffFactor)
		if interval > wsBackoffCap {
			interval = wsBackoffCap
		}
	}
}

// terminalInputLoop reads client frames, coalescing typed text per
// spec.md §4.10's flush rules, and answers ping with pong.
func (s *Server) terminalInputLoop(ctx context.Context, conn *websocket.Conn, client *daemonclient.Client, session string, writeJSON func(any) error) {
	var mu sync.Mutex
	var buf []byte
	idleTimer := time.NewTimer(wsIdleFlush)
	idleTimer.Stop()
	defer idleTimer.Stop()

	flush := func() {
		mu.Lock()
		if len(buf) == 0 {
			mu.Unlock()
			return
		}
		out := buf
		buf = nil
		mu.Unlock()
		for len(out) > 0 {
			n := min(len(out), wsMaxChunkBytes)
			_ = client.TerminalInput(ctx, session, out[:n])
			out = out[n:]
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-idleTimer.C:
				flush()
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			flush()
			return
		}
		if msgType == websocket.TextMessage {
			var frame struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &frame) == nil && frame.Type == "ping" {
				_ = writeJSON(wsFrame{Type: "pong"})
				continue
			}
		}

		mu.Lock()
		flushNow := false
		for _, b := range data {
			buf = append(buf, b)
			if isControlByte(b) {
				flushNow = true
			}
		}
		if len(buf) >= wsBurstThreshold {
			flushNow = true
		}
		if len(buf) > wsMaxPendingBytes {
			buf = buf[len(buf)-wsMaxPendingBytes:]
		}
		mu.Unlock()

		if flushNow {
			idleTimer.Stop()
			flush()
		} else {
			idleTimer.Reset(wsIdleFlush)
		}
	}
}

func isControlByte(b byte) bool {
	switch b {
	case '\r', '\n', '\t', 0x03, 0x04, 0x1b: // CR LF TAB ETX EOT ESC
		return true
	default:
		return false
	}
}

