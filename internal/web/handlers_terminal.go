package web

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/drone-hub/hub/internal/apierr"
	"github.com/drone-hub/hub/internal/containeradapter"
)

const chatSessionPrefix = "drone-hub-chat-"

// sessionNameRe is spec.md §4.10's terminal session-name safety pattern.
var sessionNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

func (s *Server) registerTerminalRoutes() {
	s.mux.HandleFunc("POST /api/drones/{id}/terminal/open", s.apiTerminalOpen)
	s.mux.HandleFunc("GET /api/drones/{id}/terminal/{session}/output", s.apiTerminalOutput)
	s.mux.HandleFunc("POST /api/drones/{id}/terminal/{session}/input", s.apiTerminalInput)
	s.mux.HandleFunc("GET /api/drones/{id}/terminal/{session}/stream", s.apiTerminalStream)
}

// shellSessionName is the fixed tmux session name used for a drone's
// plain shell terminal, distinct from the per-chat agent sessions named
// drone-hub-chat-<chat>.
func shellSessionName(droneID string) string {
	return "shell-" + strings.ReplaceAll(droneID, "-", "")[:8]
}

func chatSessionName(chatName string) string {
	return chatSessionPrefix + chatName
}

// validSessionName enforces spec.md §4.10: the safety regex, plus the
// rule that a session must either be the drone's shell session or carry
// the chat-session prefix.
func validSessionName(droneID, session string) bool {
	if !sessionNameRe.MatchString(session) {
		return false
	}
	return session == shellSessionName(droneID) || strings.HasPrefix(session, chatSessionPrefix)
}

func (s *Server) apiTerminalOpen(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	mode := r.URL.Query().Get("mode")
	chat := r.URL.Query().Get("chat")

	var session string
	switch mode {
	case "shell", "":
		session = shellSessionName(d.ID)
	case "agent":
		if chat == "" {
			writeErr(w, apierr.Invalid("invalid_chat", "chat is required for mode=agent"))
			return
		}
		if _, err := resolveChat(d, chat); err != nil {
			writeErr(w, err)
			return
		}
		session = chatSessionName(chat)
	default:
		writeErr(w, apierr.Invalid("invalid_mode", "mode must be shell or agent"))
		return
	}

	if err := s.deps.Adapter.SessionStart(r.Context(), d.ContainerName, session, "bash", nil, true); err != nil {
		writeErr(w, apierr.Internal("session_start_failed", "failed to open terminal session").Wrap(err))
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"session": session})
}

func (s *Server) apiTerminalOutput(w http.ResponseWriter, r *http.Request) {
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
	maxBytes, _ := strconv.Atoi(r.URL.Query().Get("max"))
	tailLines, _ := strconv.Atoi(r.URL.Query().Get("tailLines"))
	res, err := s.deps.Adapter.SessionRead(r.Context(), d.ContainerName, session, containeradapter.SessionReadOptions{
		Since: since, MaxBytes: maxBytes, TailLines: tailLines,
	})
	if err != nil {
		writeErr(w, apierr.Internal("session_read_failed", "failed to read terminal output").Wrap(err))
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"text": res.Text, "nextOffset": res.NextOffset})
}

func (s *Server) apiTerminalInput(w http.ResponseWriter, r *http.Request) {
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
	var req struct {
		Text string   `json:"text"`
		Keys []string `json:"keys,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.deps.Adapter.SessionType(r.Context(), d.ContainerName, session, req.Text, req.Keys); err != nil {
		writeErr(w, apierr.Internal("session_input_failed", "failed to send terminal input").Wrap(err))
		return
	}
	writeOK(w, http.StatusOK, nil)
}
