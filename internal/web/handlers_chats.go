package web

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/drone-hub/hub/internal/apierr"
	"github.com/drone-hub/hub/internal/prompt"
	"github.com/drone-hub/hub/internal/registry"
)

func (s *Server) registerChatRoutes() {
	s.mux.HandleFunc("GET /api/drones/{id}/chats", s.apiListChats)
	s.mux.HandleFunc("GET /api/drones/{id}/chats/{chat}", s.apiGetChat)
	s.mux.HandleFunc("POST /api/drones/{id}/chats/{chat}/config", s.apiConfigChat)
	s.mux.HandleFunc("POST /api/drones/{id}/chats/{chat}/prompt", s.apiPromptChat)
	s.mux.HandleFunc("GET /api/drones/{id}/chats/{chat}/pending", s.apiChatPending)
	s.mux.HandleFunc("POST /api/drones/{id}/chats/{chat}/pending/{promptId}/unstick", s.apiChatUnstick)
	s.mux.HandleFunc("GET /api/drones/{id}/chats/{chat}/transcript", s.apiChatTranscript)
	s.mux.HandleFunc("GET /api/drones/{id}/chats/{chat}/output", s.apiChatOutput)
	s.mux.HandleFunc("GET /api/drones/{id}/chats/{chat}/models", s.apiChatModels)
}

func (s *Server) apiListChats(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"chats": d.Chats})
}

func (s *Server) apiGetChat(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	c, err := resolveChat(d, r.PathValue("chat"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, c)
}

func (s *Server) apiConfigChat(w http.ResponseWriter, r *http.Request) {
	id, chatName := r.PathValue("id"), r.PathValue("chat")
	var req struct {
		Agent    *registry.Agent `json:"agent,omitempty"`
		Model    string          `json:"model,omitempty"`
		SetModel bool            `json:"setModel,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	_, err := registry.Update(s.deps.Store, func(reg *registry.Registry) (struct{}, error) {
		d, err := resolveLiveDrone(reg, id)
		if err != nil {
			return struct{}{}, err
		}
		chat := registry.EnsureChat(d, chatName)
		if err := registry.SetChatAgentConfig(chat, req.Agent, req.SetModel, req.Model); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) apiPromptChat(w http.ResponseWriter, r *http.Request) {
	id, chatName := r.PathValue("id"), r.PathValue("chat")
	var req struct {
		Prompt      string   `json:"prompt"`
		PromptID    string   `json:"promptId,omitempty"`
		Cwd         string   `json:"cwd,omitempty"`
		Attachments []struct {
			Filename    string `json:"filename"`
			ContentType string `json:"contentType"`
			Data        string `json:"data"` // base64
		} `json:"attachments,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Prompt == "" {
		writeErr(w, apierr.Invalid("invalid_prompt", "prompt is required"))
		return
	}
	attachments := make([]prompt.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		data, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			writeErr(w, apierr.Invalid("invalid_attachment", "attachment data must be base64"))
			return
		}
		attachments = append(attachments, prompt.Attachment{Filename: a.Filename, ContentType: a.ContentType, Data: data})
	}
	if err := s.deps.Prompts.EnqueuePrompt(r.Context(), id, chatName, req.Prompt, req.PromptID, attachments, req.Cwd); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusAccepted, nil)
}

func (s *Server) apiChatPending(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	c, err := resolveChat(d, r.PathValue("chat"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"pending": c.PendingPrompts})
}

// apiChatUnstick forces a queued/stale pending prompt out of the queue so
// the pumper stops waiting on it (spec.md §7's stale-prompt recovery).
func (s *Server) apiChatUnstick(w http.ResponseWriter, r *http.Request) {
	id, chatName, promptID := r.PathValue("id"), r.PathValue("chat"), r.PathValue("promptId")
	_, err := registry.Update(s.deps.Store, func(reg *registry.Registry) (struct{}, error) {
		d, err := resolveLiveDrone(reg, id)
		if err != nil {
			return struct{}{}, err
		}
		c, err := resolveChat(d, chatName)
		if err != nil {
			return struct{}{}, err
		}
		pp, idx := registry.FindPendingPrompt(c, promptID)
		if idx < 0 {
			return struct{}{}, apierr.NotFound("prompt_not_found", "pending prompt not found")
		}
		pp.State = registry.PromptFailed
		pp.Error = "unstuck by operator"
		return struct{}{}, nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) apiChatTranscript(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	c, err := resolveChat(d, r.PathValue("chat"))
	if err != nil {
		writeErr(w, err)
		return
	}
	switch r.URL.Query().Get("turn") {
	case "last":
		if len(c.Turns) == 0 {
			writeOK(w, http.StatusOK, map[string]any{"turns": []registry.Turn{}})
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"turns": c.Turns[len(c.Turns)-1:]})
	case "", "all":
		writeOK(w, http.StatusOK, map[string]any{"turns": c.Turns})
	default:
		n, convErr := strconv.Atoi(r.URL.Query().Get("turn"))
		if convErr != nil || n < 0 || n >= len(c.Turns) {
			writeErr(w, apierr.Invalid("invalid_turn", "turn must be 'last', 'all', or a valid index"))
			return
		}
		writeOK(w, http.StatusOK, map[string]any{"turns": []registry.Turn{c.Turns[n]}})
	}
}

// apiChatOutput proxies to the in-container daemon's live job output for
// the chat's most recent prompt (spec.md §6's view=log|screen): view=log
// (the default) returns the job's stdout, view=screen returns stdout
// followed by stderr. No terminal rendering is applied.
func (s *Server) apiChatOutput(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	c, err := resolveChat(d, r.PathValue("chat"))
	if err != nil {
		writeErr(w, err)
		return
	}
	promptID := latestPromptID(c)
	if promptID == "" {
		writeOK(w, http.StatusOK, map[string]any{"state": "", "output": "", "error": ""})
		return
	}
	client := s.deps.NewDaemon(d.HostPort, d.Token)
	job, err := client.PromptGet(r.Context(), promptID)
	if err != nil {
		writeErr(w, apierr.Upstream("daemon_unreachable", "failed to read job output").Wrap(err))
		return
	}
	view := r.URL.Query().Get("view")
	if view == "" {
		view = "log"
	}
	text := job.Stdout
	if view == "screen" && job.Stderr != "" {
		text = job.Stdout + job.Stderr
	}
	writeOK(w, http.StatusOK, map[string]any{"state": job.State, "output": text, "error": job.Error})
}

func (s *Server) apiChatModels(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	c, err := resolveChat(d, r.PathValue("chat"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"agent": c.Agent, "models": defaultModelsFor(c.Agent.ID)})
}

// latestPromptID returns the most recently submitted prompt id for a
// chat: the newest pending prompt whatever its state, else the last
// completed turn's prompt id.
func latestPromptID(c *registry.Chat) string {
	if n := len(c.PendingPrompts); n > 0 {
		return c.PendingPrompts[n-1].ID
	}
	if n := len(c.Turns); n > 0 {
		return c.Turns[n-1].PromptID
	}
	return ""
}

func defaultModelsFor(agent registry.AgentKind) []string {
	switch agent {
	case registry.AgentCursor:
		return []string{"auto", "gpt-5", "claude-4.5-sonnet"}
	case registry.AgentCodex:
		return []string{"gpt-5-codex"}
	case registry.AgentClaude:
		return []string{"claude-opus-4", "claude-sonnet-4.5"}
	case registry.AgentOpenCode:
		return []string{"auto"}
	default:
		return nil
	}
}
