package web

import (
	"net/http"
	"strconv"

	"github.com/drone-hub/hub/internal/apierr"
	"github.com/drone-hub/hub/internal/registry"
)

func (s *Server) registerSettingsRoutes() {
	s.mux.HandleFunc("POST /api/settings/openai", s.apiSetOpenAISettings)
	s.mux.HandleFunc("POST /api/settings/gemini", s.apiSetGeminiSettings)
	s.mux.HandleFunc("GET /api/settings/llm", s.apiGetLLMSettings)
	s.mux.HandleFunc("POST /api/settings/llm", s.apiSetLLMProvider)
	s.mux.HandleFunc("GET /api/settings/delete-action", s.apiGetDeleteAction)
	s.mux.HandleFunc("POST /api/settings/delete-action", s.apiSetDeleteAction)
	s.mux.HandleFunc("GET /api/settings/hub/logs", s.apiHubLogs)
	s.mux.HandleFunc("GET /api/settings/notifications", s.apiGetNotificationSettings)
	s.mux.HandleFunc("POST /api/settings/notifications", s.apiSetNotificationSettings)
}

func (s *Server) apiSetOpenAISettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"apiKey"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.deps.Settings.SetLLMSettings("openai", req.APIKey, ""); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) apiSetGeminiSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"apiKey"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.deps.Settings.SetLLMSettings("gemini", "", req.APIKey); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) apiGetLLMSettings(w http.ResponseWriter, r *http.Request) {
	settings := s.deps.Settings.GetSettings()
	writeOK(w, http.StatusOK, map[string]any{
		"provider":       settings.LLMProvider,
		"tldrModel":      settings.TLDRModel,
		"jobsModel":      settings.JobsModel,
		"droneNameModel": settings.DroneNameModel,
	})
}

func (s *Server) apiSetLLMProvider(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Provider != "openai" && req.Provider != "gemini" {
		writeErr(w, apierr.Invalid("invalid_provider", "provider must be openai or gemini"))
		return
	}
	if err := s.deps.Settings.SetLLMSettings(req.Provider, "", ""); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) apiGetDeleteAction(w http.ResponseWriter, r *http.Request) {
	settings := s.deps.Settings.GetSettings()
	action := settings.DeleteAction
	if action == "" {
		action = "archive"
	}
	writeOK(w, http.StatusOK, map[string]any{"deleteAction": action})
}

func (s *Server) apiSetDeleteAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Action != "archive" && req.Action != "delete" {
		writeErr(w, apierr.Invalid("invalid_action", "action must be archive or delete"))
		return
	}
	if err := s.deps.Settings.SetDeleteAction(req.Action); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) apiHubLogs(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	if n <= 0 {
		n = 200
	}
	writeOK(w, http.StatusOK, map[string]any{"lines": s.deps.Settings.TailLogs(n)})
}

func (s *Server) apiGetNotificationSettings(w http.ResponseWriter, r *http.Request) {
	settings := s.deps.Settings.GetSettings()
	writeOK(w, http.StatusOK, settings.Notifications)
}

func (s *Server) apiSetNotificationSettings(w http.ResponseWriter, r *http.Request) {
	var req registry.NotificationSettings
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.deps.Settings.SetNotificationSettings(req); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}
