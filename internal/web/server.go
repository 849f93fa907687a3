// Package web implements the Hub's HTTP/WebSocket API Core (spec.md
// §4.10): bearer auth, CORS, canonical JSON envelopes, and every route in
// §6, routed with the stdlib net/http.ServeMux's 1.22+ pattern syntax
// rather than a third-party router, following the teacher's
// internal/web/server.go.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/drone-hub/hub/internal/config"
	"github.com/drone-hub/hub/internal/containeradapter"
	"github.com/drone-hub/hub/internal/daemonclient"
	"github.com/drone-hub/hub/internal/events"
	"github.com/drone-hub/hub/internal/logging"
	"github.com/drone-hub/hub/internal/metrics"
	"github.com/drone-hub/hub/internal/oplock"
	"github.com/drone-hub/hub/internal/prompt"
	"github.com/drone-hub/hub/internal/provision"
	"github.com/drone-hub/hub/internal/reconcile"
	"github.com/drone-hub/hub/internal/registry"
	"github.com/drone-hub/hub/internal/repopull"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SettingsProvider is the subset of internal/hubenv the settings handlers
// need, declared locally (as the teacher declares narrow interfaces per
// handler group) so internal/web doesn't import internal/hubenv directly.
type SettingsProvider interface {
	GetSettings() registry.Settings
	SetDeleteAction(action string) error
	SetLLMSettings(provider, openAIKey, geminiKey string) error
	SetNotificationSettings(registry.NotificationSettings) error
	TailLogs(n int) []string
}

// Dependencies is everything the web server needs from the rest of the Hub.
type Dependencies struct {
	Store       *registry.Store
	Adapter     containeradapter.Adapter
	NewDaemon   func(hostPort int, token string) *daemonclient.Client
	Prompts     *prompt.Pipeline
	Provision   *provision.Pipeline
	Reconcile   *reconcile.Pipeline
	RepoPull    *repopull.Engine
	Lock        *oplock.Keyed
	Bus         *events.Bus
	Config      *config.Config
	Metrics     *metrics.Metrics
	Settings    SettingsProvider
	Log         *logging.Logger
}

// Server is the Hub's HTTP server.
type Server struct {
	deps   Dependencies
	mux    *http.ServeMux
	server *http.Server
}

// NewServer builds a Server with all routes registered.
func NewServer(deps Dependencies) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ListenAndServe starts the HTTP server on the given address, wrapping
// the mux with CORS and bearer-auth middleware.
func (s *Server) ListenAndServe(addr string) error {
	handler := chain(s.mux,
		cors(s.deps.Config.CORSOrigins),
		bearerAuth(s.deps.Config.BearerToken),
	)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE/WS connections are long-lived.
		IdleTimeout:  120 * time.Second,
	}
	s.deps.Log.Info("drone hub listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	if s.deps.Metrics != nil && s.deps.Config.MetricsEnabled {
		s.mux.Handle("GET /api/metrics", promhttp.Handler())
	}

	s.registerDroneRoutes()
	s.registerArchiveRoutes()
	s.registerGroupRoutes()
	s.registerFSRoutes()
	s.registerPreviewRoutes()
	s.registerRepoRoutes()
	s.registerChatRoutes()
	s.registerTerminalRoutes()
	s.registerSettingsRoutes()
	s.mux.HandleFunc("GET /api/events", s.apiSSE)
}

// apiSSE streams the Hub's event bus to the client (spec.md §4.10 implies
// this the same way the teacher's web/sse.go does for container events).
func (s *Server) apiSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeErr(w, errStreamingUnsupported)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel := s.deps.Bus.Subscribe()
	defer cancel()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, string(evt.Type), evt)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
