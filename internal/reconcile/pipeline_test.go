package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/drone-hub/hub/internal/containeradapter"
	"github.com/drone-hub/hub/internal/daemonclient"
	"github.com/drone-hub/hub/internal/logging"
	"github.com/drone-hub/hub/internal/registry"
)

func newTestStore(t *testing.T) *registry.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := registry.Open(filepath.Join(dir, "registry.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func seedDroneWithPending(t *testing.T, s *registry.Store, agent registry.AgentKind, promptID string, promptAge time.Duration) {
	t.Helper()
	now := time.Now().Add(-promptAge).UTC().Format(time.RFC3339Nano)
	_, err := registry.Update(s, func(reg *registry.Registry) (struct{}, error) {
		reg.Drones["d1"] = &registry.Drone{
			ID: "d1", Name: "d1", ContainerName: "c1", HostPort: 0, Token: "tok",
			Chats: map[string]*registry.Chat{
				"main": {
					CreatedAt: now,
					Agent:     registry.Agent{Kind: "builtin", ID: agent},
					PendingPrompts: []registry.PendingPrompt{
						{ID: promptID, At: now, Prompt: "hi", State: registry.PromptSending, UpdatedAt: now},
					},
				},
			},
		}
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func daemonServer(t *testing.T, job daemonclient.Job) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"job": job})
	}))
}

func TestReconcileOneFinalizesClaudeDoneJob(t *testing.T) {
	srv := daemonServer(t, daemonclient.Job{State: "done", Stdout: "all done"})
	defer srv.Close()

	s := newTestStore(t)
	seedDroneWithPending(t, s, registry.AgentClaude, "p1", 0)

	p := New(s, nil, func(hostPort int, token string) *daemonclient.Client {
		return daemonclient.New(srv.URL, token)
	}, 2*time.Minute, nil, logging.New(false))

	p.ReconcileOne(context.Background(), "d1", "main")

	reg := s.Load()
	chat := reg.Drones["d1"].Chats["main"]
	if len(chat.Turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(chat.Turns))
	}
	if chat.Turns[0].Output != "all done" {
		t.Errorf("output = %q, want 'all done'", chat.Turns[0].Output)
	}
	if chat.PendingPrompts[0].State != registry.PromptSent {
		t.Errorf("state = %q, want sent", chat.PendingPrompts[0].State)
	}
}

func TestReconcileOneFinalizesFailedJob(t *testing.T) {
	srv := daemonServer(t, daemonclient.Job{State: "failed", Error: "boom"})
	defer srv.Close()

	s := newTestStore(t)
	seedDroneWithPending(t, s, registry.AgentClaude, "p1", 0)

	p := New(s, nil, func(hostPort int, token string) *daemonclient.Client {
		return daemonclient.New(srv.URL, token)
	}, 2*time.Minute, nil, logging.New(false))

	p.ReconcileOne(context.Background(), "d1", "main")

	reg := s.Load()
	pp := reg.Drones["d1"].Chats["main"].PendingPrompts[0]
	if pp.State != registry.PromptFailed {
		t.Errorf("state = %q, want failed", pp.State)
	}
	if pp.Error != "boom" {
		t.Errorf("error = %q, want boom", pp.Error)
	}
}

func TestReconcileOneSelfHealsCodexFailedWithMessage(t *testing.T) {
	stdout := `{"type":"thread.started","thread_id":"t-9"}
{"type":"item.completed","item":{"type":"agent_message","text":"recovered answer"}}`
	srv := daemonServer(t, daemonclient.Job{State: "failed", Stdout: stdout})
	defer srv.Close()

	s := newTestStore(t)
	seedDroneWithPending(t, s, registry.AgentCodex, "p1", 0)

	p := New(s, nil, func(hostPort int, token string) *daemonclient.Client {
		return daemonclient.New(srv.URL, token)
	}, 2*time.Minute, nil, logging.New(false))

	p.ReconcileOne(context.Background(), "d1", "main")

	reg := s.Load()
	chat := reg.Drones["d1"].Chats["main"]
	if chat.CodexThreadID != "t-9" {
		t.Errorf("CodexThreadID = %q, want t-9", chat.CodexThreadID)
	}
	if len(chat.Turns) != 1 || !chat.Turns[0].OK {
		t.Fatalf("expected self-healed successful turn, got %+v", chat.Turns)
	}
	if chat.PendingPrompts[0].State != registry.PromptSent {
		t.Errorf("state = %q, want sent", chat.PendingPrompts[0].State)
	}
}

func TestReconcileOneMarksStaleOnPersistentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := newTestStore(t)
	seedDroneWithPending(t, s, registry.AgentClaude, "p1", 10*time.Minute)

	p := New(s, nil, func(hostPort int, token string) *daemonclient.Client {
		return daemonclient.New(srv.URL, token)
	}, 2*time.Minute, nil, logging.New(false))

	p.ReconcileOne(context.Background(), "d1", "main")

	reg := s.Load()
	pp := reg.Drones["d1"].Chats["main"].PendingPrompts[0]
	if pp.State != registry.PromptFailed {
		t.Errorf("state = %q, want failed (stale)", pp.State)
	}
}

func TestReconcileOneSkipsCustomAgentChats(t *testing.T) {
	srv := daemonServer(t, daemonclient.Job{State: "done", Stdout: "ignored"})
	defer srv.Close()

	s := newTestStore(t)
	seedDroneWithPending(t, s, registry.AgentCustom, "p1", 0)

	p := New(s, nil, func(hostPort int, token string) *daemonclient.Client {
		return daemonclient.New(srv.URL, token)
	}, 2*time.Minute, nil, logging.New(false))

	p.ReconcileOne(context.Background(), "d1", "main")

	reg := s.Load()
	pp := reg.Drones["d1"].Chats["main"].PendingPrompts[0]
	if pp.State != registry.PromptSending {
		t.Errorf("state = %q, want unchanged sending", pp.State)
	}
}

var _ containeradapter.Adapter = (*fakeAdapter)(nil)
