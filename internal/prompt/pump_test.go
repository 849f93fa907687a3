package prompt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/drone-hub/hub/internal/config"
	"github.com/drone-hub/hub/internal/containeradapter"
	"github.com/drone-hub/hub/internal/daemonclient"
	"github.com/drone-hub/hub/internal/logging"
	"github.com/drone-hub/hub/internal/oplock"
	"github.com/drone-hub/hub/internal/registry"
)

// newTestPipeline builds a Pipeline whose daemon factory always points at
// a closed local port, so any attempt to actually send a prompt fails
// fast (after cfg's shortened daemon-ready timeout) instead of hanging or
// reaching a real daemon.
func newTestPipeline(t *testing.T) (*Pipeline, *registry.Store) {
	t.Helper()
	store, err := registry.Open(filepath.Join(t.TempDir(), "registry.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cfg := config.NewTestConfig()
	cfg.SetDaemonReadyTimeout(50 * time.Millisecond)
	newDaemon := func(hostPort int, token string) *daemonclient.Client {
		return daemonclient.New("http://127.0.0.1:1", token)
	}
	p := New(store, oplock.New(), containeradapter.Adapter(nil), newDaemon, cfg, logging.New(false))
	return p, store
}

func seedQueuedChat(t *testing.T, store *registry.Store, droneID, chatName string, agent registry.AgentKind, prompts []registry.PendingPrompt) {
	t.Helper()
	_, err := registry.Update(store, func(reg *registry.Registry) (struct{}, error) {
		d := &registry.Drone{ID: droneID, Name: droneID, ContainerName: droneID, Chats: map[string]*registry.Chat{}}
		reg.Drones[droneID] = d
		chat := registry.EnsureChat(d, chatName)
		chat.Agent = registry.Agent{Kind: "builtin", ID: agent}
		for _, p := range prompts {
			registry.AppendPendingPrompt(chat, p)
		}
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// TestSweepOncePromotesQueuedPromptWithNoEarlierBlocker exercises the fix
// for the bug where a chat's own queued candidate always satisfied
// ShouldDeferQueued's "any queued prompt blocks" check, permanently
// excluding every chat with a queued prompt from the pump's targets.
func TestSweepOncePromotesQueuedPromptWithNoEarlierBlocker(t *testing.T) {
	p, store := newTestPipeline(t)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	seedQueuedChat(t, store, "d1", "main", registry.AgentClaude, []registry.PendingPrompt{
		{ID: "p1", At: now, Prompt: "hello", State: registry.PromptQueued, UpdatedAt: now},
	})

	pump := NewPump(p, 2)
	pump.sweepOnce(context.Background())

	reg := store.Load()
	pp, _ := registry.FindPendingPrompt(reg.Drones["d1"].Chats["main"], "p1")
	if pp == nil {
		t.Fatal("prompt p1 disappeared")
	}
	if pp.State == registry.PromptQueued {
		t.Error("expected p1 to be promoted out of queued, but it is still queued")
	}
}

// TestSweepOnceLeavesLaterQueuedPromptBlockedByEarlierOne confirms the
// FIFO guarantee: when two prompts in the same chat are queued, only the
// earliest is ever selected as a candidate in one sweep.
func TestSweepOnceLeavesLaterQueuedPromptBlockedByEarlierOne(t *testing.T) {
	p, store := newTestPipeline(t)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	seedQueuedChat(t, store, "d1", "main", registry.AgentClaude, []registry.PendingPrompt{
		{ID: "p1", At: now, Prompt: "first", State: registry.PromptQueued, UpdatedAt: now},
		{ID: "p2", At: now, Prompt: "second", State: registry.PromptQueued, UpdatedAt: now},
	})

	pump := NewPump(p, 2)
	pump.sweepOnce(context.Background())

	reg := store.Load()
	chat := reg.Drones["d1"].Chats["main"]
	p2, _ := registry.FindPendingPrompt(chat, "p2")
	if p2 == nil || p2.State != registry.PromptQueued {
		t.Errorf("p2 state = %v, want still queued (blocked behind p1)", p2)
	}
}
