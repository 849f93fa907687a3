// Package reconcile implements the Reconciliation Pipeline: polling the
// in-container daemon for outstanding pending prompts and folding the
// result back into the registry as turns or staleness failures.
package reconcile

import (
	"context"
	"strings"
	"time"

	"github.com/drone-hub/hub/internal/containeradapter"
	"github.com/drone-hub/hub/internal/daemonclient"
	"github.com/drone-hub/hub/internal/logging"
	"github.com/drone-hub/hub/internal/registry"
)

// Trigger is called after a pass changes state that might unblock the
// pending-prompt pumper (a session id became known, or a prompt
// finalized). The Prompt Pipeline supplies this as pump.Trigger.
type Trigger func()

// Pipeline polls (droneID, chatName) pairs and reconciles their pending
// prompts against daemon job state, per spec.md §4.7.
type Pipeline struct {
	store          *registry.Store
	adapter        containeradapter.Adapter
	newDaemon      func(hostPort int, token string) *daemonclient.Client
	enqueueTimeout time.Duration
	onChange       Trigger
	log            *logging.Logger
}

// New constructs a Pipeline.
func New(store *registry.Store, adapter containeradapter.Adapter, newDaemon func(hostPort int, token string) *daemonclient.Client, enqueueTimeout time.Duration, onChange Trigger, log *logging.Logger) *Pipeline {
	return &Pipeline{store: store, adapter: adapter, newDaemon: newDaemon, enqueueTimeout: enqueueTimeout, onChange: onChange, log: log}
}

// ReconcileOne runs one reconciliation pass for a single (droneID,
// chatName) pair, per spec.md §4.7 steps 1-4.
func (p *Pipeline) ReconcileOne(ctx context.Context, droneID, chatName string) {
	reg := p.store.Load()
	d, ok := reg.Drones[droneID]
	if !ok {
		return
	}
	chat, ok := d.Chats[chatName]
	if !ok {
		return
	}
	agent := registry.InferChatAgent(chat).ID
	if agent == registry.AgentCustom {
		return
	}

	var pending []registry.PendingPrompt
	for _, pp := range chat.PendingPrompts {
		if pp.State != registry.PromptQueued && !registry.HasTurn(chat, pp.ID) {
			pending = append(pending, pp)
		}
	}
	if len(pending) == 0 {
		return
	}

	client := p.newDaemon(d.HostPort, d.Token)
	now := time.Now()

	changed := false
	_, err := registry.Update(p.store, func(wreg *registry.Registry) (struct{}, error) {
		wd, ok := wreg.Drones[droneID]
		if !ok {
			return struct{}{}, nil
		}
		wchat, ok := wd.Chats[chatName]
		if !ok {
			return struct{}{}, nil
		}
		for _, ref := range pending {
			pp, _ := registry.FindPendingPrompt(wchat, ref.ID)
			if pp == nil || registry.HasTurn(wchat, pp.ID) {
				continue
			}
			if p.reconcilePrompt(ctx, client, wd, chatName, wchat, pp, agent, now) {
				changed = true
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		p.log.Error("reconciliation update failed", "drone", droneID, "chat", chatName, "error", err)
		return
	}
	if changed && p.onChange != nil {
		p.onChange()
	}
}

// reconcilePrompt reconciles a single pending prompt against daemon job
// state, mutating pp/chat in place. Returns whether anything changed.
func (p *Pipeline) reconcilePrompt(ctx context.Context, client *daemonclient.Client, d *registry.Drone, chatName string, chat *registry.Chat, pp *registry.PendingPrompt, agent registry.AgentKind, now time.Time) bool {
	job, err := client.PromptGet(ctx, pp.ID)
	if err != nil {
		updatedAt, _ := time.Parse(time.RFC3339Nano, pp.UpdatedAt)
		at, _ := time.Parse(time.RFC3339Nano, pp.At)
		stale, _ := registry.StalePendingPromptState(pp.State, updatedAt, at, p.enqueueTimeout, now)
		if stale {
			pp.State = registry.PromptFailed
			pp.Error = "prompt timed out waiting for the daemon: " + err.Error()
			pp.UpdatedAt = now.UTC().Format(time.RFC3339Nano)
			return true
		}
		return false
	}

	switch registry.JobState(job.State) {
	case registry.JobQueued, registry.JobRunning:
		if pp.State != registry.PromptSent {
			pp.State = registry.PromptSent
			pp.UpdatedAt = now.UTC().Format(time.RFC3339Nano)
			return true
		}
		return false

	case registry.JobDone:
		return p.finalizeDone(ctx, d, chatName, chat, pp, agent, job, now)

	case registry.JobFailed:
		return p.finalizeFailed(d, chat, pp, agent, job, now)
	}
	return false
}

func (p *Pipeline) finalizeDone(ctx context.Context, d *registry.Drone, chatName string, chat *registry.Chat, pp *registry.PendingPrompt, agent registry.AgentKind, job daemonclient.Job, now time.Time) bool {
	var output string
	switch agent {
	case registry.AgentCodex:
		threadID, msg := parseCodexJSONL(job.Stdout)
		if threadID != "" {
			registry.SetSessionID(chat, registry.AgentCodex, threadID)
		}
		if strings.TrimSpace(msg) == "" {
			pp.State = registry.PromptFailed
			pp.Error = "codex finished but no message was parsed."
			pp.UpdatedAt = now.UTC().Format(time.RFC3339Nano)
			return true
		}
		output = msg

	case registry.AgentOpenCode:
		if chat.OpenCodeSession == "" {
			if id, err := discoverOpenCodeSessionID(ctx, p.adapter, d.ContainerName, d.Name, chatName); err == nil && id != "" {
				registry.SetSessionID(chat, registry.AgentOpenCode, id)
			}
		}
		output = firstNonEmpty(job.Stdout, job.Stderr, "(no output)")

	default:
		output = firstNonEmpty(job.Stdout, job.Stderr, "(no output)")
	}

	nowStr := now.UTC().Format(time.RFC3339Nano)
	registry.AppendTurn(chat, registry.Turn{
		At: nowStr, PromptID: pp.ID, PromptAt: pp.At, CompletedAt: nowStr,
		Prompt: pp.Prompt, OK: true, Output: strings.TrimSpace(output),
	})
	pp.State = registry.PromptSent
	pp.UpdatedAt = nowStr
	return true
}

func (p *Pipeline) finalizeFailed(d *registry.Drone, chat *registry.Chat, pp *registry.PendingPrompt, agent registry.AgentKind, job daemonclient.Job, now time.Time) bool {
	nowStr := now.UTC().Format(time.RFC3339Nano)

	if agent == registry.AgentCodex {
		threadID, msg := parseCodexJSONL(job.Stdout)
		if threadID != "" {
			registry.SetSessionID(chat, registry.AgentCodex, threadID)
		}
		if strings.TrimSpace(msg) != "" {
			// Self-heal: codex reported failed but produced a real
			// message -- treat it as a success.
			registry.AppendTurn(chat, registry.Turn{
				At: nowStr, PromptID: pp.ID, PromptAt: pp.At, CompletedAt: nowStr,
				Prompt: pp.Prompt, OK: true, Output: strings.TrimSpace(msg),
			})
			pp.State = registry.PromptSent
			pp.UpdatedAt = nowStr
			return true
		}
		pp.State = registry.PromptFailed
		pp.Error = formatCodexJobFailure(job.Stdout, job.Stderr)
		pp.UpdatedAt = nowStr
		return true
	}

	pp.State = registry.PromptFailed
	pp.Error = firstNonEmpty(job.Error, job.Stderr, "job failed")
	pp.UpdatedAt = nowStr
	return true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
