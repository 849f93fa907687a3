// Package prompt implements the Prompt Pipeline: enqueueing prompts,
// the session-continuity defer policy, per-agent shell scripts, and the
// hub-queued-prompt pumper that drains deferred prompts once it's safe to
// send them.
package prompt

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/drone-hub/hub/internal/apierr"
	"github.com/drone-hub/hub/internal/config"
	"github.com/drone-hub/hub/internal/containeradapter"
	"github.com/drone-hub/hub/internal/daemonclient"
	"github.com/drone-hub/hub/internal/logging"
	"github.com/drone-hub/hub/internal/oplock"
	"github.com/drone-hub/hub/internal/registry"
)

// Attachment is a single image attachment accompanying a prompt.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte // already base64-decoded
}

const (
	maxAttachments     = 8
	maxAttachmentBytes = 6 * 1024 * 1024
	maxTotalBytes      = 20 * 1024 * 1024
)

// DaemonFactory resolves the daemon client for a drone's host port/token,
// letting callers stub it out in tests without standing up real HTTP.
type DaemonFactory func(hostPort int, token string) *daemonclient.Client

// Pipeline implements enqueuePrompt and sendPromptToChat from spec.md §4.6.
type Pipeline struct {
	store     *registry.Store
	lock      *oplock.Keyed
	adapter   containeradapter.Adapter
	newDaemon DaemonFactory
	cfg       *config.Config
	log       *logging.Logger
}

// New constructs a Pipeline.
func New(store *registry.Store, lock *oplock.Keyed, adapter containeradapter.Adapter, newDaemon DaemonFactory, cfg *config.Config, log *logging.Logger) *Pipeline {
	return &Pipeline{store: store, lock: lock, adapter: adapter, newDaemon: newDaemon, cfg: cfg, log: log}
}

// EnqueuePrompt implements spec.md §4.6's enqueuePrompt: validates the
// prompt id, classifies the chat's session state, decides whether to
// defer or send immediately, and (if sending) hands off to
// sendPromptToChat under the drone op lock.
func (p *Pipeline) EnqueuePrompt(ctx context.Context, droneID, chatName, promptText, promptID string, attachments []Attachment, cwd string) error {
	if promptID == "" {
		promptID = randomPromptID()
	} else if !registry.ValidPromptID(promptID) {
		return apierr.Invalid("invalid_prompt_id", "prompt id must match ^[A-Za-z0-9._-]{1,96}$")
	}

	if err := validateAttachments(attachments); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var deferred bool
	var agent registry.AgentKind

	_, err := registry.Update(p.store, func(reg *registry.Registry) (struct{}, error) {
		d, ok := reg.Drones[droneID]
		if !ok {
			return struct{}{}, apierr.NotFound("drone_not_found", "drone not found")
		}
		chat := registry.EnsureChat(d, chatName)
		agent = registry.InferChatAgent(chat).ID
		known := registry.SessionKnown(chat, agent)
		deferred = registry.ShouldDeferQueued(agent, known, chat)

		state := registry.PromptSending
		if deferred {
			state = registry.PromptQueued
		}
		text := withAttachmentFooter(promptText, attachments)
		registry.AppendPendingPrompt(chat, registry.PendingPrompt{
			ID: promptID, At: now, Prompt: text, Cwd: cwd,
			State: state, UpdatedAt: now,
		})
		return struct{}{}, nil
	})
	if err != nil {
		return err
	}

	if len(attachments) > 0 {
		if err := p.stageAttachments(ctx, droneID, attachments); err != nil {
			p.markFailed(droneID, chatName, promptID, err.Error())
			return err
		}
	}

	if deferred {
		return nil
	}

	if err := p.lock.WithLock(ctx, oplock.DroneKey(droneID), func(ctx context.Context) error {
		return p.sendPromptToChat(ctx, droneID, chatName, promptID)
	}); err != nil {
		p.markFailed(droneID, chatName, promptID, err.Error())
		return err
	}
	return nil
}

// sendPromptToChat builds the per-agent shell script and submits it to
// the daemon, per spec.md §4.6 step 6-7. Must run under the drone op
// lock.
func (p *Pipeline) sendPromptToChat(ctx context.Context, droneID, chatName, promptID string) error {
	reg := p.store.Load()
	d, ok := reg.Drones[droneID]
	if !ok {
		return apierr.NotFound("drone_not_found", "drone not found")
	}
	chat, ok := d.Chats[chatName]
	if !ok {
		return apierr.NotFound("chat_not_found", "chat not found")
	}
	pp, _ := registry.FindPendingPrompt(chat, promptID)
	if pp == nil {
		return apierr.NotFound("prompt_not_found", "pending prompt not found")
	}

	agent := registry.InferChatAgent(chat).ID
	if agent == registry.AgentCustom {
		return p.sendToCustomSession(ctx, d, chatName, pp.Prompt)
	}

	if agent == registry.AgentCursor && chat.ChatID == "" {
		if err := p.ensureCursorChatID(ctx, d, chatName); err != nil {
			return err
		}
		reg = p.store.Load()
		chat = reg.Drones[droneID].Chats[chatName]
	}

	cmd, args := buildScript(agent, chat, chatName, pp.Prompt)
	return p.enqueueTranscriptPrompt(ctx, d, promptID, cmd, args)
}

// enqueueTranscriptPrompt awaits daemon readiness, submits the job, and
// on a stale-daemon 404 installs a fresh daemon and retries once
// (spec.md §4.6 step 7).
func (p *Pipeline) enqueueTranscriptPrompt(ctx context.Context, d *registry.Drone, promptID, cmd string, args []string) error {
	client := p.newDaemon(d.HostPort, d.Token)

	if err := client.WaitForReady(ctx, p.cfg.DaemonReadyTimeout()); err != nil {
		return apierr.Unavailable("daemon_not_ready", "drone daemon did not become ready").Wrap(err)
	}

	req := daemonclient.PromptEnqueueRequest{ID: promptID, Kind: "shell", Cmd: cmd, Args: args}
	err := client.PromptEnqueue(ctx, req)
	if err == daemonclient.ErrDaemonOutdated {
		if upErr := p.upgradeDaemon(ctx, d); upErr != nil {
			return apierr.Internal("daemon_upgrade_failed", "could not upgrade drone daemon").Wrap(upErr)
		}
		err = client.PromptEnqueue(ctx, req)
	}
	return err
}

// upgradeDaemon installs a fresh daemon binary into the container. The
// mechanics of "install a daemon" live behind the Container Adapter's
// exec, since the daemon binary itself ships as part of the dvm image
// tooling (out of scope per spec.md §1); the Hub only triggers it.
func (p *Pipeline) upgradeDaemon(ctx context.Context, d *registry.Drone) error {
	_, err := p.adapter.Exec(ctx, d.ContainerName, "drone-hub-daemon-install", nil, 30*time.Second)
	return err
}

func (p *Pipeline) ensureCursorChatID(ctx context.Context, d *registry.Drone, chatName string) error {
	res, err := p.adapter.Exec(ctx, d.ContainerName, "agent", []string{"create-chat"}, 15*time.Second)
	if err != nil {
		return err
	}
	id := firstNonEmptyLine(res.Stdout)
	if id == "" {
		return apierr.Internal("cursor_chat_create_failed", "agent create-chat returned no chat id")
	}
	_, err = registry.Update(p.store, func(reg *registry.Registry) (struct{}, error) {
		drone, ok := reg.Drones[d.ID]
		if !ok {
			return struct{}{}, apierr.NotFound("drone_not_found", "drone not found")
		}
		if chat, ok := drone.Chats[chatName]; ok {
			registry.SetSessionID(chat, registry.AgentCursor, id)
		}
		return struct{}{}, nil
	})
	return err
}

func (p *Pipeline) sendToCustomSession(ctx context.Context, d *registry.Drone, chatName, prompt string) error {
	session := customSessionName(chatName)
	if err := p.adapter.SessionStart(ctx, d.ContainerName, session, "bash", nil, true); err != nil {
		return err
	}
	if err := p.adapter.SessionType(ctx, d.ContainerName, session, prompt, []string{"Enter"}); err != nil {
		return err
	}
	return nil
}

func (p *Pipeline) markFailed(droneID, chatName, promptID, message string) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := registry.Update(p.store, func(reg *registry.Registry) (struct{}, error) {
		d, ok := reg.Drones[droneID]
		if !ok {
			return struct{}{}, nil
		}
		chat, ok := d.Chats[chatName]
		if !ok {
			return struct{}{}, nil
		}
		if pp, _ := registry.FindPendingPrompt(chat, promptID); pp != nil {
			pp.State = registry.PromptFailed
			pp.Error = message
			pp.UpdatedAt = now
		}
		return struct{}{}, nil
	})
	if err != nil {
		p.log.Error("failed to record prompt failure", "drone", droneID, "chat", chatName, "prompt", promptID, "error", err)
	}
}

func randomPromptID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func firstNonEmptyLine(s string) string {
	for _, line := range splitLines(s) {
		if line != "" {
			return line
		}
	}
	return ""
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			line := s[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			out = append(out, line)
			start = i + 1
		}
	}
	return out
}

func validateAttachments(attachments []Attachment) error {
	if len(attachments) == 0 {
		return nil
	}
	if len(attachments) > maxAttachments {
		return apierr.Invalid("too_many_attachments", fmt.Sprintf("at most %d attachments are allowed", maxAttachments))
	}
	var total int
	seen := map[string]bool{}
	for _, a := range attachments {
		if !strings.HasPrefix(a.ContentType, "image/") {
			return apierr.Invalid("attachment_mime", fmt.Sprintf("%s: attachments must be image/*, got %q", a.Filename, a.ContentType))
		}
		if len(a.Data) > maxAttachmentBytes {
			return apierr.Invalid("attachment_too_large", fmt.Sprintf("%s exceeds the 6 MiB per-file limit", a.Filename))
		}
		total += len(a.Data)
		if seen[a.Filename] {
			return apierr.Invalid("duplicate_attachment_filename", fmt.Sprintf("duplicate attachment filename %q", a.Filename))
		}
		seen[a.Filename] = true
	}
	if total > maxTotalBytes {
		return apierr.Invalid("attachments_too_large", "attachments exceed the 20 MiB total limit")
	}
	return nil
}

func withAttachmentFooter(prompt string, attachments []Attachment) string {
	if len(attachments) == 0 {
		return prompt
	}
	footer := "\n\nAttachments:"
	for _, a := range attachments {
		footer += "\n- " + a.Filename
	}
	return prompt + footer
}

// stageAttachments writes attachment bytes to a host temp dir with
// restrictive permissions, then copies them into the drone's container
// directory (spec.md §4.6 step 5).
func (p *Pipeline) stageAttachments(ctx context.Context, droneID string, attachments []Attachment) error {
	reg := p.store.Load()
	d, ok := reg.Drones[droneID]
	if !ok {
		return apierr.NotFound("drone_not_found", "drone not found")
	}

	tmpDir, err := os.MkdirTemp("", "drone-hub-attach-*")
	if err != nil {
		return apierr.Internal("attachment_stage_failed", "could not create temp dir").Wrap(err)
	}
	defer os.RemoveAll(tmpDir)

	for _, a := range attachments {
		hostPath := filepath.Join(tmpDir, sanitizeFilename(a.Filename))
		if err := os.WriteFile(hostPath, a.Data, 0o600); err != nil {
			return apierr.Internal("attachment_write_failed", "could not write attachment to disk").Wrap(err)
		}
		destPath := d.Cwd + "/" + sanitizeFilename(a.Filename)
		if err := p.adapter.CopyTo(ctx, d.ContainerName, hostPath, destPath); err != nil {
			return err
		}
		if _, err := p.adapter.Exec(ctx, d.ContainerName, "chmod", []string{"0600", destPath}, 5*time.Second); err != nil {
			p.log.Warn("failed to harden attachment permissions", "drone", droneID, "path", destPath, "error", err)
		}
	}
	return nil
}

func sanitizeFilename(name string) string {
	clean := filepath.Base(name)
	if clean == "." || clean == "/" || clean == "" {
		return "attachment"
	}
	return clean
}
