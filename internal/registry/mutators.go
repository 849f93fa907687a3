package registry

import (
	"regexp"
	"time"

	"github.com/drone-hub/hub/internal/apierr"
)

// promptIDPattern matches the safe id charset for a PendingPrompt, per
// spec.md §4.6.
var promptIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,96}$`)

// ValidPromptID reports whether id satisfies the safe-id charset.
func ValidPromptID(id string) bool {
	return promptIDPattern.MatchString(id)
}

// FindDroneIDByRef resolves a drone reference (id or display name) to a
// live drone id, searching drones, then pending, then archived -- matching
// the uniqueness invariant that names are unique across all three sets.
func FindDroneIDByRef(reg *Registry, ref string) (id string, live, pending, archived bool) {
	if _, ok := reg.Drones[ref]; ok {
		return ref, true, false, false
	}
	if _, ok := reg.Pending[ref]; ok {
		return ref, false, true, false
	}
	if _, ok := reg.Archived[ref]; ok {
		return ref, false, false, true
	}
	for did, d := range reg.Drones {
		if d.Name == ref {
			return did, true, false, false
		}
	}
	for did, p := range reg.Pending {
		if p.Name == ref {
			return did, false, true, false
		}
	}
	for did, a := range reg.Archived {
		if a.Name == ref {
			return did, false, false, true
		}
	}
	return "", false, false, false
}

// NameInUse reports whether name is already used by any drone, pending
// request, or archived drone other than excludeID.
func NameInUse(reg *Registry, name, excludeID string) bool {
	for id, d := range reg.Drones {
		if id != excludeID && d.Name == name {
			return true
		}
	}
	for id, p := range reg.Pending {
		if id != excludeID && p.Name == name {
			return true
		}
	}
	for id, a := range reg.Archived {
		if id != excludeID && a.Name == name {
			return true
		}
	}
	return false
}

// EnsureChat returns the named chat on drone, creating it with the
// default builtin cursor agent on first use (spec.md §4.8).
func EnsureChat(d *Drone, chatName string) *Chat {
	if d.Chats == nil {
		d.Chats = make(map[string]*Chat)
	}
	c, ok := d.Chats[chatName]
	if !ok {
		c = &Chat{
			CreatedAt: nowRFC3339(),
			Agent:     DefaultAgent(),
		}
		d.Chats[chatName] = c
	}
	return c
}

// InferChatAgent derives the effective agent for a chat from its explicit
// field falling back, in order, through its session-continuity handles,
// per spec.md §4.8.
func InferChatAgent(c *Chat) Agent {
	if c.Agent.Kind != "" {
		return c.Agent
	}
	switch {
	case c.ClaudeSessionID != "":
		return Agent{Kind: "builtin", ID: AgentClaude}
	case c.OpenCodeSession != "":
		return Agent{Kind: "builtin", ID: AgentOpenCode}
	case c.CodexThreadID != "":
		return Agent{Kind: "builtin", ID: AgentCodex}
	case c.ChatID != "":
		return Agent{Kind: "builtin", ID: AgentCursor}
	default:
		return DefaultAgent()
	}
}

// SetChatAgentConfig validates and applies an agent/model change to chat.
func SetChatAgentConfig(c *Chat, agent *Agent, setModel bool, model string) error {
	if setModel {
		if len(model) > 160 {
			return apierr.Invalid("model_too_long", "model must be 160 characters or fewer")
		}
		for _, r := range model {
			if r == '\r' || r == '\n' || r == '\t' {
				return apierr.Invalid("model_invalid_chars", "model must not contain CR, LF, or TAB")
			}
		}
		c.Model = model
	}
	if agent != nil {
		c.Agent = *agent
	}
	return nil
}

// SetSessionID sets a chat's session-continuity handle for kind,
// append-only: it is a no-op if the handle is already set, per spec.md
// §4.8 ("never overwritten once non-empty").
func SetSessionID(c *Chat, kind AgentKind, id string) {
	switch kind {
	case AgentCursor:
		if c.ChatID == "" {
			c.ChatID = id
		}
	case AgentCodex:
		if c.CodexThreadID == "" {
			c.CodexThreadID = id
		}
	case AgentClaude:
		if c.ClaudeSessionID == "" {
			c.ClaudeSessionID = id
		}
	case AgentOpenCode:
		if c.OpenCodeSession == "" {
			c.OpenCodeSession = id
		}
	}
}

// SessionKnown reports whether chat has a session-continuity handle for
// its agent kind.
func SessionKnown(c *Chat, kind AgentKind) bool {
	switch kind {
	case AgentCodex:
		return c.CodexThreadID != ""
	case AgentOpenCode:
		return c.OpenCodeSession != ""
	case AgentClaude:
		return c.ClaudeSessionID != ""
	case AgentCursor:
		return c.ChatID != ""
	default:
		return true
	}
}

// AppendPendingPrompt pushes p onto chat's pending-prompt window,
// trimming the oldest entries to enforce the ≤60 bound from spec.md §3.
func AppendPendingPrompt(c *Chat, p PendingPrompt) {
	c.PendingPrompts = append(c.PendingPrompts, p)
	if len(c.PendingPrompts) > maxPendingPrompts {
		c.PendingPrompts = c.PendingPrompts[len(c.PendingPrompts)-maxPendingPrompts:]
	}
}

// FindPendingPrompt locates a chat's pending prompt by id.
func FindPendingPrompt(c *Chat, id string) (*PendingPrompt, int) {
	for i := range c.PendingPrompts {
		if c.PendingPrompts[i].ID == id {
			return &c.PendingPrompts[i], i
		}
	}
	return nil, -1
}

// AppendTurn appends t to chat's transcript. Turns are append-only.
func AppendTurn(c *Chat, t Turn) {
	c.Turns = append(c.Turns, t)
}

// HasTurn reports whether chat already has a turn for promptID.
func HasTurn(c *Chat, promptID string) bool {
	for _, t := range c.Turns {
		if t.PromptID == promptID {
			return true
		}
	}
	return false
}

// ShouldDeferQueued implements the session-continuity defer policy from
// spec.md §4.6: a prompt must be queued rather than sent immediately when
// the chat's agent requires a not-yet-known session id and some prior
// prompt is still in flight and not yet in turns, or when any prior
// prompt is itself queued (to preserve submission order).
func ShouldDeferQueued(agent AgentKind, sessionKnown bool, c *Chat) bool {
	for _, p := range c.PendingPrompts {
		if p.State == PromptQueued {
			return true
		}
	}
	if agent != AgentCodex && agent != AgentOpenCode {
		return false
	}
	if sessionKnown {
		return false
	}
	for _, p := range c.PendingPrompts {
		if (p.State == PromptSending || p.State == PromptSent) && !HasTurn(c, p.ID) {
			return true
		}
	}
	return false
}

// ShouldDeferQueuedAt is ShouldDeferQueued's per-candidate form, used by
// the pump when re-evaluating an already-queued prompt: only prompts
// that precede promptID in submission order count as blockers, since
// promptID itself is always PromptQueued and would otherwise always
// satisfy the first loop.
func ShouldDeferQueuedAt(agent AgentKind, sessionKnown bool, c *Chat, promptID string) bool {
	for _, p := range c.PendingPrompts {
		if p.ID == promptID {
			break
		}
		if p.State == PromptQueued {
			return true
		}
	}
	if agent != AgentCodex && agent != AgentOpenCode {
		return false
	}
	if sessionKnown {
		return false
	}
	for _, p := range c.PendingPrompts {
		if p.ID == promptID {
			continue
		}
		if (p.State == PromptSending || p.State == PromptSent) && !HasTurn(c, p.ID) {
			return true
		}
	}
	return false
}

// StalePendingPromptState implements spec.md §4.7's staleness rule: only
// sending/sent prompts can go stale, with different deadlines for each,
// both floored against a minimum absolute deadline regardless of the
// configured enqueue timeout.
func StalePendingPromptState(state PromptState, updatedAt, at time.Time, enqueueTimeout time.Duration, now time.Time) (stale bool, deadline time.Duration) {
	switch state {
	case PromptSending:
		deadline = enqueueTimeout
		if deadline < 180*time.Second {
			deadline = 180 * time.Second
		}
	case PromptSent:
		deadline = 2 * enqueueTimeout
		if deadline < 10*time.Minute {
			deadline = 10 * time.Minute
		}
	default:
		return false, 0
	}
	return now.Sub(updatedAt) > deadline, deadline
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339Nano) }
