package prompt

import (
	"fmt"

	"github.com/drone-hub/hub/internal/registry"
	"github.com/drone-hub/hub/internal/shellquote"
)

// buildScript returns the command and arguments to submit prompt to chat's
// agent, following the per-agent flows in spec.md §4.6. For builtin agents
// it returns "sh" with args {"-c", script}, where every user string in
// script is single-quoted; for custom agents it returns "" and nil.
func buildScript(agent registry.AgentKind, chat *registry.Chat, chatName, prompt string) (cmd string, args []string) {
	switch agent {
	case registry.AgentCursor:
		script := fmt.Sprintf(
			"agent --resume %s -f --approve-mcps --print %s",
			shellquote.Quote(chatOrPlaceholderChatID(chat)),
			shellquote.Quote(prompt),
		)
		return "sh", []string{"-c", script}

	case registry.AgentCodex:
		var script string
		if chat.CodexThreadID == "" {
			script = fmt.Sprintf("codex exec --json %s", shellquote.Quote(prompt))
		} else {
			script = fmt.Sprintf("codex exec --json resume %s %s",
				shellquote.Quote(chat.CodexThreadID), shellquote.Quote(prompt))
		}
		return "sh", []string{"-c", script}

	case registry.AgentClaude:
		script := fmt.Sprintf(
			"claude --print --dangerously-skip-permissions --session-id %s %s",
			shellquote.Quote(chat.ClaudeSessionID), shellquote.Quote(prompt),
		)
		return "sh", []string{"-c", script}

	case registry.AgentOpenCode:
		title := shellquote.Quote(fmt.Sprintf("drone-hub-%s", chatName))
		var script string
		if chat.OpenCodeSession == "" {
			script = fmt.Sprintf("opencode run --title %s %s", title, shellquote.Quote(prompt))
		} else {
			script = fmt.Sprintf("opencode run --title %s --session %s %s",
				title, shellquote.Quote(chat.OpenCodeSession), shellquote.Quote(prompt))
		}
		return "sh", []string{"-c", script}

	default: // custom: send text + Enter to a dedicated tmux session
		return "", nil
	}
}

// customSessionName is the tmux session name used for custom-agent chats.
func customSessionName(chatName string) string {
	return "drone-hub-chat-" + chatName
}

// chatOrPlaceholderChatID returns the chat's cursor chat id, or an empty
// string placeholder the caller must replace after calling `agent
// create-chat` (cursor chats must exist before --resume can target them).
func chatOrPlaceholderChatID(chat *registry.Chat) string {
	return chat.ChatID
}
