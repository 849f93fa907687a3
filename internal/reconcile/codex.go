package reconcile

import (
	"encoding/json"
	"strings"
)

// codexEvent is the subset of Codex's JSONL event shape this package
// cares about. Codex emits one JSON object per line describing the
// lifecycle of a turn.
type codexEvent struct {
	Type string `json:"type"`

	// thread.started
	ThreadID string `json:"thread_id"`

	// item.completed / item.started
	Item *codexItem `json:"item"`

	// response.output_text.delta
	Delta string `json:"delta"`

	Error   string `json:"error"`
	Message string `json:"message"`
}

type codexItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// parseCodexJSONL scans a Codex job's stdout for a thread id and the
// final assistant message, per spec.md §4.7 step 3. A streamed message
// assembled from response.output_text.delta events is used only if no
// item.completed/item.started message was found.
func parseCodexJSONL(stdout string) (threadID, message string) {
	var streamed strings.Builder
	var lastItemMessage string

	for _, line := range splitNonEmptyLines(stdout) {
		var evt codexEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		switch evt.Type {
		case "thread.started":
			if evt.ThreadID != "" {
				threadID = evt.ThreadID
			}
		case "item.completed", "item.started":
			if evt.Item != nil && isAssistantItem(evt.Item.Type) && evt.Item.Text != "" {
				lastItemMessage = evt.Item.Text
			}
		case "response.output_text.delta":
			streamed.WriteString(evt.Delta)
		}
	}

	if lastItemMessage != "" {
		return threadID, lastItemMessage
	}
	return threadID, streamed.String()
}

func isAssistantItem(itemType string) bool {
	return itemType == "agent_message" || itemType == "assistant_message"
}

// formatCodexJobFailure collects explicit error/message fields from a
// failed Codex job's JSONL, falling back to a generic lifecycle-only
// message when none are present (spec.md §4.7).
func formatCodexJobFailure(stdout, stderr string) string {
	var reasons []string
	for _, line := range splitNonEmptyLines(stdout) {
		var evt codexEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		if evt.Error != "" {
			reasons = append(reasons, evt.Error)
		} else if evt.Message != "" && evt.Type != "" && strings.Contains(evt.Type, "error") {
			reasons = append(reasons, evt.Message)
		}
	}
	if len(reasons) > 0 {
		return strings.Join(reasons, "; ")
	}
	if strings.TrimSpace(stderr) != "" {
		return strings.TrimSpace(stderr)
	}
	return "Codex turn started but exited before producing a response."
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			line := strings.TrimRight(s[start:i], "\r")
			if line != "" {
				out = append(out, line)
			}
			start = i + 1
		}
	}
	return out
}
