package reconcile

import "testing"

func TestParseCodexJSONLExtractsThreadAndMessage(t *testing.T) {
	jsonl := `{"type":"thread.started","thread_id":"t-123"}
{"type":"item.started","item":{"type":"agent_message","text":"working..."}}
{"type":"item.completed","item":{"type":"agent_message","text":"final answer"}}
`
	threadID, msg := parseCodexJSONL(jsonl)
	if threadID != "t-123" {
		t.Errorf("threadID = %q, want t-123", threadID)
	}
	if msg != "final answer" {
		t.Errorf("msg = %q, want final answer", msg)
	}
}

func TestParseCodexJSONLFallsBackToStreamedDeltas(t *testing.T) {
	jsonl := `{"type":"thread.started","thread_id":"t-1"}
{"type":"response.output_text.delta","delta":"Hel"}
{"type":"response.output_text.delta","delta":"lo"}
{"type":"response.output_text.done"}
`
	_, msg := parseCodexJSONL(jsonl)
	if msg != "Hello" {
		t.Errorf("msg = %q, want Hello", msg)
	}
}

func TestParseCodexJSONLEmptyWhenNoContent(t *testing.T) {
	_, msg := parseCodexJSONL(`{"type":"thread.started","thread_id":"t-1"}`)
	if msg != "" {
		t.Errorf("msg = %q, want empty", msg)
	}
}

func TestFormatCodexJobFailureCollectsErrors(t *testing.T) {
	jsonl := `{"type":"turn.error","error":"rate limited"}`
	got := formatCodexJobFailure(jsonl, "")
	if got != "rate limited" {
		t.Errorf("got %q, want rate limited", got)
	}
}

func TestFormatCodexJobFailureFallsBackToLifecycleMessage(t *testing.T) {
	jsonl := `{"type":"thread.started","thread_id":"t-1"}`
	got := formatCodexJobFailure(jsonl, "")
	want := "Codex turn started but exited before producing a response."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
