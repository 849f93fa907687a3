package logging

import "testing"

func TestRingTailReturnsLinesInOrderBeforeWrap(t *testing.T) {
	r := newRing(4)
	r.Write([]byte("a\nb\nc\n"))
	got := r.tail(0)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRingTailWrapsAndDropsOldest(t *testing.T) {
	r := newRing(3)
	for _, line := range []string{"a", "b", "c", "d", "e"} {
		r.Write([]byte(line + "\n"))
	}
	got := r.tail(0)
	want := []string{"c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRingTailRespectsN(t *testing.T) {
	r := newRing(10)
	for _, line := range []string{"a", "b", "c", "d"} {
		r.Write([]byte(line + "\n"))
	}
	got := r.tail(2)
	if len(got) != 2 || got[0] != "c" || got[1] != "d" {
		t.Errorf("got %v, want [c d]", got)
	}
}

func TestLoggerTailLogsCapturesSlogOutput(t *testing.T) {
	l := New(true)
	l.Info("hello world")
	lines := l.TailLogs(0)
	if len(lines) == 0 {
		t.Fatal("expected at least one retained line")
	}
}
