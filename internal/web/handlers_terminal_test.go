package web

import "testing"

func TestValidSessionNameAcceptsShellSession(t *testing.T) {
	droneID := "abcdef12-0000-0000-0000-000000000000"
	if !validSessionName(droneID, shellSessionName(droneID)) {
		t.Error("shell session name should be valid")
	}
}

func TestValidSessionNameAcceptsChatPrefix(t *testing.T) {
	droneID := "abcdef12-0000-0000-0000-000000000000"
	if !validSessionName(droneID, chatSessionName("main")) {
		t.Error("chat session name should be valid")
	}
}

func TestValidSessionNameRejectsArbitraryName(t *testing.T) {
	droneID := "abcdef12-0000-0000-0000-000000000000"
	if validSessionName(droneID, "totally-unrelated") {
		t.Error("arbitrary session name should be rejected")
	}
}

func TestValidSessionNameRejectsOverlongOrIllegalChars(t *testing.T) {
	droneID := "abcdef12-0000-0000-0000-000000000000"
	long := chatSessionName("x")
	for len(long) < 80 {
		long += "x"
	}
	if validSessionName(droneID, long) {
		t.Error("session name over 64 chars should be rejected")
	}
	if validSessionName(droneID, chatSessionName("bad name")) {
		t.Error("session name with a space should be rejected")
	}
}

func TestIsControlByte(t *testing.T) {
	for _, b := range []byte{'\r', '\n', '\t', 0x03, 0x04, 0x1b} {
		if !isControlByte(b) {
			t.Errorf("byte %x should be a control byte", b)
		}
	}
	if isControlByte('a') {
		t.Error("'a' should not be a control byte")
	}
}
