package containeradapter

import (
	"context"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/drone-hub/hub/internal/apierr"
)

// fakeDvm writes a tiny shell script standing in for the dvm binary so
// CLI's argv/exit-code/stdout handling can be exercised without a real
// container runtime.
func fakeDvm(t *testing.T, script string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh on PATH")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "dvm")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake dvm: %v", err)
	}
	return path
}

func TestCLIExecReturnsStdoutOnSuccess(t *testing.T) {
	bin := fakeDvm(t, `echo "hello from $2"; exit 0`)
	c := NewCLI(bin)
	res, err := c.Exec(context.Background(), "mycontainer", "echo", nil, 0)
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if res.Code != 0 {
		t.Errorf("Code = %d, want 0", res.Code)
	}
	if res.Stdout != "hello from mycontainer\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hello from mycontainer\n")
	}
}

func TestCLIExecClassifiesNonZeroExit(t *testing.T) {
	bin := fakeDvm(t, `echo "Error: No such container: x" 1>&2; exit 1`)
	c := NewCLI(bin)
	_, err := c.Exec(context.Background(), "x", "echo", nil, 0)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if apierr.StatusOf(err) != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for a missing-container stderr", apierr.StatusOf(err))
	}
}

func TestCLIRepoHeadShaTrimsOutput(t *testing.T) {
	bin := fakeDvm(t, `echo "  abc123  "`)
	c := NewCLI(bin)
	sha, err := c.RepoHeadSha(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RepoHeadSha() error: %v", err)
	}
	if sha != "abc123" {
		t.Errorf("RepoHeadSha() = %q, want trimmed abc123", sha)
	}
}
