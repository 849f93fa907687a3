package provision

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func fakeDroneBin(t *testing.T, script string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh on PATH")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "drone")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake drone: %v", err)
	}
	return path
}

func TestDroneCLICreateReturnsContainerName(t *testing.T) {
	bin := fakeDroneBin(t, `echo "drone-abc123"; exit 0`)
	d := newDroneCLI(bin)
	name, err := d.Create(context.Background(), createSpec{Name: "myrepo", RepoPath: "/host/repo", ContainerPort: 39421})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if name != "drone-abc123" {
		t.Errorf("name = %q, want drone-abc123", name)
	}
}

func TestDroneCLICreateFallsBackToImportOnAlreadyExists(t *testing.T) {
	bin := fakeDroneBin(t, `
if [ "$1" = "create" ]; then
  echo "already exists" 1>&2
  exit 1
fi
echo "drone-existing"
exit 0
`)
	d := newDroneCLI(bin)
	name, err := d.Create(context.Background(), createSpec{Name: "myrepo", RepoPath: "/host/repo", ContainerPort: 39421})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if name != "drone-existing" {
		t.Errorf("name = %q, want drone-existing", name)
	}
}

func TestDroneCLICreatePropagatesOtherFailures(t *testing.T) {
	bin := fakeDroneBin(t, `echo "disk full" 1>&2; exit 1`)
	d := newDroneCLI(bin)
	_, err := d.Create(context.Background(), createSpec{Name: "myrepo", RepoPath: "/host/repo"})
	if err == nil {
		t.Fatal("expected error")
	}
}
