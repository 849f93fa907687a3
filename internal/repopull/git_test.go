package repopull

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("no git on PATH")
	}
}

func initRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init", "-q", "-b", "main")
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "a.txt")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestGitIsCleanTrueOnFreshRepo(t *testing.T) {
	dir := initRepo(t)
	clean, err := gitIsClean(context.Background(), dir)
	if err != nil {
		t.Fatalf("gitIsClean: %v", err)
	}
	if !clean {
		t.Error("expected clean repo")
	}
}

func TestGitIsCleanFalseWithUncommittedChange(t *testing.T) {
	dir := initRepo(t)
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("modified\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	clean, err := gitIsClean(context.Background(), dir)
	if err != nil {
		t.Fatalf("gitIsClean: %v", err)
	}
	if clean {
		t.Error("expected dirty repo")
	}
}

func TestGitIsAncestorTrueForSelf(t *testing.T) {
	dir := initRepo(t)
	head, err := gitRevParse(context.Background(), dir, "HEAD")
	if err != nil {
		t.Fatalf("gitRevParse: %v", err)
	}
	ok, err := gitIsAncestor(context.Background(), dir, head, head)
	if err != nil {
		t.Fatalf("gitIsAncestor: %v", err)
	}
	if !ok {
		t.Error("expected HEAD to be its own ancestor")
	}
}

func TestGitIsAncestorFalseForUnrelatedSha(t *testing.T) {
	dir := initRepo(t)
	ok, err := gitIsAncestor(context.Background(), dir, "0000000000000000000000000000000000000000", "HEAD")
	if err == nil && ok {
		t.Error("expected false or error for a bogus sha")
	}
}

func TestGitConflictedFilesEmptyOnCleanRepo(t *testing.T) {
	dir := initRepo(t)
	files, err := gitConflictedFiles(context.Background(), dir)
	if err != nil {
		t.Fatalf("gitConflictedFiles: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected no conflicted files, got %v", files)
	}
}

func TestDroneSlugSanitizesName(t *testing.T) {
	got := droneSlug("My Repo! v2.0")
	want := "my-repo--v2-0"
	if got != want {
		t.Errorf("droneSlug = %q, want %q", got, want)
	}
}

func TestParseNameStatusSplitsStatusAndPath(t *testing.T) {
	changes := parseNameStatus("M\tfoo/bar.go\nA\tnew.txt\n")
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if changes[0].Status != "M" || changes[0].Path != "foo/bar.go" {
		t.Errorf("changes[0] = %+v", changes[0])
	}
	if changes[1].Status != "A" || changes[1].Path != "new.txt" {
		t.Errorf("changes[1] = %+v", changes[1])
	}
}
