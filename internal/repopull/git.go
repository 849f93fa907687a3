// Package repopull implements the Repo Pull Engine: merging a drone
// container's committed work back into the host repo via git bundles
// (spec.md §4.9). git itself is out of scope (spec.md §1) -- this package
// only orchestrates the host's local git binary via os/exec.
package repopull

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const hostGitTimeout = 2 * time.Minute

// runGit runs `git <args...>` in repoRoot and returns trimmed stdout.
func runGit(ctx context.Context, repoRoot string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, hostGitTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = repoRoot
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return strings.TrimSpace(stdout.String()), &gitError{args: args, stderr: strings.TrimSpace(stderr.String()), cause: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

type gitError struct {
	args   []string
	stderr string
	cause  error
}

func (e *gitError) Error() string {
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.args, " "), e.cause, e.stderr)
}

func (e *gitError) Unwrap() error { return e.cause }

// gitIsClean reports whether the host working tree has no local changes
// (spec.md §4.9 step 1).
func gitIsClean(ctx context.Context, repoRoot string) (bool, error) {
	out, err := runGit(ctx, repoRoot, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// gitRevParse resolves a ref to its commit sha.
func gitRevParse(ctx context.Context, repoRoot, ref string) (string, error) {
	return runGit(ctx, repoRoot, "rev-parse", ref)
}

// gitIsAncestor reports whether ancestor is an ancestor of (or equal to)
// descendant.
func gitIsAncestor(ctx context.Context, repoRoot, ancestor, descendant string) (bool, error) {
	_, err := runGit(ctx, repoRoot, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	var ge *gitError
	if asGitError(err, &ge) {
		if exitErr, ok := ge.cause.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
	}
	return false, err
}

// gitMergeBase returns the merge base of a and b.
func gitMergeBase(ctx context.Context, repoRoot, a, b string) (string, error) {
	return runGit(ctx, repoRoot, "merge-base", a, b)
}

// gitFetchBundleToRef imports a git bundle into a temporary host ref.
func gitFetchBundleToRef(ctx context.Context, repoRoot, bundlePath, ref string) error {
	_, err := runGit(ctx, repoRoot, "fetch", "--no-tags", "--force", bundlePath, "HEAD:"+ref)
	return err
}

// gitDeleteRef deletes a local ref, best-effort.
func gitDeleteRef(ctx context.Context, repoRoot, ref string) {
	_, _ = runGit(ctx, repoRoot, "update-ref", "-d", ref)
}

// gitMergeNoCommit performs a no-commit, no-fast-forward merge of ref into
// the host working tree (spec.md §4.9 step 6).
func gitMergeNoCommit(ctx context.Context, repoRoot, ref string) (output string, conflict bool, err error) {
	out, mergeErr := runGit(ctx, repoRoot, "merge", "--no-commit", "--no-ff", ref)
	if mergeErr == nil {
		return out, false, nil
	}
	var ge *gitError
	if asGitError(mergeErr, &ge) {
		combined := out + "\n" + ge.stderr
		if strings.Contains(combined, "CONFLICT") || strings.Contains(combined, "Automatic merge failed") {
			return combined, true, nil
		}
	}
	return out, false, mergeErr
}

// gitMergeAbort aborts an in-progress merge, best-effort.
func gitMergeAbort(ctx context.Context, repoRoot string) {
	_, _ = runGit(ctx, repoRoot, "merge", "--abort")
}

// gitConflictedFiles lists paths with an unmerged index entry.
func gitConflictedFiles(ctx context.Context, repoRoot string) ([]string, error) {
	out, err := runGit(ctx, repoRoot, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 3 {
			continue
		}
		status := line[:2]
		if isUnmergedStatus(status) {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return files, nil
}

func isUnmergedStatus(status string) bool {
	switch status {
	case "UU", "AA", "DD", "AU", "UA", "UD", "DU":
		return true
	}
	return false
}

// gitNameStatus computes a name-status diff between two revisions.
func gitNameStatus(ctx context.Context, repoRoot, from, to string) (string, error) {
	return runGit(ctx, repoRoot, "diff", "--name-status", from+".."+to)
}

// gitMergeTreeWriteTree computes a virtual merge of base and ref without
// touching the working tree, used by the pull-preview augmentation
// (spec.md §4.9 "Pull preview").
func gitMergeTreeWriteTree(ctx context.Context, repoRoot, base, ref string) (string, error) {
	return runGit(ctx, repoRoot, "merge-tree", "--write-tree", base, ref)
}

func asGitError(err error, target **gitError) bool {
	ge, ok := err.(*gitError)
	if ok {
		*target = ge
	}
	return ok
}
