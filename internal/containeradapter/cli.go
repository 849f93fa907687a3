package containeradapter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CLI implements the Adapter operations that only the external dvm binary
// understands: tmux session management and the in-container repo bundle
// format. dvm itself is out of scope (spec.md §1); this half is a thin
// translator from Go calls to dvm subcommand invocations and
// stdout/stderr/exit-code parsing (spec.md §4.3).
type CLI struct {
	bin string
}

// NewCLI wraps the dvm binary at bin (resolved from PATH if bare).
func NewCLI(bin string) *CLI {
	if bin == "" {
		bin = "dvm"
	}
	return &CLI{bin: bin}
}

func (c *CLI) run(ctx context.Context, timeout time.Duration, args ...string) (ExecResult, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			return ExecResult{}, fmt.Errorf("dvm %s: %w", strings.Join(args, " "), err)
		}
	}
	res := ExecResult{Code: code, Stdout: stdout.String(), Stderr: stderr.String()}
	if code != 0 {
		return res, classify("", fmt.Errorf("dvm exited %d", code), res.Stderr)
	}
	return res, nil
}

// Exec runs an arbitrary command inside the container via dvm.
func (c *CLI) Exec(ctx context.Context, container, cmdName string, args []string, timeout time.Duration) (ExecResult, error) {
	full := append([]string{"exec", container, cmdName}, args...)
	return c.run(ctx, timeout, full...)
}

// CopyTo copies a host path into the container at containerPath.
func (c *CLI) CopyTo(ctx context.Context, container, hostPath, containerPath string) error {
	_, err := c.run(ctx, 0, "cp", hostPath, container+":"+containerPath)
	return err
}

// SessionStart starts (or, if reuse, attaches to) a tmux session.
func (c *CLI) SessionStart(ctx context.Context, container, session, cmdName string, args []string, reuse bool) error {
	full := []string{"session", "start", container, session}
	if reuse {
		full = append(full, "--reuse")
	}
	full = append(full, "--", cmdName)
	full = append(full, args...)
	_, err := c.run(ctx, 0, full...)
	return err
}

// SessionType sends literal text and/or named keys to a tmux session.
func (c *CLI) SessionType(ctx context.Context, container, session string, text string, keys []string) error {
	args := []string{"session", "type", container, session}
	if text != "" {
		args = append(args, "--text", text)
	}
	for _, k := range keys {
		args = append(args, "--key", k)
	}
	_, err := c.run(ctx, 0, args...)
	return err
}

// SessionRead reads buffered output from a tmux session since a byte
// offset.
func (c *CLI) SessionRead(ctx context.Context, container, session string, opts SessionReadOptions) (SessionReadResult, error) {
	args := []string{"session", "read", container, session}
	if opts.Since > 0 {
		args = append(args, "--since", strconv.FormatInt(opts.Since, 10))
	}
	if opts.MaxBytes > 0 {
		args = append(args, "--max-bytes", strconv.Itoa(opts.MaxBytes))
	}
	if opts.TailLines > 0 {
		args = append(args, "--tail-lines", strconv.Itoa(opts.TailLines))
	}
	res, err := c.run(ctx, 0, args...)
	if err != nil {
		return SessionReadResult{}, err
	}
	return SessionReadResult{Text: res.Stdout, NextOffset: opts.Since + int64(len(res.Stdout))}, nil
}

// RepoSeed bridges a host repo path into the container at req.Dest.
func (c *CLI) RepoSeed(ctx context.Context, req RepoSeedRequest) error {
	args := []string{"repo", "seed", req.Container, "--host-path", req.HostPath, "--dest", req.Dest}
	if req.BaseRef != "" {
		args = append(args, "--base-ref", req.BaseRef)
	}
	if req.Branch != "" {
		args = append(args, "--branch", req.Branch)
	}
	if req.Clean {
		args = append(args, "--clean")
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	_, err := c.run(ctx, timeout, args...)
	return err
}

// RepoExport exports the container repo as a git bundle.
func (c *CLI) RepoExport(ctx context.Context, req RepoExportRequest) (RepoExportResult, error) {
	args := []string{
		"repo", "export", req.Container,
		"--out-dir", req.OutDir,
		"--format", "bundle",
	}
	if req.RepoPathInContainer != "" {
		args = append(args, "--repo-path", req.RepoPathInContainer)
	}
	if req.Base != "" {
		args = append(args, "--base", req.Base)
	}
	res, err := c.run(ctx, 0, args...)
	if err != nil {
		return RepoExportResult{}, err
	}
	return RepoExportResult{ExportedPath: strings.TrimSpace(res.Stdout)}, nil
}

// RepoHeadSha returns the container repo's current HEAD commit sha.
func (c *CLI) RepoHeadSha(ctx context.Context, container string) (string, error) {
	res, err := c.run(ctx, 0, "repo", "head-sha", container)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// RepoSetBaseSha advances the container's recorded merge base.
func (c *CLI) RepoSetBaseSha(ctx context.Context, container, sha string) error {
	_, err := c.run(ctx, 0, "repo", "set-base-sha", container, sha)
	return err
}

// BaseSet marks the current HEAD as the new merge base inside the
// container (used when the Hub has confirmed the host already merged a
// prior export).
func (c *CLI) BaseSet(ctx context.Context, container string, timeout time.Duration) error {
	_, err := c.run(ctx, timeout, "base-set", container)
	return err
}
