// Package provision implements the Provisioning Pipeline: a bounded worker
// pool that promotes pending drones into real, running ones (spec.md §4.5).
package provision

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// droneCLI shells out to the external `drone` binary's create/import
// subcommands, which are out of scope for the Hub to reimplement (spec.md
// §1) -- grounded in containeradapter.CLI's run() pattern for external
// collaborator invocation.
type droneCLI struct {
	bin string
}

func newDroneCLI(bin string) *droneCLI {
	if bin == "" {
		bin = "drone"
	}
	return &droneCLI{bin: bin}
}

// nodeCLITimeout is the default deadline for drone create/import
// invocations (spec.md §7: "Node-CLI invocations... have a 10-minute
// default").
const nodeCLITimeout = 10 * time.Minute

type createSpec struct {
	Name          string
	RepoPath      string
	Group         string
	ContainerPort int
	Cwd           string
	Mkdir         bool
	NoBuild       bool
}

func (d *droneCLI) run(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	runCtx, cancel := context.WithTimeout(ctx, nodeCLITimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, d.bin, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	runErr := cmd.Run()
	return out.String(), errBuf.String(), runErr
}

func (d *droneCLI) args(spec createSpec) []string {
	args := []string{
		"--name", spec.Name,
		"--repo", spec.RepoPath,
		"--container-port", fmt.Sprintf("%d", spec.ContainerPort),
	}
	if spec.Group != "" {
		args = append(args, "--group", spec.Group)
	}
	if spec.Cwd != "" {
		args = append(args, "--cwd", spec.Cwd)
	}
	if spec.Mkdir {
		args = append(args, "--mkdir")
	}
	if spec.NoBuild {
		args = append(args, "--no-build")
	}
	return args
}

// alreadyExistsMarker is the substring drone-create reports when a
// container with the requested name is already present.
const alreadyExistsMarker = "already exists"

// Create invokes `drone create`, falling back to `drone import` when the
// CLI reports the container already exists (spec.md §4.5 step 3).
func (d *droneCLI) Create(ctx context.Context, spec createSpec) (containerName string, err error) {
	stdout, stderr, runErr := d.run(ctx, append([]string{"create"}, d.args(spec)...)...)
	if runErr == nil {
		return strings.TrimSpace(stdout), nil
	}
	if strings.Contains(stderr, alreadyExistsMarker) || strings.Contains(stdout, alreadyExistsMarker) {
		stdout, _, importErr := d.run(ctx, append([]string{"import"}, d.args(spec)...)...)
		if importErr != nil {
			return "", fmt.Errorf("drone import %s: %w", spec.Name, importErr)
		}
		return strings.TrimSpace(stdout), nil
	}
	return "", fmt.Errorf("drone create %s: %w (%s)", spec.Name, runErr, strings.TrimSpace(stderr))
}
