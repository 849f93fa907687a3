package containeradapter

import (
	"context"
	"time"

	"github.com/moby/moby/client"
)

// Combined routes each Adapter method to whichever half actually owns
// that behavior: DockerHalf for plain lifecycle operations, CLI for
// everything only dvm understands (spec.md §4.3).
type Combined struct {
	docker *DockerHalf
	cli    *CLI
}

// New wires a Combined adapter from a configured Docker API client and the
// dvm binary path.
func New(api *client.Client, dvmBin string) *Combined {
	return &Combined{docker: NewDockerHalf(api), cli: NewCLI(dvmBin)}
}

var _ Adapter = (*Combined)(nil)

func (a *Combined) Ls(ctx context.Context) (map[string]struct{}, error) { return a.docker.Ls(ctx) }
func (a *Combined) Ports(ctx context.Context, container string) ([]Port, error) {
	return a.docker.Ports(ctx, container)
}
func (a *Combined) Start(ctx context.Context, container string) error { return a.docker.Start(ctx, container) }
func (a *Combined) Stop(ctx context.Context, container string) error  { return a.docker.Stop(ctx, container) }
func (a *Combined) Remove(ctx context.Context, container string, keepVolume bool) error {
	return a.docker.Remove(ctx, container, keepVolume)
}

func (a *Combined) Exec(ctx context.Context, container, cmd string, args []string, timeout time.Duration) (ExecResult, error) {
	return a.cli.Exec(ctx, container, cmd, args, timeout)
}
func (a *Combined) CopyTo(ctx context.Context, container, hostPath, containerPath string) error {
	return a.cli.CopyTo(ctx, container, hostPath, containerPath)
}
func (a *Combined) SessionStart(ctx context.Context, container, session, cmd string, args []string, reuse bool) error {
	return a.cli.SessionStart(ctx, container, session, cmd, args, reuse)
}
func (a *Combined) SessionType(ctx context.Context, container, session string, text string, keys []string) error {
	return a.cli.SessionType(ctx, container, session, text, keys)
}
func (a *Combined) SessionRead(ctx context.Context, container, session string, opts SessionReadOptions) (SessionReadResult, error) {
	return a.cli.SessionRead(ctx, container, session, opts)
}
func (a *Combined) RepoSeed(ctx context.Context, req RepoSeedRequest) error { return a.cli.RepoSeed(ctx, req) }
func (a *Combined) RepoExport(ctx context.Context, req RepoExportRequest) (RepoExportResult, error) {
	return a.cli.RepoExport(ctx, req)
}
func (a *Combined) RepoHeadSha(ctx context.Context, container string) (string, error) {
	return a.cli.RepoHeadSha(ctx, container)
}
func (a *Combined) RepoSetBaseSha(ctx context.Context, container, sha string) error {
	return a.cli.RepoSetBaseSha(ctx, container, sha)
}
func (a *Combined) BaseSet(ctx context.Context, container string, timeout time.Duration) error {
	return a.cli.BaseSet(ctx, container, timeout)
}
