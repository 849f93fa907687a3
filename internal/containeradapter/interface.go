// Package containeradapter is the Hub's single point of contact with
// running drone containers. Simple lifecycle operations go straight to
// the Docker Engine API; operations that only the external dvm CLI
// understands (tmux sessions, repo bundle export) are shelled out to it.
package containeradapter

import (
	"context"
	"time"
)

// Port is one published container port mapping.
type Port struct {
	HostPort      int
	ContainerPort int
}

// ExecResult is the outcome of a one-shot command executed in a container.
type ExecResult struct {
	Code   int
	Stdout string
	Stderr string
}

// SessionReadOptions bounds a terminal session read.
type SessionReadOptions struct {
	Since     int64 // byte offset to resume from
	MaxBytes  int
	TailLines int
}

// SessionReadResult is the output of a terminal session read.
type SessionReadResult struct {
	Text       string
	NextOffset int64
}

// RepoSeedRequest configures an initial repo bridge into a container.
type RepoSeedRequest struct {
	Container   string
	HostPath    string
	Dest        string
	BaseRef     string
	Branch      string
	Clean       bool
	TimeoutMs   int
}

// RepoExportRequest configures a bundle export from a container's repo.
type RepoExportRequest struct {
	Container            string
	RepoPathInContainer  string
	OutDir               string
	Format               string // always "bundle" today
	Base                 string
}

// RepoExportResult is the outcome of a repo export.
type RepoExportResult struct {
	ExportedPath string
}

// Adapter is the abstract interface the rest of the Hub programs against,
// exactly as spec.md §4.3 describes it.
type Adapter interface {
	Ls(ctx context.Context) (map[string]struct{}, error)
	Exec(ctx context.Context, container string, cmd string, args []string, timeout time.Duration) (ExecResult, error)
	CopyTo(ctx context.Context, container, hostPath, containerPath string) error
	Ports(ctx context.Context, container string) ([]Port, error)

	SessionStart(ctx context.Context, container, session, cmd string, args []string, reuse bool) error
	SessionType(ctx context.Context, container, session string, text string, keys []string) error
	SessionRead(ctx context.Context, container, session string, opts SessionReadOptions) (SessionReadResult, error)

	RepoSeed(ctx context.Context, req RepoSeedRequest) error
	RepoExport(ctx context.Context, req RepoExportRequest) (RepoExportResult, error)
	RepoHeadSha(ctx context.Context, container string) (string, error)
	RepoSetBaseSha(ctx context.Context, container, sha string) error

	BaseSet(ctx context.Context, container string, timeout time.Duration) error
	Remove(ctx context.Context, container string, keepVolume bool) error
	Start(ctx context.Context, container string) error
	Stop(ctx context.Context, container string) error
}
