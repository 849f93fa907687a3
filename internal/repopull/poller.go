package repopull

import (
	"context"
	"time"

	"github.com/drone-hub/hub/internal/registry"
)

// pollerInterval is how often the background poller re-checks drones with
// a host-conflicts-ready hub.error for resolution.
const pollerInterval = 5 * time.Second

// RunConflictPoller clears hub.error for drones whose last pull left
// host-conflicts-ready once the host repo no longer has conflicted paths
// (spec.md §4.9: "A background poller auto-clears hub.error... once
// gitRepoChangesSummary(repoRoot).counts.conflicted == 0").
func (e *Engine) RunConflictPoller(ctx context.Context) {
	ticker := time.NewTicker(pollerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context) {
	reg := e.store.Load()
	for id, d := range reg.Drones {
		if !e.hasPendingConflict(d) {
			continue
		}
		conflicted, err := gitConflictedFiles(ctx, d.RepoPath)
		if err != nil {
			e.log.Warn("conflict poll failed to inspect host repo", "drone", id, "error", err)
			continue
		}
		if len(conflicted) == 0 {
			e.clearHubError(id)
		}
	}
}

func (e *Engine) hasPendingConflict(d *registry.Drone) bool {
	return d.Hub != nil && d.Hub.Phase == registry.HubError &&
		d.Repo != nil && d.Repo.LastPull != nil && d.Repo.LastPull.Mode == "host-conflicts-ready" &&
		d.RepoPath != ""
}

func (e *Engine) clearHubError(droneID string) {
	_, _ = registry.Update(e.store, func(reg *registry.Registry) (struct{}, error) {
		d, ok := reg.Drones[droneID]
		if !ok {
			return struct{}{}, nil
		}
		d.Hub = nil
		return struct{}{}, nil
	})
}
