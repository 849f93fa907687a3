package repopull

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/drone-hub/hub/internal/apierr"
	"github.com/drone-hub/hub/internal/containeradapter"
	"github.com/drone-hub/hub/internal/events"
	"github.com/drone-hub/hub/internal/logging"
	"github.com/drone-hub/hub/internal/metrics"
	"github.com/drone-hub/hub/internal/oplock"
	"github.com/drone-hub/hub/internal/registry"
)

// PullResult is the outcome of one repo/pull run (spec.md §4.9).
type PullResult struct {
	Mode          string   // no-changes | bundle-merge-no-commit | host-conflicts-ready
	NoChanges     bool     `json:"noChanges,omitempty"`
	ConflictFiles []string `json:"conflictFiles,omitempty"`
	BaseAdvanced  bool     `json:"baseAdvanced,omitempty"`
}

// Engine drives the host's local git binary plus the Container Adapter's
// repo* operations to merge a drone's committed work into the host repo.
type Engine struct {
	store   *registry.Store
	adapter containeradapter.Adapter
	lock    *oplock.Keyed
	bus     *events.Bus
	metrics *metrics.Metrics
	log     *logging.Logger

	previewCache *previewCache
}

// New constructs an Engine.
func New(store *registry.Store, adapter containeradapter.Adapter, lock *oplock.Keyed, bus *events.Bus, m *metrics.Metrics, log *logging.Logger) *Engine {
	return &Engine{store: store, adapter: adapter, lock: lock, bus: bus, metrics: m, log: log, previewCache: newPreviewCache()}
}

// Pull runs the full repo/pull sequence for droneID under the drone op
// lock, per spec.md §4.9 steps 1-7.
func (e *Engine) Pull(ctx context.Context, droneID string) (PullResult, error) {
	var result PullResult
	err := e.lock.WithLock(ctx, oplock.DroneKey(droneID), func(ctx context.Context) error {
		r, pullErr := e.pullLocked(ctx, droneID)
		result = r
		return pullErr
	})
	if err != nil {
		return PullResult{}, err
	}
	return result, nil
}

func (e *Engine) pullLocked(ctx context.Context, droneID string) (PullResult, error) {
	reg := e.store.Load()
	d, ok := reg.Drones[droneID]
	if !ok {
		return PullResult{}, apierr.NotFound("drone_not_found", "drone not found")
	}
	repoRoot := d.RepoPath
	if repoRoot == "" {
		return PullResult{}, apierr.Invalid("no_repo", "drone has no host repo configured")
	}

	// Step 1: host must be clean.
	clean, err := gitIsClean(ctx, repoRoot)
	if err != nil {
		return PullResult{}, apierr.Internal("git_status_failed", "failed to inspect host repo").Wrap(err)
	}
	if !clean {
		return PullResult{}, apierr.Conflict("host_dirty", "host has local changes")
	}

	hostHead, err := gitRevParse(ctx, repoRoot, "HEAD")
	if err != nil {
		return PullResult{}, apierr.Internal("git_rev_parse_failed", "failed to resolve host HEAD").Wrap(err)
	}

	// Step 2: recovery-base handling from the previous pull's outcome.
	if d.Repo != nil && d.Repo.LastPull != nil {
		if err := e.applyRecoveryBase(ctx, d, repoRoot, hostHead); err != nil {
			e.log.Error("recovery-base step failed, continuing", "drone", droneID, "error", err)
		}
	}

	// Step 3: current container HEAD becomes this run's exportedHeadSha.
	exportedHeadSha, err := e.adapter.RepoHeadSha(ctx, d.ContainerName)
	if err != nil {
		return PullResult{}, apierr.Internal("repo_head_sha_failed", "failed to read container repo HEAD").Wrap(err)
	}

	// Step 4: export a bundle from the container.
	outDir, err := os.MkdirTemp("", "drone-hub-pull-*")
	if err != nil {
		return PullResult{}, apierr.Internal("tmp_dir_failed", "failed to allocate temp export dir").Wrap(err)
	}
	defer os.RemoveAll(outDir)

	exportRes, err := e.adapter.RepoExport(ctx, containeradapter.RepoExportRequest{
		Container: d.ContainerName, RepoPathInContainer: d.Repo.Dest, OutDir: outDir, Format: "bundle",
	})
	if err != nil {
		if isEmptyBundleError(err) {
			e.recordLastPull(droneID, "no-changes", exportedHeadSha)
			// Step 4: even with nothing to merge, confirm the container's
			// recorded base against what it actually exported so the next
			// pull's recovery-base step (step 2) starts from an accurate sha.
			baseErr := e.adapter.RepoSetBaseSha(ctx, d.ContainerName, exportedHeadSha)
			e.observeOutcome("no-changes")
			return PullResult{Mode: "no-changes", NoChanges: true, BaseAdvanced: baseErr == nil}, nil
		}
		return PullResult{}, apierr.Internal("repo_export_failed", "failed to export container repo").Wrap(err)
	}

	runID := strconv.FormatInt(time.Now().UnixNano(), 10)
	ref := fmt.Sprintf("refs/drone/imports/%s/%s", droneSlug(d.Name), runID)
	defer gitDeleteRef(context.Background(), repoRoot, ref) // step 7 finally: temp ref.
	defer os.Remove(exportRes.ExportedPath)                 // step 7 finally: bundle file.

	// Step 5: import the bundle.
	if err := gitFetchBundleToRef(ctx, repoRoot, exportRes.ExportedPath, ref); err != nil {
		if isMissingPrereqError(err) {
			return PullResult{}, apierr.Conflict("bundle_missing_prereq", "container history has diverged from the host; re-seed the drone's repo bridge")
		}
		return PullResult{}, apierr.Internal("bundle_import_failed", "failed to import repo bundle").Wrap(err)
	}

	// Step 6: merge into the host working tree.
	mergeOutput, conflict, err := gitMergeNoCommit(ctx, repoRoot, ref)
	if conflict {
		files, _ := gitConflictedFiles(ctx, repoRoot)
		e.recordLastPull(droneID, "host-conflicts-ready", exportedHeadSha)
		e.setHubError(droneID, "Repo pull left host conflicts. Resolve them, then pull again.")
		e.observeOutcome("host-conflicts-ready")
		return PullResult{}, apierr.Conflict("merge_conflict", "merge produced conflicts; resolve them on the host").Wrap(fmt.Errorf("conflicted files: %s", strings.Join(files, ", ")))
	}
	if err != nil {
		gitMergeAbort(context.Background(), repoRoot)
		e.observeOutcome("merge_failed")
		return PullResult{}, apierr.Internal("merge_failed", "merge failed for a reason other than conflicts").Wrap(fmt.Errorf("%s: %w", mergeOutput, err))
	}

	e.recordLastPull(droneID, "bundle-merge-no-commit", exportedHeadSha)
	baseErr := e.adapter.RepoSetBaseSha(ctx, d.ContainerName, exportedHeadSha)
	e.observeOutcome("bundle-merge-no-commit")
	return PullResult{Mode: "bundle-merge-no-commit", BaseAdvanced: baseErr == nil}, nil
}

// applyRecoveryBase implements spec.md §4.9 step 2: idempotently advance
// the container's recorded base when the host has already absorbed the
// last export, or compute a recovery merge base when it hasn't.
func (e *Engine) applyRecoveryBase(ctx context.Context, d *registry.Drone, repoRoot, hostHead string) error {
	last := d.Repo.LastPull
	if last.ExportedHeadSha == "" {
		return nil
	}
	switch last.Mode {
	case "host-conflicts-ready":
		isAncestor, err := gitIsAncestor(ctx, repoRoot, last.ExportedHeadSha, hostHead)
		if err != nil {
			return err
		}
		if isAncestor {
			return e.adapter.RepoSetBaseSha(ctx, d.ContainerName, last.ExportedHeadSha)
		}
	case "bundle-merge-no-commit":
		contains, err := gitIsAncestor(ctx, repoRoot, last.ExportedHeadSha, hostHead)
		if err != nil {
			return err
		}
		if !contains {
			base, err := gitMergeBase(ctx, repoRoot, hostHead, last.ExportedHeadSha)
			if err != nil {
				return err
			}
			if base != "" {
				return e.adapter.RepoSetBaseSha(ctx, d.ContainerName, base)
			}
		}
	}
	return nil
}

func (e *Engine) recordLastPull(droneID, mode, exportedHeadSha string) {
	_, _ = registry.Update(e.store, func(reg *registry.Registry) (struct{}, error) {
		d, ok := reg.Drones[droneID]
		if !ok || d.Repo == nil {
			return struct{}{}, nil
		}
		d.Repo.LastPull = &registry.LastPull{
			Mode: mode, ExportedHeadSha: exportedHeadSha, At: time.Now().UTC().Format(time.RFC3339Nano),
		}
		return struct{}{}, nil
	})
	if e.bus != nil {
		e.bus.Publish(events.SSEEvent{Type: events.EventRepoPull, DroneID: droneID, Message: mode, Timestamp: time.Now()})
	}
}

func (e *Engine) setHubError(droneID, message string) {
	_, _ = registry.Update(e.store, func(reg *registry.Registry) (struct{}, error) {
		d, ok := reg.Drones[droneID]
		if !ok {
			return struct{}{}, nil
		}
		d.Hub = &registry.HubStatus{Phase: registry.HubError, Message: message, UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano)}
		return struct{}{}, nil
	})
	if e.bus != nil {
		e.bus.Publish(events.SSEEvent{Type: events.EventDroneState, DroneID: droneID, Message: "hub.error", Timestamp: time.Now()})
	}
}

func (e *Engine) observeOutcome(outcome string) {
	if e.metrics != nil {
		e.metrics.RepoPullOutcomes.WithLabelValues(outcome).Inc()
	}
}

func isEmptyBundleError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "refusing to create empty bundle")
}

func isMissingPrereqError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "missing") && (strings.Contains(msg, "prerequisite") || strings.Contains(msg, "necessary object"))
}

func droneSlug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
