package repopull

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/drone-hub/hub/internal/apierr"
	"github.com/drone-hub/hub/internal/containeradapter"
	"github.com/drone-hub/hub/internal/registry"
)

// previewCacheTTL is the pull-preview cache lifetime (spec.md §4.9: "cached
// per (drone, repoRoot, hostHead, base, head) for 25 s").
const previewCacheTTL = 25 * time.Second

// PreviewChange is one name-status entry in a pull preview.
type PreviewChange struct {
	Status string `json:"status"`
	Path   string `json:"path"`
}

// PreviewResult is the response to GET /repo/pull/changes.
type PreviewResult struct {
	Changes []PreviewChange `json:"changes"`
}

type previewCacheKey struct {
	droneID  string
	repoRoot string
	hostHead string
	base     string
	head     string
}

type previewCacheEntry struct {
	result PreviewResult
	at     time.Time
}

type previewCache struct {
	mu      sync.Mutex
	entries map[previewCacheKey]previewCacheEntry
}

func newPreviewCache() *previewCache {
	return &previewCache{entries: make(map[previewCacheKey]previewCacheEntry)}
}

func (c *previewCache) get(key previewCacheKey, now time.Time) (PreviewResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || now.Sub(e.at) > previewCacheTTL {
		return PreviewResult{}, false
	}
	return e.result, true
}

func (c *previewCache) put(key previewCacheKey, result PreviewResult, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = previewCacheEntry{result: result, at: now}
}

// PreviewChanges computes the drone-range base..HEAD name-status diff
// inside the container, augmented with a pending bundle-merge preview when
// the last pull left one (spec.md §4.9 "Pull preview").
func (e *Engine) PreviewChanges(ctx context.Context, droneID string) (PreviewResult, error) {
	reg := e.store.Load()
	d, ok := reg.Drones[droneID]
	if !ok {
		return PreviewResult{}, apierr.NotFound("drone_not_found", "drone not found")
	}
	if d.RepoPath == "" || d.Repo == nil {
		return PreviewResult{}, apierr.Invalid("no_repo", "drone has no host repo configured")
	}

	hostHead, err := gitRevParse(ctx, d.RepoPath, "HEAD")
	if err != nil {
		return PreviewResult{}, apierr.Internal("git_rev_parse_failed", "failed to resolve host HEAD").Wrap(err)
	}
	base := d.Repo.BaseRef
	if base == "" {
		base = "HEAD"
	}
	headSha, err := e.adapter.RepoHeadSha(ctx, d.ContainerName)
	if err != nil {
		return PreviewResult{}, apierr.Internal("repo_head_sha_failed", "failed to read container repo HEAD").Wrap(err)
	}

	key := previewCacheKey{droneID: droneID, repoRoot: d.RepoPath, hostHead: hostHead, base: base, head: headSha}
	now := time.Now()
	if cached, ok := e.previewCache.get(key, now); ok {
		return cached, nil
	}

	result, err := e.computePreview(ctx, d, hostHead, base, headSha)
	if err != nil {
		return PreviewResult{}, err
	}
	e.previewCache.put(key, result, now)
	return result, nil
}

func (e *Engine) computePreview(ctx context.Context, d *registry.Drone, hostHead, base, headSha string) (PreviewResult, error) {
	nameStatus, err := gitNameStatus(ctx, d.RepoPath, base, headSha)
	if err != nil {
		return PreviewResult{}, apierr.Internal("diff_failed", "failed to compute preview diff").Wrap(err)
	}

	if d.Repo.LastPull != nil && d.Repo.LastPull.Mode == "bundle-merge-no-commit" {
		augmented, err := e.augmentWithPendingMerge(ctx, d, hostHead)
		if err != nil {
			// Open Question (a): host inspection errors during preview
			// augmentation are logged and the plain diff is kept rather
			// than failing the whole preview.
			e.log.Warn("pull preview augmentation failed, falling back to plain diff", "drone", d.ID, "error", err)
		} else {
			nameStatus = augmented
		}
	}

	return PreviewResult{Changes: parseNameStatus(nameStatus)}, nil
}

// augmentWithPendingMerge imports the container's exported bundle to a
// temporary ref and computes a virtual merge tree against host HEAD, then
// diffs that result against HEAD for name-status.
func (e *Engine) augmentWithPendingMerge(ctx context.Context, d *registry.Drone, hostHead string) (string, error) {
	outDir, err := os.MkdirTemp("", "drone-hub-preview-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(outDir)

	exportRes, err := e.adapter.RepoExport(ctx, containeradapter.RepoExportRequest{
		Container: d.ContainerName, RepoPathInContainer: d.Repo.Dest, OutDir: outDir, Format: "bundle",
	})
	if err != nil {
		return "", err
	}
	defer os.Remove(exportRes.ExportedPath)

	ref := fmt.Sprintf("refs/drone/previews/%s", droneSlug(d.Name))
	if err := gitFetchBundleToRef(ctx, d.RepoPath, exportRes.ExportedPath, ref); err != nil {
		return "", err
	}
	defer gitDeleteRef(context.Background(), d.RepoPath, ref)

	treeSha, err := gitMergeTreeWriteTree(ctx, d.RepoPath, hostHead, ref)
	if err != nil {
		return "", err
	}
	treeSha = strings.Fields(treeSha)[0]

	return gitNameStatus(ctx, d.RepoPath, hostHead, treeSha)
}

func parseNameStatus(raw string) []PreviewChange {
	var out []PreviewChange
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			continue
		}
		out = append(out, PreviewChange{Status: fields[0], Path: fields[1]})
	}
	return out
}
