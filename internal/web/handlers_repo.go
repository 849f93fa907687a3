package web

import (
	"context"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/drone-hub/hub/internal/apierr"
	"github.com/drone-hub/hub/internal/containeradapter"
)

func (s *Server) registerRepoRoutes() {
	s.mux.HandleFunc("GET /api/drones/{id}/repo/changes", s.apiRepoChanges)
	s.mux.HandleFunc("GET /api/drones/{id}/repo/diff", s.apiRepoDiff)
	s.mux.HandleFunc("GET /api/drones/{id}/repo/pull/changes", s.apiRepoPullChanges)
	s.mux.HandleFunc("GET /api/drones/{id}/repo/pull/diff", s.apiRepoPullDiff)
	s.mux.HandleFunc("POST /api/drones/{id}/repo/reseed", s.apiRepoReseed)
	s.mux.HandleFunc("POST /api/drones/{id}/repo/pull", s.apiRepoPull)
}

// apiRepoChanges lists the working-tree change status inside the
// container's repo (git status --porcelain, run via the Container
// Adapter's one-shot Exec, the same collaborator-invocation convention
// repopull uses on the host side via the local git binary).
func (s *Server) apiRepoChanges(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if d.Repo == nil {
		writeErr(w, apierr.Invalid("no_repo", "drone has no repo bridge configured"))
		return
	}
	out, err := s.fsExec(r, d.ContainerName, "git", []string{"-C", d.Repo.Dest, "status", "--porcelain=v1"})
	if err != nil {
		writeErr(w, err)
		return
	}
	var changes []map[string]string
	for _, line := range strings.Split(out, "\n") {
		if line == "" || len(line) < 4 {
			continue
		}
		changes = append(changes, map[string]string{"status": strings.TrimSpace(line[:2]), "path": line[3:]})
	}
	writeOK(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *Server) apiRepoDiff(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if d.Repo == nil {
		writeErr(w, apierr.Invalid("no_repo", "drone has no repo bridge configured"))
		return
	}
	path := r.URL.Query().Get("path")
	kind := r.URL.Query().Get("kind")
	args := []string{"-C", d.Repo.Dest, "diff"}
	if kind == "staged" {
		args = append(args, "--cached")
	}
	if path != "" {
		args = append(args, "--", path)
	}
	out, err := s.fsExec(r, d.ContainerName, "git", args)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"diff": out})
}

func (s *Server) apiRepoPullChanges(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.RepoPull.PreviewChanges(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

// apiRepoPullDiff shows the host-side diff for one path: `git diff <base>`
// in the host repo, comparing the drone's recorded base ref (HEAD when
// unset) with the host working tree, run directly with the host git
// binary the same way repopull's engine does.
func (s *Server) apiRepoPullDiff(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if d.RepoPath == "" || d.Repo == nil {
		writeErr(w, apierr.Invalid("no_repo", "drone has no host repo configured"))
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeErr(w, apierr.Invalid("invalid_path", "path is required"))
		return
	}
	base := d.Repo.BaseRef
	if base == "" {
		base = "HEAD"
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	args := []string{"-C", d.RepoPath, "diff", base, "--", path}
	out, err := exec.CommandContext(ctx, "git", args...).Output()
	if err != nil {
		writeErr(w, apierr.Internal("diff_failed", "failed to compute pull diff").Wrap(err))
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"diff": string(out)})
}

// apiRepoReseed re-runs the repo bridge seed step against the drone's
// already-running container (spec.md §6), using the same Container
// Adapter call the Provisioning Pipeline makes on first seed.
func (s *Server) apiRepoReseed(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if d.RepoPath == "" {
		writeErr(w, apierr.Invalid("no_repo", "drone has no host repo configured"))
		return
	}
	dest, branch, base := "/work/repo", "dvm/work", "HEAD"
	if d.Repo != nil {
		if d.Repo.Dest != "" {
			dest = d.Repo.Dest
		}
		if d.Repo.Branch != "" {
			branch = d.Repo.Branch
		}
		if d.Repo.BaseRef != "" {
			base = d.Repo.BaseRef
		}
	}
	err = s.deps.Adapter.RepoSeed(r.Context(), containeradapter.RepoSeedRequest{
		Container: d.ContainerName,
		HostPath:  d.RepoPath,
		Dest:      dest,
		BaseRef:   base,
		Branch:    branch,
		Clean:     true,
		TimeoutMs: int(s.deps.Config.RepoSeedTimeout().Milliseconds()),
	})
	if err != nil {
		writeErr(w, apierr.Internal("reseed_failed", "failed to reseed repo").Wrap(err))
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) apiRepoPull(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.RepoPull.Pull(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}
