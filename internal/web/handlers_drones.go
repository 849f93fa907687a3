package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/drone-hub/hub/internal/apierr"
	"github.com/drone-hub/hub/internal/registry"
)

func (s *Server) registerDroneRoutes() {
	s.mux.HandleFunc("POST /api/drones", s.apiCreateDrone)
	s.mux.HandleFunc("POST /api/drones/batch", s.apiCreateDronesBatch)
	s.mux.HandleFunc("GET /api/drones", s.apiListDrones)
	s.mux.HandleFunc("POST /api/drones/{id}/rename", s.apiRenameDrone)
	s.mux.HandleFunc("POST /api/drones/{id}/hub/error/clear", s.apiClearHubError)
	s.mux.HandleFunc("POST /api/drones/{id}/archive", s.apiArchiveDrone)
	s.mux.HandleFunc("DELETE /api/drones/{id}", s.apiDeleteDrone)
	s.mux.HandleFunc("POST /api/drones/{id}/base-image", s.apiSetBaseImage)
	s.mux.HandleFunc("POST /api/drones/group-set", s.apiSetDroneGroups)
}

type createDroneRequest struct {
	Name          string           `json:"name"`
	Group         string           `json:"group,omitempty"`
	RepoPath      string           `json:"repoPath,omitempty"`
	ContainerPort int              `json:"containerPort,omitempty"`
	Build         bool             `json:"build,omitempty"`
	CloneFrom     string           `json:"cloneFrom,omitempty"`
	CloneChats    *bool            `json:"cloneChats,omitempty"`
	Seed          *registry.SeedSpec `json:"seed,omitempty"`
}

// apiCreateDrone implements spec.md §6's "POST /drones (async create,
// returns 202 {id,phase:starting})": it only reserves a pending entry
// and enqueues provisioning, returning immediately.
func (s *Server) apiCreateDrone(w http.ResponseWriter, r *http.Request) {
	var req createDroneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	id, err := s.createPendingDrone(req)
	if err != nil {
		writeErr(w, err)
		return
	}
	s.deps.Provision.Enqueue(id)
	writeOK(w, http.StatusAccepted, map[string]any{"id": id, "phase": registry.PhaseStarting})
}

func (s *Server) apiCreateDronesBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Drones []createDroneRequest `json:"drones"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	ids := make([]string, 0, len(req.Drones))
	for _, one := range req.Drones {
		id, err := s.createPendingDrone(one)
		if err != nil {
			writeErr(w, err)
			return
		}
		ids = append(ids, id)
		s.deps.Provision.Enqueue(id)
	}
	writeOK(w, http.StatusAccepted, map[string]any{"ids": ids})
}

func (s *Server) createPendingDrone(req createDroneRequest) (string, error) {
	if req.Name == "" {
		return "", apierr.Invalid("invalid_name", "name is required")
	}
	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := registry.Update(s.deps.Store, func(reg *registry.Registry) (struct{}, error) {
		if registry.NameInUse(reg, req.Name, "") {
			return struct{}{}, apierr.Invalid("name_in_use", "a drone with this name already exists")
		}
		reg.Pending[id] = &registry.PendingDrone{
			ID: id, Name: req.Name, Group: req.Group, RepoPath: req.RepoPath,
			ContainerPort: req.ContainerPort, Build: req.Build,
			Phase: registry.PhaseStarting, CreatedAt: now, UpdatedAt: now,
			CloneFrom: req.CloneFrom, CloneChats: req.CloneChats, Seed: req.Seed,
		}
		return struct{}{}, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Server) apiListDrones(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	writeOK(w, http.StatusOK, map[string]any{
		"drones":   reg.Drones,
		"pending":  reg.Pending,
		"archived": reg.Archived,
	})
}

// apiRenameDrone: Open Question decision (c), DESIGN.md -- the rename
// route is deprecated and returns 410 Gone unconditionally.
func (s *Server) apiRenameDrone(w http.ResponseWriter, r *http.Request) {
	writeErr(w, apierr.Gone("rename_removed", "this endpoint has been removed"))
}

func (s *Server) apiClearHubError(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	_, err := registry.Update(s.deps.Store, func(reg *registry.Registry) (struct{}, error) {
		d, err := resolveLiveDrone(reg, id)
		if err != nil {
			return struct{}{}, err
		}
		d.Hub = nil
		return struct{}{}, nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) apiArchiveDrone(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Retention ArchiveRetention `json:"retention,omitempty"`
		Runtime   string           `json:"runtime,omitempty"` // keep-running | stop
	}
	_ = decodeJSON(r, &req)

	retention := registry.ArchiveRetention(req.Retention)
	if retention == "" {
		retention = registry.Retention1d
	}
	runtime := registry.ArchiveRuntimePolicy(req.Runtime)
	if runtime == "" {
		runtime = registry.RuntimeStop
	}

	var droneName, containerName string
	_, err := registry.Update(s.deps.Store, func(reg *registry.Registry) (struct{}, error) {
		d, err := resolveLiveDrone(reg, id)
		if err != nil {
			return struct{}{}, err
		}
		droneName, containerName = d.Name, d.ContainerName
		now := time.Now().UTC().Format(time.RFC3339Nano)
		deleteAt := time.Now().Add(registry.RetentionDuration(retention)).UTC().Format(time.RFC3339Nano)
		reg.Archived[d.ID] = &registry.ArchivedDrone{
			Drone: *d, ArchivedAt: now, DeleteAt: deleteAt,
			ArchiveRetention: retention, ArchiveRuntimePolicy: runtime,
		}
		delete(reg.Drones, d.ID)
		return struct{}{}, nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if runtime == registry.RuntimeStop && containerName != "" {
		if err := s.deps.Adapter.Stop(r.Context(), containerName); err != nil {
			s.deps.Log.Warn("archive: failed to stop container", "drone", droneName, "error", err)
		}
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) apiDeleteDrone(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	keepVolume := r.URL.Query().Get("keepVolume") == "true"

	var containerName string
	_, err := registry.Update(s.deps.Store, func(reg *registry.Registry) (struct{}, error) {
		d, err := resolveLiveDrone(reg, id)
		if err != nil {
			return struct{}{}, err
		}
		containerName = d.ContainerName
		delete(reg.Drones, d.ID)
		return struct{}{}, nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if containerName != "" {
		if err := s.deps.Adapter.Remove(r.Context(), containerName, keepVolume); err != nil {
			s.deps.Log.Warn("delete: failed to remove container", "container", containerName, "error", err)
		}
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) apiSetBaseImage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	timeoutMs, _ := strconv.Atoi(r.URL.Query().Get("timeoutMs"))
	timeout := s.deps.Config.RepoSeedTimeout()
	if timeoutMs > 0 {
		timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	if err := s.deps.Adapter.BaseSet(r.Context(), d.ContainerName, timeout); err != nil {
		writeErr(w, apierr.Internal("base_set_failed", "failed to set base image").Wrap(err))
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) apiSetDroneGroups(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs   []string `json:"ids"`
		Group string   `json:"group"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	_, err := registry.Update(s.deps.Store, func(reg *registry.Registry) (struct{}, error) {
		for _, ref := range req.IDs {
			d, err := resolveLiveDrone(reg, ref)
			if err != nil {
				return struct{}{}, err
			}
			d.Group = req.Group
		}
		return struct{}{}, nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

// ArchiveRetention mirrors registry.ArchiveRetention for JSON decoding
// without forcing clients to know the registry package's type name.
type ArchiveRetention string
