package web

import (
	"net/http"

	"github.com/drone-hub/hub/internal/apierr"
	"github.com/drone-hub/hub/internal/registry"
)

func (s *Server) registerArchiveRoutes() {
	s.mux.HandleFunc("GET /api/archive/drones", s.apiListArchived)
	s.mux.HandleFunc("POST /api/archive/drones/{id}/restore", s.apiRestoreArchived)
	s.mux.HandleFunc("DELETE /api/archive/drones/{id}", s.apiDeleteArchived)
}

func (s *Server) apiListArchived(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	writeOK(w, http.StatusOK, map[string]any{"archived": reg.Archived})
}

func (s *Server) apiRestoreArchived(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var containerName string
	_, err := registry.Update(s.deps.Store, func(reg *registry.Registry) (struct{}, error) {
		a, ok := reg.Archived[id]
		if !ok {
			return struct{}{}, apierr.NotFound("drone_not_found", "archived drone not found")
		}
		if registry.NameInUse(reg, a.Name, id) {
			return struct{}{}, apierr.Invalid("name_in_use", "a drone with this name already exists")
		}
		restored := a.Drone
		restored.Hub = nil
		reg.Drones[id] = &restored
		containerName = restored.ContainerName
		delete(reg.Archived, id)
		return struct{}{}, nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if containerName != "" {
		if err := s.deps.Adapter.Start(r.Context(), containerName); err != nil {
			s.deps.Log.Warn("restore: failed to start container", "container", containerName, "error", err)
		}
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) apiDeleteArchived(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	keepVolume := r.URL.Query().Get("keepVolume") == "true"
	var containerName string
	_, err := registry.Update(s.deps.Store, func(reg *registry.Registry) (struct{}, error) {
		a, ok := reg.Archived[id]
		if !ok {
			return struct{}{}, apierr.NotFound("drone_not_found", "archived drone not found")
		}
		containerName = a.ContainerName
		delete(reg.Archived, id)
		return struct{}{}, nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if containerName != "" {
		if err := s.deps.Adapter.Remove(r.Context(), containerName, keepVolume); err != nil {
			s.deps.Log.Warn("archive delete: failed to remove container", "container", containerName, "error", err)
		}
	}
	writeOK(w, http.StatusOK, nil)
}
