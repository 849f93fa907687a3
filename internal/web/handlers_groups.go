package web

import (
	"net/http"
	"sort"

	"github.com/drone-hub/hub/internal/apierr"
	"github.com/drone-hub/hub/internal/registry"
)

func (s *Server) registerGroupRoutes() {
	s.mux.HandleFunc("GET /api/groups", s.apiListGroups)
	s.mux.HandleFunc("POST /api/groups", s.apiCreateGroup)
	s.mux.HandleFunc("POST /api/groups/{name}/rename", s.apiRenameGroup)
	s.mux.HandleFunc("DELETE /api/groups/{name}", s.apiDeleteGroup)
}

// Groups are not a standalone collection in the registry document --
// spec.md §4.1's Drone.group is the source of truth, and a group "exists"
// exactly when some drone references it. GET/rename/delete operate on
// that derived set rather than a separate groups table.
func (s *Server) apiListGroups(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	set := map[string]bool{}
	for _, d := range reg.Drones {
		if d.Group != "" {
			set[d.Group] = true
		}
	}
	for _, p := range reg.Pending {
		if p.Group != "" {
			set[p.Group] = true
		}
	}
	names := make([]string, 0, len(set))
	for g := range set {
		names = append(names, g)
	}
	sort.Strings(names)
	writeOK(w, http.StatusOK, map[string]any{"groups": names})
}

// apiCreateGroup is a no-op acknowledgement: a group is created by being
// assigned to a drone (POST /drones/group-set), not by a standalone
// record, so this just validates the name.
func (s *Server) apiCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Name == "" {
		writeErr(w, apierr.Invalid("invalid_group", "name is required"))
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"name": req.Name})
}

func (s *Server) apiRenameGroup(w http.ResponseWriter, r *http.Request) {
	old := r.PathValue("name")
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	_, err := registry.Update(s.deps.Store, func(reg *registry.Registry) (struct{}, error) {
		for _, d := range reg.Drones {
			if d.Group == old {
				d.Group = req.Name
			}
		}
		for _, p := range reg.Pending {
			if p.Group == old {
				p.Group = req.Name
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) apiDeleteGroup(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	_, err := registry.Update(s.deps.Store, func(reg *registry.Registry) (struct{}, error) {
		for _, d := range reg.Drones {
			if d.Group == name {
				d.Group = ""
			}
		}
		for _, p := range reg.Pending {
			if p.Group == name {
				p.Group = ""
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}
