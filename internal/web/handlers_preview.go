package web

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	"github.com/drone-hub/hub/internal/apierr"
)

func (s *Server) registerPreviewRoutes() {
	s.mux.HandleFunc("GET /api/drones/{id}/preview/{port}/", s.apiPreviewProxy)
	s.mux.HandleFunc("GET /api/drones/{id}/preview/{port}/{path...}", s.apiPreviewProxy)
}

// apiPreviewProxy reverse-proxies into a drone's published container port
// (spec.md §6's preview route group), stripping frame-blocking headers so
// the response can be embedded in the Hub's own UI.
func (s *Server) apiPreviewProxy(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	containerPort, err := strconv.Atoi(r.PathValue("port"))
	if err != nil {
		writeErr(w, apierr.Invalid("invalid_port", "container port must be numeric"))
		return
	}
	ports, err := s.deps.Adapter.Ports(r.Context(), d.ContainerName)
	if err != nil {
		writeErr(w, apierr.Upstream("preview_unreachable", "failed to resolve container ports").Wrap(err))
		return
	}
	hostPort := 0
	for _, p := range ports {
		if p.ContainerPort == containerPort {
			hostPort = p.HostPort
			break
		}
	}
	if hostPort == 0 {
		writeErr(w, apierr.NotFound("port_not_published", "container port is not published"))
		return
	}

	target := &url.URL{Scheme: "http", Host: "127.0.0.1:" + strconv.Itoa(hostPort)}
	proxy := httputil.NewSingleHostReverseProxy(target)
	prefix := "/api/drones/" + r.PathValue("id") + "/preview/" + r.PathValue("port")

	origDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		origDirector(req)
		req.URL.Path = trimPrefixOrSlash(req.URL.Path, prefix)
		req.Host = target.Host
	}
	proxy.ModifyResponse = func(resp *http.Response) error {
		resp.Header.Del("X-Frame-Options")
		resp.Header.Del("Content-Security-Policy")
		return nil
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		writeErr(w, apierr.Upstream("preview_unreachable", "upstream container did not respond").Wrap(err))
	}
	proxy.ServeHTTP(w, r)
}

func trimPrefixOrSlash(path, prefix string) string {
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		rest := path[len(prefix):]
		if rest == "" {
			return "/"
		}
		return rest
	}
	return "/"
}
