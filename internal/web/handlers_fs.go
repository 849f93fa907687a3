package web

import (
	"encoding/base64"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/drone-hub/hub/internal/apierr"
	"github.com/drone-hub/hub/internal/shellquote"
)

const (
	fsExecTimeout  = 15 * time.Second
	fsMaxThumbSize = 8 * 1024 * 1024
)

func (s *Server) registerFSRoutes() {
	s.mux.HandleFunc("GET /api/drones/{id}/fs/list", s.apiFSList)
	s.mux.HandleFunc("GET /api/drones/{id}/fs/file", s.apiFSGetFile)
	s.mux.HandleFunc("POST /api/drones/{id}/fs/file", s.apiFSPutFile)
	s.mux.HandleFunc("GET /api/drones/{id}/fs/thumb", s.apiFSThumb)
}

// fsExec runs cmd inside the drone's container and classifies a nonzero
// exit as not_found (the common case for a bad path) rather than 500.
func (s *Server) fsExec(r *http.Request, containerName string, cmd string, args []string) (string, error) {
	res, err := s.deps.Adapter.Exec(r.Context(), containerName, cmd, args, fsExecTimeout)
	if err != nil {
		return "", apierr.Internal("fs_exec_failed", "filesystem operation failed").Wrap(err)
	}
	if res.Code != 0 {
		return "", apierr.NotFound("path_not_found", strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

type fsEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
	Size  int64  `json:"size"`
}

func (s *Server) apiFSList(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}
	script := "cd " + shellquote.Quote(path) + " && for f in * .*; do " +
		`[ "$f" = "." ] && continue; [ "$f" = ".." ] && continue; ` +
		`if [ -e "$f" ]; then printf '%s\t%s\t%s\n' "$f" "$( [ -d "$f" ] && echo d || echo f )" "$(stat -c %s "$f" 2>/dev/null || echo 0)"; fi; done`
	out, err := s.fsExec(r, d.ContainerName, "sh", []string{"-c", script})
	if err != nil {
		writeErr(w, err)
		return
	}
	var entries []fsEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		size, _ := strconv.ParseInt(fields[2], 10, 64)
		entries = append(entries, fsEntry{Name: fields[0], IsDir: fields[1] == "d", Size: size})
	}
	writeOK(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) apiFSGetFile(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeErr(w, apierr.Invalid("invalid_path", "path is required"))
		return
	}
	out, err := s.fsExec(r, d.ContainerName, "cat", []string{path})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"path": path, "content": out})
}

func (s *Server) apiFSPutFile(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Path == "" {
		writeErr(w, apierr.Invalid("invalid_path", "path is required"))
		return
	}
	if len(req.Content) > fsMaxThumbSize {
		writeErr(w, apierr.TooLarge("file_too_large", "file content exceeds the write size limit"))
		return
	}
	script := "cat > " + shellquote.Quote(req.Path) + " " + shellquote.Heredoc("DRONEHUBEOF", req.Content)
	res, err := s.deps.Adapter.Exec(r.Context(), d.ContainerName, "sh", []string{"-c", script}, fsExecTimeout)
	if err != nil {
		writeErr(w, apierr.Internal("fs_write_failed", "failed to write file").Wrap(err))
		return
	}
	if res.Code != 0 {
		writeErr(w, apierr.Invalid("fs_write_failed", strings.TrimSpace(res.Stderr)))
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) apiFSThumb(w http.ResponseWriter, r *http.Request) {
	reg := s.deps.Store.Load()
	d, err := resolveLiveDrone(reg, r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		writeErr(w, apierr.Invalid("invalid_path", "path is required"))
		return
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !isImageExt(ext) {
		writeErr(w, apierr.Invalid("not_an_image", "thumbnails are only served for image files"))
		return
	}

	sizeOut, err := s.fsExec(r, d.ContainerName, "stat", []string{"-c", "%s", path})
	if err != nil {
		writeErr(w, err)
		return
	}
	size, _ := strconv.ParseInt(strings.TrimSpace(sizeOut), 10, 64)
	if size > fsMaxThumbSize {
		writeErr(w, apierr.TooLarge("file_too_large", "image exceeds the 8 MiB thumbnail limit"))
		return
	}

	b64, err := s.fsExec(r, d.ContainerName, "base64", []string{path})
	if err != nil {
		writeErr(w, err)
		return
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.ReplaceAll(b64, "\n", "")))
	if err != nil {
		writeErr(w, apierr.Internal("thumb_decode_failed", "failed to decode image data").Wrap(err))
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"path": path, "mime": mimeForExt(ext), "base64": base64.StdEncoding.EncodeToString(data)})
}

func isImageExt(ext string) bool {
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".svg":
		return true
	default:
		return false
	}
}

func mimeForExt(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".svg":
		return "image/svg+xml"
	default:
		return "application/octet-stream"
	}
}
