package server

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bamsammich/warren/internal/links"
	"github.com/bamsammich/warren/internal/stats"
)

var validate = validator.New()

type linkRequest struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

type updateRequest struct {
	Link      string `json:"link" validate:"required"`
	NewTarget string `json:"newTarget" validate:"required"`
}

type createResponse struct {
	Source  string         `json:"source"`
	Target  string         `json:"target"`
	Type    links.LinkType `json:"type"`
	Success bool           `json:"success"`
}

type hardLink struct {
	Path         string `json:"path"`
	AbsolutePath string `json:"absolutePath"`
}

type findResponse struct {
	SourcePath string         `json:"sourcePath"`
	Hardlinks  []hardLink     `json:"hardlinks"`
	Stats      stats.Snapshot `json:"stats"`
	Inode      uint64         `json:"inode"`
	LinkCount  uint64         `json:"linkCount"`
	Discovered int            `json:"discovered"`
	Partial    bool           `json:"partial"`
}

type deleteAllResponse struct {
	Deleted      []string `json:"deleted"`
	Skipped      []string `json:"skipped"`
	DeletedCount int      `json:"deletedCount"`
	Success      bool     `json:"success"`
	Partial      bool     `json:"partial"`
}

// linkHandler serves the /api/links routes.
type linkHandler struct {
	svc *links.Service
}

// decodeBody decodes and validates a JSON body. It writes the 400 problem
// and returns false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, missing string) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "Invalid request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		badRequest(w, missing)
		return false
	}
	return true
}

// queryPath returns the path query parameter or writes a 400 problem.
func queryPath(w http.ResponseWriter, r *http.Request, what string) (string, bool) {
	p := r.URL.Query().Get("path")
	if p == "" {
		badRequest(w, what+" path is required")
		return "", false
	}
	return p, true
}

// CreateSymlink handles POST /api/links/symlink.
func (h *linkHandler) CreateSymlink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeBody(w, r, &req, "Source and target paths are required") {
		return
	}
	res, err := h.svc.CreateSymlink(r.Context(), req.Source, req.Target)
	if err != nil {
		writeError(w, r, err, "Failed to create symbolic link")
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{Success: true, Source: res.Source, Target: res.Target, Type: res.Type})
}

// CreateHardLink handles POST /api/links/hardlink.
func (h *linkHandler) CreateHardLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if !decodeBody(w, r, &req, "Source and target paths are required") {
		return
	}
	res, err := h.svc.CreateHardLink(r.Context(), req.Source, req.Target)
	if err != nil {
		writeError(w, r, err, "Failed to create hard link")
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{Success: true, Source: res.Source, Target: res.Target, Type: res.Type})
}

// SymlinkTarget handles GET /api/links/symlink-target.
func (h *linkHandler) SymlinkTarget(w http.ResponseWriter, r *http.Request) {
	rel, ok := queryPath(w, r, "Link")
	if !ok {
		return
	}
	res, err := h.svc.InspectSymlink(r.Context(), rel)
	if err != nil {
		writeError(w, r, err, "Failed to get symbolic link target")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// UpdateSymlink handles PUT /api/links/update-symlink.
func (h *linkHandler) UpdateSymlink(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !decodeBody(w, r, &req, "Link path and new target are required") {
		return
	}
	res, err := h.svc.UpdateSymlink(r.Context(), req.Link, req.NewTarget)
	if err != nil {
		writeError(w, r, err, "Failed to update symbolic link")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"link":      res.Link,
		"newTarget": res.NewTarget,
	})
}

// DeleteHardLink handles DELETE /api/links/delete-hardlink.
func (h *linkHandler) DeleteHardLink(w http.ResponseWriter, r *http.Request) {
	rel, ok := queryPath(w, r, "File")
	if !ok {
		return
	}
	if err := h.svc.DeleteLink(r.Context(), rel); err != nil {
		writeError(w, r, err, "Failed to delete link")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "path": rel})
}

// FindHardLinks handles GET /api/links/find-hardlinks.
func (h *linkHandler) FindHardLinks(w http.ResponseWriter, r *http.Request) {
	rel, ok := queryPath(w, r, "File")
	if !ok {
		return
	}
	set, err := h.svc.FindHardLinks(r.Context(), rel)
	if err != nil {
		writeError(w, r, err, "Failed to find hard links")
		return
	}

	resp := findResponse{
		SourcePath: set.Origin.RelPath,
		Inode:      set.Inode.Ino,
		LinkCount:  set.LinkCount,
		Discovered: set.Found(),
		Partial:    set.Partial,
		Hardlinks:  make([]hardLink, 0, set.Found()),
		Stats:      set.Stats,
	}
	for _, d := range set.Discovered {
		resp.Hardlinks = append(resp.Hardlinks, hardLink{Path: d.RelPath, AbsolutePath: d.AbsPath})
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteAllHardLinks handles DELETE /api/links/delete-all-hardlinks.
func (h *linkHandler) DeleteAllHardLinks(w http.ResponseWriter, r *http.Request) {
	rel, ok := queryPath(w, r, "File")
	if !ok {
		return
	}
	res, err := h.svc.DeleteAllLinks(r.Context(), rel)
	if err != nil {
		writeError(w, r, err, "Failed to delete all hard links")
		return
	}
	writeJSON(w, http.StatusOK, deleteAllResponse{
		Success:      true,
		DeletedCount: res.DeletedCount(),
		Deleted:      res.Deleted,
		Skipped:      res.Skipped,
		Partial:      res.Partial,
	})
}

// Resolve handles GET /api/resolve.
func (h *linkHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	rel, ok := queryPath(w, r, "File")
	if !ok {
		return
	}
	abs, err := h.svc.ResolvePath(rel)
	if err != nil {
		writeError(w, r, err, "Failed to resolve path")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": h.svc.Sandbox().ToRelative(abs), "absolutePath": abs})
}

// systemHandler serves /api/health and /api/system.
type systemHandler struct {
	started time.Time
	root    string
	version string
}

// Health handles GET /api/health.
func (h *systemHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": time.Now().UTC()})
}

// System handles GET /api/system.
func (h *systemHandler) System(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	host, _ := os.Hostname()

	writeJSON(w, http.StatusOK, map[string]any{
		"basePath":   h.root,
		"platform":   runtime.GOOS,
		"arch":       runtime.GOARCH,
		"hostname":   host,
		"version":    h.version,
		"goVersion":  runtime.Version(),
		"uptime":     time.Since(h.started).Seconds(),
		"goroutines": runtime.NumGoroutine(),
		"memoryUsage": map[string]uint64{
			"alloc":     mem.Alloc,
			"sys":       mem.Sys,
			"heapInuse": mem.HeapInuse,
		},
	})
}
