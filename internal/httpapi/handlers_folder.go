package httpapi

import (
	"bytes"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/folder"
	"github.com/zynqcloud/capdocs/internal/store"
	"github.com/zynqcloud/capdocs/internal/validate"
)

// cleanPath runs a raw, already-decoded path (from a JSON body field or a
// query parameter, both of which net/http has already percent-decoded) through
// the C1 validator (§4.1).
func cleanPath(raw string) (string, error) {
	if raw == "" {
		return "/", nil
	}
	return validate.Path(raw)
}

// folderWildcardPath decodes the chi wildcard tail exactly once and validates
// it, the same contract requestPath uses for file routes (§6).
func folderWildcardPath(r *http.Request) (string, error) {
	return requestPath(r)
}

// bulkCreatePath peels the trailing "/bulk" segment off the folder wildcard
// tail before decoding and validating what remains, so POST
// /a/:key/folders/:path/bulk supports the same arbitrary nesting every other
// folder route gets from "/folders/*" (chi wildcards can't sit mid-route, so
// the suffix is stripped here instead of split across two path params).
func bulkCreatePath(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "*")
	var trimmed string
	switch {
	case raw == "bulk":
		trimmed = ""
	case strings.HasSuffix(raw, "/bulk"):
		trimmed = strings.TrimSuffix(raw, "/bulk")
	default:
		return "", apperr.NotFound(apperr.CodeNotFound, "not found")
	}
	decoded, err := url.PathUnescape(trimmed)
	if err != nil {
		return "", apperr.InvalidPath("path is not validly percent-encoded")
	}
	return validate.Path(decoded)
}

func (a *App) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(body, &in); err != nil {
		writeErr(w, err)
		return
	}
	// The key's own scope is the folder's parent: a workspace key creates at
	// root, a folder-scoped key creates under its bound path (§4.6).
	parent := rec.ScopePath
	if rec.ScopeType != store.ScopeFolder && rec.ScopeType != store.ScopeWorkspace {
		writeErr(w, apperr.Invalid("a workspace- or folder-scoped key is required to create a folder"))
		return
	}
	if parent == "" {
		parent = "/"
	}
	if err := authorizeCap(rec, store.PermissionWrite, parent, ""); err != nil {
		writeErr(w, err)
		return
	}
	if err := a.folders.Create(rec.WorkspaceID, parent, in.Name); err != nil {
		writeErr(w, err)
		return
	}
	path := joinFolderPath(parent, in.Name)
	writeOK(w, http.StatusCreated, map[string]any{"path": path, "created": true}, true)
}

func (a *App) handleFolderListOrExport(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := folderWildcardPath(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionRead, path, ""); err != nil {
		writeErr(w, err)
		return
	}

	if r.URL.Query().Get("action") == "export" {
		a.exportFolder(w, rec.WorkspaceID, path)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	children, err := a.folders.List(rec.WorkspaceID, path, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"path": path, "children": children}, false)
}

// exportFolder buffers the archive so the checksum it advertises in
// X-Export-Checksum can be computed before any header is written — a header
// set after WriteHeader never reaches the client.
func (a *App) exportFolder(w http.ResponseWriter, workspaceID, path string) {
	var buf bytes.Buffer
	checksum, err := a.folders.Export(workspaceID, path, &buf)
	if err != nil {
		writeErr(w, apperr.Internal("export failed"))
		return
	}

	name := path
	if idx := strings.LastIndex(strings.TrimSuffix(path, "/"), "/"); idx >= 0 {
		name = strings.TrimSuffix(path, "/")[idx+1:]
	}
	if name == "" {
		name = "export"
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.zip"`)
	w.Header().Set("X-Export-Checksum", checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *App) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := folderWildcardPath(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionWrite, path, ""); err != nil {
		writeErr(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(body, &in); err != nil {
		writeErr(w, err)
		return
	}
	if err := a.folders.Rename(rec.WorkspaceID, path, in.Name); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"renamed": true}, true)
}

func (a *App) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := folderWildcardPath(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionWrite, path, ""); err != nil {
		writeErr(w, err)
		return
	}
	cascade := r.URL.Query().Get("cascade") == "true"
	confirmPath := r.URL.Query().Get("confirmPath")
	if err := a.folders.Delete(rec.WorkspaceID, path, cascade, confirmPath, a.cfg.SoftDeleteRetention); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"deleted": true}, true)
}

func (a *App) handleFolderStats(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := cleanPath(r.URL.Query().Get("path"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionRead, path, ""); err != nil {
		writeErr(w, err)
		return
	}
	stats, err := a.folders.Stats(rec.WorkspaceID, path)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, stats, false)
}

func (a *App) handleFolderSearch(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := cleanPath(r.URL.Query().Get("path"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionRead, path, ""); err != nil {
		writeErr(w, err)
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		writeErr(w, apperr.Invalid("q is required"))
		return
	}
	results, err := a.folders.Search(rec.WorkspaceID, path, q)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"results": results}, false)
}

func (a *App) handleBulkCreate(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := bulkCreatePath(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionAppend, path, ""); err != nil {
		writeErr(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var in struct {
		Files []folder.BulkFile `json:"files"`
	}
	if err := decodeJSON(body, &in); err != nil {
		writeErr(w, err)
		return
	}
	results := a.folders.Bulk(rec.WorkspaceID, path, in.Files)
	writeOK(w, http.StatusOK, map[string]any{"results": results}, true)
}

func joinFolderPath(parent, name string) string {
	parent = strings.TrimSuffix(parent, "/")
	if parent == "" {
		return "/" + name
	}
	return parent + "/" + name
}
