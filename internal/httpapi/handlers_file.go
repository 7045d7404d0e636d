package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/appendlog"
	"github.com/zynqcloud/capdocs/internal/fileops"
	"github.com/zynqcloud/capdocs/internal/store"
)

func (a *App) handleGetFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := requestPath(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionRead, path, ""); err != nil {
		writeErr(w, err)
		return
	}

	f, err := a.files.Get(rec.WorkspaceID, path)
	if err != nil {
		writeErr(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	w.Header().Set("ETag", f.ETag)

	switch format {
	case "", "full":
		writeOK(w, http.StatusOK, fileView(f), false)
	case "parsed":
		appends, err := a.store.ListAppends(f.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		data := fileView(f)
		data["appends"] = appends
		data["structure"] = fileops.Structure(f.Content)
		writeOK(w, http.StatusOK, data, false)
	default:
		writeErr(w, apperr.Invalid("unknown format"))
	}
}

func fileView(f *store.File) map[string]any {
	return map[string]any{
		"content":   f.Content,
		"filename":  f.Filename,
		"path":      f.Path,
		"folder":    f.Folder,
		"size":      f.Size,
		"etag":      f.ETag,
		"createdAt": f.CreatedAt,
		"updatedAt": f.UpdatedAt,
		"settings":  f.Settings,
	}
}

// fileScopedPath returns the path a file-scoped read/append/write key is
// bound to, used by routes that address the file purely via the key (raw,
// meta, structure, section, tail, ops/file/append, recover, rotate, PATCH).
func fileScopedPath(rec *store.CapabilityKey) (string, error) {
	if rec.ScopeType != store.ScopeFile {
		return "", apperr.Invalid("this route requires a file-scoped key")
	}
	return rec.ScopePath, nil
}

func authorizeCap(rec *store.CapabilityKey, required store.Permission, path, author string) error {
	return capkeyAuthorize(rec, required, path, author)
}

func (a *App) handleGetRaw(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := fileScopedPath(rec)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionRead, path, ""); err != nil {
		writeErr(w, err)
		return
	}
	f, err := a.files.Get(rec.WorkspaceID, path)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("ETag", f.ETag)
	w.Header().Set("Content-Type", "text/markdown")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(f.Content))
}

func (a *App) handleGetMeta(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := fileScopedPath(rec)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionRead, path, ""); err != nil {
		writeErr(w, err)
		return
	}
	f, err := a.files.Get(rec.WorkspaceID, path)
	if err != nil {
		writeErr(w, err)
		return
	}
	taskStats, err := a.files.Meta(f, func(appends []*store.Append, taskAppendID string, now time.Time) string {
		return string(appendlog.Reduce(appends, taskAppendID, now).Status)
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("ETag", f.ETag)
	data := fileView(f)
	data["taskStats"] = taskStats
	writeOK(w, http.StatusOK, data, false)
}

func (a *App) handleGetStructure(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := fileScopedPath(rec)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionRead, path, ""); err != nil {
		writeErr(w, err)
		return
	}
	f, err := a.files.Get(rec.WorkspaceID, path)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, fileops.Structure(f.Content), false)
}

func (a *App) handleGetSection(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := fileScopedPath(rec)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionRead, path, ""); err != nil {
		writeErr(w, err)
		return
	}
	f, err := a.files.Get(rec.WorkspaceID, path)
	if err != nil {
		writeErr(w, err)
		return
	}
	heading := chi.URLParam(r, "heading")
	h, content, err := fileops.Section(f.Content, heading)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"heading": h.Text,
		"level":   h.Level,
		"content": content,
	}, false)
}

func (a *App) handleGetTail(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := fileScopedPath(rec)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionRead, path, ""); err != nil {
		writeErr(w, err)
		return
	}
	f, err := a.files.Get(rec.WorkspaceID, path)
	if err != nil {
		writeErr(w, err)
		return
	}
	lines, _ := strconv.Atoi(r.URL.Query().Get("lines"))
	bytes, _ := strconv.Atoi(r.URL.Query().Get("bytes"))
	result, err := fileops.Tail(f.Content, lines, bytes)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, result, false)
}

func (a *App) handleGetAppend(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := fileScopedPath(rec)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionRead, path, ""); err != nil {
		writeErr(w, err)
		return
	}
	f, err := a.files.Get(rec.WorkspaceID, path)
	if err != nil {
		writeErr(w, err)
		return
	}
	appendID := chi.URLParam(r, "appendId")
	app, err := a.store.GetAppend(f.ID, appendID)
	if err != nil {
		writeErr(w, apperr.NotFound(apperr.CodeAppendNotFound, "append not found"))
		return
	}
	writeOK(w, http.StatusOK, app, false)
}

func (a *App) handlePutFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := requestPath(r)
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
		Content string `json:"content"`
	}
	if err := decodeJSON(body, &in); err != nil {
		writeErr(w, err)
		return
	}

	ws, err := a.store.GetWorkspace(rec.WorkspaceID)
	if err != nil {
		writeErr(w, apperr.Internal("workspace lookup failed"))
		return
	}

	result, err := a.files.Put(rec.WorkspaceID, path, in.Content, r.Header.Get("If-Match"), ws.Settings)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("ETag", result.File.ETag)
	status := http.StatusOK
	event := "file.updated"
	if result.Created {
		status = http.StatusCreated
		event = "file.created"
	}
	a.dispatchFileEvent(rec.WorkspaceID, path, event, result.File)
	writeOK(w, status, fileView(result.File), true)
}

func (a *App) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := requestPath(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionWrite, path, ""); err != nil {
		writeErr(w, err)
		return
	}
	permanent := r.URL.Query().Get("permanent") == "true"

	body, _ := readBody(r)
	a.withIdempotency(w, r, rec.WorkspaceID, "DELETE "+path, body, func() (int, any, error) {
		result, err := a.files.Delete(rec.WorkspaceID, path, permanent)
		if err != nil {
			return 0, nil, err
		}
		a.dispatchFileEvent(rec.WorkspaceID, path, "file.deleted", nil)
		return http.StatusOK, result, nil
	})
}

func (a *App) handleRenameFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := fileScopedPath(rec)
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
		Filename string `json:"filename"`
	}
	if err := decodeJSON(body, &in); err != nil {
		writeErr(w, err)
		return
	}
	f, err := a.files.Rename(rec.WorkspaceID, path, in.Filename)
	if err != nil {
		writeErr(w, err)
		return
	}
	a.dispatchFileEvent(rec.WorkspaceID, f.Path, "file.updated", f)
	writeOK(w, http.StatusOK, fileView(f), true)
}

func (a *App) handleRecoverFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := fileScopedPath(rec)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionWrite, path, ""); err != nil {
		writeErr(w, err)
		return
	}
	f, err := a.files.Recover(rec.WorkspaceID, path)
	if err != nil {
		writeErr(w, err)
		return
	}
	a.dispatchFileEvent(rec.WorkspaceID, f.Path, "file.updated", f)
	data := map[string]any{"recovered": true, "path": f.Path}
	if r.URL.Query().Get("rotateUrls") == "true" {
		urls, err := a.keys.Rotate(rec.WorkspaceID, path)
		if err != nil {
			writeErr(w, err)
			return
		}
		data["urls"] = renderKeyURLs(urls)
	}
	writeOK(w, http.StatusOK, data, true)
}

func (a *App) handleRotateFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := fileScopedPath(rec)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionWrite, path, ""); err != nil {
		writeErr(w, err)
		return
	}
	if _, err := a.files.Get(rec.WorkspaceID, path); err != nil {
		writeErr(w, err)
		return
	}
	urls, err := a.keys.Rotate(rec.WorkspaceID, path)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"urls": renderKeyURLs(urls)}, true)
}

func renderKeyURLs(plaintexts map[store.Permission]string) map[string]string {
	out := make(map[string]string, len(plaintexts))
	for perm, pt := range plaintexts {
		prefix := "r"
		switch perm {
		case store.PermissionAppend:
			prefix = "a"
		case store.PermissionWrite:
			prefix = "w"
		}
		out[string(perm)] = "/" + prefix + "/" + pt
	}
	return out
}

func (a *App) handleMoveFile(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	if err := authorizeCap(rec, store.PermissionWrite, rec.ScopePath, ""); err != nil {
		writeErr(w, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var in struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
	}
	if err := decodeJSON(body, &in); err != nil {
		writeErr(w, err)
		return
	}
	src, err := cleanPath(in.Source)
	if err != nil {
		writeErr(w, err)
		return
	}
	dst, err := cleanPath(in.Destination)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := authorizeCap(rec, store.PermissionWrite, src, ""); err != nil {
		writeErr(w, err)
		return
	}

	a.withIdempotency(w, r, rec.WorkspaceID, "POST /move", body, func() (int, any, error) {
		f, err := a.files.Move(rec.WorkspaceID, src, dst)
		if err != nil {
			return 0, nil, err
		}
		a.dispatchFileEvent(rec.WorkspaceID, f.Path, "file.updated", f)
		return http.StatusOK, fileView(f), nil
	})
}

func (a *App) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	if rec.Permission != store.PermissionWrite || rec.ScopeType != store.ScopeWorkspace {
		writeErr(w, apperr.NotFound(apperr.CodePermissionDenied, "a workspace-scoped write key is required"))
		return
	}
	ws, err := a.store.GetWorkspace(rec.WorkspaceID)
	if err != nil {
		writeErr(w, apperr.Internal("workspace lookup failed"))
		return
	}
	writeOK(w, http.StatusOK, ws.Settings, false)
}

func (a *App) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	if rec.Permission != store.PermissionWrite || rec.ScopeType != store.ScopeWorkspace {
		writeErr(w, apperr.NotFound(apperr.CodePermissionDenied, "a workspace-scoped write key is required"))
		return
	}
	ws, err := a.store.GetWorkspace(rec.WorkspaceID)
	if err != nil {
		writeErr(w, apperr.Internal("workspace lookup failed"))
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var patch map[string]any
	if err := decodeJSON(body, &patch); err != nil {
		writeErr(w, err)
		return
	}
	merged, err := fileops.PatchSettings(ws.Settings, patch)
	if err != nil {
		writeErr(w, err)
		return
	}
	updated, err := a.store.UpdateWorkspaceSettings(rec.WorkspaceID, merged)
	if err != nil {
		writeErr(w, apperr.Internal("could not update settings"))
		return
	}
	writeOK(w, http.StatusOK, updated.Settings, true)
}
