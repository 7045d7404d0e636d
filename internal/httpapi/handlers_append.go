package httpapi

import (
	"net/http"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/appendlog"
	"github.com/zynqcloud/capdocs/internal/store"
)

type appendWire struct {
	Author   string   `json:"author"`
	Type     string   `json:"type"`
	Ref      string   `json:"ref"`
	Priority string   `json:"priority"`
	Labels   []string `json:"labels"`
	Content  string   `json:"content"`
}

// handlePostAppend implements POST /a/:key/:path (§4.4): a single append
// object or a { author, appends: [...] } batch. A batch is validated in full
// before any item is executed, so one bad item rejects the whole request.
func (a *App) handlePostAppend(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	path, err := requestPath(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	var raw struct {
		Author  string       `json:"author"`
		Type    string       `json:"type"`
		Ref     string       `json:"ref"`
		Priority string      `json:"priority"`
		Labels  []string     `json:"labels"`
		Content string       `json:"content"`
		Appends []appendWire `json:"appends"`
	}
	if err := decodeJSON(body, &raw); err != nil {
		writeErr(w, err)
		return
	}

	var items []appendlog.Item
	if len(raw.Appends) > 0 {
		batchAuthor := raw.Author
		for _, item := range raw.Appends {
			author := item.Author
			if author == "" {
				author = batchAuthor
			}
			items = append(items, appendlog.Item{
				Author:    author,
				Type:      store.AppendType(item.Type),
				ParentRef: item.Ref,
				Priority:  item.Priority,
				Labels:    item.Labels,
				Content:   item.Content,
			})
		}
	} else {
		items = append(items, appendlog.Item{
			Author:    raw.Author,
			Type:      store.AppendType(raw.Type),
			ParentRef: raw.Ref,
			Priority:  raw.Priority,
			Labels:    raw.Labels,
			Content:   raw.Content,
		})
	}
	if len(items) == 0 {
		writeErr(w, apperr.Invalid("at least one append is required"))
		return
	}

	if err := authorizeCap(rec, store.PermissionAppend, path, ""); err != nil {
		writeErr(w, err)
		return
	}

	// Validate every item before executing any of them (§4.4 atomic batch).
	for _, item := range items {
		if err := appendlog.ValidateItem(rec, item); err != nil {
			writeErr(w, err)
			return
		}
		if err := capkeyAuthorize(rec, store.PermissionAppend, path, item.Author); err != nil {
			writeErr(w, err)
			return
		}
		if item.Type == store.AppendClaim {
			if err := appendlog.CheckWIPLimit(a.store, rec, item.Author); err != nil {
				writeErr(w, err)
				return
			}
		}
	}

	f, err := a.files.Get(rec.WorkspaceID, path)
	if err != nil {
		writeErr(w, err)
		return
	}

	results := make([]*store.Append, 0, len(items))
	for _, item := range items {
		result, err := a.appends.Submit(f, rec, item, a.cfg.DefaultClaimDuration)
		if err != nil {
			writeErr(w, err)
			return
		}
		if result != nil {
			results = append(results, result)
			a.dispatchAppendEvent(rec.WorkspaceID, f.Path, result)
		}
	}

	status := http.StatusCreated
	var data any
	if len(raw.Appends) > 0 {
		data = map[string]any{"appends": results}
	} else if len(results) == 0 {
		// Idempotent no-op cancel/response repeat: nothing new was written.
		status = http.StatusOK
		data = map[string]any{"noop": true}
	} else {
		data = results[0]
	}
	writeOK(w, status, data, true)
}

// dispatchAppendEvent enqueues the webhook events a newly written append
// implies (§4.7): a generic "append"/"append.created" plus a type-specific
// task.* lifecycle event.
func (a *App) dispatchAppendEvent(workspaceID, path string, app *store.Append) {
	if a.dispatcher == nil {
		return
	}
	events := []string{"append", "append.created"}
	switch app.Type {
	case store.AppendTask:
		events = append(events, "task.created")
	case store.AppendClaim:
		events = append(events, "task.claimed")
	case store.AppendResponse:
		events = append(events, "task.completed")
	case store.AppendCancel:
		events = append(events, "task.cancelled")
	}
	hooks, err := a.store.ListWebhooksForWorkspace(workspaceID)
	if err != nil {
		return
	}
	payload := map[string]any{
		"path":     path,
		"append":   app,
		"workspace": workspaceID,
	}
	for _, wh := range hooks {
		if wh.Status != store.WebhookActive {
			continue
		}
		if !webhookMatchesAny(wh, events) {
			continue
		}
		if !foldersMatchScope(wh, path) {
			continue
		}
		a.dispatcher.Enqueue(webhookDelivery(wh, events, payload))
	}
}

// dispatchFileEvent enqueues a single file.* event (§4.7). file is nil for
// deletes (soft or permanent), where only the path is reported.
func (a *App) dispatchFileEvent(workspaceID, path, event string, file *store.File) {
	if a.dispatcher == nil {
		return
	}
	events := []string{event}
	hooks, err := a.store.ListWebhooksForWorkspace(workspaceID)
	if err != nil {
		return
	}
	payload := map[string]any{
		"path":      path,
		"file":      file,
		"workspace": workspaceID,
	}
	for _, wh := range hooks {
		if wh.Status != store.WebhookActive {
			continue
		}
		if !webhookMatchesAny(wh, events) {
			continue
		}
		if !foldersMatchScope(wh, path) {
			continue
		}
		a.dispatcher.Enqueue(webhookDelivery(wh, events, payload))
	}
}
