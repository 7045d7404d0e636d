package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zynqcloud/capdocs/internal/store"
	"github.com/zynqcloud/capdocs/internal/webhook"
)

func (a *App) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
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
		URL         string            `json:"url"`
		Events      []string          `json:"events"`
		Filters     map[string]string `json:"filters"`
		Recursive   bool              `json:"recursive"`
		IncludeURLs bool              `json:"includeUrls"`
		Secret      string            `json:"secret"`
	}
	if err := decodeJSON(body, &in); err != nil {
		writeErr(w, err)
		return
	}
	wh, secret, err := a.webhooks.Register(rec.WorkspaceID, rec.ScopeType, rec.ScopePath, webhook.RegisterInput{
		URL:         in.URL,
		Events:      in.Events,
		Filters:     in.Filters,
		Recursive:   in.Recursive,
		IncludeURLs: in.IncludeURLs,
		Secret:      in.Secret,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{
		"id":        wh.ID,
		"url":       wh.URL,
		"events":    wh.Events,
		"scope":     wh.Scope,
		"scopePath": wh.ScopePath,
		"recursive": wh.Recursive,
		"status":    wh.Status,
		"secret":    secret,
		"createdAt": wh.CreatedAt,
	}, true)
}

func (a *App) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	if err := authorizeCap(rec, store.PermissionWrite, rec.ScopePath, ""); err != nil {
		writeErr(w, err)
		return
	}
	hooks, err := a.webhooks.List(rec.WorkspaceID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"webhooks": hooks}, false)
}

func (a *App) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	if err := authorizeCap(rec, store.PermissionWrite, rec.ScopePath, ""); err != nil {
		writeErr(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.webhooks.Delete(rec.WorkspaceID, id); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"id": id, "deleted": true}, false)
}

// webhookMatchesAny reports whether wh is subscribed to any of events
// (§4.7). Only the subscribed event set is checked; wh.Filters is stored
// with the registration but not consulted here.
func webhookMatchesAny(wh *store.Webhook, events []string) bool {
	subscribed := make(map[string]bool, len(wh.Events))
	for _, e := range wh.Events {
		subscribed[e] = true
	}
	for _, e := range events {
		if subscribed[e] {
			return true
		}
	}
	return false
}

// foldersMatchScope reports whether a webhook registered at (scope,
// scopePath) should receive an event for path.
func foldersMatchScope(wh *store.Webhook, path string) bool {
	return webhook.MatchesScope(wh, path)
}

// webhookDelivery builds the enqueued delivery for the first matching event
// name, preferring the most specific (non-generic) event if present.
func webhookDelivery(wh *store.Webhook, events []string, payload map[string]any) webhook.Delivery {
	subscribed := make(map[string]bool, len(wh.Events))
	for _, e := range wh.Events {
		subscribed[e] = true
	}
	chosen := ""
	for _, e := range events {
		if !subscribed[e] {
			continue
		}
		if chosen == "" {
			chosen = e
		}
		if e != "append" && e != "append.created" {
			chosen = e
			break
		}
	}
	if chosen == "" {
		chosen = events[0]
	}
	data := map[string]any{}
	for k, v := range payload {
		data[k] = v
	}
	data["event"] = chosen
	if wh.IncludeURLs {
		data["webhookId"] = wh.ID
	}
	return webhook.Delivery{Webhook: wh, Event: chosen, Payload: data}
}
