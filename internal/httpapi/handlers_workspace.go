package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *App) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var in struct {
		WorkspaceName string `json:"workspaceName"`
	}
	body, err := readBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := decodeJSON(body, &in); err != nil {
		writeErr(w, err)
		return
	}

	result, err := a.workspaces.Bootstrap()
	if err != nil {
		writeErr(w, err)
		return
	}

	writeOK(w, http.StatusCreated, map[string]any{
		"workspaceId": result.WorkspaceID,
		"keys": map[string]any{
			"read":   result.ReadKey,
			"append": result.AppendKey,
			"write":  result.WriteKey,
		},
		"urls": map[string]string{
			"read":   "/r/" + result.ReadKey,
			"append": "/a/" + result.AppendKey,
			"write":  "/w/" + result.WriteKey,
		},
	}, false)
}

func (a *App) handleClaimWorkspace(w http.ResponseWriter, r *http.Request) {
	plaintext := chi.URLParam(r, "key")
	var sessionValue string
	if c, err := r.Cookie(a.cfg.SessionCookieName); err == nil {
		sessionValue = c.Value
	}
	result, err := a.workspaces.Claim(plaintext, sessionValue)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, result, false)
}
