package httpapi

import (
	"net/http"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/capkey"
	"github.com/zynqcloud/capdocs/internal/store"
)

// handleMintKey implements POST /w/:key/keys (§6, §4.2): mints a new
// capability key scoped within the minting key's own scope. A write key may
// mint any permission level; scope must not exceed the minting key's own
// scope.
func (a *App) handleMintKey(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	if rec.Permission != store.PermissionWrite {
		writeErr(w, apperr.NotFound(apperr.CodePermissionDenied, "a write key is required to mint keys"))
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var in struct {
		Permission   string   `json:"permission"`
		ScopeType    string   `json:"scopeType"`
		ScopePath    string   `json:"scopePath"`
		WIPLimit     *int     `json:"wipLimit"`
		AllowedTypes []string `json:"allowedTypes"`
		DisplayName  string   `json:"displayName"`
		BoundAuthor  string   `json:"boundAuthor"`
	}
	if err := decodeJSON(body, &in); err != nil {
		writeErr(w, err)
		return
	}

	permission := store.Permission(in.Permission)
	switch permission {
	case store.PermissionRead, store.PermissionAppend, store.PermissionWrite:
	default:
		writeErr(w, apperr.Invalid("permission must be one of read, append, write"))
		return
	}

	scopeType := store.ScopeType(in.ScopeType)
	scopePath := in.ScopePath
	switch scopeType {
	case "":
		scopeType = rec.ScopeType
		scopePath = rec.ScopePath
	case store.ScopeWorkspace, store.ScopeFolder, store.ScopeFile:
		if scopePath == "" {
			scopePath = "/"
		}
		cleaned, err := cleanPath(scopePath)
		if err != nil {
			writeErr(w, err)
			return
		}
		scopePath = cleaned
	default:
		writeErr(w, apperr.Invalid("scopeType must be one of workspace, folder, file"))
		return
	}

	// The minted key's scope must not exceed the minting key's own scope.
	scopeRank := map[store.ScopeType]int{store.ScopeFile: 0, store.ScopeFolder: 1, store.ScopeWorkspace: 2}
	if scopeRank[scopeType] > scopeRank[rec.ScopeType] {
		writeErr(w, apperr.NotFound(apperr.CodePermissionDenied, "scope exceeds the minting key's scope"))
		return
	}
	if err := capkeyAuthorize(rec, store.PermissionRead, scopePath, ""); err != nil {
		writeErr(w, err)
		return
	}

	plaintext, newRec, err := a.keys.Mint(rec.WorkspaceID, permission, scopeType, scopePath, capkey.MintOptions{
		BoundAuthor:  in.BoundAuthor,
		WIPLimit:     in.WIPLimit,
		AllowedTypes: in.AllowedTypes,
		DisplayName:  in.DisplayName,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusCreated, keyView(newRec, plaintext), true)
}

func (a *App) handleListKeys(w http.ResponseWriter, r *http.Request) {
	rec, ok := a.resolveKey(w, r)
	if !ok {
		return
	}
	if rec.Permission != store.PermissionWrite {
		writeErr(w, apperr.NotFound(apperr.CodePermissionDenied, "a write key is required to list keys"))
		return
	}
	includeRevoked := r.URL.Query().Get("includeRevoked") == "true"
	keys, err := a.store.ListKeysForWorkspace(rec.WorkspaceID, includeRevoked)
	if err != nil {
		writeErr(w, err)
		return
	}
	views := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		views = append(views, keyView(k, ""))
	}
	writeOK(w, http.StatusOK, map[string]any{"keys": views}, false)
}

// keyView renders a capability key without ever exposing keyHash; plaintext
// is included only at mint time (§4.2).
func keyView(k *store.CapabilityKey, plaintext string) map[string]any {
	view := map[string]any{
		"id":          k.ID,
		"permission":  k.Permission,
		"scopeType":   k.ScopeType,
		"scopePath":   k.ScopePath,
		"displayName": k.DisplayName,
		"createdAt":   k.CreatedAt,
		"expiresAt":   k.ExpiresAt,
		"revokedAt":   k.RevokedAt,
	}
	if k.WIPLimit != nil {
		view["wipLimit"] = *k.WIPLimit
	}
	if len(k.AllowedTypes) > 0 {
		view["allowedTypes"] = k.AllowedTypes
	}
	if k.BoundAuthor != "" {
		view["boundAuthor"] = k.BoundAuthor
	}
	if plaintext != "" {
		view["key"] = plaintext
	}
	return view
}
