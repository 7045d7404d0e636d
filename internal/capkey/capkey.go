// Package capkey implements the capability key engine (C2): minting,
// resolving, and authorizing the bearer keys embedded in request URLs. Keys
// are the sole bearer authority — there is no ambient authentication, so
// every decision here is a pure function of (key record, request) per §9.
package capkey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/store"
)

const (
	plaintextLen = 28
	base62Alpha  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

// Engine mints and resolves capability keys against the storage layer.
type Engine struct {
	store *store.Store
}

func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// MintOptions carries the optional constraints a minted key may carry.
type MintOptions struct {
	BoundAuthor  string
	WIPLimit     *int
	AllowedTypes []string
	DisplayName  string
	ExpiresAt    *time.Time
}

// Mint generates a fresh base62 plaintext key, persists its hash, and
// returns the plaintext exactly once — the caller must surface it to the
// client now or it is unrecoverable.
func (e *Engine) Mint(workspaceID string, permission store.Permission, scopeType store.ScopeType, scopePath string, opts MintOptions) (plaintext string, rec *store.CapabilityKey, err error) {
	plaintext, err = generatePlaintext()
	if err != nil {
		return "", nil, err
	}
	hash := hashKey(plaintext)

	rec = &store.CapabilityKey{
		ID:           "key_" + uuid.NewString(),
		WorkspaceID:  workspaceID,
		Prefix:       plaintext[:6],
		KeyHash:      hash,
		Permission:   permission,
		ScopeType:    scopeType,
		ScopePath:    scopePath,
		BoundAuthor:  opts.BoundAuthor,
		WIPLimit:     opts.WIPLimit,
		AllowedTypes: opts.AllowedTypes,
		DisplayName:  opts.DisplayName,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    opts.ExpiresAt,
	}
	if err := e.store.PutKey(rec); err != nil {
		return "", nil, err
	}
	return plaintext, rec, nil
}

// Resolve hashes plaintext and looks up the matching key record, applying
// the ordered error taxonomy from §4.2: malformed and unknown-hash both
// yield INVALID_KEY; revoked and expired are distinguished only once a
// record is found. Every branch returns HTTP 404 (never 401/403) per the
// capability-URL confidentiality policy (P5).
func (e *Engine) Resolve(plaintext string) (*store.CapabilityKey, error) {
	if len(plaintext) < 16 || !isBase62(plaintext) {
		return nil, apperr.NotFound(apperr.CodeInvalidKey, "invalid key")
	}
	rec, err := e.store.GetKeyByHash(hashKey(plaintext))
	if err != nil {
		return nil, apperr.NotFound(apperr.CodeInvalidKey, "invalid key")
	}
	now := time.Now().UTC()
	if rec.RevokedAt != nil {
		return nil, apperr.NotFound(apperr.CodeKeyRevoked, "key has been revoked")
	}
	if rec.ExpiresAt != nil && !rec.ExpiresAt.After(now) {
		return nil, apperr.NotFound(apperr.CodeKeyExpired, "key has expired")
	}
	return rec, nil
}

// Authorize checks permission hierarchy, scope containment, and author
// binding. A failure of any kind surfaces as PERMISSION_DENIED 404 (P5);
// the message names the category so the scope-enforcement test (P6) can
// match on "outside of key scope".
func Authorize(rec *store.CapabilityKey, required store.Permission, requestPath string, requestAuthor string) error {
	if !rec.Permission.Implies(required) {
		return apperr.NotFound(apperr.CodePermissionDenied, "key permission is insufficient for this operation")
	}
	if !scopeContains(rec.ScopeType, rec.ScopePath, requestPath) {
		return apperr.NotFound(apperr.CodePermissionDenied, "requested path is outside of key scope")
	}
	if rec.BoundAuthor != "" && requestAuthor != "" && rec.BoundAuthor != requestAuthor {
		return apperr.NotFound(apperr.CodePermissionDenied, "key is bound to a different author")
	}
	return nil
}

// scopeContains implements §3's scope check: folder scope requires an exact
// match or a path under scopePath with a trailing-slash boundary; file
// scope requires exact equality; workspace scope matches everything.
func scopeContains(scopeType store.ScopeType, scopePath, requestPath string) bool {
	switch scopeType {
	case store.ScopeWorkspace:
		return true
	case store.ScopeFile:
		return requestPath == scopePath
	case store.ScopeFolder:
		boundary := strings.TrimSuffix(scopePath, "/")
		if boundary == "" || boundary == "/" {
			return true
		}
		return requestPath == boundary || strings.HasPrefix(requestPath, boundary+"/")
	default:
		return false
	}
}

// EnforceAllowedTypes checks an append's type against the key's
// allowedTypes constraint, if any.
func EnforceAllowedTypes(rec *store.CapabilityKey, appendType store.AppendType) error {
	if len(rec.AllowedTypes) == 0 {
		return nil
	}
	for _, t := range rec.AllowedTypes {
		if store.AppendType(t) == appendType {
			return nil
		}
	}
	return apperr.BadRequest(apperr.CodeTypeNotAllowed, "append type is not permitted for this key")
}

// Revoke marks a key as no longer usable.
func (e *Engine) Revoke(keyID string) error {
	return e.store.RevokeKey(keyID)
}

// Rotate revokes every key scoped to exactly path and mints a fresh
// read/append/write triple scoped to the same file.
func (e *Engine) Rotate(workspaceID, path string) (map[store.Permission]string, error) {
	if err := e.store.RevokeKeysScopedToFile(workspaceID, path); err != nil {
		return nil, err
	}
	out := make(map[store.Permission]string, 3)
	for _, perm := range []store.Permission{store.PermissionRead, store.PermissionAppend, store.PermissionWrite} {
		plaintext, _, err := e.Mint(workspaceID, perm, store.ScopeFile, path, MintOptions{})
		if err != nil {
			return nil, err
		}
		out[perm] = plaintext
	}
	return out, nil
}

func generatePlaintext() (string, error) {
	var sb strings.Builder
	sb.Grow(plaintextLen)
	max := big.NewInt(int64(len(base62Alpha)))
	for i := 0; i < plaintextLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(base62Alpha[n.Int64()])
	}
	return sb.String(), nil
}

func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func isBase62(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune(base62Alpha, r) {
			return false
		}
	}
	return true
}
