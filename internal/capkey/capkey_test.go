package capkey_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/capkey"
	"github.com/zynqcloud/capdocs/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func errCode(t *testing.T, err error) apperr.Code {
	t.Helper()
	ae, ok := err.(*apperr.Error)
	if !ok {
		t.Fatalf("expected *apperr.Error, got %T (%v)", err, err)
	}
	return ae.Code
}

func TestMintAndResolveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	e := capkey.New(s)

	plaintext, rec, err := e.Mint("ws_1", store.PermissionWrite, store.ScopeWorkspace, "/", capkey.MintOptions{})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if len(plaintext) < 16 {
		t.Fatalf("plaintext too short: %q", plaintext)
	}

	resolved, err := e.Resolve(plaintext)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.ID != rec.ID {
		t.Errorf("resolved id = %q, want %q", resolved.ID, rec.ID)
	}
}

func TestResolveMalformedKeyIsInvalidKey(t *testing.T) {
	s := newTestStore(t)
	e := capkey.New(s)

	_, err := e.Resolve("short")
	if err == nil {
		t.Fatal("expected error for malformed key")
	}
	if got := errCode(t, err); got != apperr.CodeInvalidKey {
		t.Errorf("code = %q, want INVALID_KEY", got)
	}
}

func TestResolveUnknownKeyIsInvalidKey(t *testing.T) {
	s := newTestStore(t)
	e := capkey.New(s)

	_, err := e.Resolve("ZZZZZZZZZZZZZZZZZZZZZZZZZZZZ")
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if got := errCode(t, err); got != apperr.CodeInvalidKey {
		t.Errorf("code = %q, want INVALID_KEY", got)
	}
}

func TestResolveRevokedKey(t *testing.T) {
	s := newTestStore(t)
	e := capkey.New(s)

	plaintext, rec, err := e.Mint("ws_1", store.PermissionRead, store.ScopeWorkspace, "/", capkey.MintOptions{})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := e.Revoke(rec.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	_, err = e.Resolve(plaintext)
	if err == nil {
		t.Fatal("expected error for revoked key")
	}
	if got := errCode(t, err); got != apperr.CodeKeyRevoked {
		t.Errorf("code = %q, want KEY_REVOKED", got)
	}
}

func TestResolveExpiredKey(t *testing.T) {
	s := newTestStore(t)
	e := capkey.New(s)

	past := time.Now().UTC().Add(-time.Hour)
	plaintext, _, err := e.Mint("ws_1", store.PermissionRead, store.ScopeWorkspace, "/", capkey.MintOptions{
		ExpiresAt: &past,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	_, err = e.Resolve(plaintext)
	if err == nil {
		t.Fatal("expected error for expired key")
	}
	if got := errCode(t, err); got != apperr.CodeKeyExpired {
		t.Errorf("code = %q, want KEY_EXPIRED", got)
	}
}

func TestAuthorizePermissionHierarchy(t *testing.T) {
	rec := &store.CapabilityKey{
		Permission: store.PermissionRead,
		ScopeType:  store.ScopeWorkspace,
		ScopePath:  "/",
	}
	if err := capkey.Authorize(rec, store.PermissionWrite, "/docs/a.md", ""); err == nil {
		t.Fatal("expected permission denied for read key requiring write")
	}
	if err := capkey.Authorize(rec, store.PermissionRead, "/docs/a.md", ""); err != nil {
		t.Errorf("read key should authorize a read operation: %v", err)
	}
}

func TestAuthorizeFolderScopeBoundary(t *testing.T) {
	rec := &store.CapabilityKey{
		Permission: store.PermissionWrite,
		ScopeType:  store.ScopeFolder,
		ScopePath:  "/projects/alpha",
	}
	if err := capkey.Authorize(rec, store.PermissionWrite, "/projects/alpha/notes.md", ""); err != nil {
		t.Errorf("path under folder scope should authorize: %v", err)
	}
	if err := capkey.Authorize(rec, store.PermissionWrite, "/projects/alphabet/notes.md", ""); err == nil {
		t.Fatal("sibling folder sharing a prefix must not be in scope")
	}
	if err := capkey.Authorize(rec, store.PermissionWrite, "/projects/beta/notes.md", ""); err == nil {
		t.Fatal("path outside folder scope must be rejected")
	}
}

func TestAuthorizeFileScopeExactMatch(t *testing.T) {
	rec := &store.CapabilityKey{
		Permission: store.PermissionWrite,
		ScopeType:  store.ScopeFile,
		ScopePath:  "/docs/a.md",
	}
	if err := capkey.Authorize(rec, store.PermissionWrite, "/docs/a.md", ""); err != nil {
		t.Errorf("exact file match should authorize: %v", err)
	}
	if err := capkey.Authorize(rec, store.PermissionWrite, "/docs/b.md", ""); err == nil {
		t.Fatal("a different file must not be in scope")
	}
}

func TestAuthorizeBoundAuthor(t *testing.T) {
	rec := &store.CapabilityKey{
		Permission:  store.PermissionAppend,
		ScopeType:   store.ScopeWorkspace,
		ScopePath:   "/",
		BoundAuthor: "alice",
	}
	if err := capkey.Authorize(rec, store.PermissionAppend, "/docs/a.md", "alice"); err != nil {
		t.Errorf("matching bound author should authorize: %v", err)
	}
	if err := capkey.Authorize(rec, store.PermissionAppend, "/docs/a.md", "bob"); err == nil {
		t.Fatal("mismatched bound author must be rejected")
	}
}

func TestEnforceAllowedTypes(t *testing.T) {
	rec := &store.CapabilityKey{AllowedTypes: []string{"comment"}}
	if err := capkey.EnforceAllowedTypes(rec, store.AppendComment); err != nil {
		t.Errorf("allowed type should pass: %v", err)
	}
	if err := capkey.EnforceAllowedTypes(rec, store.AppendTask); err == nil {
		t.Fatal("disallowed type should be rejected")
	}

	unrestricted := &store.CapabilityKey{}
	if err := capkey.EnforceAllowedTypes(unrestricted, store.AppendTask); err != nil {
		t.Errorf("key with no allowedTypes constraint should allow everything: %v", err)
	}
}

func TestRotateRevokesAndMintsTriple(t *testing.T) {
	s := newTestStore(t)
	e := capkey.New(s)

	_, rec, err := e.Mint("ws_1", store.PermissionWrite, store.ScopeFile, "/docs/a.md", capkey.MintOptions{})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	keys, err := e.Rotate("ws_1", "/docs/a.md")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 minted keys, got %d", len(keys))
	}

	old, err := s.GetKeyByID(rec.ID)
	if err != nil {
		t.Fatalf("GetKeyByID: %v", err)
	}
	if old.RevokedAt == nil {
		t.Error("old key should be revoked after rotate")
	}
}
