package workspace_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zynqcloud/capdocs/internal/capkey"
	"github.com/zynqcloud/capdocs/internal/store"
	"github.com/zynqcloud/capdocs/internal/workspace"
)

const testSigningKey = "test-signing-key"

func newTestWorkspaceService(t *testing.T) *workspace.Service {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	keys := capkey.New(s)
	return workspace.New(s, keys, "capdocs_session", testSigningKey, 900, 5)
}

func signSession(t *testing.T, email string, expired bool) string {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	claims := jwt.MapClaims{
		"email": email,
		"exp":   exp.Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSigningKey))
	if err != nil {
		t.Fatalf("sign session: %v", err)
	}
	return signed
}

func TestBootstrapMintsThreeDistinctKeys(t *testing.T) {
	svc := newTestWorkspaceService(t)
	result, err := svc.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if result.ReadKey == "" || result.AppendKey == "" || result.WriteKey == "" {
		t.Fatal("expected three non-empty keys")
	}
	if result.ReadKey == result.AppendKey || result.AppendKey == result.WriteKey {
		t.Error("expected three distinct keys")
	}
}

func TestClaimRequiresSessionCookie(t *testing.T) {
	svc := newTestWorkspaceService(t)
	result, err := svc.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	_, err = svc.Claim(result.WriteKey, "")
	if err == nil {
		t.Fatal("expected claim without a session cookie to fail")
	}
}

func TestClaimRejectsNonWriteKey(t *testing.T) {
	svc := newTestWorkspaceService(t)
	result, err := svc.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	session := signSession(t, "alice@example.com", false)
	_, err = svc.Claim(result.ReadKey, session)
	if err == nil {
		t.Fatal("expected claim with a read key to fail")
	}
}

func TestClaimSucceedsWithValidSessionAndWriteKey(t *testing.T) {
	svc := newTestWorkspaceService(t)
	result, err := svc.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	session := signSession(t, "alice@example.com", false)
	claimed, err := svc.Claim(result.WriteKey, session)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !claimed.Claimed {
		t.Error("expected Claimed=true")
	}
	if claimed.WorkspaceID != result.WorkspaceID {
		t.Errorf("workspaceId = %q, want %q", claimed.WorkspaceID, result.WorkspaceID)
	}
}

func TestClaimingAlreadyClaimedWorkspaceFails(t *testing.T) {
	svc := newTestWorkspaceService(t)
	result, err := svc.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	session := signSession(t, "alice@example.com", false)
	if _, err := svc.Claim(result.WriteKey, session); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	second := signSession(t, "bob@example.com", false)
	_, err = svc.Claim(result.WriteKey, second)
	if err == nil {
		t.Fatal("expected the second claim attempt to fail")
	}
}

func TestClaimRejectsExpiredSession(t *testing.T) {
	svc := newTestWorkspaceService(t)
	result, err := svc.Bootstrap()
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	expired := signSession(t, "alice@example.com", true)
	_, err = svc.Claim(result.WriteKey, expired)
	if err == nil {
		t.Fatal("expected an expired session to be rejected")
	}
}
