// Package workspace implements workspace bootstrap and the authenticated
// claim transition (C8).
package workspace

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/capkey"
	"github.com/zynqcloud/capdocs/internal/store"
)

const workspaceIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// BootstrapResult carries the newly created workspace id and its three
// primary key plaintexts; the HTTP layer builds the URLs from them.
type BootstrapResult struct {
	WorkspaceID string
	ReadKey     string
	AppendKey   string
	WriteKey    string
}

// Service orchestrates workspace lifecycle operations against the store and
// the capability key engine.
type Service struct {
	store             *store.Store
	keys              *capkey.Engine
	sessionCookieName string
	sessionSigningKey string
	defaultClaimSecs  int
	defaultWIPLimit   int
}

func New(s *store.Store, keys *capkey.Engine, sessionCookieName, sessionSigningKey string, defaultClaimSecs, defaultWIPLimit int) *Service {
	return &Service{
		store:             s,
		keys:              keys,
		sessionCookieName: sessionCookieName,
		sessionSigningKey: sessionSigningKey,
		defaultClaimSecs:  defaultClaimSecs,
		defaultWIPLimit:   defaultWIPLimit,
	}
}

// Bootstrap creates a new, unclaimed workspace and its three primary
// workspace-scoped keys (read, append, write).
func (s *Service) Bootstrap() (*BootstrapResult, error) {
	id, err := randomWorkspaceID()
	if err != nil {
		return nil, err
	}
	claimSecs := s.defaultClaimSecs
	wipLimit := s.defaultWIPLimit
	ws := &store.Workspace{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Settings: store.FileSettings{
			ClaimDurationSeconds: &claimSecs,
			WIPLimit:             &wipLimit,
		},
	}
	if err := s.store.CreateWorkspace(ws); err != nil {
		return nil, err
	}

	readKey, _, err := s.keys.Mint(id, store.PermissionRead, store.ScopeWorkspace, "/", capkey.MintOptions{})
	if err != nil {
		return nil, err
	}
	appendKey, _, err := s.keys.Mint(id, store.PermissionAppend, store.ScopeWorkspace, "/", capkey.MintOptions{})
	if err != nil {
		return nil, err
	}
	writeKey, _, err := s.keys.Mint(id, store.PermissionWrite, store.ScopeWorkspace, "/", capkey.MintOptions{})
	if err != nil {
		return nil, err
	}

	return &BootstrapResult{WorkspaceID: id, ReadKey: readKey, AppendKey: appendKey, WriteKey: writeKey}, nil
}

// ClaimResult is the successful response body for a workspace claim.
type ClaimResult struct {
	Claimed     bool   `json:"claimed"`
	WorkspaceID string `json:"workspaceId"`
	Message     string `json:"message"`
}

// Claim transitions an unclaimed workspace addressed by a write key to
// claimed, authenticated by a session JWT carried in sessionCookieValue.
func (s *Service) Claim(writeKeyPlaintext, sessionCookieValue string) (*ClaimResult, error) {
	if sessionCookieValue == "" {
		return nil, apperr.Unauthorized("authenticated session is required to claim a workspace")
	}
	email, err := s.verifySession(sessionCookieValue)
	if err != nil {
		return nil, apperr.Unauthorized("session is invalid or expired")
	}

	rec, err := s.keys.Resolve(writeKeyPlaintext)
	if err != nil {
		return nil, apperr.NotFound(apperr.CodeNotFound, "unknown key")
	}
	if rec.Permission != store.PermissionWrite {
		return nil, apperr.NotFound(apperr.CodeNotFound, "unknown key")
	}

	ws, err := s.store.ClaimWorkspace(rec.WorkspaceID, email)
	if err != nil {
		if _, ok := err.(*store.ErrConflict); ok {
			return nil, apperr.AlreadyClaimed("workspace is already claimed", 400, nil)
		}
		return nil, apperr.NotFound(apperr.CodeNotFound, "unknown workspace")
	}

	return &ClaimResult{Claimed: true, WorkspaceID: ws.ID, Message: "claimed"}, nil
}

type sessionClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (s *Service) verifySession(token string) (string, error) {
	if s.sessionSigningKey == "" {
		return "", apperr.Unauthorized("session verification is not configured")
	}
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.sessionSigningKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid || claims.Email == "" {
		return "", apperr.Unauthorized("invalid session")
	}
	return claims.Email, nil
}

func randomWorkspaceID() (string, error) {
	suffix, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	raw := suffix.String()
	var sb []byte
	for _, r := range raw {
		if r == '-' {
			continue
		}
		sb = append(sb, byte(r))
	}
	// Map the hex digits onto the workspace id alphabet deterministically so
	// the id still matches ws_[A-Za-z0-9]{12,} while staying URL-safe.
	out := make([]byte, len(sb))
	for i, c := range sb {
		out[i] = workspaceIDAlphabet[int(c)%len(workspaceIDAlphabet)]
	}
	return "ws_" + string(out), nil
}
