// Package webhook implements the webhook dispatcher (C7): registration with
// an SSRF guard, event filtering, and an at-least-once delivery pipeline
// decoupled from the request lifetime.
package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/store"
)

var validEvents = map[string]bool{
	"append": true, "append.created": true,
	"task.created": true, "task.claimed": true, "task.completed": true,
	"task.cancelled": true, "task.blocked": true,
	"file.created": true, "file.updated": true, "file.deleted": true,
}

// RegisterInput is the body of a webhook registration request.
type RegisterInput struct {
	URL         string
	Events      []string
	Filters     map[string]string
	Recursive   bool
	IncludeURLs bool
	Secret      string
}

// Service registers and looks up webhooks against the storage layer.
type Service struct {
	store *store.Store
}

func New(s *store.Store) *Service {
	return &Service{store: s}
}

// Register validates events and the target URL (SSRF guard, P11) and
// persists a new webhook scoped to (scope, scopePath).
func (s *Service) Register(workspaceID string, scope store.ScopeType, scopePath string, in RegisterInput) (*store.Webhook, string, error) {
	for _, e := range in.Events {
		if !validEvents[e] {
			return nil, "", apperr.BadRequest(apperr.CodeInvalidEventType, "unknown event type: "+e)
		}
	}
	if err := ValidateURL(in.URL); err != nil {
		return nil, "", err
	}

	secret := in.Secret
	if secret == "" {
		generated, err := generateSecret()
		if err != nil {
			return nil, "", err
		}
		secret = generated
	}

	wh := &store.Webhook{
		ID:          "wh_" + uuid.NewString(),
		WorkspaceID: workspaceID,
		Scope:       scope,
		ScopePath:   scopePath,
		URL:         in.URL,
		Events:      in.Events,
		Filters:     in.Filters,
		Recursive:   in.Recursive,
		IncludeURLs: in.IncludeURLs,
		Secret:      secret,
		Status:      store.WebhookActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.PutWebhook(wh); err != nil {
		return nil, "", err
	}
	return wh, secret, nil
}

// List returns every webhook registered for a workspace, with secrets
// stripped (§4.7: listings omit secret).
func (s *Service) List(workspaceID string) ([]*store.Webhook, error) {
	hooks, err := s.store.ListWebhooksForWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}
	out := make([]*store.Webhook, len(hooks))
	for i, h := range hooks {
		cp := *h
		cp.Secret = ""
		out[i] = &cp
	}
	return out, nil
}

// Delete removes a webhook registration.
func (s *Service) Delete(workspaceID, id string) error {
	wh, err := s.store.GetWebhook(id)
	if err != nil || wh.WorkspaceID != workspaceID {
		return apperr.NotFound(apperr.CodeWebhookNotFound, "webhook not found")
	}
	if err := s.store.DeleteWebhook(id); err != nil {
		return apperr.NotFound(apperr.CodeWebhookNotFound, "webhook not found")
	}
	return nil
}

// ValidateURL applies the SSRF guard from §4.7: only http/https, no userinfo,
// and the host must not literally equal or resolve to a private, loopback,
// link-local, or unique-local address.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return apperr.BadRequest(apperr.CodeInvalidWebhookURL, "malformed URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return apperr.BadRequest(apperr.CodeInvalidWebhookURL, "only http and https schemes are allowed")
	}
	if u.User != nil {
		return apperr.BadRequest(apperr.CodeInvalidWebhookURL, "userinfo is not allowed in webhook URLs")
	}
	host := u.Hostname()
	if host == "" {
		return apperr.BadRequest(apperr.CodeInvalidWebhookURL, "URL has no host")
	}

	ips := []net.IP{}
	if ip := net.ParseIP(host); ip != nil {
		ips = append(ips, ip)
	} else {
		resolved, err := net.LookupIP(host)
		if err != nil {
			return apperr.BadRequest(apperr.CodeInvalidWebhookURL, "host could not be resolved")
		}
		ips = append(ips, resolved...)
	}
	for _, ip := range ips {
		if isReservedAddress(ip) {
			return apperr.BadRequest(apperr.CodeInvalidWebhookURL, "webhook host resolves to a reserved or private address")
		}
	}
	return nil
}

func isReservedAddress(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	privateBlocks := []string{
		"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
		"fc00::/7",
	}
	for _, cidr := range privateBlocks {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil && block.Contains(ip) {
			return true
		}
	}
	return false
}

func generateSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}

// Sign computes the X-Signature header value for a payload at timestamp ts.
func Sign(secret, timestamp, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + body))
	return fmt.Sprintf("t=%s, v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

// MatchesScope reports whether a webhook registered at (scope, scopePath)
// should receive an event for path.
func MatchesScope(wh *store.Webhook, path string) bool {
	switch wh.Scope {
	case store.ScopeWorkspace:
		return true
	case store.ScopeFile:
		return path == wh.ScopePath
	case store.ScopeFolder:
		boundary := strings.TrimSuffix(wh.ScopePath, "/")
		if boundary == "" {
			return true
		}
		if !wh.Recursive {
			return strings.HasPrefix(path, boundary+"/") && !strings.Contains(strings.TrimPrefix(path, boundary+"/"), "/")
		}
		return path == boundary || strings.HasPrefix(path, boundary+"/")
	default:
		return false
	}
}
