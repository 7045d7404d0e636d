package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/capkey"
	"github.com/zynqcloud/capdocs/internal/store"
	"github.com/zynqcloud/capdocs/internal/validate"
)

// capkeyAuthorize wraps capkey.Authorize, the single choke point every
// handler uses to check permission hierarchy, scope containment, and author
// binding (C2, §4.2) before touching storage.
func capkeyAuthorize(rec *store.CapabilityKey, required store.Permission, path, author string) error {
	return capkey.Authorize(rec, required, path, author)
}

// resolveKey resolves and rate-limits the capability key embedded in the
// URL, returning the record or writing the taxonomy error itself.
func (a *App) resolveKey(w http.ResponseWriter, r *http.Request) (*store.CapabilityKey, bool) {
	plaintext := chi.URLParam(r, "key")
	rec, err := a.keys.Resolve(plaintext)
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	if !a.limiter.Allow(w, rec.ID) {
		if w.Header().Get("Retry-After") == "" {
			w.Header().Set("Retry-After", "1")
		}
		writeErr(w, apperr.BadRequest(apperr.CodeRateLimitExceeded, "rate limit exceeded"))
		return nil, false
	}
	return rec, true
}

// requestPath decodes the chi wildcard tail exactly once and runs it through
// the path validator (C1), per §6: "server decodes exactly once, then
// applies C1 validation on the decoded form."
func requestPath(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "*")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", apperr.InvalidPath("path is not validly percent-encoded")
	}
	return validate.Path(decoded)
}

func decodeJSON(body []byte, v any) error {
	if len(body) == 0 {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	if err := dec.Decode(v); err != nil {
		return apperr.Invalid("request body is not valid JSON")
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, validate.MaxFileContentBytes+4096))
	if err != nil {
		return nil, apperr.Invalid("could not read request body")
	}
	return body, nil
}
