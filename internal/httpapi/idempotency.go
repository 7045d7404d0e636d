package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/zynqcloud/capdocs/internal/apperr"
	"github.com/zynqcloud/capdocs/internal/store"
)

func digestOf(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// withIdempotency wraps a mutating handler body so that a repeated request
// bearing the same Idempotency-Key, route, and workspace replays the first
// response verbatim (P7). fn must return the HTTP status and JSON-encodable
// data it would otherwise have written.
func (a *App) withIdempotency(w http.ResponseWriter, r *http.Request, workspaceID, route string, body []byte, fn func() (int, any, error)) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		status, data, err := fn()
		if err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, status, data, true)
		return
	}

	digest := digestOf(body)
	if rec, err := a.store.GetIdempotency(workspaceID, route, key); err == nil {
		if rec.RequestDigest != digest {
			writeErr(w, apperr.Invalid("Idempotency-Key was reused with a different request body"))
			return
		}
		w.Header().Set("Idempotency-Replayed", "true")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(rec.ResponseStatus)
		_, _ = w.Write([]byte(rec.ResponseSnapshot))
		return
	}

	status, data, err := fn()
	if err != nil {
		writeErr(w, err)
		return
	}

	snapshot, _ := json.Marshal(okEnvelope{OK: true, Data: data, ServerTime: time.Now().UTC().Format("2006-01-02T15:04:05.000Z")})
	snapshot = append(snapshot, '\n')
	_ = a.store.PutIdempotency(&store.IdempotencyRecord{
		Key:              key,
		WorkspaceID:      workspaceID,
		Route:            route,
		RequestDigest:    digest,
		ResponseStatus:   status,
		ResponseSnapshot: string(snapshot),
		CreatedAt:        time.Now().UTC(),
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(snapshot)
}
