package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/zynqcloud/capdocs/internal/apperr"
)

type okEnvelope struct {
	OK         bool   `json:"ok"`
	Data       any    `json:"data"`
	ServerTime string `json:"serverTime,omitempty"`
}

type errEnvelope struct {
	OK    bool       `json:"ok"`
	Error errPayload `json:"error"`
}

type errPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeOK renders the {ok:true,data} envelope (§4.9). withServerTime stamps
// the mutation-response serverTime field.
func writeOK(w http.ResponseWriter, status int, data any, withServerTime bool) {
	env := okEnvelope{OK: true, Data: data}
	if withServerTime {
		env.ServerTime = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// writeErr renders the {ok:false,error} envelope, translating any error into
// a taxonomy code. Unrecognized errors become a generic 500 INTERNAL,
// exactly as §7 requires: internal failures never leak engine-specific text.
func writeErr(w http.ResponseWriter, err error) {
	ae, ok := err.(*apperr.Error)
	if !ok {
		ae = apperr.Internal("an internal error occurred")
	}
	if ae.Code == apperr.CodePayloadTooLarge {
		limit := "10485760"
		if ae.Details != nil {
			if v, ok := ae.Details["limitBytes"].(int); ok {
				limit = strconv.Itoa(v)
			}
		}
		w.Header().Set("X-Content-Size-Limit", limit)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errEnvelope{
		OK: false,
		Error: errPayload{
			Code:    string(ae.Code),
			Message: ae.Message,
			Details: ae.Details,
		},
	})
}
