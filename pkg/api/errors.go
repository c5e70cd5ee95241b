package api

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/warren/pkg/registry"
)

// statusFor maps the registry error taxonomy (spec §7) onto its HTTP
// disposition.
func statusFor(kind registry.Kind) int {
	switch kind {
	case registry.KindAlreadyExists:
		return http.StatusConflict
	case registry.KindEntityNotFound:
		return http.StatusNotFound
	case registry.KindInvalidKind:
		return http.StatusBadRequest
	case registry.KindCycleDetected:
		return http.StatusBadRequest
	case registry.KindInUse:
		return http.StatusConflict
	case registry.KindNotLeader:
		return http.StatusTemporaryRedirect
	case registry.KindNoLeader:
		return http.StatusServiceUnavailable
	case registry.KindUnauthorized:
		return http.StatusUnauthorized
	case registry.KindForbidden:
		return http.StatusForbidden
	case registry.KindConflict:
		return http.StatusConflict
	case registry.KindStorageError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the JSON shape every non-2xx response carries.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError renders err as JSON with the status its Kind maps to. A
// NotLeader error additionally sets Location to the leader's advertised
// client address so callers following redirects land on the leader
// directly.
func writeError(w http.ResponseWriter, err error) {
	kind := registry.KindOf(err)
	status := statusFor(kind)
	if kind == registry.KindNotLeader {
		if loc := leaderRedirectTarget(err); loc != "" {
			w.Header().Set("Location", loc)
		}
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// leaderRedirectTarget pulls the "redirect to <addr>" suffix manager.Apply
// stashes in a NotLeader error's message, and turns it into a URL a client
// can retry the same request against.
func leaderRedirectTarget(err error) string {
	const prefix = "redirect to "
	msg := err.Error()
	for i := 0; i+len(prefix) <= len(msg); i++ {
		if msg[i:i+len(prefix)] == prefix {
			addr := msg[i+len(prefix):]
			return "http://" + addr
		}
	}
	return ""
}
