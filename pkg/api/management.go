package api

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cuemby/warren/pkg/registry"
)

// managementGuard wraps a cluster-management handler with the
// x-registry-management-code check. Per §9 Open Question (c), an unset
// ManagementCode leaves the endpoint open; the header is required only
// when a code was actually configured.
func (s *Server) managementGuard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.ManagementCode != "" {
			got := r.Header.Get("x-registry-management-code")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.ManagementCode)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid x-registry-management-code", Kind: string(registry.KindUnauthorized)})
				return
			}
		}
		next(w, r)
	}
}

// handleInit bootstraps a fresh single-node cluster. A node that already
// has a log (or was already bootstrapped) rejects this with a Conflict.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.mgr.Bootstrap(); err != nil {
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Kind: string(registry.KindConflict)})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeIDOrString accepts a JSON array element that is either a string or
// a bare number: §4.5's literal wire examples pass node ids as JSON numbers
// ("[2,\"127.0.0.1:21002\"]", "[1,2,3]") even though ids are carried as
// strings everywhere internally (Manager.NodeID, raft.ServerID).
func decodeIDOrString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("expected a string or number, got %s", raw)
	}
	return n.String(), nil
}

// decodeIDList decodes a JSON array whose elements may each be a string or
// a number into a plain string slice, per decodeIDOrString above.
func decodeIDList(data []byte) ([]string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]string, len(raw))
	for i, r := range raw {
		s, err := decodeIDOrString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// addLearnerRequest is the JSON array body [node_id, raft_addr, http_addr].
// http_addr may be omitted (empty string) if the node publishes no
// separately-addressable client API.
type addLearnerRequest [3]string

func (req *addLearnerRequest) UnmarshalJSON(data []byte) error {
	list, err := decodeIDList(data)
	if err != nil {
		return err
	}
	for i := 0; i < 3 && i < len(list); i++ {
		req[i] = list[i]
	}
	return nil
}

func (s *Server) handleAddLearner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req addLearnerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if req[0] == "" || req[1] == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "node_id and raft_addr are required"})
		return
	}
	if err := s.mgr.AddLearner(req[0], req[1], req[2]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangeMembership(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var raw json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	nodeIDs, err := decodeIDList(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if len(nodeIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "membership set must not be empty"})
		return
	}
	if err := s.mgr.ChangeMembership(nodeIDs); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClusterMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.Stats())
}
