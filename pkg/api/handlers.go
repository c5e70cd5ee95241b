package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/warren/pkg/manager"
	"github.com/cuemby/warren/pkg/metrics"
	"github.com/cuemby/warren/pkg/types"
)

// createArgs mirrors manager's unexported createEntityArgs by field shape;
// json.Marshal doesn't care which package declared the struct, only the
// tags, so this is what Manager.Apply(ctx, manager.OpCreate..., createArgs{...})
// actually sends over the log.
type createArgs struct {
	Entity types.Entity `json:"entity"`
	Ref    string       `json:"ref"`
}

type deleteArgs struct {
	ID string `json:"id"`
}

type tagArgs struct {
	ID   string            `json:"id"`
	Tags map[string]string `json:"tags"`
}

type grantArgs struct {
	ProjectName string     `json:"project_name"`
	UserName    string     `json:"user_name"`
	Role        types.Role `json:"role"`
	By          string     `json:"by"`
	Reason      string     `json:"reason"`
	At          time.Time  `json:"at"`
}

type revokeArgs struct {
	RecordID uint64    `json:"record_id"`
	By       string    `json:"by"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// --- Projects ---------------------------------------------------------

type createProjectRequest struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req createProjectRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		entity := types.Entity{
			Header: types.Header{
				ID:            newEntityID(),
				QualifiedName: qualifiedName("", req.Name),
				Name:          req.Name,
				DisplayName:   req.DisplayName,
				Kind:          types.KindProject,
				Tags:          req.Tags,
			},
			Attributes: types.ProjectAttributes{},
		}
		result, err := s.mgr.Apply(r.Context(), manager.OpCreateProject, createArgs{Entity: entity})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result.Entity)
	case http.MethodGet:
		if err := s.ensureRead(r); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.mgr.Store().AllByKind(types.KindProject))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleProjectScoped routes everything under {base}/v{n}/projects/...:
// the bare project (get/delete), datasources, anchorgroups, features, and
// lineage.
func (s *Server) handleProjectScoped(w http.ResponseWriter, r *http.Request) {
	// Split manually since the prefix varies by API version.
	idx := strings.Index(r.URL.Path, "/projects/")
	rest := strings.Trim(r.URL.Path[idx+len("/projects/"):], "/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	project := parts[0]

	switch {
	case len(parts) == 1:
		s.handleProject(w, r, project)
	case len(parts) == 2 && parts[1] == "datasources":
		s.handleDatasources(w, r, project)
	case len(parts) == 2 && parts[1] == "anchorgroups":
		s.handleAnchorGroups(w, r, project)
	case len(parts) == 4 && parts[1] == "anchorgroups" && parts[3] == "features":
		s.handleAnchorFeatures(w, r, project, parts[2])
	case len(parts) == 2 && parts[1] == "features":
		s.handleFeatures(w, r, project)
	case len(parts) == 4 && parts[1] == "features" && parts[3] == "lineage":
		s.handleLineage(w, r, project, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request, ref string) {
	switch r.Method {
	case http.MethodGet:
		if err := s.ensureRead(r); err != nil {
			writeError(w, err)
			return
		}
		e, err := s.mgr.Store().Get(ref)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	case http.MethodDelete:
		s.deleteByRef(w, r, ref)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) deleteByRef(w http.ResponseWriter, r *http.Request, ref string) {
	e, err := s.mgr.Store().Get(ref)
	if err != nil {
		writeError(w, err)
		return
	}
	_, err = s.mgr.Apply(r.Context(), manager.OpDeleteEntity, deleteArgs{ID: e.ID})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Sources ------------------------------------------------------------

type createSourceRequest struct {
	Name                 string            `json:"name"`
	DisplayName          string            `json:"display_name,omitempty"`
	Tags                 map[string]string `json:"tags,omitempty"`
	Path                 string            `json:"path"`
	Preprocessing        string            `json:"preprocessing,omitempty"`
	EventTimestampColumn string            `json:"event_timestamp_column,omitempty"`
	TimestampFormat      string            `json:"timestamp_format,omitempty"`
	Type                 string            `json:"type"`
	Options              map[string]string `json:"options,omitempty"`
}

func (s *Server) handleDatasources(w http.ResponseWriter, r *http.Request, projectRef string) {
	switch r.Method {
	case http.MethodPost:
		var req createSourceRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		project, err := s.mgr.Store().Get(projectRef)
		if err != nil {
			writeError(w, err)
			return
		}
		entity := types.Entity{
			Header: types.Header{
				ID:            newEntityID(),
				QualifiedName: qualifiedName(project.QualifiedName, req.Name),
				Name:          req.Name,
				DisplayName:   req.DisplayName,
				Kind:          types.KindSource,
				Tags:          req.Tags,
			},
			Attributes: types.SourceAttributes{
				Path:                 req.Path,
				Preprocessing:        req.Preprocessing,
				EventTimestampColumn: req.EventTimestampColumn,
				TimestampFormat:      req.TimestampFormat,
				Type:                 req.Type,
				Options:              req.Options,
			},
		}
		result, err := s.mgr.Apply(r.Context(), manager.OpCreateSource, createArgs{Entity: entity, Ref: projectRef})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result.Entity)
	case http.MethodGet:
		if err := s.ensureRead(r); err != nil {
			writeError(w, err)
			return
		}
		entities, err := s.mgr.Store().GetProjectChildren(projectRef, types.KindSource)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entities)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- Anchor groups --------------------------------------------------------

type createAnchorGroupRequest struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	SourceRef   string            `json:"source_ref"`
}

func (s *Server) handleAnchorGroups(w http.ResponseWriter, r *http.Request, projectRef string) {
	switch r.Method {
	case http.MethodPost:
		var req createAnchorGroupRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		project, err := s.mgr.Store().Get(projectRef)
		if err != nil {
			writeError(w, err)
			return
		}
		source, err := s.mgr.Store().Get(req.SourceRef)
		if err != nil {
			writeError(w, err)
			return
		}
		entity := types.Entity{
			Header: types.Header{
				ID:            newEntityID(),
				QualifiedName: qualifiedName(project.QualifiedName, req.Name),
				Name:          req.Name,
				DisplayName:   req.DisplayName,
				Kind:          types.KindAnchorGroup,
				Tags:          req.Tags,
			},
			Attributes: types.AnchorGroupAttributes{SourceID: source.ID},
		}
		result, err := s.mgr.Apply(r.Context(), manager.OpCreateAnchor, createArgs{Entity: entity, Ref: projectRef})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result.Entity)
	case http.MethodGet:
		if err := s.ensureRead(r); err != nil {
			writeError(w, err)
			return
		}
		entities, err := s.mgr.Store().GetProjectChildren(projectRef, types.KindAnchorGroup)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entities)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- Anchor + derived features --------------------------------------------

type createFeatureRequest struct {
	Name           string               `json:"name"`
	DisplayName    string               `json:"display_name,omitempty"`
	Tags           map[string]string    `json:"tags,omitempty"`
	Type           types.ValueType      `json:"type"`
	Transformation types.Transformation `json:"transformation"`
	Keys           []types.TypedKey     `json:"keys"`
	InputRefs      []string             `json:"input_refs,omitempty"` // derived features only
}

func (s *Server) handleAnchorFeatures(w http.ResponseWriter, r *http.Request, projectRef, groupRef string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createFeatureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	group, err := s.mgr.Store().Get(groupRef)
	if err != nil {
		writeError(w, err)
		return
	}
	entity := types.Entity{
		Header: types.Header{
			ID:            newEntityID(),
			QualifiedName: qualifiedName(group.QualifiedName, req.Name),
			Name:          req.Name,
			DisplayName:   req.DisplayName,
			Kind:          types.KindAnchorFeature,
			Tags:          req.Tags,
		},
		Attributes: types.AnchorFeatureAttributes{
			Type:           req.Type,
			Transformation: req.Transformation,
			Keys:           req.Keys,
		},
	}
	result, err := s.mgr.Apply(r.Context(), manager.OpCreateAnchorFeature, createArgs{Entity: entity, Ref: groupRef})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result.Entity)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request, projectRef string) {
	switch r.Method {
	case http.MethodPost:
		var req createFeatureRequest
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		project, err := s.mgr.Store().Get(projectRef)
		if err != nil {
			writeError(w, err)
			return
		}
		inputIDs := make([]string, 0, len(req.InputRefs))
		for _, ref := range req.InputRefs {
			in, err := s.mgr.Store().Get(ref)
			if err != nil {
				writeError(w, err)
				return
			}
			inputIDs = append(inputIDs, in.ID)
		}
		entity := types.Entity{
			Header: types.Header{
				ID:            newEntityID(),
				QualifiedName: qualifiedName(project.QualifiedName, req.Name),
				Name:          req.Name,
				DisplayName:   req.DisplayName,
				Kind:          types.KindDerivedFeature,
				Tags:          req.Tags,
			},
			Attributes: types.DerivedFeatureAttributes{
				Type:           req.Type,
				Transformation: req.Transformation,
				Keys:           req.Keys,
				InputIDs:       inputIDs,
			},
		}
		result, err := s.mgr.Apply(r.Context(), manager.OpCreateDerivedFeature, createArgs{Entity: entity, Ref: projectRef})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result.Entity)
	case http.MethodGet:
		if err := s.ensureRead(r); err != nil {
			writeError(w, err)
			return
		}
		anchors, err := s.mgr.Store().GetProjectChildren(projectRef, types.KindAnchorFeature)
		if err != nil {
			writeError(w, err)
			return
		}
		derived, err := s.mgr.Store().GetProjectChildren(projectRef, types.KindDerivedFeature)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, append(anchors, derived...))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request, projectRef, featureRef string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.ensureRead(r); err != nil {
		writeError(w, err)
		return
	}
	depth := 10
	if raw := r.URL.Query().Get("depth"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			depth = parsed
		}
	}
	feature, err := s.mgr.Store().Get(featureRef)
	if err != nil {
		writeError(w, err)
		return
	}
	lineage, err := s.mgr.Store().GetLineage(feature.ID, depth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lineage)
}

// --- Entities (tag update + delete by id) ---------------------------------

func (s *Server) handleEntityScoped(w http.ResponseWriter, r *http.Request) {
	idx := strings.Index(r.URL.Path, "/entities/")
	rest := strings.Trim(r.URL.Path[idx+len("/entities/"):], "/")
	parts := strings.Split(rest, "/")
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			if err := s.ensureRead(r); err != nil {
				writeError(w, err)
				return
			}
			e, err := s.mgr.Store().Get(id)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, e)
		case http.MethodDelete:
			s.deleteByRef(w, r, id)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "tags":
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var tags map[string]string
		if err := decodeJSON(r, &tags); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		result, err := s.mgr.Apply(r.Context(), manager.OpTagEntity, tagArgs{ID: id, Tags: tags})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result.Entity)
	default:
		http.NotFound(w, r)
	}
}

// --- Search ----------------------------------------------------------------

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.ensureRead(r); err != nil {
		writeError(w, err)
		return
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SearchDuration)
	results := s.mgr.Store().Search(r.URL.Query().Get("q"), r.URL.Query().Get("scope"))
	writeJSON(w, http.StatusOK, results)
}

// --- RBAC --------------------------------------------------------------

func (s *Server) handleRBACGrant(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ProjectName string     `json:"project_name"`
		UserName    string     `json:"user_name"`
		Role        types.Role `json:"role"`
		By          string     `json:"by"`
		Reason      string     `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	result, err := s.mgr.Apply(r.Context(), manager.OpGrantRole, grantArgs{
		ProjectName: req.ProjectName,
		UserName:    req.UserName,
		Role:        req.Role,
		By:          req.By,
		Reason:      req.Reason,
		At:          time.Now().UTC(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result.Role)
}

func (s *Server) handleRBACRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		RecordID uint64 `json:"record_id"`
		By       string `json:"by"`
		Reason   string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	_, err := s.mgr.Apply(r.Context(), manager.OpRevokeRole, revokeArgs{
		RecordID: req.RecordID,
		By:       req.By,
		Reason:   req.Reason,
		At:       time.Now().UTC(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRBACList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	project := r.URL.Query().Get("project")
	user := r.URL.Query().Get("user")
	if project == "" || user == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "project and user query parameters are required"})
		return
	}
	if err := s.ensureRead(r); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.mgr.Store().EffectiveRoles(project, user))
}
