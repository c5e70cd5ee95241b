package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityKind discriminates the polymorphic entity variants stored in the
// registry graph. It doubles as the JSON "typeName" tag so the wire format
// matches what external clients (and the SQL mirror) expect.
type EntityKind string

const (
	KindProject        EntityKind = "Project"
	KindSource         EntityKind = "Source"
	KindAnchorGroup    EntityKind = "AnchorGroup"
	KindAnchorFeature  EntityKind = "AnchorFeature"
	KindDerivedFeature EntityKind = "DerivedFeature"
)

// EdgeType enumerates the directed relation labels. BelongsTo/Contains and
// Consumes/Produces are always created and removed as inverse pairs; see
// pkg/registry for the invariant that enforces this.
type EdgeType string

const (
	EdgeBelongsTo EdgeType = "BelongsTo"
	EdgeContains  EdgeType = "Contains"
	EdgeConsumes  EdgeType = "Consumes"
	EdgeProduces  EdgeType = "Produces"
)

// Inverse returns the edge type that must exist in the opposite direction
// whenever this one does.
func (t EdgeType) Inverse() EdgeType {
	switch t {
	case EdgeBelongsTo:
		return EdgeContains
	case EdgeContains:
		return EdgeBelongsTo
	case EdgeConsumes:
		return EdgeProduces
	case EdgeProduces:
		return EdgeConsumes
	default:
		return ""
	}
}

// Edge is a directed labeled multigraph edge. (FromID, ToID, Type) is the
// primary key.
type Edge struct {
	FromID string   `json:"from_id"`
	ToID   string   `json:"to_id"`
	Type   EdgeType `json:"edge_type"`
}

// ValueType is the enumerated primitive type carried by a TypedKey or a
// feature's value.
type ValueType string

const (
	ValueBoolean ValueType = "BOOLEAN"
	ValueInt32   ValueType = "INT32"
	ValueInt64   ValueType = "INT64"
	ValueFloat   ValueType = "FLOAT"
	ValueDouble  ValueType = "DOUBLE"
	ValueString  ValueType = "STRING"
	ValueBytes   ValueType = "BYTES"
)

// TypedKey carries a key-column name, its value type, a fully qualified
// name, and a human description. AnchorFeature and DerivedFeature attributes
// reference these to describe their join keys.
type TypedKey struct {
	KeyColumn   string    `json:"key_column"`
	ValueType   ValueType `json:"value_type"`
	FullName    string    `json:"full_name"`
	Description string    `json:"description,omitempty"`
}

// WindowAggregation describes a windowed aggregation transformation, one of
// the two transformation shapes an anchor or derived feature may carry.
type WindowAggregation struct {
	Def     string `json:"def"`
	Agg     string `json:"agg"`
	Window  string `json:"window"`
	GroupBy string `json:"group_by,omitempty"`
	Filter  string `json:"filter,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Transformation is either a plain expression or a window-aggregation
// descriptor; exactly one of the two fields is set.
type Transformation struct {
	Expression        string             `json:"expression,omitempty"`
	WindowAggregation *WindowAggregation `json:"window_aggregation,omitempty"`
}

// Header is the common envelope shared by every entity kind.
type Header struct {
	ID            string            `json:"id"`
	QualifiedName string            `json:"qualified_name"`
	Name          string            `json:"name"`
	DisplayName   string            `json:"display_name,omitempty"`
	Kind          EntityKind        `json:"typeName"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// Attributes is implemented by each kind-specific attribute payload so the
// compiler catches attempts to attach the wrong attributes to an Entity.
type Attributes interface {
	entityKind() EntityKind
}

// ProjectAttributes carries no kind-specific fields.
type ProjectAttributes struct{}

func (ProjectAttributes) entityKind() EntityKind { return KindProject }

// SourceAttributes describes where raw data for a project comes from.
type SourceAttributes struct {
	Path                 string            `json:"path"`
	Preprocessing        string            `json:"preprocessing,omitempty"`
	EventTimestampColumn string            `json:"event_timestamp_column,omitempty"`
	TimestampFormat      string            `json:"timestamp_format,omitempty"`
	Type                 string            `json:"type"`
	Options              map[string]string `json:"options,omitempty"`
}

func (SourceAttributes) entityKind() EntityKind { return KindSource }

// AnchorGroupAttributes binds an anchor group to the source it reads from.
type AnchorGroupAttributes struct {
	SourceID string `json:"source_id"`
}

func (AnchorGroupAttributes) entityKind() EntityKind { return KindAnchorGroup }

// AnchorFeatureAttributes describes a feature computed directly from a
// source via a transformation.
type AnchorFeatureAttributes struct {
	Type           ValueType      `json:"type"`
	Transformation Transformation `json:"transformation"`
	Keys           []TypedKey     `json:"keys"`
}

func (AnchorFeatureAttributes) entityKind() EntityKind { return KindAnchorFeature }

// DerivedFeatureAttributes describes a feature computed from other features.
type DerivedFeatureAttributes struct {
	Type           ValueType      `json:"type"`
	Transformation Transformation `json:"transformation"`
	Keys           []TypedKey     `json:"keys"`
	InputIDs       []string       `json:"input_ids"`
}

func (DerivedFeatureAttributes) entityKind() EntityKind { return KindDerivedFeature }

// Entity is the tagged-variant representation of every registry node: a
// shared Header plus a kind-specific Attributes payload. It never embeds
// references to other entities directly -- only ids, resolved through the
// store's id->entity index -- so that the BelongsTo/Contains and
// Consumes/Produces back-references never become literal reference cycles
// in memory.
type Entity struct {
	Header
	Attributes Attributes `json:"attributes"`
}

// entityWireForm mirrors Entity but with Attributes as json.RawMessage so it
// can be decoded once Kind is known.
type entityWireForm struct {
	Header
	Attributes json.RawMessage `json:"attributes"`
}

// MarshalJSON emits {header fields..., "attributes": {...}} with typeName
// already present at the top level via Header.Kind.
func (e Entity) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Attributes)
	if err != nil {
		return nil, err
	}
	wire := entityWireForm{Header: e.Header, Attributes: raw}
	return json.Marshal(wire)
}

// UnmarshalJSON resolves Attributes to the concrete type named by Kind.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var wire entityWireForm
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	attrs, err := decodeAttributes(wire.Kind, wire.Attributes)
	if err != nil {
		return err
	}
	e.Header = wire.Header
	e.Attributes = attrs
	return nil
}

func decodeAttributes(kind EntityKind, raw json.RawMessage) (Attributes, error) {
	var a Attributes
	switch kind {
	case KindProject:
		a = &ProjectAttributes{}
	case KindSource:
		a = &SourceAttributes{}
	case KindAnchorGroup:
		a = &AnchorGroupAttributes{}
	case KindAnchorFeature:
		a = &AnchorFeatureAttributes{}
	case KindDerivedFeature:
		a = &DerivedFeatureAttributes{}
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return a, nil
	}
	if err := json.Unmarshal(raw, a); err != nil {
		return nil, err
	}
	// Dereference back to value types so callers can type-switch on the
	// value forms declared above.
	switch v := a.(type) {
	case *ProjectAttributes:
		return *v, nil
	case *SourceAttributes:
		return *v, nil
	case *AnchorGroupAttributes:
		return *v, nil
	case *AnchorFeatureAttributes:
		return *v, nil
	case *DerivedFeatureAttributes:
		return *v, nil
	}
	return a, nil
}

// Role is one of the three RBAC roles a grant can carry.
type Role string

const (
	RoleAdmin    Role = "Admin"
	RoleProducer Role = "Producer"
	RoleConsumer Role = "Consumer"
)

// GlobalProject is the pseudo project name under which global RBAC grants
// are recorded; they apply to every project.
const GlobalProject = "global"

// RoleRecord is one row of the append-only RBAC grant table. Deletion is a
// soft delete: DeleteBy/DeleteReason/DeleteTime are stamped rather than the
// row being removed, so history is preserved.
type RoleRecord struct {
	RecordID     uint64     `json:"record_id"`
	ProjectName  string     `json:"project_name"`
	UserName     string     `json:"user_name"`
	RoleName     Role       `json:"role_name"`
	CreateBy     string     `json:"create_by"`
	CreateReason string     `json:"create_reason,omitempty"`
	CreateTime   time.Time  `json:"create_time"`
	DeleteBy     string     `json:"delete_by,omitempty"`
	DeleteReason string     `json:"delete_reason,omitempty"`
	DeleteTime   *time.Time `json:"delete_time,omitempty"`
}

// Deleted reports whether the grant has been soft-deleted.
func (r RoleRecord) Deleted() bool { return r.DeleteTime != nil }
