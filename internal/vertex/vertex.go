// Package vertex defines the closed set of vertex kinds, their identifiers,
// and the edge kinds that connect them. Every other package in the engine
// dispatches on vertex.Kind rather than accepting open subtyping, matching
// the "closed tagged variant" design constraint (spec §9 Design Notes).
package vertex

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind names one of the four vertex kinds the engine traverses.
type Kind int

const (
	// KindDataType identifies a DataType ontology vertex.
	KindDataType Kind = iota
	// KindPropertyType identifies a PropertyType ontology vertex.
	KindPropertyType
	// KindEntityType identifies an EntityType ontology vertex.
	KindEntityType
	// KindEntity identifies an Entity knowledge-graph vertex.
	KindEntity
)

// String renders the kind for logs and error messages.
func (k Kind) String() string {
	switch k {
	case KindDataType:
		return "data_type"
	case KindPropertyType:
		return "property_type"
	case KindEntityType:
		return "entity_type"
	case KindEntity:
		return "entity"
	default:
		return "unknown_kind"
	}
}

// IsOntology reports whether the kind is one of the three ontology-vertex
// kinds identified by (base_url, revision).
func (k Kind) IsOntology() bool {
	return k == KindDataType || k == KindPropertyType || k == KindEntityType
}

// EdgeKind names a directed relation the engine may traverse. The zero value
// is not a valid edge kind; always use one of the named constants.
type EdgeKind int

const (
	// InheritsFrom: EntityType -> EntityType.
	InheritsFrom EdgeKind = iota + 1
	// ConstrainsValuesOn: PropertyType|DataType -> DataType.
	ConstrainsValuesOn
	// ConstrainsPropertiesOn: EntityType|PropertyType -> PropertyType.
	ConstrainsPropertiesOn
	// ConstrainsLinksOn: EntityType -> EntityType.
	ConstrainsLinksOn
	// ConstrainsLinkDestinationsOn: EntityType -> EntityType.
	ConstrainsLinkDestinationsOn
	// IsOfType: Entity -> EntityType.
	IsOfType
	// HasLeftEntity: Entity <-> Entity.
	HasLeftEntity
	// HasRightEntity: Entity <-> Entity.
	HasRightEntity
)

// String renders the edge kind the way it appears in reference table names
// and SQL.
func (k EdgeKind) String() string {
	switch k {
	case InheritsFrom:
		return "inherits_from"
	case ConstrainsValuesOn:
		return "constrains_values_on"
	case ConstrainsPropertiesOn:
		return "constrains_properties_on"
	case ConstrainsLinksOn:
		return "constrains_links_on"
	case ConstrainsLinkDestinationsOn:
		return "constrains_link_destinations_on"
	case IsOfType:
		return "entity_is_of_type"
	case HasLeftEntity:
		return "entity_has_left_entity"
	case HasRightEntity:
		return "entity_has_right_entity"
	default:
		return "unknown_edge_kind"
	}
}

// TargetKind returns the vertex kind whose resolve-depth counter this edge
// kind consumes, per spec §3's "Edge kind / Counter consumed" table.
func (k EdgeKind) TargetKind() Kind {
	switch k {
	case InheritsFrom, ConstrainsLinksOn, ConstrainsLinkDestinationsOn, IsOfType:
		return KindEntityType
	case ConstrainsPropertiesOn:
		return KindPropertyType
	case ConstrainsValuesOn:
		return KindDataType
	case HasLeftEntity, HasRightEntity:
		return KindEntity
	default:
		return KindEntity
	}
}

// IsKnowledgeGraphEdge reports whether the edge kind connects two entities
// and is therefore the only family for which Direction is meaningful in both
// senses (spec GLOSSARY: "Direction").
func (k EdgeKind) IsKnowledgeGraphEdge() bool {
	return k == HasLeftEntity || k == HasRightEntity
}

// Direction distinguishes which side of a knowledge-graph edge a source
// vertex occupies. Ontology edges and IsOfType are always Outgoing in
// practice; Incoming is swapped source/target at the resolver (spec §4.4).
type Direction int

const (
	// Outgoing traverses the edge from its natural source to its target.
	Outgoing Direction = iota
	// Incoming traverses the edge from its natural target to its source.
	Incoming
)

// String renders the direction for logs.
func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}

	return "outgoing"
}

// OntologyID identifies a DataType, PropertyType, or EntityType vertex by
// its base URL and revision number.
type OntologyID struct {
	BaseURL  string
	Revision uint32
}

// String renders the identifier the way versioned URLs are formatted
// elsewhere in the system: "<base-url>/v/<revision>".
func (id OntologyID) String() string {
	return fmt.Sprintf("%s/v/%d", id.BaseURL, id.Revision)
}

// EntityID identifies an entity independent of revision: the pair of owner
// and entity UUID is stable across the entity's entire bitemporal history.
type EntityID struct {
	OwnerID    uuid.UUID
	EntityUUID uuid.UUID
}

// String renders the identifier for logs.
func (id EntityID) String() string {
	return id.OwnerID.String() + "/" + id.EntityUUID.String()
}

// EntityVertexID identifies a specific entity vertex as it appears in a
// subgraph: the stable EntityID plus the revision id under which it was
// reached. Per spec §4.2, RevisionID is the lower bound of the variable
// interval at the point of traversal, not necessarily the entity's latest
// revision.
type EntityVertexID struct {
	EntityID
	RevisionID int64 // unix nanoseconds, comparable and hashable as a map key
}

// ID is implemented by both OntologyID and EntityVertexID so generic code
// (subgraph bookkeeping, traversal context) can key maps without knowing
// which of the two identifier shapes it holds.
type ID interface {
	fmt.Stringer
	isVertexID()
}

func (OntologyID) isVertexID()     {}
func (EntityVertexID) isVertexID() {}

// Payload is implemented by exactly the four vertex payload kinds, sealing
// the set per spec §9 ("avoid open subtyping").
type Payload interface {
	Kind() Kind
	isVertexPayload()
}

// DataTypePayload is the immutable snapshot of a DataType vertex at the
// query's pinned instant.
type DataTypePayload struct {
	ID     OntologyID
	Title  string
	Schema map[string]any
}

// Kind identifies the payload's vertex kind.
func (DataTypePayload) Kind() Kind { return KindDataType }
func (DataTypePayload) isVertexPayload() {}

// PropertyTypePayload is the immutable snapshot of a PropertyType vertex.
type PropertyTypePayload struct {
	ID     OntologyID
	Title  string
	Schema map[string]any
}

// Kind identifies the payload's vertex kind.
func (PropertyTypePayload) Kind() Kind { return KindPropertyType }
func (PropertyTypePayload) isVertexPayload() {}

// EntityTypePayload is the immutable snapshot of an EntityType vertex.
type EntityTypePayload struct {
	ID     OntologyID
	Title  string
	Schema map[string]any
}

// Kind identifies the payload's vertex kind.
func (EntityTypePayload) Kind() Kind { return KindEntityType }
func (EntityTypePayload) isVertexPayload() {}

// EntityPayload is the immutable snapshot of an Entity vertex, pinned at the
// query's snapshot instant.
type EntityPayload struct {
	ID         EntityVertexID
	Properties map[string]any
	LinkData   *LinkData
}

// Kind identifies the payload's vertex kind.
func (EntityPayload) Kind() Kind { return KindEntity }
func (EntityPayload) isVertexPayload() {}

// LinkData holds the left/right entity ids for entities that are themselves
// link entities (the knowledge-graph edges HasLeftEntity/HasRightEntity
// originate from this data, surfaced on the entity's own payload as well as
// materialized as edges in the subgraph).
type LinkData struct {
	LeftEntityID  EntityID
	RightEntityID EntityID
}
