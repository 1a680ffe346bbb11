// Package subgraph is the mutable accumulator the layered traversal driver
// fills in and the immutable value the engine hands back to callers: vertex
// payloads keyed by kind, the directed kinded edge list, and the root set.
//
// Ids own nothing but themselves; every vertex is referenced by id, never by
// pointer or embedded struct, so cyclic graphs (inheritance diamonds,
// bidirectional entity links) never require owning references (spec §9
// "Cyclic and shared graphs").
package subgraph

import (
	"github.com/vertexgraph/graphd/internal/depths"
	"github.com/vertexgraph/graphd/internal/temporal"
	"github.com/vertexgraph/graphd/internal/vertex"
)

// Edge is one directed, kinded edge in the assembled subgraph. Source and
// Target are rendered as strings (via vertex.ID.String()) so a single edge
// list can hold both ontology-to-ontology and entity-to-entity edges
// without a sum type at this layer; kind-specific resolution happens at the
// vertex maps.
type Edge struct {
	Source    string
	Target    string
	Kind      vertex.EdgeKind
	Direction vertex.Direction
}

// edgeKey is the idempotency key for InsertEdge, matching spec §4.3:
// "(source, kind, direction, target)".
type edgeKey struct {
	source    string
	target    string
	kind      vertex.EdgeKind
	direction vertex.Direction
}

// Store accumulates one query's subgraph: four keyed vertex maps, the edge
// list, and the root set. A Store is created per query and discarded at
// return (spec §3 Lifecycle); it is not safe for concurrent use because
// exactly one traversal goroutine ever touches it (spec §5).
type Store struct {
	dataTypes     map[vertex.OntologyID]vertex.DataTypePayload
	propertyTypes map[vertex.OntologyID]vertex.PropertyTypePayload
	entityTypes   map[vertex.OntologyID]vertex.EntityTypePayload
	entities      map[vertex.EntityVertexID]vertex.EntityPayload

	edges    []Edge
	edgeSeen map[edgeKey]struct{}

	ontologyRoots map[vertex.OntologyID]struct{}
	entityRoots   map[vertex.EntityVertexID]struct{}
}

// New returns an empty Store ready to accumulate one query's results.
func New() *Store {
	return &Store{
		dataTypes:     make(map[vertex.OntologyID]vertex.DataTypePayload),
		propertyTypes: make(map[vertex.OntologyID]vertex.PropertyTypePayload),
		entityTypes:   make(map[vertex.OntologyID]vertex.EntityTypePayload),
		entities:      make(map[vertex.EntityVertexID]vertex.EntityPayload),
		edgeSeen:      make(map[edgeKey]struct{}),
		ontologyRoots: make(map[vertex.OntologyID]struct{}),
		entityRoots:   make(map[vertex.EntityVertexID]struct{}),
	}
}

// InsertDataType is idempotent: a second insert with the same id is a no-op.
func (s *Store) InsertDataType(p vertex.DataTypePayload) {
	if _, ok := s.dataTypes[p.ID]; !ok {
		s.dataTypes[p.ID] = p
	}
}

// InsertPropertyType is idempotent: a second insert with the same id is a
// no-op.
func (s *Store) InsertPropertyType(p vertex.PropertyTypePayload) {
	if _, ok := s.propertyTypes[p.ID]; !ok {
		s.propertyTypes[p.ID] = p
	}
}

// InsertEntityType is idempotent: a second insert with the same id is a
// no-op.
func (s *Store) InsertEntityType(p vertex.EntityTypePayload) {
	if _, ok := s.entityTypes[p.ID]; !ok {
		s.entityTypes[p.ID] = p
	}
}

// InsertEntity is idempotent: a second insert with the same id is a no-op.
func (s *Store) InsertEntity(p vertex.EntityPayload) {
	if _, ok := s.entities[p.ID]; !ok {
		s.entities[p.ID] = p
	}
}

// HasVertex reports whether a vertex payload has already been installed for
// id within kind.
func (s *Store) HasVertex(kind vertex.Kind, id vertex.ID) bool {
	switch kind {
	case vertex.KindDataType:
		_, ok := s.dataTypes[id.(vertex.OntologyID)]

		return ok
	case vertex.KindPropertyType:
		_, ok := s.propertyTypes[id.(vertex.OntologyID)]

		return ok
	case vertex.KindEntityType:
		_, ok := s.entityTypes[id.(vertex.OntologyID)]

		return ok
	case vertex.KindEntity:
		_, ok := s.entities[id.(vertex.EntityVertexID)]

		return ok
	default:
		return false
	}
}

// InsertEdge records a directed edge between two vertex ids, idempotent on
// (source, kind, direction, target) per spec §4.3.
func (s *Store) InsertEdge(source string, kind vertex.EdgeKind, direction vertex.Direction, target string) {
	key := edgeKey{source: source, target: target, kind: kind, direction: direction}
	if _, ok := s.edgeSeen[key]; ok {
		return
	}

	s.edgeSeen[key] = struct{}{}
	s.edges = append(s.edges, Edge{Source: source, Target: target, Kind: kind, Direction: direction})
}

// AddRoot marks id as a root of the subgraph.
func (s *Store) AddRoot(kind vertex.Kind, id vertex.ID) {
	switch kind {
	case vertex.KindEntity:
		s.entityRoots[id.(vertex.EntityVertexID)] = struct{}{}
	default:
		s.ontologyRoots[id.(vertex.OntologyID)] = struct{}{}
	}
}

// OntologyVertexIDs returns the ids installed for an ontology kind, for the
// vertex loader to batch-fetch payloads and for tests to assert closure.
func (s *Store) OntologyVertexIDs(kind vertex.Kind) []vertex.OntologyID {
	switch kind {
	case vertex.KindDataType:
		ids := make([]vertex.OntologyID, 0, len(s.dataTypes))
		for id := range s.dataTypes {
			ids = append(ids, id)
		}

		return ids
	case vertex.KindPropertyType:
		ids := make([]vertex.OntologyID, 0, len(s.propertyTypes))
		for id := range s.propertyTypes {
			ids = append(ids, id)
		}

		return ids
	case vertex.KindEntityType:
		ids := make([]vertex.OntologyID, 0, len(s.entityTypes))
		for id := range s.entityTypes {
			ids = append(ids, id)
		}

		return ids
	default:
		return nil
	}
}

// EntityVertexIDs returns the entity vertex ids currently installed.
func (s *Store) EntityVertexIDs() []vertex.EntityVertexID {
	ids := make([]vertex.EntityVertexID, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}

	return ids
}

// Edges returns the accumulated edge list.
func (s *Store) Edges() []Edge {
	return s.edges
}

// Subgraph is the immutable value returned to callers: the assembled
// vertices, edges, roots, resolved temporal axes, and the depth vector the
// query was bounded by.
type Subgraph struct {
	DataTypes     map[vertex.OntologyID]vertex.DataTypePayload
	PropertyTypes map[vertex.OntologyID]vertex.PropertyTypePayload
	EntityTypes   map[vertex.OntologyID]vertex.EntityTypePayload
	Entities      map[vertex.EntityVertexID]vertex.EntityPayload

	Edges []Edge

	OntologyRoots map[vertex.OntologyID]struct{}
	EntityRoots   map[vertex.EntityVertexID]struct{}

	TemporalAxes  temporal.QueryTemporalAxes
	ResolveDepths depths.Vector
}

// Finalize copies the mutable Store's contents into an immutable Subgraph
// value. Called once, after the vertex loader has installed all payloads.
func (s *Store) Finalize(axes temporal.QueryTemporalAxes, resolveDepths depths.Vector) *Subgraph {
	return &Subgraph{
		DataTypes:     s.dataTypes,
		PropertyTypes: s.propertyTypes,
		EntityTypes:   s.entityTypes,
		Entities:      s.entities,
		Edges:         s.edges,
		OntologyRoots: s.ontologyRoots,
		EntityRoots:   s.entityRoots,
		TemporalAxes:  axes,
		ResolveDepths: resolveDepths,
	}
}
