package traversal

import (
	"github.com/vertexgraph/graphd/internal/depths"
	"github.com/vertexgraph/graphd/internal/temporal"
	"github.com/vertexgraph/graphd/internal/vertex"
)

// OntologyEntry is one (vertex_id, depth_vector, interval) triple awaiting
// expansion, for a DataType, PropertyType, or EntityType vertex (spec §4.4
// "Input: a frontier of ... triples").
type OntologyEntry struct {
	ID       vertex.OntologyID
	Depths   depths.Vector
	Interval temporal.Interval
}

// EntityEntry is the Entity-kind analogue of OntologyEntry.
type EntityEntry struct {
	ID       vertex.EntityVertexID
	Depths   depths.Vector
	Interval temporal.Interval
}

// Frontiers holds the four kind-partitioned frontiers the driver threads
// through its nested fixpoint loops. Expanding one kind's current layer may
// append into another kind's frontier (spec §4.4 "Cross-kind dispatch");
// Frontiers is the single mutable structure both the owning kind's loop and
// a donor kind's loop write into.
type Frontiers struct {
	Entity       []EntityEntry
	EntityType   []OntologyEntry
	PropertyType []OntologyEntry
	DataType     []OntologyEntry
}

// edgeGroup names one (edge kind, direction) pair the driver resolves with
// a single batched call. Direction is only meaningful for knowledge-graph
// edges (spec §4.4 "group by edge kind, and for knowledge-graph edges, by
// direction"); ontology edges and IsOfType are always resolved Outgoing.
type edgeGroup struct {
	Kind      vertex.EdgeKind
	Direction vertex.Direction
}

// edgeGroupsFrom returns the allowed (edge kind, direction) groups for a
// source vertex kind, in the order the driver resolves them (spec §3's
// edge-kind table, §4.4's direction handling for knowledge-graph edges).
func edgeGroupsFrom(kind vertex.Kind) []edgeGroup {
	switch kind {
	case vertex.KindEntity:
		return []edgeGroup{
			{Kind: vertex.IsOfType, Direction: vertex.Outgoing},
			{Kind: vertex.HasLeftEntity, Direction: vertex.Outgoing},
			{Kind: vertex.HasLeftEntity, Direction: vertex.Incoming},
			{Kind: vertex.HasRightEntity, Direction: vertex.Outgoing},
			{Kind: vertex.HasRightEntity, Direction: vertex.Incoming},
		}
	case vertex.KindEntityType:
		return []edgeGroup{
			{Kind: vertex.InheritsFrom, Direction: vertex.Outgoing},
			{Kind: vertex.ConstrainsLinksOn, Direction: vertex.Outgoing},
			{Kind: vertex.ConstrainsLinkDestinationsOn, Direction: vertex.Outgoing},
			{Kind: vertex.ConstrainsPropertiesOn, Direction: vertex.Outgoing},
		}
	case vertex.KindPropertyType:
		return []edgeGroup{
			{Kind: vertex.ConstrainsPropertiesOn, Direction: vertex.Outgoing},
			{Kind: vertex.ConstrainsValuesOn, Direction: vertex.Outgoing},
		}
	default:
		return nil
	}
}
