// Package graphstore is the storage boundary: the EdgeResolver the
// traversal driver calls for one layer at a time, the VertexLoader the
// engine calls once at the end of a fixpoint, and the Store contract that
// composes both with root selection and the write-path primitives.
package graphstore

import (
	"context"
	"iter"

	"github.com/vertexgraph/graphd/internal/temporal"
	"github.com/vertexgraph/graphd/internal/vertex"
)

// OntologyEdgeRequest is one row of a batched ontology-edge resolve call:
// a source ontology vertex, the interval it was reached under, and the
// ordinal index the caller uses to match results back to requests (spec
// §4.4 "four parallel arrays ... per-row ordinal index").
type OntologyEdgeRequest struct {
	Source   vertex.OntologyID
	Interval temporal.Interval
	Index    int
}

// OntologyEdgeResult is one resolved (source, target) pair for an
// ontology-to-ontology edge kind (InheritsFrom, ConstrainsValuesOn,
// ConstrainsPropertiesOn, ConstrainsLinksOn, ConstrainsLinkDestinationsOn).
type OntologyEdgeResult struct {
	SourceIndex        int
	Target             vertex.OntologyID
	TargetInterval     temporal.Interval
	PropagatedInterval temporal.Interval
}

// EntityEdgeRequest is one row of a batched entity-edge resolve call.
type EntityEdgeRequest struct {
	Source   vertex.EntityVertexID
	Interval temporal.Interval
	Index    int
}

// SharedEdgeResult is one resolved IsOfType edge: an entity vertex to the
// entity-type ontology vertex it is an instance of (spec's "shared edge"
// family — the one place a knowledge-graph vertex targets an ontology
// vertex).
type SharedEdgeResult struct {
	SourceIndex        int
	Target             vertex.OntologyID
	TargetInterval     temporal.Interval
	PropagatedInterval temporal.Interval
}

// EntityEdgeResult is one resolved HasLeftEntity/HasRightEntity edge:
// entity to entity.
type EntityEdgeResult struct {
	SourceIndex        int
	Target             vertex.EntityVertexID
	TargetInterval     temporal.Interval
	PropagatedInterval temporal.Interval
}

// EdgeResolver is the per-layer contract the traversal driver calls
// against: one logical method per edge family, each batched over a slice
// of requests and returning a lazy sequence of results (spec §4.5). A
// resolver call never mutates traversal state; the driver owns all
// bookkeeping.
type EdgeResolver interface {
	// ReadOntologyEdges resolves one ontology-to-ontology edge kind for a
	// batch of source vertices. kind must not be IsOfType, HasLeftEntity,
	// or HasRightEntity.
	ReadOntologyEdges(
		ctx context.Context,
		kind vertex.EdgeKind,
		axes temporal.QueryTemporalAxes,
		requests []OntologyEdgeRequest,
	) (iter.Seq[OntologyEdgeResult], error)

	// ReadSharedEdges resolves IsOfType for a batch of entity vertices.
	ReadSharedEdges(
		ctx context.Context,
		axes temporal.QueryTemporalAxes,
		requests []EntityEdgeRequest,
	) (iter.Seq[SharedEdgeResult], error)

	// ReadEntityEdges resolves HasLeftEntity or HasRightEntity for a batch
	// of entity vertices. direction selects which side of the join is
	// "source" (spec §4.4 "Incoming direction ... is implemented by
	// swapping which side of the join is source and which is target").
	ReadEntityEdges(
		ctx context.Context,
		kind vertex.EdgeKind,
		direction vertex.Direction,
		axes temporal.QueryTemporalAxes,
		requests []EntityEdgeRequest,
	) (iter.Seq[EntityEdgeResult], error)
}

// VertexLoader loads vertex payloads in batch after the traversal fixpoint
// settles. It must never discover new edges (spec §4.6).
type VertexLoader interface {
	Load(ctx context.Context, kind vertex.Kind, ids []vertex.ID, axes temporal.QueryTemporalAxes) ([]vertex.Payload, error)
}
