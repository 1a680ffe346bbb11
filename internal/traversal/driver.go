package traversal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vertexgraph/graphd/internal/depths"
	"github.com/vertexgraph/graphd/internal/graphstore"
	"github.com/vertexgraph/graphd/internal/subgraph"
	"github.com/vertexgraph/graphd/internal/temporal"
	"github.com/vertexgraph/graphd/internal/vertex"
)

// Driver runs the layered breadth-first traversal described in spec §4.4:
// a nested fixpoint over kinds in topological order {Entity, EntityType,
// PropertyType, DataType}, where expanding one kind's frontier may enqueue
// work into another kind's frontier, never backwards in the order.
type Driver struct {
	logger *slog.Logger
}

// New returns a ready-to-use Driver backed by logger. A nil logger defaults
// to slog.Default(), matching the rest of the engine's construction idiom.
// Driver otherwise holds no state of its own; all per-query state lives in
// the Frontiers, subgraph.Store, and Context passed to Run.
func New(logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Driver{logger: logger}
}

// Run drains seed to a fixpoint, installing discovered edges into store and
// returning once every frontier is empty. It never installs vertex
// payloads — that is the Vertex Loader's job (spec §4.6) — only ids via the
// traversal Context, which the caller (query.Service) inspects afterward to
// know what to load.
func (d *Driver) Run(
	ctx context.Context,
	seed Frontiers,
	axes temporal.QueryTemporalAxes,
	store *subgraph.Store,
	resolver graphstore.EdgeResolver,
) (*Context, error) {
	tc := NewContext()
	frontiers := seed

	for _, e := range frontiers.Entity {
		tc.MarkScheduled(vertex.KindEntity, e.ID)
	}

	for _, e := range frontiers.EntityType {
		tc.MarkScheduled(vertex.KindEntityType, e.ID)
	}

	for _, e := range frontiers.PropertyType {
		tc.MarkScheduled(vertex.KindPropertyType, e.ID)
	}

	for _, e := range frontiers.DataType {
		tc.MarkScheduled(vertex.KindDataType, e.ID)
	}

	if err := d.runEntityFixpoint(ctx, &frontiers, axes, store, resolver, tc); err != nil {
		return nil, err
	}

	for _, kind := range []vertex.Kind{vertex.KindEntityType, vertex.KindPropertyType, vertex.KindDataType} {
		if err := d.runOntologyFixpoint(ctx, kind, &frontiers, axes, store, resolver, tc); err != nil {
			return nil, err
		}
	}

	return tc, nil
}

// frontierFor returns a pointer to the ontology-kind slice within frontiers
// so fixpoint loops can both drain and append to it uniformly.
func frontierFor(frontiers *Frontiers, kind vertex.Kind) *[]OntologyEntry {
	switch kind {
	case vertex.KindEntityType:
		return &frontiers.EntityType
	case vertex.KindPropertyType:
		return &frontiers.PropertyType
	default:
		return &frontiers.DataType
	}
}

type admittedOntology struct {
	entry     OntologyEntry
	newDepths depths.Vector
}

// runOntologyFixpoint drains kind's current layer to a fixpoint, resolving
// every allowed (edge kind, direction) group per layer via one batched
// resolver call (spec §4.4 steps 1-2), and enqueuing newly-discovered
// vertices into their target kind's frontier, deduped via tc (step 3).
func (d *Driver) runOntologyFixpoint(
	ctx context.Context,
	kind vertex.Kind,
	frontiers *Frontiers,
	axes temporal.QueryTemporalAxes,
	store *subgraph.Store,
	resolver graphstore.EdgeResolver,
	tc *Context,
) error {
	current := frontierFor(frontiers, kind)

	for len(*current) > 0 {
		layer := *current
		*current = nil

		groups := edgeGroupsFrom(kind)
		edgeKinds := make([]string, len(groups))

		for i, group := range groups {
			edgeKinds[i] = group.Kind.String()
		}

		d.logger.Debug("expanding traversal layer",
			slog.String("kind", kind.String()),
			slog.Int("layer_size", len(layer)),
			slog.Any("edge_kinds", edgeKinds),
		)

		for _, group := range groups {
			admitted := make([]admittedOntology, 0, len(layer))
			requests := make([]graphstore.OntologyEdgeRequest, 0, len(layer))

			for _, entry := range layer {
				newDepths, ok := entry.Depths.Decrement(group.Kind)
				if !ok {
					continue
				}

				requests = append(requests, graphstore.OntologyEdgeRequest{
					Source:   entry.ID,
					Interval: entry.Interval,
					Index:    len(admitted),
				})
				admitted = append(admitted, admittedOntology{entry: entry, newDepths: newDepths})
			}

			if len(requests) == 0 {
				continue
			}

			seq, err := resolver.ReadOntologyEdges(ctx, group.Kind, axes, requests)
			if err != nil {
				return fmt.Errorf("traversal: resolve %s edges from %s: %w", group.Kind, kind, err)
			}

			for result := range seq {
				source := admitted[result.SourceIndex]
				store.InsertEdge(source.entry.ID.String(), group.Kind, group.Direction, result.Target.String())

				targetKind := group.Kind.TargetKind()
				if tc.MarkScheduled(targetKind, result.Target) {
					next := frontierFor(frontiers, targetKind)
					*next = append(*next, OntologyEntry{
						ID:       result.Target,
						Depths:   source.newDepths,
						Interval: result.PropagatedInterval,
					})
				}
			}
		}
	}

	return nil
}

type admittedEntity struct {
	entry     EntityEntry
	newDepths depths.Vector
}

// runEntityFixpoint is the Entity-kind analogue of runOntologyFixpoint. It
// is a distinct method, not a generic instantiation, because IsOfType
// targets an ontology vertex while HasLeftEntity/HasRightEntity target
// another entity vertex — the two resolver calls return different result
// shapes.
func (d *Driver) runEntityFixpoint(
	ctx context.Context,
	frontiers *Frontiers,
	axes temporal.QueryTemporalAxes,
	store *subgraph.Store,
	resolver graphstore.EdgeResolver,
	tc *Context,
) error {
	for len(frontiers.Entity) > 0 {
		layer := frontiers.Entity
		frontiers.Entity = nil

		groups := edgeGroupsFrom(vertex.KindEntity)
		edgeKinds := make([]string, len(groups))

		for i, group := range groups {
			edgeKinds[i] = group.Kind.String()
		}

		d.logger.Debug("expanding traversal layer",
			slog.String("kind", vertex.KindEntity.String()),
			slog.Int("layer_size", len(layer)),
			slog.Any("edge_kinds", edgeKinds),
		)

		for _, group := range groups {
			admitted := make([]admittedEntity, 0, len(layer))
			requests := make([]graphstore.EntityEdgeRequest, 0, len(layer))

			for _, entry := range layer {
				newDepths, ok := entry.Depths.Decrement(group.Kind)
				if !ok {
					continue
				}

				requests = append(requests, graphstore.EntityEdgeRequest{
					Source:   entry.ID,
					Interval: entry.Interval,
					Index:    len(admitted),
				})
				admitted = append(admitted, admittedEntity{entry: entry, newDepths: newDepths})
			}

			if len(requests) == 0 {
				continue
			}

			if group.Kind == vertex.IsOfType {
				seq, err := resolver.ReadSharedEdges(ctx, axes, requests)
				if err != nil {
					return fmt.Errorf("traversal: resolve entity_is_of_type edges: %w", err)
				}

				for result := range seq {
					source := admitted[result.SourceIndex]
					store.InsertEdge(source.entry.ID.String(), vertex.IsOfType, group.Direction, result.Target.String())

					if tc.MarkScheduled(vertex.KindEntityType, result.Target) {
						frontiers.EntityType = append(frontiers.EntityType, OntologyEntry{
							ID:       result.Target,
							Depths:   source.newDepths,
							Interval: result.PropagatedInterval,
						})
					}
				}

				continue
			}

			seq, err := resolver.ReadEntityEdges(ctx, group.Kind, group.Direction, axes, requests)
			if err != nil {
				return fmt.Errorf("traversal: resolve %s edges (%s): %w", group.Kind, group.Direction, err)
			}

			for result := range seq {
				source := admitted[result.SourceIndex]
				store.InsertEdge(source.entry.ID.String(), group.Kind, group.Direction, result.Target.String())

				if tc.MarkScheduled(vertex.KindEntity, result.Target) {
					frontiers.Entity = append(frontiers.Entity, EntityEntry{
						ID:       result.Target,
						Depths:   source.newDepths,
						Interval: result.PropagatedInterval,
					})
				}
			}
		}
	}

	return nil
}
