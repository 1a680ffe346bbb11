// Package query exposes the four root-kind entry points the HTTP layer
// calls: one per vertex kind that can seed a traversal. Service is the
// thing that turns a root filter and a resolve-depth vector into a
// finished subgraph.Subgraph, by seeding a traversal.Frontiers from
// Store.ReadRoots, driving traversal.Driver to a fixpoint, and then
// batch-loading every vertex the fixpoint scheduled.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vertexgraph/graphd/internal/depths"
	"github.com/vertexgraph/graphd/internal/graphstore"
	"github.com/vertexgraph/graphd/internal/subgraph"
	"github.com/vertexgraph/graphd/internal/temporal"
	"github.com/vertexgraph/graphd/internal/traversal"
	"github.com/vertexgraph/graphd/internal/vertex"
)

// RootFilter is named at the query layer per spec.md's "opaque root
// filter" language, but it is the same value graphstore.Store.ReadRoots
// consumes — there is exactly one type, aliased here so callers can write
// query.RootFilter without reaching into graphstore.
type RootFilter = graphstore.RootFilter

// Service resolves graph queries against a graphstore.Store.
type Service struct {
	store  graphstore.Store
	logger *slog.Logger
}

// NewService returns a Service backed by store. A nil logger defaults to
// slog.Default(), matching the teacher's construction idiom.
func NewService(store graphstore.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{store: store, logger: logger}
}

// ResolveEntity resolves a query rooted at one or more Entity vertices.
func (s *Service) ResolveEntity(
	ctx context.Context,
	filter RootFilter,
	resolveDepths depths.Vector,
	axes temporal.UnresolvedQueryTemporalAxes,
) (*subgraph.Subgraph, error) {
	return s.resolve(ctx, vertex.KindEntity, filter, resolveDepths, axes)
}

// ResolveEntityType resolves a query rooted at one or more EntityType
// vertices.
func (s *Service) ResolveEntityType(
	ctx context.Context,
	filter RootFilter,
	resolveDepths depths.Vector,
	axes temporal.UnresolvedQueryTemporalAxes,
) (*subgraph.Subgraph, error) {
	return s.resolve(ctx, vertex.KindEntityType, filter, resolveDepths, axes)
}

// ResolvePropertyType resolves a query rooted at one or more PropertyType
// vertices.
func (s *Service) ResolvePropertyType(
	ctx context.Context,
	filter RootFilter,
	resolveDepths depths.Vector,
	axes temporal.UnresolvedQueryTemporalAxes,
) (*subgraph.Subgraph, error) {
	return s.resolve(ctx, vertex.KindPropertyType, filter, resolveDepths, axes)
}

// ResolveDataType resolves a query rooted at one or more DataType vertices.
func (s *Service) ResolveDataType(
	ctx context.Context,
	filter RootFilter,
	resolveDepths depths.Vector,
	axes temporal.UnresolvedQueryTemporalAxes,
) (*subgraph.Subgraph, error) {
	return s.resolve(ctx, vertex.KindDataType, filter, resolveDepths, axes)
}

func (s *Service) resolve(
	ctx context.Context,
	kind vertex.Kind,
	filter RootFilter,
	resolveDepths depths.Vector,
	unresolvedAxes temporal.UnresolvedQueryTemporalAxes,
) (*subgraph.Subgraph, error) {
	start := time.Now()
	axes := unresolvedAxes.Resolve(start)

	rootIDs, err := s.store.ReadRoots(ctx, kind, filter, axes)
	if err != nil {
		return nil, fmt.Errorf("query: resolving %s roots: %w", kind, err)
	}

	store := subgraph.New()

	if len(rootIDs) == 0 {
		return store.Finalize(axes, resolveDepths), nil
	}

	seed := seedFrontiers(kind, rootIDs, resolveDepths, axes, store)

	tc, err := traversal.New(s.logger).Run(ctx, seed, axes, store, s.store)
	if err != nil {
		return nil, fmt.Errorf("query: traversing from %s roots: %w", kind, err)
	}

	for _, loadKind := range []vertex.Kind{vertex.KindEntity, vertex.KindEntityType, vertex.KindPropertyType, vertex.KindDataType} {
		if err := s.loadKind(ctx, store, loadKind, tc, axes); err != nil {
			return nil, fmt.Errorf("query: loading %s vertices: %w", loadKind, err)
		}
	}

	s.logger.Info("resolved graph query",
		slog.String("root_kind", kind.String()),
		slog.Int("root_count", len(rootIDs)),
		slog.Int("vertex_count", vertexCount(store)),
		slog.Int("edge_count", len(store.Edges())),
		slog.Duration("elapsed", time.Since(start)),
	)

	return store.Finalize(axes, resolveDepths), nil
}

// seedFrontiers marks every root as a subgraph root and builds the single
// non-empty frontier kind's traversal entries, all carrying resolveDepths
// and the query's variable interval as their starting state.
func seedFrontiers(
	kind vertex.Kind,
	rootIDs []vertex.ID,
	resolveDepths depths.Vector,
	axes temporal.QueryTemporalAxes,
	store *subgraph.Store,
) traversal.Frontiers {
	var seed traversal.Frontiers

	if kind == vertex.KindEntity {
		seed.Entity = make([]traversal.EntityEntry, 0, len(rootIDs))

		for _, id := range rootIDs {
			entityID := id.(vertex.EntityVertexID)
			store.AddRoot(kind, entityID)
			seed.Entity = append(seed.Entity, traversal.EntityEntry{
				ID:       entityID,
				Depths:   resolveDepths,
				Interval: axes.Variable,
			})
		}

		return seed
	}

	entries := make([]traversal.OntologyEntry, 0, len(rootIDs))

	for _, id := range rootIDs {
		ontologyID := id.(vertex.OntologyID)
		store.AddRoot(kind, ontologyID)
		entries = append(entries, traversal.OntologyEntry{
			ID:       ontologyID,
			Depths:   resolveDepths,
			Interval: axes.Variable,
		})
	}

	switch kind {
	case vertex.KindEntityType:
		seed.EntityType = entries
	case vertex.KindPropertyType:
		seed.PropertyType = entries
	default:
		seed.DataType = entries
	}

	return seed
}

// loadKind fetches every payload the traversal scheduled for kind and
// installs it into store. Roots are scheduled too (traversal.Driver.Run
// marks the seed before expanding it), so this is the only place any
// payload, root or discovered, is ever loaded.
func (s *Service) loadKind(
	ctx context.Context,
	store *subgraph.Store,
	kind vertex.Kind,
	tc *traversal.Context,
	axes temporal.QueryTemporalAxes,
) error {
	ids := tc.ScheduledIDs(kind)
	if len(ids) == 0 {
		return nil
	}

	payloads, err := s.store.ReadVertices(ctx, kind, ids, axes)
	if err != nil {
		return err
	}

	for _, payload := range payloads {
		switch p := payload.(type) {
		case vertex.DataTypePayload:
			store.InsertDataType(p)
		case vertex.PropertyTypePayload:
			store.InsertPropertyType(p)
		case vertex.EntityTypePayload:
			store.InsertEntityType(p)
		case vertex.EntityPayload:
			store.InsertEntity(p)
		}
	}

	return nil
}

func vertexCount(store *subgraph.Store) int {
	count := len(store.EntityVertexIDs())

	for _, kind := range []vertex.Kind{vertex.KindDataType, vertex.KindPropertyType, vertex.KindEntityType} {
		count += len(store.OntologyVertexIDs(kind))
	}

	return count
}
