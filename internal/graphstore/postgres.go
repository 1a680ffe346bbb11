package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vertexgraph/graphd/internal/temporal"
	"github.com/vertexgraph/graphd/internal/vertex"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so PostgresEdgeResolver
// can run inside the per-query snapshot transaction
// (storage.Connection.BeginSnapshot) or, in tests, directly against a pool.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// referenceTables maps each ontology-to-ontology edge kind to its backing
// reference table, named the way the original source's ReferenceTable enum
// and spec.md's "reference table" language both do (SPEC_FULL.md §6).
var referenceTables = map[vertex.EdgeKind]string{
	vertex.InheritsFrom:                 "inherits_from",
	vertex.ConstrainsValuesOn:           "constrains_values_on",
	vertex.ConstrainsPropertiesOn:       "constrains_properties_on",
	vertex.ConstrainsLinksOn:            "constrains_links_on",
	vertex.ConstrainsLinkDestinationsOn: "constrains_link_destinations_on",
}

// PostgresEdgeResolver implements EdgeResolver over a *sql.DB or *sql.Tx,
// batching each resolve call as a single `unnest(...) WITH ORDINALITY` join
// against the edge kind's reference table — the same `pq.Array` batching
// idiom the teacher's storage layer used for its own `ANY($1)` bulk
// lookups, extended here to carry the per-row ordinal and parent interval
// the traversal driver needs back.
type PostgresEdgeResolver struct {
	db querier
}

// NewPostgresEdgeResolver returns a resolver backed by db, which may be a
// *sql.DB (connection pool) or a *sql.Tx (per-query snapshot).
func NewPostgresEdgeResolver(db querier) *PostgresEdgeResolver {
	return &PostgresEdgeResolver{db: db}
}

var _ EdgeResolver = (*PostgresEdgeResolver)(nil)

// ReadOntologyEdges implements EdgeResolver.
func (r *PostgresEdgeResolver) ReadOntologyEdges(
	ctx context.Context,
	kind vertex.EdgeKind,
	axes temporal.QueryTemporalAxes,
	requests []OntologyEdgeRequest,
) (iter.Seq[OntologyEdgeResult], error) {
	table, ok := referenceTables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an ontology edge kind", ErrQueryError, kind)
	}

	baseURLs := make([]string, len(requests))
	revisions := make([]int64, len(requests))

	for i, req := range requests {
		baseURLs[i] = req.Source.BaseURL
		revisions[i] = int64(req.Source.Revision)
	}

	pinnedStart, pinnedEnd := axisColumns(axes.PinnedAxis())
	variableStart, variableEnd := axisColumns(axes.VariableAxis)

	query := fmt.Sprintf(`
		SELECT
			src.ord,
			edge.target_base_url,
			edge.target_revision,
			target_tm.%s,
			target_tm.%s
		FROM unnest($1::text[], $2::bigint[]) WITH ORDINALITY AS src(base_url, revision, ord)
		JOIN %s edge
			ON edge.source_base_url = src.base_url
			AND edge.source_revision = src.revision
		JOIN ontology_temporal_metadata target_tm
			ON target_tm.base_url = edge.target_base_url
			AND target_tm.revision = edge.target_revision
		WHERE target_tm.%s <= $3
			AND (target_tm.%s IS NULL OR target_tm.%s > $3)
	`, variableStart, variableEnd, table, pinnedStart, pinnedEnd, pinnedEnd)

	rows, err := r.db.QueryContext(ctx, query, pq.Array(baseURLs), pq.Array(revisions), axes.Pinned)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryError, err)
	}

	return ontologyResultSeq(rows, requests), nil
}

func ontologyResultSeq(rows *sql.Rows, requests []OntologyEdgeRequest) iter.Seq[OntologyEdgeResult] {
	return func(yield func(OntologyEdgeResult) bool) {
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var (
				ordinal    int64
				targetURL  string
				targetRev  int64
				axisFrom   time.Time
				axisTo     sql.NullTime
			)

			if err := rows.Scan(&ordinal, &targetURL, &targetRev, &axisFrom, &axisTo); err != nil {
				return
			}

			req := requests[ordinal-1]

			var end *time.Time
			if axisTo.Valid {
				t := axisTo.Time
				end = &t
			}

			targetInterval, err := temporal.NewInterval(axisFrom, end)
			if err != nil {
				continue
			}

			propagated, ok := req.Interval.Intersect(targetInterval)
			if !ok {
				continue
			}

			result := OntologyEdgeResult{
				SourceIndex:        req.Index,
				Target:             vertex.OntologyID{BaseURL: targetURL, Revision: uint32(targetRev)},
				TargetInterval:     targetInterval,
				PropagatedInterval: propagated,
			}

			if !yield(result) {
				return
			}
		}
	}
}

// ReadSharedEdges implements EdgeResolver (entity_is_of_type).
func (r *PostgresEdgeResolver) ReadSharedEdges(
	ctx context.Context,
	axes temporal.QueryTemporalAxes,
	requests []EntityEdgeRequest,
) (iter.Seq[SharedEdgeResult], error) {
	owners := make([]string, len(requests))
	entityUUIDs := make([]string, len(requests))

	for i, req := range requests {
		owners[i] = req.Source.OwnerID.String()
		entityUUIDs[i] = req.Source.EntityUUID.String()
	}

	pinnedStart, pinnedEnd := axisColumns(axes.PinnedAxis())
	variableStart, variableEnd := axisColumns(axes.VariableAxis)

	query := fmt.Sprintf(`
		SELECT
			src.ord,
			edge.entity_type_base_url,
			edge.entity_type_revision,
			target_tm.%s,
			target_tm.%s
		FROM unnest($1::uuid[], $2::uuid[]) WITH ORDINALITY AS src(owner_id, entity_uuid, ord)
		JOIN entity_is_of_type edge
			ON edge.owner_id = src.owner_id
			AND edge.entity_uuid = src.entity_uuid
		JOIN ontology_temporal_metadata target_tm
			ON target_tm.base_url = edge.entity_type_base_url
			AND target_tm.revision = edge.entity_type_revision
		WHERE target_tm.%s <= $3
			AND (target_tm.%s IS NULL OR target_tm.%s > $3)
	`, variableStart, variableEnd, pinnedStart, pinnedEnd, pinnedEnd)

	rows, err := r.db.QueryContext(ctx, query, pq.Array(owners), pq.Array(entityUUIDs), axes.Pinned)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryError, err)
	}

	return func(yield func(SharedEdgeResult) bool) {
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var (
				ordinal   int64
				targetURL string
				targetRev int64
				axisFrom  time.Time
				axisTo    sql.NullTime
			)

			if err := rows.Scan(&ordinal, &targetURL, &targetRev, &axisFrom, &axisTo); err != nil {
				return
			}

			req := requests[ordinal-1]

			var end *time.Time
			if axisTo.Valid {
				t := axisTo.Time
				end = &t
			}

			targetInterval, err := temporal.NewInterval(axisFrom, end)
			if err != nil {
				continue
			}

			propagated, ok := req.Interval.Intersect(targetInterval)
			if !ok {
				continue
			}

			result := SharedEdgeResult{
				SourceIndex:        req.Index,
				Target:             vertex.OntologyID{BaseURL: targetURL, Revision: uint32(targetRev)},
				TargetInterval:     targetInterval,
				PropagatedInterval: propagated,
			}

			if !yield(result) {
				return
			}
		}
	}, nil
}

// ReadEntityEdges implements EdgeResolver. HasLeftEntity/HasRightEntity are
// not separate tables: a link entity's left/right endpoints are columns on
// its own entity_ids row (the same row the vertex loader and writepath
// read and write), so resolving the edge is a self-join of entity_ids on
// the relevant link column pair. direction picks which side of that join
// plays "source" (spec §4.4 "Incoming direction ... is implemented by
// swapping which side of the join is source and which is target").
func (r *PostgresEdgeResolver) ReadEntityEdges(
	ctx context.Context,
	kind vertex.EdgeKind,
	direction vertex.Direction,
	axes temporal.QueryTemporalAxes,
	requests []EntityEdgeRequest,
) (iter.Seq[EntityEdgeResult], error) {
	linkOwnerCol, linkUUIDCol, err := linkColumnsFor(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryError, err)
	}

	sourceOwnerCol, targetOwnerCol := "owner_id", linkOwnerCol
	sourceUUIDCol, targetUUIDCol := "entity_uuid", linkUUIDCol

	if direction == vertex.Incoming {
		sourceOwnerCol, targetOwnerCol = targetOwnerCol, sourceOwnerCol
		sourceUUIDCol, targetUUIDCol = targetUUIDCol, sourceUUIDCol
	}

	owners := make([]string, len(requests))
	entityUUIDs := make([]string, len(requests))

	for i, req := range requests {
		owners[i] = req.Source.OwnerID.String()
		entityUUIDs[i] = req.Source.EntityUUID.String()
	}

	pinnedStart, pinnedEnd := axisColumns(axes.PinnedAxis())
	variableStart, variableEnd := axisColumns(axes.VariableAxis)

	query := fmt.Sprintf(`
		SELECT
			src.ord,
			edge.%s,
			edge.%s,
			target_tm.%s,
			target_tm.%s
		FROM unnest($1::uuid[], $2::uuid[]) WITH ORDINALITY AS src(owner_id, entity_uuid, ord)
		JOIN entity_ids edge
			ON edge.%s = src.owner_id AND edge.%s = src.entity_uuid
		JOIN entity_temporal_metadata target_tm
			ON target_tm.owner_id = edge.%s AND target_tm.entity_uuid = edge.%s
		WHERE edge.%s IS NOT NULL
			AND target_tm.%s <= $3
			AND (target_tm.%s IS NULL OR target_tm.%s > $3)
	`, targetOwnerCol, targetUUIDCol, variableStart, variableEnd,
		sourceOwnerCol, sourceUUIDCol, targetOwnerCol, targetUUIDCol, targetOwnerCol,
		pinnedStart, pinnedEnd, pinnedEnd)

	rows, err := r.db.QueryContext(ctx, query, pq.Array(owners), pq.Array(entityUUIDs), axes.Pinned)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryError, err)
	}

	return func(yield func(EntityEdgeResult) bool) {
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var (
				ordinal          int64
				targetOwner      string
				targetEntityUUID string
				axisFrom         time.Time
				axisTo           sql.NullTime
			)

			if err := rows.Scan(&ordinal, &targetOwner, &targetEntityUUID, &axisFrom, &axisTo); err != nil {
				return
			}

			req := requests[ordinal-1]

			var end *time.Time
			if axisTo.Valid {
				t := axisTo.Time
				end = &t
			}

			targetInterval, err := temporal.NewInterval(axisFrom, end)
			if err != nil {
				continue
			}

			propagated, ok := req.Interval.Intersect(targetInterval)
			if !ok {
				continue
			}

			ownerID, err := uuid.Parse(targetOwner)
			if err != nil {
				continue
			}

			entityUUID, err := uuid.Parse(targetEntityUUID)
			if err != nil {
				continue
			}

			result := EntityEdgeResult{
				SourceIndex: req.Index,
				Target: vertex.EntityVertexID{
					EntityID:   vertex.EntityID{OwnerID: ownerID, EntityUUID: entityUUID},
					RevisionID: axisFrom.UnixNano(),
				},
				TargetInterval:     targetInterval,
				PropagatedInterval: propagated,
			}

			if !yield(result) {
				return
			}
		}
	}, nil
}

// linkColumnsFor returns the entity_ids column pair holding the endpoint a
// link entity points at for kind.
func linkColumnsFor(kind vertex.EdgeKind) (ownerCol, uuidCol string, err error) {
	switch kind {
	case vertex.HasLeftEntity:
		return "left_owner_id", "left_entity_uuid", nil
	case vertex.HasRightEntity:
		return "right_owner_id", "right_entity_uuid", nil
	default:
		return "", "", fmt.Errorf("%s is not a link-entity edge kind", kind)
	}
}
