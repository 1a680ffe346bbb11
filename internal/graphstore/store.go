package graphstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vertexgraph/graphd/internal/aliasing"
	"github.com/vertexgraph/graphd/internal/storage"
	"github.com/vertexgraph/graphd/internal/temporal"
	"github.com/vertexgraph/graphd/internal/vertex"
	"github.com/vertexgraph/graphd/internal/writepath"
)

// RootFilter is the uninterpreted root-selection criterion query.Service
// passes through to ReadRoots. Nothing in traversal or subgraph ever
// inspects it (spec §9 "Root-selection filter stays opaque"); only
// PostgresStore.ReadRoots gives it meaning.
type RootFilter struct {
	// OntologyIDs selects ontology roots (DataType/PropertyType/EntityType)
	// by exact (base_url, revision). Ignored for an Entity query.
	OntologyIDs []vertex.OntologyID

	// EntityIDs selects entity roots by exact (owner_id, entity_uuid).
	// Ignored for an ontology query.
	EntityIDs []vertex.EntityID

	// BaseURLPrefix, when non-empty, matches ontology roots whose base_url
	// starts with this prefix instead of requiring exact OntologyIDs. Used
	// for "all versions under this namespace" root selection.
	BaseURLPrefix string
}

// Store is the full storage boundary a query.Service call depends on: edge
// resolution, root selection, vertex loading, and the write-path
// primitives, composed into one contract so PostgresStore is the single
// implementation the rest of the engine is grounded on (spec §6).
type Store interface {
	EdgeResolver

	// ReadRoots resolves filter into the concrete root vertex ids visible
	// under axes for the given kind.
	ReadRoots(ctx context.Context, kind vertex.Kind, filter RootFilter, axes temporal.QueryTemporalAxes) ([]vertex.ID, error)

	// ReadVertices loads payloads for ids, identical in shape to
	// VertexLoader.Load (kept as a separate method name on Store per spec.md
	// §6's naming, backed by the same PostgresVertexLoader).
	ReadVertices(ctx context.Context, kind vertex.Kind, ids []vertex.ID, axes temporal.QueryTemporalAxes) ([]vertex.Payload, error)

	CreateEntityType(ctx context.Context, payload vertex.EntityTypePayload, validFrom temporal.Interval) error
	CreatePropertyType(ctx context.Context, payload vertex.PropertyTypePayload, validFrom temporal.Interval) error
	CreateDataType(ctx context.Context, payload vertex.DataTypePayload, validFrom temporal.Interval) error
	CreateEntityTypes(ctx context.Context, payloads []vertex.EntityTypePayload, validFrom temporal.Interval) error
	CreatePropertyTypes(ctx context.Context, payloads []vertex.PropertyTypePayload, validFrom temporal.Interval) error
	CreateDataTypes(ctx context.Context, payloads []vertex.DataTypePayload, validFrom temporal.Interval) error
	UpdateEntityType(ctx context.Context, payload vertex.EntityTypePayload, validFrom temporal.Interval) error
	UpdatePropertyType(ctx context.Context, payload vertex.PropertyTypePayload, validFrom temporal.Interval) error
	UpdateDataType(ctx context.Context, payload vertex.DataTypePayload, validFrom temporal.Interval) error
	CreateEntity(ctx context.Context, payload vertex.EntityPayload, typeID vertex.OntologyID, validFrom temporal.Interval) error
	UpdateEntity(ctx context.Context, current vertex.EntityVertexID, payload vertex.EntityPayload, newValidFrom temporal.Interval) error
	ArchiveEntity(ctx context.Context, id vertex.EntityID, at temporal.Interval) error
}

// PostgresStore implements Store over a *storage.Connection, the same
// connection-wrapping idiom the teacher's own storage layer used to
// satisfy several narrower interfaces from one concrete type.
type PostgresStore struct {
	conn    *storage.Connection
	aliases *aliasing.Resolver

	*PostgresEdgeResolver
	*PostgresVertexLoader
	*writepath.Manager
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wires the three Postgres-backed collaborators over one
// connection pool. aliases may be nil, in which case ReadRoots performs no
// base URL rewriting.
func NewPostgresStore(conn *storage.Connection, logger *slog.Logger, aliases *aliasing.Resolver) *PostgresStore {
	return &PostgresStore{
		conn:                 conn,
		aliases:              aliases,
		PostgresEdgeResolver: NewPostgresEdgeResolver(conn),
		PostgresVertexLoader: NewPostgresVertexLoader(conn),
		Manager:              writepath.NewManager(conn, logger),
	}
}

// ReadVertices implements Store by delegating to the embedded
// PostgresVertexLoader's Load method under the Store-facing name spec.md §6
// uses.
func (s *PostgresStore) ReadVertices(
	ctx context.Context,
	kind vertex.Kind,
	ids []vertex.ID,
	axes temporal.QueryTemporalAxes,
) ([]vertex.Payload, error) {
	return s.PostgresVertexLoader.Load(ctx, kind, ids, axes)
}

// ReadRoots implements Store. For ontology kinds it resolves RootFilter's
// OntologyIDs (or BaseURLPrefix, when OntologyIDs is empty) against the
// kind's table; for Entity it resolves EntityIDs. Every match is filtered to
// rows visible at axes.Pinned, exactly like every other read in this
// package (spec §4.2 "a query projects a single consistent snapshot").
//
// Before querying, every base URL in filter is rewritten through s.aliases
// (if configured), so a caller may still pass a type's old hosting domain
// after it moved (spec's "alias resolution at query time").
func (s *PostgresStore) ReadRoots(
	ctx context.Context,
	kind vertex.Kind,
	filter RootFilter,
	axes temporal.QueryTemporalAxes,
) ([]vertex.ID, error) {
	if kind == vertex.KindEntity {
		return s.readEntityRoots(ctx, filter, axes)
	}

	return s.readOntologyRoots(ctx, kind, s.resolveFilterAliases(filter), axes)
}

// resolveFilterAliases rewrites every ontology base URL in filter through
// s.aliases. A nil resolver (or one with no patterns) leaves filter
// unchanged.
func (s *PostgresStore) resolveFilterAliases(filter RootFilter) RootFilter {
	if s.aliases == nil || s.aliases.GetPatternCount() == 0 {
		return filter
	}

	if len(filter.OntologyIDs) > 0 {
		resolved := make([]vertex.OntologyID, len(filter.OntologyIDs))
		for i, id := range filter.OntologyIDs {
			resolved[i] = vertex.OntologyID{BaseURL: s.aliases.Resolve(id.BaseURL), Revision: id.Revision}
		}

		filter.OntologyIDs = resolved
	}

	if filter.BaseURLPrefix != "" {
		filter.BaseURLPrefix = s.aliases.Resolve(filter.BaseURLPrefix)
	}

	return filter
}

func (s *PostgresStore) readOntologyRoots(
	ctx context.Context,
	kind vertex.Kind,
	filter RootFilter,
	axes temporal.QueryTemporalAxes,
) ([]vertex.ID, error) {
	table := ontologyTableFor(kind)

	var (
		rows *sql.Rows
		err  error
	)

	pinnedStart, pinnedEnd := axisColumns(axes.PinnedAxis())

	switch {
	case len(filter.OntologyIDs) > 0:
		baseURLs := make([]string, len(filter.OntologyIDs))
		revisions := make([]int64, len(filter.OntologyIDs))

		for i, id := range filter.OntologyIDs {
			baseURLs[i] = id.BaseURL
			revisions[i] = int64(id.Revision)
		}

		query := fmt.Sprintf(`
			SELECT v.base_url, v.revision
			FROM %s v
			JOIN unnest($1::text[], $2::bigint[]) AS req(base_url, revision)
				ON req.base_url = v.base_url AND req.revision = v.revision
			JOIN ontology_temporal_metadata tm
				ON tm.base_url = v.base_url AND tm.revision = v.revision
			WHERE tm.%s <= $3
				AND (tm.%s IS NULL OR tm.%s > $3)
		`, table, pinnedStart, pinnedEnd, pinnedEnd)
		rows, err = s.conn.QueryContext(ctx, query, pq.Array(baseURLs), pq.Array(revisions), axes.Pinned)
	case filter.BaseURLPrefix != "":
		query := fmt.Sprintf(`
			SELECT v.base_url, v.revision
			FROM %s v
			JOIN ontology_temporal_metadata tm
				ON tm.base_url = v.base_url AND tm.revision = v.revision
			WHERE v.base_url LIKE $1
				AND tm.%s <= $2
				AND (tm.%s IS NULL OR tm.%s > $2)
		`, table, pinnedStart, pinnedEnd, pinnedEnd)
		rows, err = s.conn.QueryContext(ctx, query, filter.BaseURLPrefix+"%", axes.Pinned)
	default:
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: reading %s roots: %w", ErrQueryError, kind, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []vertex.ID

	for rows.Next() {
		var (
			baseURL  string
			revision int64
		)

		if err := rows.Scan(&baseURL, &revision); err != nil {
			return nil, fmt.Errorf("%w: scanning %s root: %w", ErrQueryError, kind, err)
		}

		ids = append(ids, vertex.OntologyID{BaseURL: baseURL, Revision: uint32(revision)})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryError, err)
	}

	return ids, nil
}

func (s *PostgresStore) readEntityRoots(
	ctx context.Context,
	filter RootFilter,
	axes temporal.QueryTemporalAxes,
) ([]vertex.ID, error) {
	if len(filter.EntityIDs) == 0 {
		return nil, nil
	}

	owners := make([]string, len(filter.EntityIDs))
	entityUUIDs := make([]string, len(filter.EntityIDs))

	for i, id := range filter.EntityIDs {
		owners[i] = id.OwnerID.String()
		entityUUIDs[i] = id.EntityUUID.String()
	}

	pinnedStart, pinnedEnd := axisColumns(axes.PinnedAxis())
	variableStart, _ := axisColumns(axes.VariableAxis)

	query := fmt.Sprintf(`
		SELECT e.owner_id, e.entity_uuid, tm.%s
		FROM entity_ids e
		JOIN unnest($1::uuid[], $2::uuid[]) AS req(owner_id, entity_uuid)
			ON req.owner_id = e.owner_id AND req.entity_uuid = e.entity_uuid
		JOIN entity_temporal_metadata tm
			ON tm.owner_id = e.owner_id AND tm.entity_uuid = e.entity_uuid
		WHERE tm.%s <= $3
			AND (tm.%s IS NULL OR tm.%s > $3)
	`, variableStart, pinnedStart, pinnedEnd, pinnedEnd)

	rows, err := s.conn.QueryContext(ctx, query, pq.Array(owners), pq.Array(entityUUIDs), axes.Pinned)
	if err != nil {
		return nil, fmt.Errorf("%w: reading entity roots: %w", ErrQueryError, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []vertex.ID

	for rows.Next() {
		var (
			ownerStr, entityUUIDStr string
			axisStart               sql.NullTime
		)

		if err := rows.Scan(&ownerStr, &entityUUIDStr, &axisStart); err != nil {
			return nil, fmt.Errorf("%w: scanning entity root: %w", ErrQueryError, err)
		}

		ownerID, entityUUID, err := parseEntityRootIDs(ownerStr, entityUUIDStr)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrQueryError, err)
		}

		revisionID := int64(0)
		if axisStart.Valid {
			revisionID = axisStart.Time.UnixNano()
		}

		ids = append(ids, vertex.EntityVertexID{
			EntityID:   vertex.EntityID{OwnerID: ownerID, EntityUUID: entityUUID},
			RevisionID: revisionID,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryError, err)
	}

	return ids, nil
}

func parseEntityRootIDs(ownerStr, entityUUIDStr string) (uuid.UUID, uuid.UUID, error) {
	ownerID, err := uuid.Parse(ownerStr)
	if err != nil {
		return uuid.UUID{}, uuid.UUID{}, fmt.Errorf("parsing owner id: %w", err)
	}

	entityUUID, err := uuid.Parse(entityUUIDStr)
	if err != nil {
		return uuid.UUID{}, uuid.UUID{}, fmt.Errorf("parsing entity uuid: %w", err)
	}

	return ownerID, entityUUID, nil
}
