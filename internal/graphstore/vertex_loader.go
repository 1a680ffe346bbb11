package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vertexgraph/graphd/internal/temporal"
	"github.com/vertexgraph/graphd/internal/vertex"
)

// PostgresVertexLoader implements VertexLoader: one batched `SELECT` per
// vertex kind that joins the requested ids, passed as parallel arrays and
// expanded with `unnest`. It never issues an edge query.
type PostgresVertexLoader struct {
	db querier
}

// NewPostgresVertexLoader returns a loader backed by db.
func NewPostgresVertexLoader(db querier) *PostgresVertexLoader {
	return &PostgresVertexLoader{db: db}
}

var _ VertexLoader = (*PostgresVertexLoader)(nil)

// Load implements VertexLoader.
func (l *PostgresVertexLoader) Load(
	ctx context.Context,
	kind vertex.Kind,
	ids []vertex.ID,
	axes temporal.QueryTemporalAxes,
) ([]vertex.Payload, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	if kind.IsOntology() {
		return l.loadOntology(ctx, kind, ids, axes)
	}

	return l.loadEntities(ctx, ids, axes)
}

func (l *PostgresVertexLoader) loadOntology(
	ctx context.Context,
	kind vertex.Kind,
	ids []vertex.ID,
	axes temporal.QueryTemporalAxes,
) ([]vertex.Payload, error) {
	table := ontologyTableFor(kind)

	baseURLs := make([]string, len(ids))
	revisions := make([]int64, len(ids))

	for i, id := range ids {
		ontologyID, ok := id.(vertex.OntologyID)
		if !ok {
			return nil, fmt.Errorf("%w: vertex loader received non-ontology id for kind %s", ErrQueryError, kind)
		}

		baseURLs[i] = ontologyID.BaseURL
		revisions[i] = int64(ontologyID.Revision)
	}

	pinnedStart, pinnedEnd := axisColumns(axes.PinnedAxis())

	query := fmt.Sprintf(`
		SELECT v.base_url, v.revision, v.title, v.schema
		FROM %s v
		JOIN unnest($1::text[], $2::bigint[]) AS req(base_url, revision)
			ON req.base_url = v.base_url AND req.revision = v.revision
		JOIN ontology_temporal_metadata tm
			ON tm.base_url = v.base_url AND tm.revision = v.revision
		WHERE tm.%s <= $3
			AND (tm.%s IS NULL OR tm.%s > $3)
	`, table, pinnedStart, pinnedEnd, pinnedEnd)

	rows, err := l.db.QueryContext(ctx, query, pq.Array(baseURLs), pq.Array(revisions), axes.Pinned)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryError, err)
	}
	defer func() { _ = rows.Close() }()

	var payloads []vertex.Payload

	for rows.Next() {
		var (
			baseURL  string
			revision int64
			title    string
			schema   []byte
		)

		if err := rows.Scan(&baseURL, &revision, &title, &schema); err != nil {
			return nil, fmt.Errorf("%w: scanning %s row: %w", ErrQueryError, kind, err)
		}

		var decoded map[string]any
		if len(schema) > 0 {
			if err := json.Unmarshal(schema, &decoded); err != nil {
				return nil, fmt.Errorf("%w: decoding %s schema: %w", ErrQueryError, kind, err)
			}
		}

		id := vertex.OntologyID{BaseURL: baseURL, Revision: uint32(revision)}

		switch kind {
		case vertex.KindDataType:
			payloads = append(payloads, vertex.DataTypePayload{ID: id, Title: title, Schema: decoded})
		case vertex.KindPropertyType:
			payloads = append(payloads, vertex.PropertyTypePayload{ID: id, Title: title, Schema: decoded})
		default:
			payloads = append(payloads, vertex.EntityTypePayload{ID: id, Title: title, Schema: decoded})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryError, err)
	}

	return payloads, nil
}

func (l *PostgresVertexLoader) loadEntities(
	ctx context.Context,
	ids []vertex.ID,
	axes temporal.QueryTemporalAxes,
) ([]vertex.Payload, error) {
	owners := make([]string, len(ids))
	entityUUIDs := make([]string, len(ids))

	for i, id := range ids {
		entityID, ok := id.(vertex.EntityVertexID)
		if !ok {
			return nil, fmt.Errorf("%w: vertex loader received non-entity id for kind entity", ErrQueryError)
		}

		owners[i] = entityID.OwnerID.String()
		entityUUIDs[i] = entityID.EntityUUID.String()
	}

	pinnedStart, pinnedEnd := axisColumns(axes.PinnedAxis())
	variableStart, _ := axisColumns(axes.VariableAxis)

	query := fmt.Sprintf(`
		SELECT e.owner_id, e.entity_uuid, e.properties,
			e.left_owner_id, e.left_entity_uuid, e.right_owner_id, e.right_entity_uuid,
			tm.%s
		FROM entity_ids e
		JOIN unnest($1::uuid[], $2::uuid[]) AS req(owner_id, entity_uuid)
			ON req.owner_id = e.owner_id AND req.entity_uuid = e.entity_uuid
		JOIN entity_temporal_metadata tm
			ON tm.owner_id = e.owner_id AND tm.entity_uuid = e.entity_uuid
		WHERE tm.%s <= $3
			AND (tm.%s IS NULL OR tm.%s > $3)
	`, variableStart, pinnedStart, pinnedEnd, pinnedEnd)

	rows, err := l.db.QueryContext(ctx, query, pq.Array(owners), pq.Array(entityUUIDs), axes.Pinned)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryError, err)
	}
	defer func() { _ = rows.Close() }()

	var payloads []vertex.Payload

	for rows.Next() {
		var (
			ownerStr, entityUUIDStr string
			properties              []byte
			leftOwner, leftUUID     sql.NullString
			rightOwner, rightUUID   sql.NullString
			axisStart               sql.NullTime
		)

		if err := rows.Scan(&ownerStr, &entityUUIDStr, &properties,
			&leftOwner, &leftUUID, &rightOwner, &rightUUID, &axisStart); err != nil {
			return nil, fmt.Errorf("%w: scanning entity row: %w", ErrQueryError, err)
		}

		ownerID, err := uuid.Parse(ownerStr)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing owner id: %w", ErrQueryError, err)
		}

		entityUUID, err := uuid.Parse(entityUUIDStr)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing entity uuid: %w", ErrQueryError, err)
		}

		var decodedProps map[string]any
		if len(properties) > 0 {
			if err := json.Unmarshal(properties, &decodedProps); err != nil {
				return nil, fmt.Errorf("%w: decoding entity properties: %w", ErrQueryError, err)
			}
		}

		revisionID := int64(0)
		if axisStart.Valid {
			revisionID = axisStart.Time.UnixNano()
		}

		payload := vertex.EntityPayload{
			ID: vertex.EntityVertexID{
				EntityID:   vertex.EntityID{OwnerID: ownerID, EntityUUID: entityUUID},
				RevisionID: revisionID,
			},
			Properties: decodedProps,
			LinkData:   linkDataFrom(leftOwner, leftUUID, rightOwner, rightUUID),
		}

		payloads = append(payloads, payload)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryError, err)
	}

	return payloads, nil
}

func linkDataFrom(leftOwner, leftUUID, rightOwner, rightUUID sql.NullString) *vertex.LinkData {
	if !leftOwner.Valid || !leftUUID.Valid || !rightOwner.Valid || !rightUUID.Valid {
		return nil
	}

	left, err := uuid.Parse(leftOwner.String)
	if err != nil {
		return nil
	}

	leftEntity, err := uuid.Parse(leftUUID.String)
	if err != nil {
		return nil
	}

	right, err := uuid.Parse(rightOwner.String)
	if err != nil {
		return nil
	}

	rightEntity, err := uuid.Parse(rightUUID.String)
	if err != nil {
		return nil
	}

	return &vertex.LinkData{
		LeftEntityID:  vertex.EntityID{OwnerID: left, EntityUUID: leftEntity},
		RightEntityID: vertex.EntityID{OwnerID: right, EntityUUID: rightEntity},
	}
}

func ontologyTableFor(kind vertex.Kind) string {
	switch kind {
	case vertex.KindDataType:
		return "data_types"
	case vertex.KindPropertyType:
		return "property_types"
	default:
		return "entity_types"
	}
}
