// Package writepath implements the create/update/archive transactional
// primitives for the four vertex kinds, adapted from the teacher's
// internal/ingestion write interface and internal/storage transaction
// pattern (per-operation *sql.Tx, deferred rollback, sentinel error
// wrapping). Unlike ingestion's idempotency-by-replay design, the graph
// write path distinguishes conflicts by a version-consistency check (spec
// §4.7) rather than an idempotency-key table, since ontology and entity
// revisions are themselves the append-only audit trail.
package writepath

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/vertexgraph/graphd/internal/storage"
	"github.com/vertexgraph/graphd/internal/temporal"
	"github.com/vertexgraph/graphd/internal/vertex"
)

// Manager implements the write-path primitives over a *storage.Connection.
// One Manager is shared across requests; every method opens and commits its
// own transaction.
type Manager struct {
	conn      *storage.Connection
	logger    *slog.Logger
	publisher Publisher
}

// NewManager returns a Manager backed by conn. A nil logger defaults to
// slog.Default(), matching the teacher's LineageStore construction idiom.
// The returned Manager publishes no change-notification events; use
// WithPublisher to attach one.
func NewManager(conn *storage.Connection, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{conn: conn, logger: logger}
}

// WithPublisher attaches a change-notification Publisher to m and returns m
// for chaining. A nil publisher (the default) makes every mutation a no-op
// on the publish side.
func (m *Manager) WithPublisher(publisher Publisher) *Manager {
	m.publisher = publisher

	return m
}

// CreateEntityType inserts a new EntityType ontology vertex effective over
// validFrom.
func (m *Manager) CreateEntityType(ctx context.Context, payload vertex.EntityTypePayload, validFrom temporal.Interval) error {
	return m.createOntology(ctx, "create", "entity_types", payload.ID, payload.Title, payload.Schema, validFrom)
}

// CreatePropertyType inserts a new PropertyType ontology vertex.
func (m *Manager) CreatePropertyType(ctx context.Context, payload vertex.PropertyTypePayload, validFrom temporal.Interval) error {
	return m.createOntology(ctx, "create", "property_types", payload.ID, payload.Title, payload.Schema, validFrom)
}

// CreateDataType inserts a new DataType ontology vertex.
func (m *Manager) CreateDataType(ctx context.Context, payload vertex.DataTypePayload, validFrom temporal.Interval) error {
	return m.createOntology(ctx, "create", "data_types", payload.ID, payload.Title, payload.Schema, validFrom)
}

// CreateEntityTypes inserts a batch of EntityType vertices, one transaction
// per row. The first failing row stops the batch and its error is returned;
// rows inserted before it stay committed.
func (m *Manager) CreateEntityTypes(ctx context.Context, payloads []vertex.EntityTypePayload, validFrom temporal.Interval) error {
	for _, payload := range payloads {
		if err := m.CreateEntityType(ctx, payload, validFrom); err != nil {
			return err
		}
	}

	return nil
}

// CreatePropertyTypes inserts a batch of PropertyType vertices.
func (m *Manager) CreatePropertyTypes(ctx context.Context, payloads []vertex.PropertyTypePayload, validFrom temporal.Interval) error {
	for _, payload := range payloads {
		if err := m.CreatePropertyType(ctx, payload, validFrom); err != nil {
			return err
		}
	}

	return nil
}

// CreateDataTypes inserts a batch of DataType vertices.
func (m *Manager) CreateDataTypes(ctx context.Context, payloads []vertex.DataTypePayload, validFrom temporal.Interval) error {
	for _, payload := range payloads {
		if err := m.CreateDataType(ctx, payload, validFrom); err != nil {
			return err
		}
	}

	return nil
}

// UpdateEntityType registers a new revision of an existing EntityType: the
// base URL must already be registered (ErrBaseURLDoesNotExist otherwise),
// and the new revision number must not already exist
// (ErrVersionedURLAlreadyExists otherwise).
func (m *Manager) UpdateEntityType(ctx context.Context, payload vertex.EntityTypePayload, validFrom temporal.Interval) error {
	return m.updateOntology(ctx, "entity_types", payload.ID, payload.Title, payload.Schema, validFrom)
}

// UpdatePropertyType registers a new revision of an existing PropertyType.
func (m *Manager) UpdatePropertyType(ctx context.Context, payload vertex.PropertyTypePayload, validFrom temporal.Interval) error {
	return m.updateOntology(ctx, "property_types", payload.ID, payload.Title, payload.Schema, validFrom)
}

// UpdateDataType registers a new revision of an existing DataType.
func (m *Manager) UpdateDataType(ctx context.Context, payload vertex.DataTypePayload, validFrom temporal.Interval) error {
	return m.updateOntology(ctx, "data_types", payload.ID, payload.Title, payload.Schema, validFrom)
}

func (m *Manager) updateOntology(
	ctx context.Context,
	table string,
	id vertex.OntologyID,
	title string,
	schema map[string]any,
	validFrom temporal.Interval,
) error {
	var exists bool
	if err := m.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ontology_ids WHERE base_url = $1)`, id.BaseURL,
	).Scan(&exists); err != nil {
		return fmt.Errorf("%w: checking base url: %w", ErrUpdateError, err)
	}

	if !exists {
		return ErrBaseURLDoesNotExist
	}

	if err := m.createOntology(ctx, "update", table, id, title, schema, validFrom); err != nil {
		if errors.Is(err, ErrVersionedURLAlreadyExists) {
			return err
		}

		return fmt.Errorf("%w: %w", ErrUpdateError, err)
	}

	return nil
}

func (m *Manager) createOntology(
	ctx context.Context,
	operation string,
	table string,
	id vertex.OntologyID,
	title string,
	schema map[string]any,
	validFrom temporal.Interval,
) error {
	encodedSchema, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("%w: encoding schema: %w", ErrInsertionError, err)
	}

	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", ErrInsertionError, err)
	}

	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ontology_ids WHERE base_url = $1)`,
		id.BaseURL,
	).Scan(&exists); err != nil {
		return fmt.Errorf("%w: checking base url: %w", ErrInsertionError, err)
	}

	if !exists {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ontology_ids (base_url) VALUES ($1)`, id.BaseURL,
		); err != nil {
			return fmt.Errorf("%w: registering base url: %w", ErrInsertionError, err)
		}
	}

	insertQuery := fmt.Sprintf(
		`INSERT INTO %s (base_url, revision, title, schema) VALUES ($1, $2, $3, $4)`, table,
	)
	if _, err := tx.ExecContext(ctx, insertQuery, id.BaseURL, id.Revision, title, encodedSchema); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/v/%d: %w", ErrVersionedURLAlreadyExists, id.BaseURL, id.Revision, err)
		}

		return fmt.Errorf("%w: %w", ErrInsertionError, err)
	}

	recordedAt := time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ontology_temporal_metadata
			(base_url, revision, decision_time_start, decision_time_end, transaction_time_start, transaction_time_end)
		 VALUES ($1, $2, $3, $4, $5, NULL)`,
		id.BaseURL, id.Revision, validFrom.Start, validFrom.End, recordedAt,
	); err != nil {
		return fmt.Errorf("%w: recording temporal metadata: %w", ErrInsertionError, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing: %w", ErrInsertionError, err)
	}

	m.logger.Info("created ontology vertex", slog.String("table", table), slog.String("id", id.String()))
	m.publishOntologyMutation(ctx, operation, kindForTable(table), id)

	return nil
}

// CreateEntity inserts a new Entity vertex, optionally carrying link data
// (spec §4.7's knowledge-graph link entity shape).
func (m *Manager) CreateEntity(ctx context.Context, payload vertex.EntityPayload, typeID vertex.OntologyID, validFrom temporal.Interval) error {
	encodedProps, err := json.Marshal(payload.Properties)
	if err != nil {
		return fmt.Errorf("%w: encoding properties: %w", ErrInsertionError, err)
	}

	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", ErrInsertionError, err)
	}

	defer func() { _ = tx.Rollback() }()

	owner := payload.ID.OwnerID
	entityUUID := payload.ID.EntityUUID

	var leftOwner, leftUUID, rightOwner, rightUUID any
	if payload.LinkData != nil {
		leftOwner = payload.LinkData.LeftEntityID.OwnerID
		leftUUID = payload.LinkData.LeftEntityID.EntityUUID
		rightOwner = payload.LinkData.RightEntityID.OwnerID
		rightUUID = payload.LinkData.RightEntityID.EntityUUID
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entity_ids
			(owner_id, entity_uuid, properties, left_owner_id, left_entity_uuid, right_owner_id, right_entity_uuid)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		owner, entityUUID, encodedProps, leftOwner, leftUUID, rightOwner, rightUUID,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s: %w", ErrVersionedURLAlreadyExists, payload.ID.EntityID.String(), err)
		}

		return fmt.Errorf("%w: %w", ErrInsertionError, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entity_temporal_metadata
			(owner_id, entity_uuid, decision_time_start, decision_time_end, transaction_time_start, transaction_time_end)
		 VALUES ($1, $2, $3, $4, $5, NULL)`,
		owner, entityUUID, validFrom.Start, validFrom.End, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("%w: recording temporal metadata: %w", ErrInsertionError, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entity_is_of_type (owner_id, entity_uuid, entity_type_base_url, entity_type_revision)
		 VALUES ($1, $2, $3, $4)`,
		owner, entityUUID, typeID.BaseURL, typeID.Revision,
	); err != nil {
		return fmt.Errorf("%w: recording entity type: %w", ErrInsertionError, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing: %w", ErrInsertionError, err)
	}

	m.logger.Info("created entity", slog.String("id", payload.ID.EntityID.String()))
	m.publishEntityMutation(ctx, "create", payload.ID)

	return nil
}

// UpdateEntity closes out the entity's current decision-time window and
// inserts a new revision, guarded by a version-consistency check: the
// UPDATE that closes the prior window is scoped to
// `decision_time_end IS NULL AND decision_time_start = $expectedRevisionStart`,
// so a concurrent writer racing the same update affects zero rows and the
// caller observes ErrRaceConditionOnUpdate (spec §4.7, §8 scenario S6).
func (m *Manager) UpdateEntity(
	ctx context.Context,
	current vertex.EntityVertexID,
	payload vertex.EntityPayload,
	newValidFrom temporal.Interval,
) error {
	id := current.EntityID
	expectedRevisionStart := time.Unix(0, current.RevisionID).UTC()
	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", ErrUpdateError, err)
	}

	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM entity_ids WHERE owner_id = $1 AND entity_uuid = $2)`,
		id.OwnerID, id.EntityUUID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("%w: checking existence: %w", ErrUpdateError, err)
	}

	if !exists {
		return ErrEntityDoesNotExist
	}

	supersededAt := time.Now().UTC()

	result, err := tx.ExecContext(ctx,
		`UPDATE entity_temporal_metadata
		 SET decision_time_end = $1, transaction_time_end = $2
		 WHERE owner_id = $3 AND entity_uuid = $4
			AND decision_time_end IS NULL
			AND decision_time_start = $5`,
		newValidFrom.Start, supersededAt, id.OwnerID, id.EntityUUID, expectedRevisionStart,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdateError, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: reading affected rows: %w", ErrUpdateError, err)
	}

	if affected == 0 {
		return ErrRaceConditionOnUpdate
	}

	encodedProps, err := json.Marshal(payload.Properties)
	if err != nil {
		return fmt.Errorf("%w: encoding properties: %w", ErrUpdateError, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE entity_ids SET properties = $1 WHERE owner_id = $2 AND entity_uuid = $3`,
		encodedProps, id.OwnerID, id.EntityUUID,
	); err != nil {
		return fmt.Errorf("%w: updating properties: %w", ErrUpdateError, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entity_temporal_metadata
			(owner_id, entity_uuid, decision_time_start, decision_time_end, transaction_time_start, transaction_time_end)
		 VALUES ($1, $2, $3, $4, $5, NULL)`,
		id.OwnerID, id.EntityUUID, newValidFrom.Start, newValidFrom.End, supersededAt,
	); err != nil {
		return fmt.Errorf("%w: recording new revision: %w", ErrUpdateError, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing: %w", ErrUpdateError, err)
	}

	m.logger.Info("updated entity", slog.String("id", id.String()))
	m.publishEntityMutation(ctx, "update", vertex.EntityVertexID{
		EntityID:   id,
		RevisionID: newValidFrom.Start.UnixNano(),
	})

	return nil
}

// ArchiveEntity closes the entity's decision-time window with no successor
// revision, the graph store's soft-delete (spec SUPPLEMENTED FEATURES:
// archival was dropped from the distilled spec but the original source
// supports it; modeled here the way UpdateEntity closes a window, without
// inserting a new one).
func (m *Manager) ArchiveEntity(ctx context.Context, id vertex.EntityID, at temporal.Interval) error {
	result, err := m.conn.ExecContext(ctx,
		`UPDATE entity_temporal_metadata
		 SET decision_time_end = $1, transaction_time_end = $2
		 WHERE owner_id = $3 AND entity_uuid = $4 AND decision_time_end IS NULL`,
		at.Start, time.Now().UTC(), id.OwnerID, id.EntityUUID,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDeletionError, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: reading affected rows: %w", ErrDeletionError, err)
	}

	if affected == 0 {
		return ErrEntityDoesNotExist
	}

	m.logger.Info("archived entity", slog.String("id", id.String()))
	m.publishEntityMutation(ctx, "archive", vertex.EntityVertexID{
		EntityID:   id,
		RevisionID: at.Start.UnixNano(),
	})

	return nil
}

func kindForTable(table string) vertex.Kind {
	switch table {
	case "property_types":
		return vertex.KindPropertyType
	case "data_types":
		return vertex.KindDataType
	default:
		return vertex.KindEntityType
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	return false
}
