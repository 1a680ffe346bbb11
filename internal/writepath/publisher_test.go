package writepath

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexgraph/graphd/internal/vertex"
)

type recordingPublisher struct {
	events   []MutationEvent
	failNext bool
}

func (p *recordingPublisher) Publish(_ context.Context, event MutationEvent) error {
	if p.failNext {
		p.failNext = false

		return errors.New("downstream unavailable")
	}

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestManagerPublishNilPublisherIsNoOp(t *testing.T) {
	m := &Manager{logger: slog.Default()}

	// Neither call should panic despite publisher being nil.
	m.publishOntologyMutation(context.Background(), "create", vertex.KindEntityType, vertex.OntologyID{BaseURL: "https://example.com/types/foo/"})
	m.publishEntityMutation(context.Background(), "create", vertex.EntityVertexID{})
}

func TestManagerPublishOntologyMutation(t *testing.T) {
	publisher := &recordingPublisher{}
	m := &Manager{logger: slog.Default(), publisher: publisher}

	id := vertex.OntologyID{BaseURL: "https://example.com/types/widget/", Revision: 3}
	m.publishOntologyMutation(context.Background(), "update", vertex.KindPropertyType, id)

	require.Len(t, publisher.events, 1)
	got := publisher.events[0]
	assert.Equal(t, "update", got.Operation)
	assert.Equal(t, vertex.KindPropertyType.String(), got.Kind)
	assert.Equal(t, id.BaseURL, got.BaseURL)
	assert.Equal(t, id.Revision, got.Revision)
	assert.WithinDuration(t, time.Now(), got.OccurredAt, time.Minute)
}

func TestManagerPublishEntityMutation(t *testing.T) {
	publisher := &recordingPublisher{}
	m := &Manager{logger: slog.Default(), publisher: publisher}

	owner := uuid.New()
	entityUUID := uuid.New()
	id := vertex.EntityVertexID{
		EntityID:   vertex.EntityID{OwnerID: owner, EntityUUID: entityUUID},
		RevisionID: 42,
	}

	m.publishEntityMutation(context.Background(), "archive", id)

	require.Len(t, publisher.events, 1)
	got := publisher.events[0]
	assert.Equal(t, "archive", got.Operation)
	assert.Equal(t, vertex.KindEntity.String(), got.Kind)
	assert.Equal(t, owner, got.OwnerID)
	assert.Equal(t, entityUUID, got.EntityUUID)
	assert.Equal(t, int64(42), got.RevisionID)
}

func TestManagerPublishLogsButDoesNotFailOnPublisherError(t *testing.T) {
	publisher := &recordingPublisher{failNext: true}
	m := &Manager{logger: slog.Default(), publisher: publisher}

	// publish has no return value: a downstream failure must never
	// propagate to the caller of a write-path mutation.
	assert.NotPanics(t, func() {
		m.publishEntityMutation(context.Background(), "create", vertex.EntityVertexID{})
	})
	assert.Empty(t, publisher.events)
}

func TestWithPublisherChains(t *testing.T) {
	m := &Manager{logger: slog.Default()}
	publisher := &recordingPublisher{}

	returned := m.WithPublisher(publisher)

	assert.Same(t, m, returned)
	assert.Same(t, publisher, m.publisher)
}

func TestKindForTable(t *testing.T) {
	tests := []struct {
		table string
		want  vertex.Kind
	}{
		{"entity_types", vertex.KindEntityType},
		{"property_types", vertex.KindPropertyType},
		{"data_types", vertex.KindDataType},
	}

	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			assert.Equal(t, tt.want, kindForTable(tt.table))
		})
	}
}
