package vertex

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEdgeKind_TargetKind(t *testing.T) {
	tests := []struct {
		name string
		kind EdgeKind
		want Kind
	}{
		{"InheritsFrom targets EntityType", InheritsFrom, KindEntityType},
		{"ConstrainsLinksOn targets EntityType", ConstrainsLinksOn, KindEntityType},
		{"ConstrainsLinkDestinationsOn targets EntityType", ConstrainsLinkDestinationsOn, KindEntityType},
		{"IsOfType targets EntityType", IsOfType, KindEntityType},
		{"ConstrainsPropertiesOn targets PropertyType", ConstrainsPropertiesOn, KindPropertyType},
		{"ConstrainsValuesOn targets DataType", ConstrainsValuesOn, KindDataType},
		{"HasLeftEntity targets Entity", HasLeftEntity, KindEntity},
		{"HasRightEntity targets Entity", HasRightEntity, KindEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.TargetKind())
		})
	}
}

func TestEdgeKind_IsKnowledgeGraphEdge(t *testing.T) {
	assert.True(t, HasLeftEntity.IsKnowledgeGraphEdge())
	assert.True(t, HasRightEntity.IsKnowledgeGraphEdge())
	assert.False(t, IsOfType.IsKnowledgeGraphEdge())
	assert.False(t, InheritsFrom.IsKnowledgeGraphEdge())
}

func TestKind_IsOntology(t *testing.T) {
	assert.True(t, KindDataType.IsOntology())
	assert.True(t, KindPropertyType.IsOntology())
	assert.True(t, KindEntityType.IsOntology())
	assert.False(t, KindEntity.IsOntology())
}

func TestOntologyID_String(t *testing.T) {
	id := OntologyID{BaseURL: "https://example.com/types/foo", Revision: 3}
	assert.Equal(t, "https://example.com/types/foo/v/3", id.String())
}

func TestEntityVertexID_AsMapKey(t *testing.T) {
	owner := uuid.New()
	entityUUID := uuid.New()

	a := EntityVertexID{EntityID: EntityID{OwnerID: owner, EntityUUID: entityUUID}, RevisionID: 100}
	b := EntityVertexID{EntityID: EntityID{OwnerID: owner, EntityUUID: entityUUID}, RevisionID: 100}
	c := EntityVertexID{EntityID: EntityID{OwnerID: owner, EntityUUID: entityUUID}, RevisionID: 200}

	seen := map[EntityVertexID]bool{a: true}

	assert.True(t, seen[b])
	assert.False(t, seen[c])
}

func TestPayload_SealedSet(t *testing.T) {
	var payloads []Payload = []Payload{
		DataTypePayload{},
		PropertyTypePayload{},
		EntityTypePayload{},
		EntityPayload{},
	}

	kinds := make([]Kind, 0, len(payloads))
	for _, p := range payloads {
		kinds = append(kinds, p.Kind())
	}

	assert.Equal(t, []Kind{KindDataType, KindPropertyType, KindEntityType, KindEntity}, kinds)
}
