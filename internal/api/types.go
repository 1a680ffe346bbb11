// Package api provides HTTP API server implementation for the graphd service.
package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/vertexgraph/graphd/internal/depths"
	"github.com/vertexgraph/graphd/internal/subgraph"
	"github.com/vertexgraph/graphd/internal/temporal"
	"github.com/vertexgraph/graphd/internal/vertex"
)

// Domain vertex identifiers (vertex.OntologyID, vertex.EntityVertexID) are
// struct-keyed, and encoding/json cannot use a struct as a map key, so the
// HTTP layer flattens subgraph.Subgraph into arrays of string-keyed DTOs
// rather than serializing it directly.

type (
	// OntologyVertexResponse is the wire shape of a DataType, PropertyType,
	// or EntityType vertex.
	OntologyVertexResponse struct {
		BaseURL  string         `json:"baseUrl"`
		Revision uint32         `json:"revision"`
		Title    string         `json:"title"`
		Schema   map[string]any `json:"schema,omitempty"`
	}

	// EntityResponse is the wire shape of an Entity vertex, including the
	// revision id the engine reached it under.
	EntityResponse struct {
		OwnerID    uuid.UUID         `json:"ownerId"`
		EntityUUID uuid.UUID         `json:"entityUuid"`
		RevisionID int64             `json:"revisionId"`
		Properties map[string]any    `json:"properties,omitempty"`
		LinkData   *LinkDataResponse `json:"linkData,omitempty"`
	}

	// LinkDataResponse surfaces a link entity's endpoints.
	LinkDataResponse struct {
		LeftOwnerID     uuid.UUID `json:"leftOwnerId"`
		LeftEntityUUID  uuid.UUID `json:"leftEntityUuid"`
		RightOwnerID    uuid.UUID `json:"rightOwnerId"`
		RightEntityUUID uuid.UUID `json:"rightEntityUuid"`
	}

	// EdgeResponse is the wire shape of a resolved edge. Source and Target
	// are already rendered by vertex.ID.String(), matching subgraph.Edge.
	EdgeResponse struct {
		Source    string `json:"source"`
		Target    string `json:"target"`
		Kind      string `json:"kind"`
		Direction string `json:"direction"`
	}

	// TemporalAxesResponse reports the resolved snapshot the query ran
	// against.
	TemporalAxesResponse struct {
		Pinned       time.Time  `json:"pinned"`
		VariableAxis string     `json:"variableAxis"`
		VariableFrom time.Time  `json:"variableFrom"`
		VariableTo   *time.Time `json:"variableTo,omitempty"`
	}

	// ResolveDepthsResponse echoes the resolve-depth vector the query was
	// run with.
	ResolveDepthsResponse struct {
		DataTypeDepth     uint `json:"dataTypeDepth"`
		PropertyTypeDepth uint `json:"propertyTypeDepth"`
		EntityTypeDepth   uint `json:"entityTypeDepth"`
		EntityDepth       uint `json:"entityDepth"`
	}

	// GraphResponse is the top-level response for every graph query
	// endpoint.
	GraphResponse struct {
		DataTypes     []OntologyVertexResponse `json:"dataTypes,omitempty"`
		PropertyTypes []OntologyVertexResponse `json:"propertyTypes,omitempty"`
		EntityTypes   []OntologyVertexResponse `json:"entityTypes,omitempty"`
		Entities      []EntityResponse         `json:"entities,omitempty"`
		Edges         []EdgeResponse           `json:"edges,omitempty"`
		OntologyRoots []string                 `json:"ontologyRoots,omitempty"`
		EntityRoots   []string                 `json:"entityRoots,omitempty"`
		TemporalAxes  TemporalAxesResponse      `json:"temporalAxes"`
		ResolveDepths ResolveDepthsResponse     `json:"resolveDepths"`
	}
)

// NewGraphResponse flattens a resolved subgraph into its wire shape.
func NewGraphResponse(sg *subgraph.Subgraph) GraphResponse {
	resp := GraphResponse{
		TemporalAxes: TemporalAxesResponse{
			Pinned:       sg.TemporalAxes.Pinned,
			VariableAxis: sg.TemporalAxes.VariableAxis.String(),
			VariableFrom: sg.TemporalAxes.Variable.Start,
			VariableTo:   sg.TemporalAxes.Variable.End,
		},
		ResolveDepths: ResolveDepthsResponse{
			DataTypeDepth:     sg.ResolveDepths.DataTypeDepth,
			PropertyTypeDepth: sg.ResolveDepths.PropertyTypeDepth,
			EntityTypeDepth:   sg.ResolveDepths.EntityTypeDepth,
			EntityDepth:       sg.ResolveDepths.EntityDepth,
		},
	}

	for _, p := range sg.DataTypes {
		resp.DataTypes = append(resp.DataTypes, ontologyVertexResponse(p.ID, p.Title, p.Schema))
	}

	for _, p := range sg.PropertyTypes {
		resp.PropertyTypes = append(resp.PropertyTypes, ontologyVertexResponse(p.ID, p.Title, p.Schema))
	}

	for _, p := range sg.EntityTypes {
		resp.EntityTypes = append(resp.EntityTypes, ontologyVertexResponse(p.ID, p.Title, p.Schema))
	}

	for _, p := range sg.Entities {
		resp.Entities = append(resp.Entities, entityResponse(p))
	}

	for _, e := range sg.Edges {
		resp.Edges = append(resp.Edges, EdgeResponse{
			Source:    e.Source,
			Target:    e.Target,
			Kind:      e.Kind.String(),
			Direction: e.Direction.String(),
		})
	}

	for id := range sg.OntologyRoots {
		resp.OntologyRoots = append(resp.OntologyRoots, id.String())
	}

	for id := range sg.EntityRoots {
		resp.EntityRoots = append(resp.EntityRoots, id.String())
	}

	return resp
}

func ontologyVertexResponse(id vertex.OntologyID, title string, schema map[string]any) OntologyVertexResponse {
	return OntologyVertexResponse{
		BaseURL:  id.BaseURL,
		Revision: id.Revision,
		Title:    title,
		Schema:   schema,
	}
}

func entityResponse(p vertex.EntityPayload) EntityResponse {
	resp := EntityResponse{
		OwnerID:    p.ID.OwnerID,
		EntityUUID: p.ID.EntityUUID,
		RevisionID: p.ID.RevisionID,
		Properties: p.Properties,
	}

	if p.LinkData != nil {
		resp.LinkData = &LinkDataResponse{
			LeftOwnerID:     p.LinkData.LeftEntityID.OwnerID,
			LeftEntityUUID:  p.LinkData.LeftEntityID.EntityUUID,
			RightOwnerID:    p.LinkData.RightEntityID.OwnerID,
			RightEntityUUID: p.LinkData.RightEntityID.EntityUUID,
		}
	}

	return resp
}

type (
	// OntologyIDRequest identifies a DataType/PropertyType/EntityType root.
	OntologyIDRequest struct {
		BaseURL  string `json:"baseUrl"`
		Revision uint32 `json:"revision"`
	}

	// EntityIDRequest identifies an Entity root.
	EntityIDRequest struct {
		OwnerID    uuid.UUID `json:"ownerId"`
		EntityUUID uuid.UUID `json:"entityUuid"`
	}

	// RootFilterRequest is the JSON request shape for selecting query roots.
	RootFilterRequest struct {
		OntologyIDs   []OntologyIDRequest `json:"ontologyIds,omitempty"`
		EntityIDs     []EntityIDRequest   `json:"entityIds,omitempty"`
		BaseURLPrefix string              `json:"baseUrlPrefix,omitempty"`
	}

	// ResolveDepthsRequest is the JSON request shape of the resolve-depth
	// vector.
	ResolveDepthsRequest struct {
		DataTypeDepth     uint `json:"dataTypeDepth"`
		PropertyTypeDepth uint `json:"propertyTypeDepth"`
		EntityTypeDepth   uint `json:"entityTypeDepth"`
		EntityDepth       uint `json:"entityDepth"`
	}

	// TemporalAxesRequest is the JSON request shape of the unresolved
	// temporal query window.
	TemporalAxesRequest struct {
		VariableAxis string     `json:"variableAxis,omitempty"`
		Pinned       *time.Time `json:"pinned,omitempty"`
		VariableEnd  *time.Time `json:"variableEnd,omitempty"`
	}

	// GraphQueryRequest is the JSON request body for every graph query
	// endpoint.
	GraphQueryRequest struct {
		Roots         RootFilterRequest    `json:"roots"`
		ResolveDepths ResolveDepthsRequest `json:"resolveDepths"`
		TemporalAxes  TemporalAxesRequest  `json:"temporalAxes"`
	}
)

// ToVector converts the request shape into the engine's depths.Vector.
func (r ResolveDepthsRequest) ToVector() depths.Vector {
	return depths.Vector{
		DataTypeDepth:     r.DataTypeDepth,
		PropertyTypeDepth: r.PropertyTypeDepth,
		EntityTypeDepth:   r.EntityTypeDepth,
		EntityDepth:       r.EntityDepth,
	}
}

// ToUnresolvedAxes converts the request shape into the engine's
// temporal.UnresolvedQueryTemporalAxes. An unrecognized or empty
// VariableAxis defaults to DecisionTime.
func (r TemporalAxesRequest) ToUnresolvedAxes() temporal.UnresolvedQueryTemporalAxes {
	axis := temporal.DecisionTime
	if r.VariableAxis == "transaction_time" {
		axis = temporal.TransactionTime
	}

	return temporal.UnresolvedQueryTemporalAxes{
		VariableAxis: axis,
		Pinned:       r.Pinned,
		VariableEnd:  r.VariableEnd,
	}
}

type (
	// OntologyWriteRequest is the JSON request body for creating or
	// updating a DataType, PropertyType, or EntityType vertex.
	OntologyWriteRequest struct {
		BaseURL   string         `json:"baseUrl"`
		Revision  uint32         `json:"revision"`
		Title     string         `json:"title"`
		Schema    map[string]any `json:"schema,omitempty"`
		ValidFrom time.Time      `json:"validFrom"`
	}

	// EntityWriteRequest is the JSON request body for creating or updating
	// an Entity vertex.
	EntityWriteRequest struct {
		OwnerID      uuid.UUID         `json:"ownerId"`
		EntityUUID   uuid.UUID         `json:"entityUuid"`
		RevisionID   int64             `json:"revisionId,omitempty"`
		Properties   map[string]any    `json:"properties,omitempty"`
		LinkData     *LinkDataResponse `json:"linkData,omitempty"`
		TypeBaseURL  string            `json:"typeBaseUrl,omitempty"`
		TypeRevision uint32            `json:"typeRevision,omitempty"`
		ValidFrom    time.Time         `json:"validFrom"`
	}

	// ArchiveEntityRequest is the JSON request body for archiving an
	// entity.
	ArchiveEntityRequest struct {
		OwnerID    uuid.UUID `json:"ownerId"`
		EntityUUID uuid.UUID `json:"entityUuid"`
		ArchivedAt time.Time `json:"archivedAt"`
	}

	// WriteResultResponse acknowledges a successful write-path mutation.
	WriteResultResponse struct {
		Status string `json:"status"`
	}
)
