// Package api provides HTTP API server implementation for the graphd service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vertexgraph/graphd/internal/api/middleware"
	"github.com/vertexgraph/graphd/internal/graphstore"
	"github.com/vertexgraph/graphd/internal/subgraph"
	"github.com/vertexgraph/graphd/internal/temporal"
	"github.com/vertexgraph/graphd/internal/vertex"
)

const (
	healthCheckTimeout = 2 * time.Second
	expectedURLParts   = 2
)

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	// Used for declarative route registration with middleware bypass support.
	Route struct {
		Path    string           // The URL path for this route (e.g., "/ping", "/api/v1/health")
		Handler http.HandlerFunc // The HTTP handler function for this route
	}
)

// setupRoutes registers all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public health endpoints
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},     // K8s liveness probe
		Route{"GET /ready", s.handleReady},   // K8s readiness probe
		Route{"GET /health", s.handleHealth}, // Basic health check - status, uptime, version
		Route{"/", s.handleNotFound},         // Catch-all handler for 404 responses
	)

	// Graph query endpoints, one per vertex kind the traversal engine can
	// root a query at.
	mux.HandleFunc("POST /api/v1/graph/data-types", s.handleQuery(vertex.KindDataType))
	mux.HandleFunc("POST /api/v1/graph/property-types", s.handleQuery(vertex.KindPropertyType))
	mux.HandleFunc("POST /api/v1/graph/entity-types", s.handleQuery(vertex.KindEntityType))
	mux.HandleFunc("POST /api/v1/graph/entities", s.handleQuery(vertex.KindEntity))

	// Ontology write-path endpoints.
	mux.HandleFunc("POST /api/v1/data-types", s.handleCreateDataType)
	mux.HandleFunc("PUT /api/v1/data-types", s.handleUpdateDataType)
	mux.HandleFunc("POST /api/v1/property-types", s.handleCreatePropertyType)
	mux.HandleFunc("PUT /api/v1/property-types", s.handleUpdatePropertyType)
	mux.HandleFunc("POST /api/v1/entity-types", s.handleCreateEntityType)
	mux.HandleFunc("PUT /api/v1/entity-types", s.handleUpdateEntityType)

	// Entity write-path endpoints.
	mux.HandleFunc("POST /api/v1/entities", s.handleCreateEntity)
	mux.HandleFunc("PUT /api/v1/entities", s.handleUpdateEntity)
	mux.HandleFunc("POST /api/v1/entities/archive", s.handleArchiveEntity)
}

// registerPublicRoutes registers HTTP routes that bypass authentication and rate limiting.
// This is a convenience method that:
//  1. Registers the route handler with the HTTP mux
//  2. Automatically registers the path as a public endpoint (bypasses auth middleware)
//
// Public routes should only be used for health check endpoints that need to be accessible
// without authentication (e.g., K8s liveness/readiness probes, monitoring tools).
//
// Security Warning: Never register business logic endpoints as public routes.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	validHTTPMethods := map[string]bool{
		"GET":    true,
		"POST":   true,
		"PUT":    true,
		"PATCH":  true,
		"DELETE": true,
	}

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		// Strip method prefix for public endpoint bypass registration
		// Go 1.22+ method-based routing uses "GET /path" format
		// But r.URL.Path is just "/path" (no method prefix)
		path := route.Path

		parts := strings.Fields(path)
		if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
			path = strings.TrimSpace(parts[1])
		}

		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleReady responds to Kubernetes readiness probes with storage backend health checks.
//
// Response codes:
//   - 200 OK: All storage backends are healthy and ready to accept traffic
//   - 503 Service Unavailable: Storage backend is unhealthy or unreachable
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if s.apiKeyStore == nil { // pragma: allowlist secret
		s.logger.Warn("API key store not configured - readiness check disabled",
			slog.String("correlation_id", correlationID),
		)
		writePlainText(w, s.logger, http.StatusOK, "ready")

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.apiKeyStore.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		writePlainText(w, s.logger, http.StatusServiceUnavailable, "storage unavailable")

		return
	}

	writePlainText(w, s.logger, http.StatusOK, "ready")
}

// handleHealth returns detailed health status information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	var uptime string

	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	health := HealthStatus{
		Status:      "healthy",
		ServiceName: "graphd",
		Version:     "v1.0.0",
		Uptime:      uptime,
	}

	data, err := json.Marshal(health)
	if err != nil {
		s.logger.Error("Failed to encode health response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode health response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write health response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// handleQuery returns a handler that resolves a bounded-depth subgraph query
// rooted at the given vertex kind.
func (s *Server) handleQuery(kind vertex.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GraphQueryRequest
		if !s.decodeJSON(w, r, &req) {
			return
		}

		filter := toRootFilter(req.Roots)
		axes := req.TemporalAxes.ToUnresolvedAxes()
		resolveDepths := req.ResolveDepths.ToVector()

		var (
			sg  *subgraph.Subgraph
			err error
		)

		switch kind {
		case vertex.KindDataType:
			sg, err = s.queryer.ResolveDataType(r.Context(), filter, resolveDepths, axes)
		case vertex.KindPropertyType:
			sg, err = s.queryer.ResolvePropertyType(r.Context(), filter, resolveDepths, axes)
		case vertex.KindEntityType:
			sg, err = s.queryer.ResolveEntityType(r.Context(), filter, resolveDepths, axes)
		case vertex.KindEntity:
			sg, err = s.queryer.ResolveEntity(r.Context(), filter, resolveDepths, axes)
		}

		if err != nil {
			s.logger.Error("Graph query failed",
				slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
				slog.String("kind", kind.String()),
				slog.String("error", err.Error()),
			)
			WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

			return
		}

		s.writeJSON(w, r, http.StatusOK, NewGraphResponse(sg))
	}
}

func toRootFilter(req RootFilterRequest) graphstore.RootFilter {
	filter := graphstore.RootFilter{BaseURLPrefix: req.BaseURLPrefix}

	for _, id := range req.OntologyIDs {
		filter.OntologyIDs = append(filter.OntologyIDs, vertex.OntologyID{BaseURL: id.BaseURL, Revision: id.Revision})
	}

	for _, id := range req.EntityIDs {
		filter.EntityIDs = append(filter.EntityIDs, vertex.EntityID{OwnerID: id.OwnerID, EntityUUID: id.EntityUUID})
	}

	return filter
}

// handleCreateDataType creates a new DataType vertex at revision 1.
func (s *Server) handleCreateDataType(w http.ResponseWriter, r *http.Request) {
	var req OntologyWriteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	payload := vertex.DataTypePayload{
		ID:     vertex.OntologyID{BaseURL: req.BaseURL, Revision: req.Revision},
		Title:  req.Title,
		Schema: req.Schema,
	}

	if !s.runWrite(w, r, func() error {
		return s.writer.CreateDataType(r.Context(), payload, validFromInterval(req.ValidFrom))
	}) {
		return
	}

	s.writeJSON(w, r, http.StatusCreated, WriteResultResponse{Status: "created"})
}

// handleUpdateDataType registers a new revision of an existing DataType.
func (s *Server) handleUpdateDataType(w http.ResponseWriter, r *http.Request) {
	var req OntologyWriteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	payload := vertex.DataTypePayload{
		ID:     vertex.OntologyID{BaseURL: req.BaseURL, Revision: req.Revision},
		Title:  req.Title,
		Schema: req.Schema,
	}

	if !s.runWrite(w, r, func() error {
		return s.writer.UpdateDataType(r.Context(), payload, validFromInterval(req.ValidFrom))
	}) {
		return
	}

	s.writeJSON(w, r, http.StatusOK, WriteResultResponse{Status: "updated"})
}

// handleCreatePropertyType creates a new PropertyType vertex at revision 1.
func (s *Server) handleCreatePropertyType(w http.ResponseWriter, r *http.Request) {
	var req OntologyWriteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	payload := vertex.PropertyTypePayload{
		ID:     vertex.OntologyID{BaseURL: req.BaseURL, Revision: req.Revision},
		Title:  req.Title,
		Schema: req.Schema,
	}

	if !s.runWrite(w, r, func() error {
		return s.writer.CreatePropertyType(r.Context(), payload, validFromInterval(req.ValidFrom))
	}) {
		return
	}

	s.writeJSON(w, r, http.StatusCreated, WriteResultResponse{Status: "created"})
}

// handleUpdatePropertyType registers a new revision of an existing PropertyType.
func (s *Server) handleUpdatePropertyType(w http.ResponseWriter, r *http.Request) {
	var req OntologyWriteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	payload := vertex.PropertyTypePayload{
		ID:     vertex.OntologyID{BaseURL: req.BaseURL, Revision: req.Revision},
		Title:  req.Title,
		Schema: req.Schema,
	}

	if !s.runWrite(w, r, func() error {
		return s.writer.UpdatePropertyType(r.Context(), payload, validFromInterval(req.ValidFrom))
	}) {
		return
	}

	s.writeJSON(w, r, http.StatusOK, WriteResultResponse{Status: "updated"})
}

// handleCreateEntityType creates a new EntityType vertex at revision 1.
func (s *Server) handleCreateEntityType(w http.ResponseWriter, r *http.Request) {
	var req OntologyWriteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	payload := vertex.EntityTypePayload{
		ID:     vertex.OntologyID{BaseURL: req.BaseURL, Revision: req.Revision},
		Title:  req.Title,
		Schema: req.Schema,
	}

	if !s.runWrite(w, r, func() error {
		return s.writer.CreateEntityType(r.Context(), payload, validFromInterval(req.ValidFrom))
	}) {
		return
	}

	s.writeJSON(w, r, http.StatusCreated, WriteResultResponse{Status: "created"})
}

// handleUpdateEntityType registers a new revision of an existing EntityType.
func (s *Server) handleUpdateEntityType(w http.ResponseWriter, r *http.Request) {
	var req OntologyWriteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	payload := vertex.EntityTypePayload{
		ID:     vertex.OntologyID{BaseURL: req.BaseURL, Revision: req.Revision},
		Title:  req.Title,
		Schema: req.Schema,
	}

	if !s.runWrite(w, r, func() error {
		return s.writer.UpdateEntityType(r.Context(), payload, validFromInterval(req.ValidFrom))
	}) {
		return
	}

	s.writeJSON(w, r, http.StatusOK, WriteResultResponse{Status: "updated"})
}

// handleCreateEntity creates a new Entity vertex.
func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var req EntityWriteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	payload := entityWritePayload(req)
	typeID := vertex.OntologyID{BaseURL: req.TypeBaseURL, Revision: req.TypeRevision}

	if !s.runWrite(w, r, func() error {
		return s.writer.CreateEntity(r.Context(), payload, typeID, validFromInterval(req.ValidFrom))
	}) {
		return
	}

	s.writeJSON(w, r, http.StatusCreated, WriteResultResponse{Status: "created"})
}

// handleUpdateEntity registers a new revision of an existing Entity.
func (s *Server) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	var req EntityWriteRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	payload := entityWritePayload(req)
	current := vertex.EntityVertexID{
		EntityID:   vertex.EntityID{OwnerID: req.OwnerID, EntityUUID: req.EntityUUID},
		RevisionID: req.RevisionID,
	}

	if !s.runWrite(w, r, func() error {
		return s.writer.UpdateEntity(r.Context(), current, payload, validFromInterval(req.ValidFrom))
	}) {
		return
	}

	s.writeJSON(w, r, http.StatusOK, WriteResultResponse{Status: "updated"})
}

// handleArchiveEntity closes out an entity's variable interval.
func (s *Server) handleArchiveEntity(w http.ResponseWriter, r *http.Request) {
	var req ArchiveEntityRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	id := vertex.EntityID{OwnerID: req.OwnerID, EntityUUID: req.EntityUUID}

	if !s.runWrite(w, r, func() error {
		return s.writer.ArchiveEntity(r.Context(), id, validFromInterval(req.ArchivedAt))
	}) {
		return
	}

	s.writeJSON(w, r, http.StatusOK, WriteResultResponse{Status: "archived"})
}

func entityWritePayload(req EntityWriteRequest) vertex.EntityPayload {
	payload := vertex.EntityPayload{
		ID: vertex.EntityVertexID{
			EntityID:   vertex.EntityID{OwnerID: req.OwnerID, EntityUUID: req.EntityUUID},
			RevisionID: req.RevisionID,
		},
		Properties: req.Properties,
	}

	if req.LinkData != nil {
		payload.LinkData = &vertex.LinkData{
			LeftEntityID:  vertex.EntityID{OwnerID: req.LinkData.LeftOwnerID, EntityUUID: req.LinkData.LeftEntityUUID},
			RightEntityID: vertex.EntityID{OwnerID: req.LinkData.RightOwnerID, EntityUUID: req.LinkData.RightEntityUUID},
		}
	}

	return payload
}

func validFromInterval(t time.Time) temporal.Interval {
	return temporal.Unbounded(t)
}

// runWrite executes fn and translates its error into an RFC 7807 response.
// Returns false (and has already written the response) on failure.
func (s *Server) runWrite(w http.ResponseWriter, r *http.Request, fn func() error) bool {
	if err := fn(); err != nil {
		s.logger.Error("Write-path mutation failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, BadRequest(err.Error()))

		return false
	}

	return true
}

// decodeJSON decodes the request body into dst, capping it at the server's
// configured maximum request size. Writes an error response and returns
// false on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		WriteErrorResponse(w, r, s.logger, BadRequest("request body exceeds maximum size"))

		return false
	}

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			WriteErrorResponse(w, r, s.logger, BadRequest("request body is empty"))

			return false
		}

		WriteErrorResponse(w, r, s.logger, BadRequest("invalid JSON: "+err.Error()))

		return false
	}

	return true
}

// writeJSON encodes v as the response body with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

func writePlainText(w http.ResponseWriter, logger *slog.Logger, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		logger.Error("Failed to write response", slog.String("error", err.Error()))
	}
}
