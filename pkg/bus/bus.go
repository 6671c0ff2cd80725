// Package bus is the message bus gateway (spec §4.D): topic-partitioned,
// ordered-within-partition task delivery over Kafka. Partition affinity on
// incident_id gives per-incident FIFO; the resolution ledger's claim
// (pkg/resolution) is the only cross-worker synchronization this assumes.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sentineld/resolveops/pkg/models"
)

const (
	// TopicIncidents carries process_log_entry and resolve_incident tasks.
	TopicIncidents = "incidents"
	// TopicTickets carries rca_cursor_slack and ticketing-triggered tasks.
	TopicTickets = "tickets"
)

// Gateway publishes and consumes Task envelopes over Kafka.
type Gateway struct {
	brokers []string
	writers map[string]*kafka.Writer
	log     *slog.Logger
}

// New builds a Gateway with one writer per recognized topic, each using a
// hash balancer so messages sharing a key land on the same partition.
func New(brokers []string, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	g := &Gateway{brokers: brokers, writers: make(map[string]*kafka.Writer), log: log}
	for _, topic := range []string{TopicIncidents, TopicTickets} {
		g.writers[topic] = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		}
	}
	return g
}

// Close flushes and closes every writer.
func (g *Gateway) Close() error {
	var firstErr error
	for _, w := range g.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Publish sends a task to topic, partitioned by key. Per the spec's
// boolean contract, failures are logged and reported as `false` rather
// than surfaced as an error — the bus is best-effort from the publisher's
// point of view; the at-least-once guarantee is Kafka's, not this call's.
func (g *Gateway) Publish(ctx context.Context, topic string, task models.Task, key string) bool {
	w, ok := g.writers[topic]
	if !ok {
		g.log.Error("bus.publish: unknown topic", "topic", topic)
		return false
	}

	payload, err := json.Marshal(task)
	if err != nil {
		g.log.Error("bus.publish: marshal task failed", "topic", topic, "task_type", task.TaskType, "error", err)
		return false
	}

	err = w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		g.log.Error("bus.publish: write failed", "topic", topic, "task_type", task.TaskType, "error", err)
		return false
	}
	return true
}

// PartitionKey chooses the affinity key for a task: incident_id when
// known, else a composite of (user_id, service_name, source) so related
// log entries before an incident exists still land together.
func PartitionKey(incidentID, userID, serviceName, source string) string {
	if incidentID != "" {
		return incidentID
	}
	return userID + "|" + serviceName + "|" + source
}

// Handler processes one delivered task. Returning an error leaves the
// message unacknowledged for redelivery (at-least-once).
type Handler func(ctx context.Context, task models.Task) error

// Consumer reads tasks from a topic with a single consumer-group reader
// and dispatches them to Handler, committing offsets only after Handler
// succeeds.
type Consumer struct {
	reader  *kafka.Reader
	handler Handler
	log     *slog.Logger
}

// NewConsumer builds a Consumer bound to a Kafka consumer group, so
// multiple worker replicas split partitions between them while preserving
// per-partition (and so per-incident) order.
func NewConsumer(brokers []string, topic, groupID string, handler Handler, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return &Consumer{reader: reader, handler: handler, log: log}
}

// Run reads and dispatches messages until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("bus.consumer: fetch failed", "error", err)
			continue
		}

		var task models.Task
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			c.log.Error("bus.consumer: unmarshal failed, skipping poison message",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		if err := c.handler(ctx, task); err != nil {
			c.log.Error("bus.consumer: handler failed, leaving uncommitted for redelivery",
				"task_type", task.TaskType, "error", err)
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("bus.consumer: commit failed", "error", err)
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
