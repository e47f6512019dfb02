// Package stream mirrors appended audit entries to a Kafka topic.
//
// Mirror decorates an audit.Store. The primary append is the source of truth:
// mirroring happens after it succeeds, is guarded by a circuit breaker, and
// never turns a successful append into a failure.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"auditlog/pkg/platform/audit"
	"auditlog/pkg/platform/circuit"
	"auditlog/pkg/requestcontext"
)

// Producer is the subset of *kgo.Client the mirror uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Mirror is an audit.Store that copies every appended entry to a topic. Get
// and List are served by the primary store.
type Mirror struct {
	audit.Store
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *Metrics
	timeout  time.Duration
}

// DefaultPublishTimeout bounds a single mirror publish.
const DefaultPublishTimeout = 5 * time.Second

// Option configures the Mirror.
type Option func(*Mirror)

// WithLogger sets a logger for publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mirror) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Mirror) {
		m.metrics = metrics
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Mirror) {
		if b != nil {
			m.breaker = b
		}
	}
}

// WithPublishTimeout bounds each publish. Non-positive values keep the default.
func WithPublishTimeout(d time.Duration) Option {
	return func(m *Mirror) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewMirror wraps primary so appended entries are also produced to topic.
func NewMirror(primary audit.Store, producer Producer, topic string, opts ...Option) *Mirror {
	m := &Mirror{
		Store:    primary,
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("audit-stream"),
		logger:   slog.New(slog.DiscardHandler),
		timeout:  DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Append stores the entry in the primary store, then mirrors it. Mirror
// failures are logged and counted, never returned.
func (m *Mirror) Append(ctx context.Context, entry audit.LogEntry) (audit.LogEntry, error) {
	stored, err := m.Store.Append(ctx, entry)
	if err != nil {
		return stored, err
	}
	m.publish(ctx, stored)
	return stored, nil
}

func (m *Mirror) publish(ctx context.Context, entry audit.LogEntry) {
	if !m.breaker.Allow() {
		if m.metrics != nil {
			m.metrics.IncCircuitBreakerDropped()
		}
		return
	}

	record, err := NewRecord(m.topic, entry)
	if err != nil {
		m.logger.ErrorContext(ctx, "audit entry could not be encoded for the change stream",
			"entry_id", entry.ID,
			"error", err,
		)
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()
	if err := m.producer.ProduceSync(pubCtx, record).FirstErr(); err != nil {
		_, change := m.breaker.RecordFailure()
		if m.metrics != nil {
			m.metrics.IncPublishFailures()
			m.metrics.SetCircuitBreakerState(m.breaker.IsOpen())
		}
		m.logger.WarnContext(ctx, "audit entry not mirrored to change stream",
			"entry_id", entry.ID,
			"topic", m.topic,
			"error", err,
			"circuit_opened", change.Opened,
			"request_id", requestcontext.RequestID(ctx),
		)
		return
	}

	_, change := m.breaker.RecordSuccess()
	if m.metrics != nil {
		m.metrics.IncPublished()
		m.metrics.SetCircuitBreakerState(m.breaker.IsOpen())
	}
	if change.Closed {
		m.logger.InfoContext(ctx, "audit change stream recovered", "topic", m.topic)
	}
}

// NewRecord encodes entry as a Kafka record. The key groups a resource's
// history on one partition: "<type>/<id>", or "<type>/<repr>" without an ID.
func NewRecord(topic string, entry audit.LogEntry) (*kgo.Record, error) {
	value, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	key := entry.ResourceType + "/" + entry.ResourceRepr
	if entry.ResourceID != nil {
		key = entry.ResourceType + "/" + *entry.ResourceID
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(entry.Action)},
			{Key: "entry_id", Value: []byte(entry.ID.String())},
		},
		Timestamp: entry.Timestamp,
	}, nil
}

// DecodeRecord is the inverse of NewRecord.
func DecodeRecord(r *kgo.Record) (audit.LogEntry, error) {
	var e audit.LogEntry
	if err := json.Unmarshal(r.Value, &e); err != nil {
		return audit.LogEntry{}, err
	}
	return e, nil
}

var _ audit.Store = (*Mirror)(nil)
