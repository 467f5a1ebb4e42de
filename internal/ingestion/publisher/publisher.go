// Package publisher forwards validated telemetry records to their
// destination: straight into the search backend in direct mode, or onto
// the Kafka topic drained by the indexer in queue mode.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThaoDoan2/ElasticClient/internal/ingestion"
	"github.com/ThaoDoan2/ElasticClient/internal/store"
	"github.com/ThaoDoan2/ElasticClient/internal/telemetry"
	"github.com/ThaoDoan2/ElasticClient/pkg/config"
	apperrors "github.com/ThaoDoan2/ElasticClient/pkg/errors"
	"github.com/ThaoDoan2/ElasticClient/pkg/kafka"
	"github.com/ThaoDoan2/ElasticClient/pkg/logger"
	"github.com/ThaoDoan2/ElasticClient/pkg/metrics"
)

// Item is one record with its assigned document ID.
type Item struct {
	ID     string
	Record telemetry.Record
}

// Sink is a destination for records.
type Sink interface {
	Write(ctx context.Context, item Item) error
	// WriteBatch returns per-item errors, or a single error if nothing was
	// written.
	WriteBatch(ctx context.Context, items []Item) ([]error, error)
	Ping(ctx context.Context) error
}

// Indexer is the part of the store a direct sink needs.
type Indexer interface {
	IndexRecord(ctx context.Context, id string, rec telemetry.Record) (*store.IndexResult, error)
	BulkIndex(ctx context.Context, docs []store.BulkDoc) ([]error, error)
	Ping(ctx context.Context) error
}

// DirectSink indexes synchronously.
type DirectSink struct {
	Store Indexer
}

func (s DirectSink) Write(ctx context.Context, item Item) error {
	_, err := s.Store.IndexRecord(ctx, item.ID, item.Record)
	return err
}

func (s DirectSink) WriteBatch(ctx context.Context, items []Item) ([]error, error) {
	docs := make([]store.BulkDoc, len(items))
	for i, it := range items {
		docs[i] = store.BulkDoc{Collection: it.Record.Kind().Collection(), ID: it.ID, Doc: it.Record.Document()}
	}
	return s.Store.BulkIndex(ctx, docs)
}

func (s DirectSink) Ping(ctx context.Context) error { return s.Store.Ping(ctx) }

// Producer is the part of the Kafka producer a queue sink needs.
type Producer interface {
	Publish(ctx context.Context, event kafka.Event) error
	PublishBatch(ctx context.Context, events []kafka.Event) error
	Ping(ctx context.Context) error
}

// QueueSink publishes envelopes for the indexer.
type QueueSink struct {
	Producer Producer
	Metrics  *metrics.Metrics
}

func (s QueueSink) Write(ctx context.Context, item Item) error {
	errs, err := s.WriteBatch(ctx, []Item{item})
	if err != nil {
		return err
	}
	if len(errs) > 0 && errs[0] != nil {
		return errs[0]
	}
	return nil
}

func (s QueueSink) WriteBatch(ctx context.Context, items []Item) ([]error, error) {
	now := time.Now()
	events := make([]kafka.Event, 0, len(items))
	errs := make([]error, len(items))
	for i, it := range items {
		env, err := ingestion.NewEnvelope(it.ID, it.Record, now)
		if err != nil {
			errs[i] = fmt.Errorf("%w: encoding record: %v", apperrors.ErrInvalidInput, err)
			continue
		}
		events = append(events, kafka.Event{Key: it.ID, Value: env})
	}
	if len(events) == 0 {
		return errs, nil
	}
	if err := s.Producer.PublishBatch(ctx, events); err != nil {
		s.Metrics.QueueMessage("published", "error")
		return nil, fmt.Errorf("%w: %w", apperrors.ErrQueueUnavailable, err)
	}
	for range events {
		s.Metrics.QueueMessage("published", "ok")
	}
	return errs, nil
}

func (s QueueSink) Ping(ctx context.Context) error { return s.Producer.Ping(ctx) }

// Publisher assigns document IDs, forwards records to the sink and writes
// the event log line.
type Publisher struct {
	sink    Sink
	mode    string
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Publisher writing to sink. mode is recorded on log lines.
func New(sink Sink, mode string, m *metrics.Metrics) *Publisher {
	return &Publisher{
		sink:    sink,
		mode:    mode,
		metrics: m,
		logger:  slog.Default().With("component", "publisher", "mode", mode),
	}
}

// NewFromConfig picks the sink for cfg.Ingestion.Mode.
func NewFromConfig(cfg config.IngestionConfig, st Indexer, producer Producer, m *metrics.Metrics) (*Publisher, error) {
	switch cfg.Mode {
	case config.ModeDirect:
		return New(DirectSink{Store: st}, cfg.Mode, m), nil
	case config.ModeQueue:
		if producer == nil {
			return nil, fmt.Errorf("queue mode requires a kafka producer")
		}
		return New(QueueSink{Producer: producer, Metrics: m}, cfg.Mode, m), nil
	default:
		return nil, fmt.Errorf("unknown ingestion mode %q", cfg.Mode)
	}
}

// Publish stores one record and returns its document ID.
func (p *Publisher) Publish(ctx context.Context, rec telemetry.Record) (string, error) {
	item := Item{ID: rec.Kind().NewDocumentID(), Record: rec}
	if err := p.sink.Write(ctx, item); err != nil {
		p.metrics.EventIngested(string(rec.Kind()), "failed")
		return "", fmt.Errorf("forwarding %s event: %w", rec.Kind(), err)
	}
	p.metrics.EventIngested(string(rec.Kind()), "accepted")
	p.logEvent(ctx, item)
	return item.ID, nil
}

// PublishBatch stores records in one backend call. ids[i] is empty where
// errs[i] is set.
func (p *Publisher) PublishBatch(ctx context.Context, recs []telemetry.Record) (ids []string, errs []error, err error) {
	items := make([]Item, len(recs))
	for i, rec := range recs {
		items[i] = Item{ID: rec.Kind().NewDocumentID(), Record: rec}
	}
	itemErrs, err := p.sink.WriteBatch(ctx, items)
	if err != nil {
		for _, rec := range recs {
			p.metrics.EventIngested(string(rec.Kind()), "failed")
		}
		return nil, nil, fmt.Errorf("forwarding batch of %d: %w", len(recs), err)
	}
	ids = make([]string, len(items))
	errs = make([]error, len(items))
	for i, it := range items {
		if i < len(itemErrs) && itemErrs[i] != nil {
			errs[i] = itemErrs[i]
			p.metrics.EventIngested(string(it.Record.Kind()), "failed")
			continue
		}
		ids[i] = it.ID
		p.metrics.EventIngested(string(it.Record.Kind()), "accepted")
		p.logEvent(ctx, it)
	}
	return ids, errs, nil
}

// Ping checks the sink.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.sink.Ping(ctx)
}

// logEvent writes the per-event audit line: eventType, receive time in
// epoch milliseconds and the stored document.
func (p *Publisher) logEvent(ctx context.Context, it Item) {
	log := logger.FromContext(ctx)
	data, err := json.Marshal(it.Record.Document())
	if err != nil {
		log.Warn("encoding event for log failed", "component", "publisher", "id", it.ID, "error", err)
		return
	}
	// RawMessage is embedded as JSON by the JSON handler and quoted as a
	// string by the text handler.
	log.Info("event logged",
		"component", "publisher",
		"eventType", it.Record.Kind(),
		"timestamp", time.Now().UnixMilli(),
		"id", it.ID,
		"data", json.RawMessage(data),
	)
}
