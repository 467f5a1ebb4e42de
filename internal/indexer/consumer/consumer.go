// Package consumer drains the telemetry topic in queue mode and indexes each
// envelope into its collection.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThaoDoan2/ElasticClient/internal/ingestion"
	"github.com/ThaoDoan2/ElasticClient/internal/store"
	"github.com/ThaoDoan2/ElasticClient/internal/telemetry"
	apperrors "github.com/ThaoDoan2/ElasticClient/pkg/errors"
	"github.com/ThaoDoan2/ElasticClient/pkg/kafka"
	"github.com/ThaoDoan2/ElasticClient/pkg/metrics"
)

// DocumentIndexer is the part of the store the consumer writes through.
type DocumentIndexer interface {
	Index(ctx context.Context, collection, id string, doc any) (*store.IndexResult, error)
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a MessageHandler that indexes one envelope per
// message. Undecodable envelopes and documents the store rejects are logged
// and dropped; any other store failure is returned so the message is
// retried.
func HandleMessage(st DocumentIndexer, m *metrics.Metrics) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		env, err := kafka.DecodeJSON[ingestion.Envelope](value)
		if err != nil {
			logger.Error("failed to decode envelope", "error", err, "key", string(key))
			m.QueueMessage("consumed", "malformed")
			return nil
		}
		kind, ok := telemetry.ParseKind(string(env.Kind))
		if !ok || env.ID == "" || len(env.Record) == 0 {
			logger.Error("dropping invalid envelope",
				"kind", env.Kind,
				"id", env.ID,
				"key", string(key),
			)
			m.QueueMessage("consumed", "malformed")
			return nil
		}

		res, err := st.Index(ctx, kind.Collection(), env.ID, json.RawMessage(env.Record))
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidInput) {
				logger.Error("document rejected by store",
					"eventType", kind,
					"id", env.ID,
					"error", err,
				)
				m.QueueMessage("consumed", "rejected")
				return nil
			}
			m.QueueMessage("consumed", "error")
			return fmt.Errorf("indexing %s %s: %w", kind, env.ID, err)
		}
		m.QueueMessage("consumed", "ok")
		logger.Info("document indexed",
			"eventType", kind,
			"id", env.ID,
			"result", res.Result,
			"queue_latency", time.Since(env.ReceivedAt),
		)
		return nil
	}
}
