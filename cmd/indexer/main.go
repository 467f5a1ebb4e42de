// Command indexer drains the telemetry Kafka topic written by the ingestion
// service in queue mode and indexes each event into Elasticsearch.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThaoDoan2/ElasticClient/internal/indexer/consumer"
	"github.com/ThaoDoan2/ElasticClient/internal/store"
	"github.com/ThaoDoan2/ElasticClient/pkg/config"
	"github.com/ThaoDoan2/ElasticClient/pkg/kafka"
	"github.com/ThaoDoan2/ElasticClient/pkg/logger"
	"github.com/ThaoDoan2/ElasticClient/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, "indexer")
		defer shutdownMetrics(context.Background())
	}

	st, err := store.Open(ctx, cfg.Elasticsearch, m)
	if err != nil {
		slog.Error("failed to connect to elasticsearch", "error", err)
		os.Exit(1)
	}
	if cfg.Elasticsearch.EnsureIndices {
		if err := st.EnsureCollections(ctx); err != nil {
			slog.Error("failed to ensure indices", "error", err)
			os.Exit(1)
		}
	}

	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.TelemetryEvents,
		consumer.HandleMessage(st, m),
	)
	indexConsumer := consumer.New(kafkaConsumer)

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.TelemetryEvents,
		"group", cfg.Kafka.ConsumerGroup,
	)

	if err := indexConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}
	slog.Info("indexer service stopped")
}
