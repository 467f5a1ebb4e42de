// Command ingestion starts the telemetry ingestion HTTP service.
//
// The service accepts game events via POST /logEvent (and arrays via
// POST /logEvent/batch), authenticates them with an API key, validates them
// per eventType and either indexes them into Elasticsearch directly or
// publishes them to Kafka for the indexer, depending on ingestion.mode.
// DELETE /logEvent/{eventType}/{id} removes a stored event.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThaoDoan2/ElasticClient/internal/auth/apikey"
	"github.com/ThaoDoan2/ElasticClient/internal/auth/ratelimit"
	"github.com/ThaoDoan2/ElasticClient/internal/ingestion/handler"
	"github.com/ThaoDoan2/ElasticClient/internal/ingestion/publisher"
	"github.com/ThaoDoan2/ElasticClient/internal/store"
	"github.com/ThaoDoan2/ElasticClient/pkg/config"
	"github.com/ThaoDoan2/ElasticClient/pkg/health"
	"github.com/ThaoDoan2/ElasticClient/pkg/kafka"
	"github.com/ThaoDoan2/ElasticClient/pkg/logger"
	"github.com/ThaoDoan2/ElasticClient/pkg/metrics"
	"github.com/ThaoDoan2/ElasticClient/pkg/middleware"
	"github.com/ThaoDoan2/ElasticClient/pkg/postgres"
	"github.com/prometheus/client_golang/prometheus"
)

// main loads configuration, opens the store (and the Kafka producer in
// queue mode), builds the key validator chain and starts the HTTP server.
// Graceful shutdown is triggered by SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion service", "port", cfg.Ingestion.Port, "mode", cfg.Ingestion.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, "ingestion")
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

	checker := health.NewChecker("ingestion")
	checker.Register("elasticsearch", health.Ping(st.Ping, true))

	var pub *publisher.Publisher
	if cfg.Ingestion.Mode == config.ModeQueue {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.TelemetryEvents)
		defer producer.Close()
		slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.TelemetryEvents)
		checker.Register("kafka", health.Ping(producer.Ping, true))
		pub, err = publisher.NewFromConfig(cfg.Ingestion, st, producer, m)
	} else {
		pub, err = publisher.NewFromConfig(cfg.Ingestion, st, nil, m)
	}
	if err != nil {
		slog.Error("failed to create publisher", "error", err)
		os.Exit(1)
	}

	validators := apikey.Chain{apikey.NewStatic(cfg.Ingestion.APIKey, cfg.Ingestion.RateLimit)}
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("connected to postgres, database api keys enabled")
		validators = append(validators, apikey.NewStore(db))
		checker.Register("postgres", health.Ping(db.Ping, false))
	}
	limiter := ratelimit.New(time.Minute)
	defer limiter.Close()

	h := handler.New(pub, st, cfg.Ingestion, m)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health", checker.ReadyHandler())
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Metrics(m),
		middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins, cfg.Ingestion.APIKeyHeader)),
		middleware.Auth(validators, cfg.Ingestion.APIKeyHeader),
		middleware.RateLimit(limiter),
		middleware.Timeout(cfg.Server.WriteTimeout*9/10),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Ingestion.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
