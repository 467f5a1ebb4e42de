// Command analytics starts the chart query service.
//
// It answers the dashboard endpoints under /api/iap, /api/rewarded-ads and
// /api/gameplay by running date-histogram and terms aggregations against
// Elasticsearch. Results are cached in Redis when it is reachable.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
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

	"github.com/ThaoDoan2/ElasticClient/internal/analytics"
	"github.com/ThaoDoan2/ElasticClient/internal/analytics/cache"
	"github.com/ThaoDoan2/ElasticClient/internal/analytics/handler"
	"github.com/ThaoDoan2/ElasticClient/internal/store"
	"github.com/ThaoDoan2/ElasticClient/pkg/config"
	"github.com/ThaoDoan2/ElasticClient/pkg/health"
	"github.com/ThaoDoan2/ElasticClient/pkg/logger"
	"github.com/ThaoDoan2/ElasticClient/pkg/metrics"
	"github.com/ThaoDoan2/ElasticClient/pkg/middleware"
	pkgredis "github.com/ThaoDoan2/ElasticClient/pkg/redis"
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
	slog.Info("starting analytics service", "port", cfg.Analytics.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, "analytics")
		defer shutdownMetrics(context.Background())
	}

	st, err := store.Open(ctx, cfg.Elasticsearch, m)
	if err != nil {
		slog.Error("failed to connect to elasticsearch", "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker("analytics")
	checker.Register("elasticsearch", health.Ping(st.Ping, true))

	var chartCache *cache.ChartCache
	if cfg.Analytics.CacheEnabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, serving charts uncached", "error", err)
		} else {
			defer redisClient.Close()
			chartCache = cache.New(redisClient, cfg.Redis.CacheTTL)
			checker.Register("redis", health.Ping(redisClient.Ping, false))
			slog.Info("chart cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	svc := analytics.NewService(st, chartCache, cfg.Analytics, m)
	h := handler.New(svc, cfg.Analytics)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health", checker.ReadyHandler())
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Metrics(m),
		middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins, cfg.Ingestion.APIKeyHeader)),
		middleware.Timeout(cfg.Server.WriteTimeout*9/10),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
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
	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}
