package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ModeDirect, cfg.Ingestion.Mode)
	assert.Equal(t, "X-API-KEY", cfg.Ingestion.APIKeyHeader)
	assert.Equal(t, 20, cfg.Analytics.ProductBuckets)
	assert.Equal(t, "telemetry-events", cfg.Kafka.Topics.TelemetryEvents)
	assert.False(t, cfg.Postgres.Enabled)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlDoc := `
elasticsearch:
  addresses: ["http://es-1:9200", "http://es-2:9200"]
  requestTimeout: 3s
ingestion:
  mode: queue
  apiKey: from-file
redis:
  cacheTTL: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))
	t.Setenv("ET_INGESTION_API_KEY", "from-env")
	t.Setenv("ET_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"http://es-1:9200", "http://es-2:9200"}, cfg.Elasticsearch.Addresses)
	assert.Equal(t, 3*time.Second, cfg.Elasticsearch.RequestTimeout)
	assert.Equal(t, ModeQueue, cfg.Ingestion.Mode)
	assert.Equal(t, "from-env", cfg.Ingestion.APIKey)
	assert.Equal(t, 2*time.Minute, cfg.Redis.CacheTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	// Untouched sections keep their defaults.
	assert.Equal(t, 8081, cfg.Analytics.Port)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Setenv("ET_INGESTION_MODE", "carrier-pigeon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingestion.mode")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=disable", p.DSN())
}
