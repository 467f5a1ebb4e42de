// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Elasticsearch, Ingestion, Analytics, Kafka, Redis, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Ingestion modes.
const (
	ModeDirect = "direct"
	ModeQueue  = "queue"
)

// Config is the top-level application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Analytics     AnalyticsConfig     `yaml:"analytics"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Redis         RedisConfig         `yaml:"redis"`
	Postgres      PostgresConfig      `yaml:"postgres"`
	Logging       LoggingConfig       `yaml:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// ElasticsearchConfig holds the document-search backend connection settings.
type ElasticsearchConfig struct {
	Addresses          []string      `yaml:"addresses"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	APIKey             string        `yaml:"apiKey"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
	RequestTimeout     time.Duration `yaml:"requestTimeout"`
	MaxRetries         int           `yaml:"maxRetries"`
	EnsureIndices      bool          `yaml:"ensureIndices"`
}

// IngestionConfig controls the /logEvent endpoint.
type IngestionConfig struct {
	Port         int    `yaml:"port"`
	APIKey       string `yaml:"apiKey"`
	APIKeyHeader string `yaml:"apiKeyHeader"`
	// Mode is "direct" (index synchronously) or "queue" (publish to Kafka).
	Mode         string `yaml:"mode"`
	MaxBodyBytes int64  `yaml:"maxBodyBytes"`
	MaxBatchSize int    `yaml:"maxBatchSize"`
	RateLimit    int    `yaml:"rateLimit"`
}

// AnalyticsConfig controls the chart query service.
type AnalyticsConfig struct {
	Port             int           `yaml:"port"`
	DefaultRangeDays int           `yaml:"defaultRangeDays"`
	MaxRangeDays     int           `yaml:"maxRangeDays"`
	ProductBuckets   int           `yaml:"productBuckets"`
	OptionBuckets    int           `yaml:"optionBuckets"`
	QueryTimeout     time.Duration `yaml:"queryTimeout"`
	CacheEnabled     bool          `yaml:"cacheEnabled"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	TelemetryEvents string `yaml:"telemetryEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// PostgresConfig holds PostgreSQL connection parameters for the API key store.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot start with.
func (c *Config) Validate() error {
	switch c.Ingestion.Mode {
	case ModeDirect, ModeQueue:
	default:
		return fmt.Errorf("ingestion.mode must be %q or %q, got %q", ModeDirect, ModeQueue, c.Ingestion.Mode)
	}
	if len(c.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("elasticsearch.addresses must not be empty")
	}
	if c.Ingestion.APIKeyHeader == "" {
		return fmt.Errorf("ingestion.apiKeyHeader must not be empty")
	}
	if c.Analytics.MaxRangeDays < 1 {
		return fmt.Errorf("analytics.maxRangeDays must be positive")
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:      []string{"https://localhost:9200"},
			Username:       "elastic",
			RequestTimeout: 10 * time.Second,
			MaxRetries:     3,
			EnsureIndices:  true,
		},
		Ingestion: IngestionConfig{
			Port:         8080,
			APIKey:       "changeme-123456",
			APIKeyHeader: "X-API-KEY",
			Mode:         ModeDirect,
			MaxBodyBytes: 1 << 20,
			MaxBatchSize: 500,
			RateLimit:    6000,
		},
		Analytics: AnalyticsConfig{
			Port:             8081,
			DefaultRangeDays: 7,
			MaxRangeDays:     366,
			ProductBuckets:   20,
			OptionBuckets:    100,
			QueryTimeout:     10 * time.Second,
			CacheEnabled:     true,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "telemetry-indexer",
			Topics: KafkaTopics{
				TelemetryEvents: "telemetry-events",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Postgres: PostgresConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			Database:        "telemetry",
			User:            "telemetry",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads ET_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ET_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ET_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("ET_ELASTICSEARCH_ADDRESSES"); v != "" {
		cfg.Elasticsearch.Addresses = splitList(v)
	}
	if v := os.Getenv("ET_ELASTICSEARCH_USERNAME"); v != "" {
		cfg.Elasticsearch.Username = v
	}
	if v := os.Getenv("ET_ELASTICSEARCH_PASSWORD"); v != "" {
		cfg.Elasticsearch.Password = v
	}
	if v := os.Getenv("ET_ELASTICSEARCH_API_KEY"); v != "" {
		cfg.Elasticsearch.APIKey = v
	}
	if v := os.Getenv("ET_ELASTICSEARCH_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Elasticsearch.InsecureSkipVerify = b
		}
	}
	if v := os.Getenv("ET_INGESTION_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.Port = port
		}
	}
	if v := os.Getenv("ET_INGESTION_API_KEY"); v != "" {
		cfg.Ingestion.APIKey = v
	}
	if v := os.Getenv("ET_INGESTION_MODE"); v != "" {
		cfg.Ingestion.Mode = v
	}
	if v := os.Getenv("ET_ANALYTICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Analytics.Port = port
		}
	}
	if v := os.Getenv("ET_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("ET_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ET_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ET_POSTGRES_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Postgres.Enabled = b
		}
	}
	if v := os.Getenv("ET_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("ET_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("ET_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ET_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("ET_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
