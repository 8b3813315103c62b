// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (catalog paths, ingestion, query, Postgres, Kafka, Redis, etc.)
// and is validated once at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Query     QueryConfig     `yaml:"query"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	CORS      CORSConfig      `yaml:"cors"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the number of requests per minute allowed per client.
	// Zero disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

// CatalogConfig holds the filesystem layout of the catalog. Empty derived
// paths are filled in from BaseDir.
type CatalogConfig struct {
	BaseDir   string `yaml:"baseDir"`
	SourceDir string `yaml:"sourceDir"`
	IndexPath string `yaml:"indexPath"`
	LogDir    string `yaml:"logDir"`
	TempDir   string `yaml:"tempDir"`
}

// IngestionConfig controls the ingestion pipeline.
type IngestionConfig struct {
	Workers       int           `yaml:"workers"`
	SourcePattern string        `yaml:"sourcePattern"`
	MaxRecordSize string        `yaml:"maxRecordSize"`
	KeepPrevious  bool          `yaml:"keepPrevious"`
	Interval      time.Duration `yaml:"interval"`
	// AdminPort serves run control while ingestion runs on an interval.
	AdminPort int `yaml:"adminPort"`
}

// MaxRecordBytes returns MaxRecordSize in bytes. Validate guarantees it parses.
func (c IngestionConfig) MaxRecordBytes() int64 {
	n, err := humanize.ParseBytes(c.MaxRecordSize)
	if err != nil {
		return 0
	}
	return int64(n)
}

// QueryConfig controls the query service.
type QueryConfig struct {
	PageSize int `yaml:"pageSize"`
}

// PostgresConfig holds PostgreSQL connection parameters for the run history
// store.
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

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexPublished string `yaml:"indexPublished"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// CORSConfig controls cross-origin headers on the catalog API.
type CORSConfig struct {
	AllowAllOrigins bool     `yaml:"allowAllOrigins"`
	AllowOrigins    []string `yaml:"allowOrigins"`
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

// ValidationError holds per-field configuration problems.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Load reads a .env file if one exists, then the YAML config file (if
// provided), applies environment-variable overrides, derives catalog paths
// and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	cfg := Default()
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
	cfg.Catalog = cfg.Catalog.resolved()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
// Catalog paths other than BaseDir are left empty and derived on Load.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Catalog: CatalogConfig{
			BaseDir: "catalog_files",
		},
		Ingestion: IngestionConfig{
			Workers:       runtime.NumCPU(),
			SourcePattern: "*.rdf",
			MaxRecordSize: "16MB",
			KeepPrevious:  true,
			AdminPort:     8081,
		},
		Query: QueryConfig{
			PageSize: 32,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "bookcatalog",
			User:            "bookcatalog",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "bookcatalog",
			Topics: KafkaTopics{
				IndexPublished: "catalog.index-published",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		CORS: CORSConfig{
			AllowAllOrigins: true,
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

// resolved fills empty catalog paths from BaseDir using the standard layout:
// <base>/rdf, <base>/rdf/index.json, <base>/log and <base>/tmp.
func (c CatalogConfig) resolved() CatalogConfig {
	if c.SourceDir == "" {
		c.SourceDir = filepath.Join(c.BaseDir, "rdf")
	}
	if c.IndexPath == "" {
		c.IndexPath = filepath.Join(c.SourceDir, "index.json")
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(c.BaseDir, "tmp")
	}
	return c
}

// Validate checks the configuration once at startup.
func (c *Config) Validate() error {
	errs := make(map[string]string)
	cat := c.Catalog
	if cat.SourceDir == "" {
		errs["catalog.sourceDir"] = "is required"
	}
	if cat.IndexPath == "" {
		errs["catalog.indexPath"] = "is required"
	}
	if cat.LogDir == "" {
		errs["catalog.logDir"] = "is required"
	}
	if cat.TempDir == "" {
		errs["catalog.tempDir"] = "is required"
	}
	if cat.IndexPath != "" && cat.TempDir != "" && isWithin(cat.TempDir, cat.IndexPath) {
		errs["catalog.indexPath"] = "must not be inside catalog.tempDir"
	}
	if c.Query.PageSize <= 0 {
		errs["query.pageSize"] = "must be positive"
	}
	if c.Ingestion.Workers <= 0 {
		errs["ingestion.workers"] = "must be positive"
	}
	if c.Ingestion.SourcePattern == "" {
		errs["ingestion.sourcePattern"] = "is required"
	} else if _, err := filepath.Match(c.Ingestion.SourcePattern, "x"); err != nil {
		errs["ingestion.sourcePattern"] = err.Error()
	}
	if n, err := humanize.ParseBytes(c.Ingestion.MaxRecordSize); err != nil || n == 0 {
		errs["ingestion.maxRecordSize"] = fmt.Sprintf("invalid size %q", c.Ingestion.MaxRecordSize)
	}
	if c.Server.RateLimit < 0 {
		errs["server.rateLimit"] = "must not be negative"
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs["kafka.brokers"] = "required when kafka is enabled"
	}
	switch c.Logging.Format {
	case "json", "text", "human":
	default:
		errs["logging.format"] = fmt.Sprintf("unknown format %q", c.Logging.Format)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// applyEnvOverrides reads BC_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BC_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("BC_CATALOG_BASE_DIR"); v != "" {
		cfg.Catalog.BaseDir = v
	}
	if v := os.Getenv("BC_CATALOG_SOURCE_DIR"); v != "" {
		cfg.Catalog.SourceDir = v
	}
	if v := os.Getenv("BC_CATALOG_INDEX_PATH"); v != "" {
		cfg.Catalog.IndexPath = v
	}
	if v := os.Getenv("BC_CATALOG_LOG_DIR"); v != "" {
		cfg.Catalog.LogDir = v
	}
	if v := os.Getenv("BC_CATALOG_TEMP_DIR"); v != "" {
		cfg.Catalog.TempDir = v
	}
	if v := os.Getenv("BC_INGESTION_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.Workers = n
		}
	}
	if v := os.Getenv("BC_INGESTION_ADMIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.AdminPort = port
		}
	}
	if v := os.Getenv("BC_INGESTION_MAX_RECORD_SIZE"); v != "" {
		cfg.Ingestion.MaxRecordSize = v
	}
	if v := os.Getenv("BC_QUERY_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Query.PageSize = n
		}
	}
	if v := os.Getenv("BC_POSTGRES_ENABLED"); v != "" {
		cfg.Postgres.Enabled = parseBool(v, cfg.Postgres.Enabled)
	}
	if v := os.Getenv("BC_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("BC_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("BC_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("BC_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("BC_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("BC_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = parseBool(v, cfg.Kafka.Enabled)
	}
	if v := os.Getenv("BC_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("BC_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v, cfg.Redis.Enabled)
	}
	if v := os.Getenv("BC_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BC_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BC_CORS_ALLOW_ALL_ORIGINS"); v != "" {
		cfg.CORS.AllowAllOrigins = parseBool(v, cfg.CORS.AllowAllOrigins)
	}
	if v := os.Getenv("BC_CORS_ALLOW_ORIGINS"); v != "" {
		cfg.CORS.AllowOrigins = splitList(v)
	}
	if v := os.Getenv("BC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BC_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
