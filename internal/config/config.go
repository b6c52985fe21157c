// Package config loads moviesync settings from defaults, an optional YAML file
// and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/moviesync/internal/models"
	"gopkg.in/yaml.v3"
)

// Checkpoint backends.
const (
	CheckpointFile    = "file"
	CheckpointSurreal = "surreal"
	CheckpointLevel   = "leveldb"
)

// Config holds all configuration values.
type Config struct {
	// PostgreSQL source
	PostgresDSN string `yaml:"postgres_dsn"`

	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// Checkpoint persistence
	CheckpointBackend string `yaml:"checkpoint_backend"`
	CheckpointPath    string `yaml:"checkpoint_path"`

	// Pipeline
	Entities     []string      `yaml:"entities"`
	PageSize     int           `yaml:"page_size"`
	ChunkSize    int           `yaml:"chunk_size"`
	Interval     time.Duration `yaml:"interval"`
	ReportSize   int           `yaml:"failure_report_size"`
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	Backoff      Backoff       `yaml:"backoff"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
	logLevel string
}

// Backoff configures the loader retry policy.
type Backoff struct {
	Start       time.Duration `yaml:"start"`
	Factor      float64       `yaml:"factor"`
	Border      time.Duration `yaml:"border"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// fileConfig mirrors Config for YAML decoding; log_level is a string there.
type fileConfig struct {
	Config   `yaml:",inline"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PostgresDSN: "host=127.0.0.1 port=5432 user=app password=123qwe dbname=movies_database sslmode=disable",

		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "movies",
		SurrealDBDatabase:  "search",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		CheckpointBackend: CheckpointFile,
		CheckpointPath:    "etl_state.json",

		Entities:     []string{string(models.EntityGenre), string(models.EntityPerson)},
		PageSize:     20,
		ChunkSize:    5,
		Interval:     5 * time.Second,
		ReportSize:   10,
		DrainTimeout: 30 * time.Second,
		Backoff: Backoff{
			Start:       100 * time.Millisecond,
			Factor:      2,
			Border:      10 * time.Second,
			MaxAttempts: 8,
		},

		LogFile:  "/tmp/moviesync.log",
		LogLevel: slog.LevelInfo,
		logLevel: "INFO",
	}
}

// Load reads configuration: defaults, then the YAML file at path (if any,
// falling back to MOVIESYNC_CONFIG), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("MOVIESYNC_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}
	cfg.LogLevel = parseLogLevel(cfg.logLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read config %s: %v", models.ErrConfiguration, path, err)
	}
	fc := fileConfig{Config: *c, LogLevel: c.logLevel}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("%w: parse config %s: %v", models.ErrConfiguration, path, err)
	}
	*c = fc.Config
	c.logLevel = fc.LogLevel
	return nil
}

func (c *Config) loadEnv() error {
	c.PostgresDSN = getEnv("MOVIESYNC_POSTGRES_DSN", c.PostgresDSN)

	c.SurrealDBURL = getEnv("SURREALDB_URL", c.SurrealDBURL)
	c.SurrealDBNamespace = getEnv("SURREALDB_NAMESPACE", c.SurrealDBNamespace)
	c.SurrealDBDatabase = getEnv("SURREALDB_DATABASE", c.SurrealDBDatabase)
	c.SurrealDBUser = getEnv("SURREALDB_USER", c.SurrealDBUser)
	c.SurrealDBPass = getEnv("SURREALDB_PASS", c.SurrealDBPass)
	c.SurrealDBAuthLevel = getEnv("SURREALDB_AUTH_LEVEL", c.SurrealDBAuthLevel)

	c.CheckpointBackend = getEnv("MOVIESYNC_CHECKPOINT_BACKEND", c.CheckpointBackend)
	c.CheckpointPath = getEnv("MOVIESYNC_CHECKPOINT_PATH", c.CheckpointPath)

	if v := os.Getenv("MOVIESYNC_ENTITIES"); v != "" {
		c.Entities = strings.Split(v, ",")
	}

	var errs []error
	c.PageSize = getEnvInt("MOVIESYNC_PAGE_SIZE", c.PageSize, &errs)
	c.ChunkSize = getEnvInt("MOVIESYNC_CHUNK_SIZE", c.ChunkSize, &errs)
	c.Interval = getEnvDuration("MOVIESYNC_INTERVAL", c.Interval, &errs)
	c.ReportSize = getEnvInt("MOVIESYNC_FAILURE_REPORT_SIZE", c.ReportSize, &errs)
	c.DrainTimeout = getEnvDuration("MOVIESYNC_DRAIN_TIMEOUT", c.DrainTimeout, &errs)
	c.Backoff.Start = getEnvDuration("MOVIESYNC_BACKOFF_START", c.Backoff.Start, &errs)
	c.Backoff.Factor = getEnvFloat("MOVIESYNC_BACKOFF_FACTOR", c.Backoff.Factor, &errs)
	c.Backoff.Border = getEnvDuration("MOVIESYNC_BACKOFF_BORDER", c.Backoff.Border, &errs)
	c.Backoff.MaxAttempts = getEnvInt("MOVIESYNC_BACKOFF_MAX_ATTEMPTS", c.Backoff.MaxAttempts, &errs)

	c.LogFile = getEnv("MOVIESYNC_LOG_FILE", c.LogFile)
	c.logLevel = getEnv("MOVIESYNC_LOG_LEVEL", c.logLevel)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	var problems []string
	if c.PageSize <= 0 {
		problems = append(problems, "page_size must be positive")
	}
	if c.ChunkSize <= 0 {
		problems = append(problems, "chunk_size must be positive")
	}
	if c.Interval < 0 {
		problems = append(problems, "interval must not be negative")
	}
	if c.ReportSize < 0 {
		problems = append(problems, "failure_report_size must not be negative")
	}
	if c.DrainTimeout <= 0 {
		problems = append(problems, "drain_timeout must be positive")
	}
	if c.Backoff.Start <= 0 || c.Backoff.Border < c.Backoff.Start {
		problems = append(problems, "backoff start must be positive and not above border")
	}
	if c.Backoff.Factor < 1 {
		problems = append(problems, "backoff factor must be at least 1")
	}
	if c.Backoff.MaxAttempts <= 0 {
		problems = append(problems, "backoff max_attempts must be positive")
	}
	switch c.CheckpointBackend {
	case CheckpointFile, CheckpointLevel:
		if c.CheckpointPath == "" {
			problems = append(problems, "checkpoint_path is required for the "+c.CheckpointBackend+" backend")
		}
	case CheckpointSurreal:
	default:
		problems = append(problems, fmt.Sprintf("unknown checkpoint backend %q", c.CheckpointBackend))
	}
	if _, err := models.ParseEntityTypes(c.Entities); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", models.ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// EntityTypes returns the configured entity types in pass order.
func (c Config) EntityTypes() []models.EntityType {
	types, err := models.ParseEntityTypes(c.Entities)
	if err != nil {
		return models.DefaultEntities
	}
	return types
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int, errs *[]error) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64, errs *[]error) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration, errs *[]error) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return d
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
