package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	SourceSQLite   = "sqlite"
	SourcePostgres = "postgres"
	SourceDuckDB   = "duckdb"
	SourceParquet  = "parquet"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Source        SourceConfig
	ObjectStore   ObjectStoreConfig
	Patterns      PatternsConfig
	Session       SessionConfig
	Safety        SafetyConfig
	Pipeline      PipelineConfig
	AI            AIConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
	API           APIConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SourceConfig selects the data source questions are answered from.
type SourceConfig struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	// ParquetTables maps table names to object keys, written as
	// "table=key,table=key". Used by the parquet driver only.
	ParquetTables string
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type PatternsConfig struct {
	Driver string
	DSN    string
}

type SessionConfig struct {
	MaxTurns     int
	HistoryTurns int
	IdleTTL      time.Duration
}

type SafetyConfig struct {
	ExtraDeniedKeywords []string
	RowLimit            int
}

type PipelineConfig struct {
	TranslateTimeout time.Duration
	ExecuteTimeout   time.Duration
	InterpretTimeout time.Duration
	SchemaMaxAge     time.Duration
	ReusePatterns    bool
}

type AIConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float64
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	SQLDialect        string
}

type ObservabilityConfig struct {
	LogLevel     slog.Level
	LogJSON      bool
	OTLPEndpoint string
	OTLPInsecure bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

type APIConfig struct {
	ExposeErrorDetails bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("QUERYGATE_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid QUERYGATE_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	steps := []func() error{
		func() error { return applyString(lookup, "QUERYGATE_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "QUERYGATE_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "QUERYGATE_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "QUERYGATE_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "QUERYGATE_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },

		func() error { return applyString(lookup, "QUERYGATE_SOURCE_DRIVER", &cfg.Source.Driver) },
		func() error { return applyString(lookup, "QUERYGATE_SOURCE_DSN", &cfg.Source.DSN) },
		func() error { return applyInt(lookup, "QUERYGATE_SOURCE_MAX_OPEN_CONNS", &cfg.Source.MaxOpenConns) },
		func() error { return applyString(lookup, "QUERYGATE_SOURCE_PARQUET_TABLES", &cfg.Source.ParquetTables) },

		func() error { return applyString(lookup, "QUERYGATE_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "QUERYGATE_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "QUERYGATE_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error {
			return applyString(lookup, "QUERYGATE_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID)
		},
		func() error {
			return applyString(lookup, "QUERYGATE_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "QUERYGATE_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "QUERYGATE_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "QUERYGATE_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},

		func() error { return applyString(lookup, "QUERYGATE_PATTERNS_DRIVER", &cfg.Patterns.Driver) },
		func() error { return applyString(lookup, "QUERYGATE_PATTERNS_DSN", &cfg.Patterns.DSN) },

		func() error { return applyInt(lookup, "QUERYGATE_SESSION_MAX_TURNS", &cfg.Session.MaxTurns) },
		func() error { return applyInt(lookup, "QUERYGATE_SESSION_HISTORY_TURNS", &cfg.Session.HistoryTurns) },
		func() error { return applyDuration(lookup, "QUERYGATE_SESSION_IDLE_TTL", &cfg.Session.IdleTTL) },

		func() error {
			return applyList(lookup, "QUERYGATE_SAFETY_EXTRA_DENIED_KEYWORDS", &cfg.Safety.ExtraDeniedKeywords)
		},
		func() error { return applyInt(lookup, "QUERYGATE_SAFETY_ROW_LIMIT", &cfg.Safety.RowLimit) },

		func() error {
			return applyDuration(lookup, "QUERYGATE_PIPELINE_TRANSLATE_TIMEOUT", &cfg.Pipeline.TranslateTimeout)
		},
		func() error {
			return applyDuration(lookup, "QUERYGATE_PIPELINE_EXECUTE_TIMEOUT", &cfg.Pipeline.ExecuteTimeout)
		},
		func() error {
			return applyDuration(lookup, "QUERYGATE_PIPELINE_INTERPRET_TIMEOUT", &cfg.Pipeline.InterpretTimeout)
		},
		func() error {
			return applyDuration(lookup, "QUERYGATE_PIPELINE_SCHEMA_MAX_AGE", &cfg.Pipeline.SchemaMaxAge)
		},
		func() error { return applyBool(lookup, "QUERYGATE_PIPELINE_REUSE_PATTERNS", &cfg.Pipeline.ReusePatterns) },

		func() error { return applyString(lookup, "QUERYGATE_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "QUERYGATE_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "QUERYGATE_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "QUERYGATE_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "QUERYGATE_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyFloat(lookup, "QUERYGATE_AI_REQUESTS_PER_SECOND", &cfg.AI.RequestsPerSecond) },
		func() error { return applyInt(lookup, "QUERYGATE_AI_BURST", &cfg.AI.Burst) },
		func() error { return applyString(lookup, "QUERYGATE_AI_SQL_DIALECT", &cfg.AI.SQLDialect) },

		func() error { return applyBool(lookup, "QUERYGATE_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "QUERYGATE_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyString(lookup, "QUERYGATE_OTLP_ENDPOINT", &cfg.Observability.OTLPEndpoint) },
		func() error { return applyBool(lookup, "QUERYGATE_OTLP_INSECURE", &cfg.Observability.OTLPInsecure) },

		func() error { return applyBool(lookup, "QUERYGATE_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "QUERYGATE_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
		func() error {
			return applyBool(lookup, "QUERYGATE_API_EXPOSE_ERROR_DETAILS", &cfg.API.ExposeErrorDetails)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Config{}, err
		}
	}

	cfg.Source.Driver = strings.ToLower(cfg.Source.Driver)
	cfg.Patterns.Driver = strings.ToLower(cfg.Patterns.Driver)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch cfg.Source.Driver {
	case SourceSQLite, SourcePostgres, SourceDuckDB:
		if cfg.Source.DSN == "" {
			return fmt.Errorf("QUERYGATE_SOURCE_DSN is required for driver %q", cfg.Source.Driver)
		}
	case SourceParquet:
		if _, err := ParseTableMap(cfg.Source.ParquetTables); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid QUERYGATE_SOURCE_DRIVER: %q", cfg.Source.Driver)
	}
	switch cfg.Patterns.Driver {
	case SourceSQLite, SourcePostgres:
	default:
		return fmt.Errorf("invalid QUERYGATE_PATTERNS_DRIVER: %q", cfg.Patterns.Driver)
	}
	if cfg.Patterns.DSN == "" {
		return fmt.Errorf("QUERYGATE_PATTERNS_DSN is required")
	}
	if cfg.Session.MaxTurns <= 0 {
		return fmt.Errorf("QUERYGATE_SESSION_MAX_TURNS must be positive")
	}
	if cfg.Session.HistoryTurns < 0 || cfg.Session.HistoryTurns > cfg.Session.MaxTurns {
		return fmt.Errorf("QUERYGATE_SESSION_HISTORY_TURNS must be between 0 and %d", cfg.Session.MaxTurns)
	}
	if cfg.Safety.RowLimit < 0 {
		return fmt.Errorf("QUERYGATE_SAFETY_ROW_LIMIT must not be negative")
	}
	if cfg.AI.RequestsPerSecond < 0 || cfg.AI.Burst < 0 {
		return fmt.Errorf("AI rate limit settings must not be negative")
	}
	return nil
}

// ParseTableMap parses "table=key,table=key" into a map. An empty string is
// an error because the parquet source needs at least one table.
func ParseTableMap(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, key, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		key = strings.TrimSpace(key)
		if !ok || name == "" || key == "" {
			return nil, fmt.Errorf("invalid QUERYGATE_SOURCE_PARQUET_TABLES entry %q", entry)
		}
		if _, exists := out[name]; exists {
			return nil, fmt.Errorf("duplicate table %q in QUERYGATE_SOURCE_PARQUET_TABLES", name)
		}
		out[name] = key
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("QUERYGATE_SOURCE_PARQUET_TABLES is required for the parquet driver")
	}
	return out, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "querygate-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Source: SourceConfig{
			Driver:       SourceSQLite,
			DSN:          "file:querygate-demo.db",
			MaxOpenConns: 8,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "querygate",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Patterns: PatternsConfig{
			Driver: SourceSQLite,
			DSN:    "querygate-patterns.db",
		},
		Session: SessionConfig{
			MaxTurns:     10,
			HistoryTurns: 5,
			IdleTTL:      2 * time.Hour,
		},
		Safety: SafetyConfig{
			RowLimit: 1000,
		},
		Pipeline: PipelineConfig{
			TranslateTimeout: 20 * time.Second,
			ExecuteTimeout:   15 * time.Second,
			InterpretTimeout: 20 * time.Second,
			SchemaMaxAge:     10 * time.Minute,
			ReusePatterns:    false,
		},
		AI: AIConfig{
			BaseURL:           "https://api.openai.com",
			Model:             "gpt-5",
			Temperature:       0.1,
			Timeout:           15 * time.Second,
			RequestsPerSecond: 2,
			Burst:             4,
			SQLDialect:        "SQLite",
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
		API: APIConfig{
			ExposeErrorDetails: true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
		cfg.Source.DSN = "file:querygate-test.db"
		cfg.Patterns.DSN = "querygate-patterns-test.db"
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
		cfg.API.ExposeErrorDetails = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

// applyList reads a comma separated list, dropping blank entries.
func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	values := []string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	*dst = values
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
