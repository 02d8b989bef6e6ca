package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

const (
	TargetSQLite  = "sqlite"
	TargetParquet = "parquet"
)

type Config struct {
	Target     string
	SQLitePath string
	Dataset    string
	Customers  int
	Seed       int64
}

func DefaultConfig() Config {
	return Config{
		Target:     TargetSQLite,
		SQLitePath: "querygate-demo.db",
		Dataset:    "demo",
		Customers:  100,
		Seed:       time.Now().UTC().UnixNano(),
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	applyString(lookup, "QUERYGATE_SEED_TARGET", &cfg.Target)
	applyString(lookup, "QUERYGATE_SEED_SQLITE_PATH", &cfg.SQLitePath)
	applyString(lookup, "QUERYGATE_SEED_DATASET", &cfg.Dataset)
	if err := applyInt(lookup, "QUERYGATE_SEED_CUSTOMERS", &cfg.Customers); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "QUERYGATE_SEED_RANDOM_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}

	cfg.Target = strings.ToLower(cfg.Target)
	switch cfg.Target {
	case TargetSQLite:
		if cfg.SQLitePath == "" {
			return Config{}, fmt.Errorf("QUERYGATE_SEED_SQLITE_PATH is required")
		}
	case TargetParquet:
		if cfg.Dataset == "" {
			return Config{}, fmt.Errorf("QUERYGATE_SEED_DATASET is required")
		}
	default:
		return Config{}, fmt.Errorf("invalid QUERYGATE_SEED_TARGET: %q", cfg.Target)
	}
	if cfg.Customers <= 0 {
		return Config{}, fmt.Errorf("QUERYGATE_SEED_CUSTOMERS must be > 0")
	}
	return cfg, nil
}

func applyString(lookup LookupFunc, key string, dst *string) {
	if raw, ok := lookup(key); ok {
		*dst = strings.TrimSpace(raw)
	}
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
