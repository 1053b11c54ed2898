package kvlite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// Config holds the named configuration options from spec §6.
type Config struct {
	// DefaultPartition is used by partition-less convenience calls.
	DefaultPartition string

	// StaticIntervalDays is the interval, in days, used for AddStatic
	// inserts. Default 30.
	StaticIntervalDays int

	// ChancesOfAutoCleanup is the soft-cleanup probability in [0,1].
	// Default 0.01. Set to 0 to disable the probabilistic trigger.
	ChancesOfAutoCleanup float64

	// MinValueLengthForCompression is the compression threshold in bytes.
	// Default 4096.
	MinValueLengthForCompression int

	// InsertionCountBeforeAutoClean, if > 0, runs a soft cleanup every N
	// inserts. This is an alternative, independent trigger to
	// ChancesOfAutoCleanup — both may be configured at once; the engine
	// makes no attempt to reconcile any interleaving between them.
	InsertionCountBeforeAutoClean int

	// ConnectionString and Dialect are passed through to the
	// ConnectionFactory; the core never interprets them.
	ConnectionString string
	Dialect          string
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultPartition:             "default",
		StaticIntervalDays:           30,
		ChancesOfAutoCleanup:         0.01,
		MinValueLengthForCompression: 4096,
		Dialect:                      "sqlite3",
	}
}

// Validate checks the config invariants named in spec §7 (InvalidArgument:
// "out-of-range config value").
func (c Config) Validate() error {
	if c.StaticIntervalDays < 0 {
		return fmt.Errorf("%w: static interval days must be >= 0", ErrInvalidArgument)
	}

	if c.ChancesOfAutoCleanup < 0 || c.ChancesOfAutoCleanup > 1 {
		return fmt.Errorf("%w: chances of auto cleanup must be in [0,1]", ErrInvalidArgument)
	}

	if c.MinValueLengthForCompression < 0 {
		return fmt.Errorf("%w: min value length for compression must be >= 0", ErrInvalidArgument)
	}

	if c.InsertionCountBeforeAutoClean < 0 {
		return fmt.Errorf("%w: insertion count before auto clean must be >= 0", ErrInvalidArgument)
	}

	return nil
}

// StaticIntervalSeconds returns the configured static interval in seconds.
func (c Config) StaticIntervalSeconds() int64 {
	return int64(c.StaticIntervalDays) * 86400
}

// LoadConfigFile reads a JSON-with-comments config file (trailing commas
// and // and /* */ comments allowed) and overlays it onto DefaultConfig.
// Unknown fields are rejected the same way encoding/json rejects them.
//
// This mirrors the teacher repo's own config-file ethos: a human-editable
// config file that tolerates comments, parsed with hujson before handing
// the result to encoding/json.
func LoadConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	standard, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w: %w", ErrInvalidArgument, err)
	}

	cfg := DefaultConfig()

	dec := json.NewDecoder(bytes.NewReader(standard))
	dec.DisallowUnknownFields()

	err = dec.Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w: %w", ErrInvalidArgument, err)
	}

	return cfg, cfg.Validate()
}

// LoadConfigYAML reads a YAML config file and overlays it onto
// DefaultConfig. Used by the bench/scenario tooling in cmd/kvlite-bench,
// which favors YAML for multi-scenario files.
func LoadConfigYAML(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	cfg := DefaultConfig()

	err = yaml.Unmarshal(raw, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w: %w", ErrInvalidArgument, err)
	}

	return cfg, cfg.Validate()
}
