package parawork

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/parawork/parawork/offsetcodec"
	"go.uber.org/zap"
)

// Config holds every tunable of the work manager and its surrounding
// runner. The koanf tags mirror the fields' YAML keys; env overrides use
// the PARAWORK_ prefix, which is stripped before the rest of the name is
// lower-cased into a key (e.g. PARAWORK_COMMIT_INTERVAL sets
// commit_interval), with "__" as the nesting delimiter.
type Config struct {
	// Ordering selects the shard-key function (spec.md §4.2).
	Ordering Ordering `koanf:"ordering"`

	// MaxQueue caps the number of taken-but-not-yet-terminal work
	// containers system-wide before ShouldThrottle reports true.
	MaxQueue int `koanf:"max_queue"`
	// MaxBeyondBase must be positive (Validate rejects other values). No
	// other code reads it, so it does not limit how far past a partition's
	// low-water mark records are registered or taken.
	MaxBeyondBase int64 `koanf:"max_beyond_base"`
	// LoadingFactor scales MaxQueue when deciding whether the engine is
	// "sufficiently loaded" to skip an unnecessary poll.
	LoadingFactor float64 `koanf:"loading_factor"`
	// ForcedCodec names an offset-map format for offsetcodec.EncodeForced.
	// The commit planner does not read it and always picks the smallest
	// applicable codec.
	ForcedCodec offsetcodec.Format `koanf:"forced_codec"`

	// Worker pool configuration.
	NumWorkers      int `koanf:"num_workers"`
	JobQueueSize    int `koanf:"job_queue_size"`
	ResultQueueSize int `koanf:"result_queue_size"`

	// Commit configuration.
	CommitInterval  time.Duration `koanf:"commit_interval"`
	CommitBatchSize int           `koanf:"commit_batch_size"`

	// Error handling.
	MaxConsecutiveErrors int           `koanf:"max_consecutive_errors"`
	MaxRetries           int           `koanf:"max_retries"`
	RetryBackoffBase     time.Duration `koanf:"retry_backoff_base"`

	// Logging and metrics.
	Logger        *zap.Logger `koanf:"-"`
	EnableMetrics bool        `koanf:"enable_metrics"`

	// Advanced options.
	EnableOrderedProcessing bool          `koanf:"enable_ordered_processing"`
	ShutdownTimeout         time.Duration `koanf:"shutdown_timeout"`
}

// DefaultConfig returns a config with sensible defaults for the given
// logger, which is required and never defaulted from koanf.
func DefaultConfig(logger *zap.Logger) Config {
	return Config{
		Ordering:                Key,
		MaxQueue:                50_000,
		MaxBeyondBase:           1_000_000,
		LoadingFactor:           1.5,
		NumWorkers:              10,
		JobQueueSize:            1000,
		ResultQueueSize:         1000,
		CommitInterval:          5 * time.Second,
		CommitBatchSize:         1000,
		MaxConsecutiveErrors:    10,
		MaxRetries:              3,
		RetryBackoffBase:        100 * time.Millisecond,
		Logger:                  logger,
		EnableMetrics:           false,
		EnableOrderedProcessing: true,
		ShutdownTimeout:         30 * time.Second,
	}
}

// Validate checks that a config is safe to run with.
func (c Config) Validate() error {
	if c.NumWorkers <= 0 {
		return fmt.Errorf("NumWorkers must be > 0, got %d", c.NumWorkers)
	}
	if c.Logger == nil {
		return fmt.Errorf("Logger is required")
	}
	if c.CommitInterval <= 0 {
		return fmt.Errorf("CommitInterval must be > 0")
	}
	if c.MaxQueue <= 0 {
		return fmt.Errorf("MaxQueue must be > 0, got %d", c.MaxQueue)
	}
	if c.MaxBeyondBase <= 0 {
		return fmt.Errorf("MaxBeyondBase must be > 0, got %d", c.MaxBeyondBase)
	}
	if c.Ordering < Unordered || c.Ordering > Key {
		return fmt.Errorf("Ordering %v is not a recognized ordering mode", c.Ordering)
	}
	return nil
}

// LoadConfig merges an optional YAML file with PARAWORK_-prefixed
// environment variables (delimiter "__") into a Config, applying
// DefaultConfig's values for anything left unset. The logger is not
// loaded from koanf; the logger argument is attached after unmarshaling.
func LoadConfig(path string, logger *zap.Logger) (Config, error) {
	cfg := DefaultConfig(logger)

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("parawork: loading config file %q: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("PARAWORK_", "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "PARAWORK_"))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("parawork: loading environment overrides: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parawork: unmarshaling config: %w", err)
	}
	cfg.Logger = logger

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
