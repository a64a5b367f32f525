package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// minBatchSize is the smallest allowed reconciliation batch. A batch
	// of one degenerates the anchor-centered ordering into per-item
	// commits, which floods observers with notifications.
	minBatchSize = 10

	// maxProbeConcurrency caps the existence verifier's outstanding
	// probes. Stat calls are cheap but unbounded fan-out starves the
	// rest of the process on slow network mounts.
	maxProbeConcurrency = 256
)

// Config holds all environment-based configuration for gallery-sync.
type Config struct {
	// Directory containing the image library to index and watch.
	LibraryDir string `env:"GALLERY_LIBRARY_DIR"`

	// Path of the bbolt state database. Defaults to
	// ~/.gallery-sync/state.db when empty.
	StateDB string `env:"GALLERY_STATE_DB"`

	// Number of collection positions reconciled per batch.
	BatchSize int `env:"GALLERY_BATCH_SIZE" envDefault:"256"`

	// Maximum outstanding existence probes.
	ProbeConcurrency int `env:"GALLERY_PROBE_CONCURRENCY" envDefault:"32"`

	// Pause after committing the anchor batch, giving observers one
	// render pass over the region the user is looking at.
	AnchorDelay time.Duration `env:"GALLERY_ANCHOR_DELAY" envDefault:"50ms"`

	// Quiet period before a filesystem change triggers a re-sync.
	RescanDebounce time.Duration `env:"GALLERY_RESCAN_DEBOUNCE" envDefault:"500ms"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.StateDB == "" {
		path, err := defaultStateDB()
		if err != nil {
			return nil, err
		}

		cfg.StateDB = path
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve LibraryDir to an absolute path at startup. Display paths
	// are derived by prefix-stripping against this value, which only
	// works reliably with absolute paths.
	absDir, err := filepath.Abs(cfg.LibraryDir)
	if err != nil {
		return nil, fmt.Errorf("resolving library dir to absolute path: %w", err)
	}

	cfg.LibraryDir = absDir

	return cfg, nil
}

func (c *Config) validate() error {
	if c.LibraryDir == "" {
		return fmt.Errorf("GALLERY_LIBRARY_DIR is required")
	}

	if c.BatchSize < minBatchSize {
		return fmt.Errorf("GALLERY_BATCH_SIZE must be at least %d", minBatchSize)
	}

	if c.ProbeConcurrency < 1 || c.ProbeConcurrency > maxProbeConcurrency {
		return fmt.Errorf("GALLERY_PROBE_CONCURRENCY must be between 1 and %d", maxProbeConcurrency)
	}

	if c.AnchorDelay < 0 {
		return fmt.Errorf("GALLERY_ANCHOR_DELAY must not be negative")
	}

	if c.RescanDebounce < 0 {
		return fmt.Errorf("GALLERY_RESCAN_DEBOUNCE must not be negative")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func defaultStateDB() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".gallery-sync", "state.db"), nil
}
