// Package config loads findoutlie settings from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"findoutlie/internal/core"
	"findoutlie/internal/detect"
	"findoutlie/internal/metrics"
	"findoutlie/internal/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FINDOUTLIE_"

// Config holds all findoutlie settings.
type Config struct {
	Detect     DetectConfig     `yaml:"detect"`
	Validation ValidationConfig `yaml:"validation"`
	Cache      CacheConfig      `yaml:"cache"`
	Store      StoreConfig      `yaml:"store"`
	Logging    LoggingConfig    `yaml:"logging"`
	Watch      WatchConfig      `yaml:"watch"`
}

// DetectConfig configures image discovery and outlier detection.
type DetectConfig struct {
	Pattern       string  `yaml:"pattern"`
	Metric        string  `yaml:"metric"` // mean, dvars
	IQRProportion float64 `yaml:"iqr_proportion"`
	Concurrency   int     `yaml:"concurrency"`
	CleanDir      string  `yaml:"clean_dir"` // when set, cleaned images are written here
	Report        string  `yaml:"report"`    // when set, the JSON report is written here
}

// ValidationConfig configures the hash list check that precedes detection.
type ValidationConfig struct {
	Enabled  bool   `yaml:"enabled"`
	HashList string `yaml:"hash_list"` // relative to the data directory unless absolute
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Mode string `yaml:"mode"` // clean, incremental
	Dir  string `yaml:"dir"`  // relative to the data directory unless absolute
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Detect: DetectConfig{
			Pattern:       core.DefaultImagePattern,
			Metric:        string(metrics.KindMean),
			IQRProportion: detect.DefaultIQRProportion,
			Concurrency:   runtime.NumCPU(),
		},
		Cache: CacheConfig{
			Mode: string(store.ModeIncremental),
			Dir:  ".findoutlie/cache",
		},
		Store: StoreConfig{
			Path: defaultStorePath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
	}
}

func defaultStorePath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "findoutlie", "runs.db")
	}
	return filepath.Join(".findoutlie", "runs.db")
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies FINDOUTLIE_* environment variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(EnvPrefix + "PATTERN"); v != "" {
		c.Detect.Pattern = v
	}
	if v := os.Getenv(EnvPrefix + "METRIC"); v != "" {
		c.Detect.Metric = v
	}
	if v := os.Getenv(EnvPrefix + "IQR_PROPORTION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sIQR_PROPORTION: %w", EnvPrefix, err)
		}
		c.Detect.IQRProportion = f
	}
	if v := os.Getenv(EnvPrefix + "CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sCONCURRENCY: %w", EnvPrefix, err)
		}
		c.Detect.Concurrency = n
	}
	if v := os.Getenv(EnvPrefix + "VALIDATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sVALIDATE: %w", EnvPrefix, err)
		}
		c.Validation.Enabled = b
	}
	if v := os.Getenv(EnvPrefix + "HASH_LIST"); v != "" {
		c.Validation.HashList = v
	}
	if v := os.Getenv(EnvPrefix + "MODE"); v != "" {
		c.Cache.Mode = v
	}
	if v := os.Getenv(EnvPrefix + "CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv(EnvPrefix + "DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	return nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if !doublestar.ValidatePattern(c.Detect.Pattern) {
		errs = append(errs, fmt.Errorf("detect.pattern %q is not a valid glob", c.Detect.Pattern))
	}
	if _, err := metrics.ParseKind(c.Detect.Metric); err != nil {
		errs = append(errs, fmt.Errorf("detect.metric: %w", err))
	}
	if c.Detect.IQRProportion < 0 {
		errs = append(errs, errors.New("detect.iqr_proportion must be >= 0"))
	}
	if c.Detect.Concurrency < 1 {
		errs = append(errs, errors.New("detect.concurrency must be >= 1"))
	}
	if _, err := store.ParseMode(c.Cache.Mode); err != nil {
		errs = append(errs, fmt.Errorf("cache.mode: %w", err))
	}
	if c.Cache.Mode == string(store.ModeIncremental) && strings.TrimSpace(c.Cache.Dir) == "" {
		errs = append(errs, errors.New("cache.dir is required in incremental mode"))
	}
	if !c.Store.Disabled && strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, errors.New("store.path is required unless store.disabled"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is invalid", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is invalid", c.Logging.Format))
	}
	if _, err := c.DebounceInterval(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// DebounceInterval parses Watch.Debounce.
func (c *Config) DebounceInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 0, fmt.Errorf("watch.debounce: %w", err)
	}
	if d < 0 {
		return 0, errors.New("watch.debounce must be >= 0")
	}
	return d, nil
}

// ResolvePath resolves p against dataDir unless it is absolute or empty.
func ResolvePath(dataDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}
