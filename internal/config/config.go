// Package config loads upcheck settings from defaults, an optional YAML file and
// UPCHECK_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"

	"upcheck/internal/fingerprint"
	"upcheck/internal/uptodate"
)

const (
	// FileName is the config file looked up in the search directory when no
	// explicit path is given.
	FileName = "upcheck"

	EnvPrefix = "UPCHECK"

	BackendFile   = "file"
	BackendBadger = "badger"
)

var ErrInvalidConfig = errors.New("invalid config")

// StoreConfig selects where execution history and memoized outputs live.
type StoreConfig struct {
	// Backend is "file" (one document per record) or "badger" (embedded database).
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

type Config struct {
	Store StoreConfig `mapstructure:"store"`

	// MaxReasons bounds the reasons reported for an out-of-date decision. Zero
	// reports all of them.
	MaxReasons   int  `mapstructure:"max_reasons"`
	IncludeAdded bool `mapstructure:"include_added"`

	DigestAlgorithm string `mapstructure:"digest_algorithm"`
	LogLevel        string `mapstructure:"log_level"`

	// MetricsFile, when set, receives a Prometheus text exposition after each command.
	MetricsFile string `mapstructure:"metrics_file"`

	// TraceFile, when set, receives the canonical JSON trace of each command.
	TraceFile string `mapstructure:"trace_file"`
}

// LoadOptions controls where Load looks for a config file.
type LoadOptions struct {
	// File is an explicit config file. It must exist.
	File string

	// SearchDir is searched for upcheck.yaml when File is empty. A missing file
	// there is not an error.
	SearchDir string
}

func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend: BackendFile,
			Dir:     ".upcheck",
		},
		MaxReasons:      uptodate.DefaultMaxReasons,
		IncludeAdded:    true,
		DigestAlgorithm: string(fingerprint.SHA256),
		LogLevel:        "info",
	}
}

// Load resolves the configuration. Unknown keys in the config file are errors.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.dir", d.Store.Dir)
	v.SetDefault("max_reasons", d.MaxReasons)
	v.SetDefault("include_added", d.IncludeAdded)
	v.SetDefault("digest_algorithm", d.DigestAlgorithm)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("metrics_file", d.MetricsFile)
	v.SetDefault("trace_file", d.TraceFile)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case opts.File != "":
		if _, err := os.Stat(opts.File); err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", opts.File, err)
		}
	case opts.SearchDir != "":
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(opts.SearchDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config in %s: %w", opts.SearchDir, err)
			}
		}
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendFile, BackendBadger:
	default:
		errs = append(errs, fmt.Errorf("%w: store.backend must be %q or %q, got %q", ErrInvalidConfig, BackendFile, BackendBadger, c.Store.Backend))
	}
	if strings.TrimSpace(c.Store.Dir) == "" {
		errs = append(errs, fmt.Errorf("%w: store.dir is required", ErrInvalidConfig))
	}
	if c.MaxReasons < 0 {
		errs = append(errs, fmt.Errorf("%w: max_reasons must not be negative", ErrInvalidConfig))
	}
	if _, err := fingerprint.ParseAlgorithm(c.DigestAlgorithm); err != nil {
		errs = append(errs, fmt.Errorf("%w: digest_algorithm: %v", ErrInvalidConfig, err))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err))
	}
	return errors.Join(errs...)
}

// Algorithm returns the configured digest algorithm. It assumes Validate passed.
func (c Config) Algorithm() fingerprint.Algorithm {
	a, _ := fingerprint.ParseAlgorithm(c.DigestAlgorithm)
	return a
}

// Level returns the configured log level. It assumes Validate passed.
func (c Config) Level() log.Level {
	l, _ := log.ParseLevel(c.LogLevel)
	return l
}

// HistoryDir is where the file backend keeps execution history.
func (c Config) HistoryDir() string { return filepath.Join(c.Store.Dir, "history") }

// CacheDir is where the file backend keeps memoized outputs.
func (c Config) CacheDir() string { return filepath.Join(c.Store.Dir, "cache") }

// DatabaseDir is where the badger backend keeps its database.
func (c Config) DatabaseDir() string { return filepath.Join(c.Store.Dir, "db") }
