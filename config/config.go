// Package config loads the runtime configuration for Arbor applications
// from YAML, with project/home discovery and first-match semantics.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/arbor"
)

const (
	projectConfigName = "arbor.yaml"
	homeConfigName    = "config.yaml"
)

// Duration wraps time.Duration so it can be written as "250ms" or "5s" in
// YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the declarative runtime configuration shape.
type Config struct {
	Executor ExecutorConfig `yaml:"executor"`
	Stop     StopConfig     `yaml:"stop"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ExecutorConfig sizes the shared executor pipelines draw workers from.
type ExecutorConfig struct {
	// MaxWorkers caps concurrently running pipeline drains (0 = unbounded).
	MaxWorkers int `yaml:"maxWorkers"`
}

// StopConfig controls how Stop quiesces the tree.
type StopConfig struct {
	// SynchronousDrain makes Stop wait for the generator registry to
	// drain before returning.
	SynchronousDrain bool `yaml:"synchronousDrain"`

	// DrainTimeout bounds the synchronous drain (0 = wait indefinitely).
	DrainTimeout Duration `yaml:"drainTimeout"`
}

// LoggingConfig selects the log level for the runtime logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads and parses the configuration file at path.
func Load(path string) (Config, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if _, err := cfg.Logging.SlogLevel(); err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// DiscoverPath resolves the config location with first-match semantics: the
// explicit path if given, else arbor.yaml in the working directory, else
// ~/.arbor/config.yaml.
func DiscoverPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverPathFrom is a testable variant of DiscoverPath.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	explicit := strings.TrimSpace(explicitPath) != ""
	if explicit {
		candidates = append(candidates, filepath.Clean(strings.TrimSpace(explicitPath)))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, ".arbor", homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// An explicit path that does not exist is an error.
			if i == 0 && explicit {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// SlogLevel maps the configured level name onto a slog.Level.
func (c LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", c.Level)
	}
}

// RuntimeOptions translates the configuration into runtime options.
func (c Config) RuntimeOptions(logger *slog.Logger) []arbor.RuntimeOption {
	opts := make([]arbor.RuntimeOption, 0, 3)
	if c.Executor.MaxWorkers > 0 {
		opts = append(opts, arbor.WithExecutor(arbor.NewPooledExecutor(c.Executor.MaxWorkers)))
	}
	if c.Stop.SynchronousDrain {
		opts = append(opts, arbor.WithSynchronousStop(time.Duration(c.Stop.DrainTimeout)))
	}
	if logger != nil {
		opts = append(opts, arbor.WithLogger(logger))
	}
	return opts
}
