// Package config provides configuration types, defaults, and persistence
// for plume.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zjrosen/plume/internal/log"
)

// Keys used for change notification. Subscribers filter on these.
const (
	KeyDisplayOrder         = "notebook.display_order"
	KeyAccessibilitySupport = "editor.accessibility_support"
)

// Config holds all configuration options for plume.
type Config struct {
	Notebook NotebookConfig `mapstructure:"notebook"`
	Editor   EditorConfig   `mapstructure:"editor"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// NotebookConfig holds notebook-specific settings.
type NotebookConfig struct {
	// DisplayOrder is the user-configured mime-type preference list.
	// It outranks the built-in default order during output resolution.
	DisplayOrder []string `mapstructure:"display_order"`
}

// EditorConfig holds editor-wide settings.
type EditorConfig struct {
	// AccessibilitySupport switches the default mime-type order to the
	// screen-reader-optimized list. Valid values: "auto", "on", "off".
	AccessibilitySupport string `mapstructure:"accessibility_support"`
}

// StorageConfig holds persistence locations.
type StorageConfig struct {
	// MementoPath is the sqlite database file for durable mementos.
	// Default: ~/.plume/mementos.db
	MementoPath string `mapstructure:"memento_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Level   string `mapstructure:"level"` // debug, info, warn, error
	Path    string `mapstructure:"path"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	// Enabled controls whether tracing is active. Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for the "file" exporter.
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for the "otlp" exporter.
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate"`
}

// ScreenReaderOptimized reports whether the accessibility-derived display
// order should be used. "auto" consults the PLUME_SCREEN_READER
// environment variable so assistive launchers can opt in.
func (e EditorConfig) ScreenReaderOptimized() bool {
	switch e.AccessibilitySupport {
	case "on":
		return true
	case "off":
		return false
	default:
		return os.Getenv("PLUME_SCREEN_READER") == "1"
	}
}

// DefaultMementoPath returns ~/.plume/mementos.db, or "" if the home
// directory is unavailable.
func DefaultMementoPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".plume", "mementos.db")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "plume", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Notebook: NotebookConfig{
			DisplayOrder: nil, // Built-in order applies when unset
		},
		Editor: EditorConfig{
			AccessibilitySupport: "auto",
		},
		Storage: StorageConfig{
			MementoPath: DefaultMementoPath(),
		},
		Log: LogConfig{
			Enabled: false,
			Level:   "info",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// Validate checks the configuration for errors.
func Validate(cfg Config) error {
	switch cfg.Editor.AccessibilitySupport {
	case "", "auto", "on", "off":
	default:
		return fmt.Errorf("editor.accessibility_support must be \"auto\", \"on\", or \"off\", got %q", cfg.Editor.AccessibilitySupport)
	}

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", cfg.Log.Level)
	}

	return ValidateTracing(cfg.Tracing)
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	if tracing.Enabled {
		if tracing.Exporter == "file" && tracing.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Plume Configuration

# Notebook settings
notebook:
  # Mime-type preference order for cell outputs. Types listed here are
  # tried before the built-in order. Leave empty to use the default.
  # display_order:
  #   - application/json
  #   - text/plain

# Editor settings
editor:
  # Use the screen-reader-optimized output order.
  # "auto" (default) follows the PLUME_SCREEN_READER environment variable.
  accessibility_support: auto

# Persistence locations
storage:
  # memento_path: ~/.plume/mementos.db

# Logging
log:
  enabled: false
  level: info        # debug, info, warn, error
  # path: ~/.plume/plume.log

# Tracing configuration
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/plume/traces/traces.jsonl  # Output file for file exporter
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
`
}

// WriteDefaultConfig creates a config file at the given path with default
// settings and comments. Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "created default config", "path", configPath)
	return nil
}
