package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/plume/internal/config"
	"github.com/zjrosen/plume/internal/log"
)

var (
	version = "dev"
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:     "plume",
	Short:   "Notebook provider registry and output resolution",
	Long:    `Plume manages notebook document-provider, kernel-provider, and output-renderer registrations, and computes the ordered renderer plan for notebook cell outputs.`,
	Version: version,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/plume/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false,
		"enable debug logging to ~/.plume/plume.log")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("editor.accessibility_support", defaults.Editor.AccessibilitySupport)
	viper.SetDefault("storage.memento_path", defaults.Storage.MementoPath)
	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .plume/config.yaml (current directory)
		// 2. ~/.config/plume/config.yaml (user config)
		if _, err := os.Stat(".plume/config.yaml"); err == nil {
			viper.SetConfigFile(".plume/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "plume"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := filepath.Join(".plume", "config.yaml")
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If write fails, just continue with defaults (no config file)
		}
	}

	_ = viper.Unmarshal(&cfg)

	if viper.GetBool("debug") || cfg.Log.Enabled {
		logPath := cfg.Log.Path
		if logPath == "" {
			home, _ := os.UserHomeDir()
			logPath = filepath.Join(home, ".plume", "plume.log")
		}
		if _, err := log.Init(logPath); err == nil {
			log.SetEnabled(true)
			log.SetMinLevel(logLevel(cfg.Log.Level))
		}
	}
}

func logLevel(name string) log.Level {
	switch name {
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

func validateConfig() error {
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
