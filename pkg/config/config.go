// Package config loads runtime configuration through viper: defaults first,
// then an optional config file, then environment overrides.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds all configuration for the pattern detector.
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Model configuration
	Model ModelConfig `mapstructure:"model"`

	// Training defaults, overridable per request
	Training TrainingConfig `mapstructure:"training"`

	// Cache configuration
	Cache CacheConfig `mapstructure:"cache"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ModelConfig holds checkpoint location defaults.
type ModelConfig struct {
	Path string `mapstructure:"path"`
}

// TrainingConfig holds default hyperparameters for train requests that omit
// them.
type TrainingConfig struct {
	Epochs         int     `mapstructure:"epochs"`
	LearningRate   float64 `mapstructure:"learning_rate"`
	HiddenChannels int     `mapstructure:"hidden_channels"`
	NumLayers      int     `mapstructure:"num_layers"`
}

// CacheConfig holds embedding-cache configuration. An empty Dir disables the
// cache.
type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// ServerConfig holds HTTP facade configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// Load reads configuration with defaults and environment overrides.
func Load() (*Config, error) {
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)
	return config, nil
}

func setDefaults() {
	viper.SetDefault("log.level", "info")

	viper.SetDefault("model.path", "models/gnn_pattern_detector.pth")

	viper.SetDefault("training.epochs", 100)
	viper.SetDefault("training.learning_rate", 0.001)
	viper.SetDefault("training.hidden_channels", 128)
	viper.SetDefault("training.num_layers", 4)

	viper.SetDefault("cache.dir", "")

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
}

func overrideWithEnv(config *Config) {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if path := os.Getenv("BEHAVIORGRAPH_MODEL_PATH"); path != "" {
		config.Model.Path = path
	}
	if dir := os.Getenv("BEHAVIORGRAPH_CACHE_DIR"); dir != "" {
		config.Cache.Dir = dir
	}
	if host := os.Getenv("BEHAVIORGRAPH_HOST"); host != "" {
		config.Server.Host = host
	}
}
