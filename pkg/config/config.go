// Package config provides configuration loading and validation for piperbook.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidChunkSize = errors.New("max chunk size must be positive")
	ErrInvalidInterval  = errors.New("progress interval must be positive")
	ErrInvalidTimeout   = errors.New("chunk timeout must not be negative")
	ErrMissingImage     = errors.New("synthesis image must not be empty")
)

// Default configuration values.
const (
	DefaultMaxChunkSize     = 2000
	DefaultModel            = "en_GB-northern_english_male-medium"
	DefaultOutputFile       = "output.wav"
	DefaultSynthesisImage   = "piper-tts-runner"
	DefaultFFmpegImage      = "jrottenberg/ffmpeg:latest"
	DefaultModelsDir        = "models"
	DefaultChunkTimeout     = 10 * time.Minute
	DefaultProgressInterval = 500 * time.Millisecond
)

// Config holds all configuration for piperbook.
type Config struct {
	Synthesis SynthesisConfig `mapstructure:"synthesis"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Combine   CombineConfig   `mapstructure:"combine"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SynthesisConfig holds settings for the external synthesis engine.
type SynthesisConfig struct {
	// Image is the container image that runs the piper binary.
	Image string `mapstructure:"image"`

	// ModelsDir is bind-mounted into the container so downloaded voice
	// models persist across runs.
	ModelsDir string `mapstructure:"models_dir"`

	// ChunkTimeout bounds a single chunk synthesis. Zero disables it.
	ChunkTimeout time.Duration `mapstructure:"chunk_timeout"`
}

// ChunkingConfig holds text splitting settings.
type ChunkingConfig struct {
	MaxChunkSize int `mapstructure:"max_chunk_size"`
}

// CombineConfig holds audio combination settings.
type CombineConfig struct {
	// FFmpegImage is used for the container-based concat attempt.
	FFmpegImage string `mapstructure:"ffmpeg_image"`
}

// ProgressConfig holds progress reporting settings.
type ProgressConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load loads configuration from defaults, an optional config file and
// PIPERBOOK_* environment variables, in increasing precedence.
func Load(configPath string) (*Config, error) {
	// A .env next to the working directory is a convenience, never required.
	_ = godotenv.Load()

	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(".piperbook")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("$HOME")
	}

	viperCfg.SetEnvPrefix("PIPERBOOK")
	viperCfg.AutomaticEnv()
	// An empty value set in the environment is an explicit override, not
	// an unset key, so it must reach validation.
	viperCfg.AllowEmptyEnv(true)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validate(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("synthesis.image", DefaultSynthesisImage)
	viperCfg.SetDefault("synthesis.models_dir", DefaultModelsDir)
	viperCfg.SetDefault("synthesis.chunk_timeout", DefaultChunkTimeout.String())

	viperCfg.SetDefault("chunking.max_chunk_size", DefaultMaxChunkSize)

	viperCfg.SetDefault("combine.ffmpeg_image", DefaultFFmpegImage)

	viperCfg.SetDefault("progress.interval", DefaultProgressInterval.String())

	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "text")
	viperCfg.SetDefault("logging.output", "stderr")
}

// validate checks the configuration.
func validate(config *Config) error {
	if config.Chunking.MaxChunkSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, config.Chunking.MaxChunkSize)
	}

	if config.Progress.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, config.Progress.Interval)
	}

	if config.Synthesis.ChunkTimeout < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTimeout, config.Synthesis.ChunkTimeout)
	}

	if config.Synthesis.Image == "" {
		return ErrMissingImage
	}

	return nil
}
