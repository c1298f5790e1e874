// Package config loads and validates the pipeline configuration from YAML.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avelingo/avelingo-go/pkg/batch"
	"github.com/avelingo/avelingo-go/pkg/cache"
	"github.com/avelingo/avelingo-go/pkg/costs"
	"github.com/avelingo/avelingo-go/pkg/errors"
)

// ModelConfig selects the vision model and how to authenticate against it.
type ModelConfig struct {
	// ModelID names the Anthropic model used for annotation.
	ModelID string `yaml:"model_id" validate:"required,model_id"`

	// APIKeyEnv names the environment variable holding the API key. The key
	// itself never lives in config files.
	APIKeyEnv string `yaml:"api_key_env" validate:"required"`

	MaxTokens int `yaml:"max_tokens" validate:"omitempty,min=1"`
}

// APIKey resolves the configured API key from the environment.
func (m ModelConfig) APIKey() string {
	return os.Getenv(m.APIKeyEnv)
}

// LearningConfig tunes the pattern learner's persistence.
type LearningConfig struct {
	// SnapshotKey is the blob key the pattern map is persisted under.
	SnapshotKey string `yaml:"snapshot_key"`
}

// StorageConfig locates the durable stores.
type StorageConfig struct {
	// FeedbackDBPath is the SQLite file for the feedback audit trail.
	FeedbackDBPath string `yaml:"feedback_db_path" validate:"required"`

	// BlobDir is the directory pattern snapshots are written to.
	BlobDir string `yaml:"blob_dir" validate:"required"`
}

// LoggingConfig controls log severity and an optional file sink.
type LoggingConfig struct {
	Level    string `yaml:"level" validate:"omitempty,log_level"`
	FilePath string `yaml:"file_path"`
}

// Config is the root configuration of the annotation pipeline.
type Config struct {
	Model    ModelConfig                   `yaml:"model"`
	Learning LearningConfig                `yaml:"learning"`
	Storage  StorageConfig                 `yaml:"storage"`
	Cache    cache.Config                  `yaml:"cache" validate:"omitempty"`
	Batch    batch.Config                  `yaml:"batch"`
	Logging  LoggingConfig                 `yaml:"logging"`
	Pricing  map[string]costs.ModelPricing `yaml:"pricing" validate:"required,min=1"`
}

// Default returns a configuration that works out of the box for local use.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			ModelID:   "claude-sonnet-4-5",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens: 2048,
		},
		Learning: LearningConfig{
			SnapshotKey: "bird-patterns.json",
		},
		Storage: StorageConfig{
			FeedbackDBPath: "avelingo-feedback.db",
			BlobDir:        "avelingo-data",
		},
		Cache: cache.Config{
			Capacity:   1000,
			DefaultTTL: time.Hour,
		},
		Batch: batch.Config{
			Workers:        4,
			RetryAttempts:  2,
			RetryDelay:     time.Second,
			Backoff:        2,
			TaskTimeout:    2 * time.Minute,
			RateLimitDelay: 500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Pricing: map[string]costs.ModelPricing{
			"claude-sonnet-4-5": {InputPerMTok: 3.0, OutputPerMTok: 15.0},
			"claude-haiku-4-5":  {InputPerMTok: 1.0, OutputPerMTok: 5.0},
		},
	}
}

// Load reads a YAML config file on top of the defaults and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.ResourceNotFound, "failed to read config file"),
			errors.Fields{"path": path})
	}
	return Parse(data)
}

// Parse unmarshals YAML config bytes on top of the defaults and validates
// the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.InvalidInput, "failed to parse config YAML")
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
