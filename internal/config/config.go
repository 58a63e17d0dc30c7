// Package config loads and validates application settings.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Veraticus/affinity/internal/common"
)

// Fallback policies for users the trained model has never seen.
const (
	// FallbackPurchase ranks products by summed purchase weight only.
	FallbackPurchase = "purchase"
	// FallbackEngaged ranks products by summed purchase, cart and view weight.
	FallbackEngaged = "engaged"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the full application configuration.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Recommender RecommenderConfig `mapstructure:"recommender"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// DatabaseConfig locates the SQLite event store and catalog.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// RecommenderConfig controls training and serving of the ranking model.
type RecommenderConfig struct {
	FallbackPolicy     string  `mapstructure:"fallback_policy" validate:"oneof=purchase engaged"`
	ArtifactDir        string  `mapstructure:"artifact_dir" validate:"required"`
	HiddenLayers       []int   `mapstructure:"hidden_layers" validate:"min=1,dive,min=1"`
	LearningRate       float64 `mapstructure:"learning_rate" validate:"gt=0"`
	TestFraction       float64 `mapstructure:"test_fraction" validate:"gte=0,lt=1"`
	Seed               uint64  `mapstructure:"seed"`
	EmbeddingDim       int     `mapstructure:"embedding_dim" validate:"min=1"`
	Epochs             int     `mapstructure:"epochs" validate:"min=1"`
	BatchSize          int     `mapstructure:"batch_size" validate:"min=1"`
	TopNDefault        int     `mapstructure:"top_n_default" validate:"min=1"`
	InferenceBatchSize int     `mapstructure:"inference_batch_size" validate:"min=1"`
	KeepVersions       int     `mapstructure:"keep_versions" validate:"min=1"`
}

// MetricsConfig controls where batch metrics are written.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "$XDG_DATA_HOME/affinity/affinity.db")
	v.SetDefault("recommender.artifact_dir", "$XDG_DATA_HOME/affinity/models")
	v.SetDefault("recommender.embedding_dim", 50)
	v.SetDefault("recommender.hidden_layers", []int{128, 64})
	v.SetDefault("recommender.epochs", 10)
	v.SetDefault("recommender.batch_size", 64)
	v.SetDefault("recommender.learning_rate", 0.001)
	v.SetDefault("recommender.test_fraction", 0.2)
	v.SetDefault("recommender.seed", 42)
	v.SetDefault("recommender.top_n_default", 5)
	v.SetDefault("recommender.inference_batch_size", 64)
	v.SetDefault("recommender.fallback_policy", FallbackPurchase)
	v.SetDefault("recommender.keep_versions", 3)
	v.SetDefault("metrics.textfile", "")
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		// Defaults are static; failing here is a programming error.
		panic(err)
	}
	return cfg
}

// Load reads configuration from v, expands paths and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Recommender.ArtifactDir = ExpandPath(cfg.Recommender.ArtifactDir)
	cfg.Metrics.Textfile = ExpandPath(cfg.Metrics.Textfile)
	cfg.Recommender.FallbackPolicy = strings.ToLower(strings.TrimSpace(cfg.Recommender.FallbackPolicy))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("%w: %s", common.ErrInvalidConfig, strings.Join(msgs, "; "))
}
