package config

import (
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"time"

	"credal-eval/internal/core"
	"credal-eval/internal/credal"
	"credal-eval/internal/crossval"
	"credal-eval/internal/storage"

	"github.com/caarlos0/env/v11"
)

// Parse reads a config struct from the environment.
func Parse[T any]() (T, error) {
	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config: %w", err)
	}
	return cfg, nil
}

type StorageConfig struct {
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	// Buckets are served from this directory instead of S3 when set.
	LocalStorageDir string `env:"LOCAL_STORAGE_DIR"`
}

// NewProvider returns the object store for s3:// locations.
func (c StorageConfig) NewProvider() (storage.Provider, error) {
	if c.LocalStorageDir != "" {
		return storage.NewLocalProvider(c.LocalStorageDir), nil
	}

	if c.S3EndpointURL != "" && (c.S3AccessKeyID == "" || c.S3SecretAccessKey == "") {
		log.Println("Warning: S3_ENDPOINT_URL is set, but AWS_ACCESS_KEY_ID or AWS_SECRET_ACCESS_KEY are missing.")
	}

	return storage.NewS3Provider(&storage.S3ProviderConfig{
		S3EndpointURL:     c.S3EndpointURL,
		S3AccessKeyID:     c.S3AccessKeyID,
		S3SecretAccessKey: c.S3SecretAccessKey,
		S3Region:          c.S3Region,
	})
}

// EvaluationConfig configures a single run of the evaluate binary.
type EvaluationConfig struct {
	DatasetPath string `env:"DATASET_PATH,required,notEmpty"`
	OutputPath  string `env:"OUTPUT_PATH,required,notEmpty"`
	ModelType   string `env:"MODEL_TYPE" envDefault:"ilda"`
	PluginCmd   string `env:"PLUGIN_CMD"`
	Mode        string `env:"MODE" envDefault:"sweep"`

	Folds int `env:"FOLDS" envDefault:"10"`
	// Zero means one worker per CPU.
	PoolSize int `env:"POOL_SIZE" envDefault:"0"`
	// Zero means as many repetitions as folds.
	Repetitions int   `env:"REPETITIONS" envDefault:"0"`
	Seed        int64 `env:"SEED" envDefault:"0"`
	Stratified  bool  `env:"STRATIFIED" envDefault:"false"`

	EllFrom float64 `env:"ELL_FROM" envDefault:"0.01"`
	EllTo   float64 `env:"ELL_TO" envDefault:"5"`
	EllBy   float64 `env:"ELL_BY" envDefault:"0.01"`
	Ell     float64 `env:"ELL" envDefault:"1"`

	HoldOutFraction float64       `env:"HOLDOUT_TEST_FRACTION" envDefault:"0.4"`
	FoldTimeout     time.Duration `env:"FOLD_TIMEOUT" envDefault:"30m"`

	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Storage     StorageConfig
}

// Evaluation resolves defaults that depend on the machine or on other fields
// and validates the result.
func (c EvaluationConfig) Evaluation() (core.EvaluationConfig, error) {
	mode, err := core.ParseMode(c.Mode)
	if err != nil {
		return core.EvaluationConfig{}, err
	}

	if c.Folds < 2 && mode != core.ModeHoldOut {
		return core.EvaluationConfig{}, credal.ConfigErrorf("folds", "must be at least 2, got %d", c.Folds)
	}
	if c.PoolSize < 0 {
		return core.EvaluationConfig{}, credal.ConfigErrorf("pool size", "must not be negative, got %d", c.PoolSize)
	}
	if c.Repetitions < 0 {
		return core.EvaluationConfig{}, credal.ConfigErrorf("repetitions", "must not be negative, got %d", c.Repetitions)
	}
	if c.FoldTimeout < 0 {
		return core.EvaluationConfig{}, credal.ConfigErrorf("fold timeout", "must not be negative, got %s", c.FoldTimeout)
	}

	cfg := core.EvaluationConfig{
		Mode:            mode,
		PoolSize:        c.PoolSize,
		Folds:           c.Folds,
		Repetitions:     c.Repetitions,
		Seed:            c.Seed,
		Stratified:      c.Stratified,
		Timeout:         c.FoldTimeout,
		Ells:            crossval.EllRange{From: c.EllFrom, To: c.EllTo, By: c.EllBy},
		Ell:             c.Ell,
		HoldOutFraction: c.HoldOutFraction,
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = runtime.NumCPU()
	}
	if cfg.Repetitions == 0 {
		cfg.Repetitions = c.Folds
	}
	if cfg.Repetitions == 0 {
		cfg.Repetitions = 1
	}
	if cfg.Seed == 0 {
		cfg.Seed = rand.Int63n(1 << 30)
	}

	if err := cfg.Validate(); err != nil {
		return core.EvaluationConfig{}, err
	}
	return cfg, nil
}
