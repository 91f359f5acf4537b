package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Initialize loads, validates, and returns ready-to-use configuration. This
// is the primary entry point, mirroring the teacher's
// config.Initialize(ctx, configDir).
//
// Steps: load .env (if present), read sumeval.yaml, expand ${VAR}
// references, merge onto built-in defaults, validate.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	_ = ctx
	log := slog.With("config_dir", configDir)
	log.Info("initializing configuration")

	// godotenv.Load is a no-op (returns an error that we ignore) when no
	// .env file is present, matching cmd/tarsy/main.go's startup sequence.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("configuration initialized", "generators", stats.Generators, "judges", stats.Judges)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "sumeval.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}

	data = ExpandEnv(data)

	var user Config
	if err := yaml.Unmarshal(data, &user); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	cfg := Default()
	// mergo.WithOverride: non-zero fields in the user document override the
	// built-in defaults, exactly as pkg/config/loader.go does for QueueConfig.
	if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge user config onto defaults: %w", err)
	}
	// Weights, generators, and judge model lists are wholesale user overrides
	// when present, not field-by-field merges; mergo can't express "replace
	// slice unless empty" so the defaults-then-overwrite above is corrected
	// here for the small set of all-or-nothing sections.
	if len(user.Generators) > 0 {
		cfg.Generators = user.Generators
	}
	if len(user.Judge.Models) > 0 {
		cfg.Judge.Models = user.Judge.Models
	}
	if len(user.Retrieval.Ks) > 0 {
		cfg.Retrieval.Ks = user.Retrieval.Ks
	}
	cfg.configDir = configDir
	if cfg.Name == "" {
		cfg.Name = filepath.Base(configDir)
	}
	return cfg, nil
}
