package config

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// validateSchema re-marshals cfg to JSON (via the YAML-compatible struct
// tags) and checks it against schemaJSON, catching malformed enumerated
// options before the looser sanity checks in validate() run.
func validateSchema(cfg *Config) error {
	// yaml.Marshal + yaml.v3's map[string]any round-trip produces
	// JSON-compatible scalar types, so re-encoding through YAML here (rather
	// than adding struct-level json tags) keeps a single source of truth
	// for field names.
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%w: re-marshal for schema check: %v", ErrValidationFailed, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: decode for schema check: %v", ErrValidationFailed, err)
	}

	schemaLoader := gojsonschema.NewStringLoader(schemaJSON)
	docLoader := gojsonschema.NewGoLoader(doc)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("%w: schema validation: %v", ErrValidationFailed, err)
	}
	if !result.Valid() {
		for _, e := range result.Errors() {
			return fmt.Errorf("%w: %s", ErrValidationFailed, e.String())
		}
	}
	return nil
}

// validate performs the domain sanity checks a JSON Schema cannot express:
// non-empty generator roster, judge quorum, weights summing close to 1.
func validate(cfg *Config) error {
	if err := validateSchema(cfg); err != nil {
		return err
	}

	if len(cfg.Generators) == 0 {
		return NewValidationError("generators", ErrMissingRequiredField)
	}
	seen := make(map[string]bool, len(cfg.Generators))
	for _, g := range cfg.Generators {
		if g.ID == "" {
			return NewValidationError("generators[].id", ErrMissingRequiredField)
		}
		if seen[g.ID] {
			return NewValidationError("generators[].id", fmt.Errorf("%w: duplicate model id %q", ErrInvalidValue, g.ID))
		}
		seen[g.ID] = true
	}

	if cfg.Judge.Enabled {
		if len(cfg.Judge.Models) < cfg.Judge.MinJudges {
			return NewValidationError("judge.models", fmt.Errorf("%w: have %d, need at least min_judges=%d",
				ErrInvalidValue, len(cfg.Judge.Models), cfg.Judge.MinJudges))
		}
		if cfg.Judge.MaxComparisonsPerJudge <= 0 {
			return NewValidationError("judge.max_comparisons_per_judge", ErrInvalidValue)
		}
	}

	if cfg.Contrastive.Enabled && cfg.Contrastive.DistractorCount < 1 {
		return NewValidationError("contrastive.distractor_count", ErrInvalidValue)
	}

	sum := cfg.Weights.Judge + cfg.Weights.Contrastive + cfg.Weights.Retrieval +
		cfg.Weights.Iterative + cfg.Weights.Downstream + cfg.Weights.Self
	if sum < 0.99 || sum > 1.01 {
		return NewValidationError("weights", fmt.Errorf("%w: weights sum to %.3f, want ~1.0", ErrInvalidValue, sum))
	}

	switch cfg.Store.Backend {
	case BackendPostgres:
		if cfg.Store.Database == "" {
			return NewValidationError("store.database", ErrMissingRequiredField)
		}
	case BackendSQLite:
		if cfg.Store.SQLitePath == "" {
			return NewValidationError("store.sqlite_path", ErrMissingRequiredField)
		}
	default:
		return NewValidationError("store.backend", fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Store.Backend))
	}

	return nil
}
