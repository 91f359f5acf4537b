// Package config loads and validates the YAML configuration that drives a
// benchmark run: generator/judge model rosters, per-evaluator options, and
// store/runtime settings.
package config

// ContrastiveMethod is the closed set of contrastive scoring methods
// (spec.md §6).
type ContrastiveMethod string

// Contrastive method values.
const (
	MethodEmbedding ContrastiveMethod = "embedding"
	MethodLLM       ContrastiveMethod = "llm"
	MethodBoth      ContrastiveMethod = "both"
)

// StoreBackend selects which Store implementation a run uses.
type StoreBackend string

// Store backend values.
const (
	BackendPostgres StoreBackend = "postgres"
	BackendSQLite   StoreBackend = "sqlite"
)

// ModelConfig names one model and its generation parameters.
type ModelConfig struct {
	ID          string  `yaml:"id"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	IsLocal     bool    `yaml:"is_local"`
	// SizeGB is the local model's parameter footprint, compared against
	// IterativeConfig.LargeModelThresholdGB to decide whether the model
	// serializes against GPU contention or runs in the small-model pool
	// (spec.md §5's local-stream scheduling). Ignored for cloud models.
	SizeGB float64 `yaml:"size_gb"`
}

// RetrievalConfig configures the Cross-Model Retrieval evaluator.
type RetrievalConfig struct {
	Enabled bool  `yaml:"enabled"`
	Ks      []int `yaml:"ks"`
}

// ContrastiveConfig configures the Contrastive Matching evaluator.
type ContrastiveConfig struct {
	Enabled         bool              `yaml:"enabled"`
	DistractorCount int               `yaml:"distractor_count"`
	Method          ContrastiveMethod `yaml:"method"`
}

// JudgeConfig configures the Judge evaluator.
type JudgeConfig struct {
	Enabled                bool     `yaml:"enabled"`
	Models                 []string `yaml:"models"`
	MinJudges              int      `yaml:"min_judges"`
	MaxComparisonsPerJudge int      `yaml:"max_comparisons_per_judge"`
}

// IterativeConfig configures the Iterative Refinement evaluator.
type IterativeConfig struct {
	Enabled               bool `yaml:"enabled"`
	MaxRounds             int  `yaml:"max_rounds"`
	TargetRank            int  `yaml:"target_rank"`
	SampleSize            int  `yaml:"sample_size"`
	LocalParallelism      int  `yaml:"local_parallelism"`
	LargeModelThresholdGB int  `yaml:"large_model_threshold_gb"`
}

// DownstreamConfig and SelfConfig configure the optional phases the spec's
// Design Notes name as partially wired in the source system; carried as
// a same-shaped executor contract with a low default weight (see
// DESIGN.md Open Question 1).
type DownstreamConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SelfConfig configures the optional self-evaluation phase.
type SelfConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WeightsConfig holds the aggregator's per-category weights (spec.md §4.9).
type WeightsConfig struct {
	Judge       float64 `yaml:"judge"`
	Contrastive float64 `yaml:"contrastive"`
	Retrieval   float64 `yaml:"retrieval"`
	Iterative   float64 `yaml:"iterative"`
	Downstream  float64 `yaml:"downstream"`
	Self        float64 `yaml:"self"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Backend    StoreBackend `yaml:"backend"`
	SQLitePath string       `yaml:"sqlite_path"`
	Host       string       `yaml:"host"`
	Port       int          `yaml:"port"`
	User       string       `yaml:"user"`
	Database   string       `yaml:"database"`
	SSLMode    string       `yaml:"sslmode"`
}

// Config is the fully resolved, validated configuration for a run.
type Config struct {
	Name        string            `yaml:"name"`
	Generators  []ModelConfig     `yaml:"generators"`
	// GenerationParallelism bounds the per-model worker pool the
	// generation phase fans out with (spec.md §5's "per-model bounded
	// pool" policy); every model gets its own pool of this width.
	GenerationParallelism int               `yaml:"generation_parallelism"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Contrastive ContrastiveConfig `yaml:"contrastive"`
	Judge       JudgeConfig       `yaml:"judge"`
	Iterative   IterativeConfig   `yaml:"iterative"`
	Downstream  DownstreamConfig  `yaml:"downstream"`
	Self        SelfConfig        `yaml:"self"`
	Weights     WeightsConfig     `yaml:"weights"`
	Store       StoreConfig       `yaml:"store"`

	configDir string
}

// Stats summarizes a loaded config for a one-line startup log, mirroring
// the teacher's Config.Stats().
type Stats struct {
	Generators int
	Judges     int
}

// Stats returns summary counters for logging.
func (c *Config) Stats() Stats {
	return Stats{Generators: len(c.Generators), Judges: len(c.Judge.Models)}
}
