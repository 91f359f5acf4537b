package config

// Default returns the built-in defaults applied before a user's YAML is
// merged on top, mirroring the teacher's GetBuiltinConfig()/DefaultQueueConfig()
// pattern of a constructor function rather than package-level var literals.
func Default() *Config {
	return &Config{
		GenerationParallelism: 8,
		Retrieval: RetrievalConfig{
			Enabled: true,
			Ks:      []int{1, 5, 10},
		},
		Contrastive: ContrastiveConfig{
			Enabled:         true,
			DistractorCount: 9,
			Method:          MethodBoth,
		},
		Judge: JudgeConfig{
			Enabled:                true,
			MinJudges:              2,
			MaxComparisonsPerJudge: 600,
		},
		Iterative: IterativeConfig{
			Enabled:               true,
			MaxRounds:             3,
			TargetRank:            3,
			SampleSize:            50,
			LocalParallelism:      2,
			LargeModelThresholdGB: 30,
		},
		Downstream: DownstreamConfig{Enabled: false},
		Self:       SelfConfig{Enabled: false},
		Weights: WeightsConfig{
			Judge:       0.3,
			Contrastive: 0.3,
			Retrieval:   0.25,
			Iterative:   0.05,
			Downstream:  0.05,
			Self:        0.05,
		},
		Store: StoreConfig{
			Backend:    BackendSQLite,
			SQLitePath: "sumeval.db",
		},
	}
}
