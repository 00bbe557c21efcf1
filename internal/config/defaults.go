package config

// defaultModels maps each provider to its default chat and embedding models.
var defaultModels = map[ProviderType]struct {
	Model          string
	EmbeddingModel string
}{
	ProviderOpenAI: {Model: "gpt-4o-mini", EmbeddingModel: "text-embedding-3-small"},
	// Anthropic has no embeddings API; embeddings fall back to OpenAI.
	ProviderAnthropic: {Model: "claude-3-5-haiku-latest", EmbeddingModel: "text-embedding-3-small"},
	ProviderOllama:    {Model: "llama3", EmbeddingModel: "nomic-embed-text"},
}

// DefaultModels returns the default model pair for a provider, falling back
// to the OpenAI pair for unknown providers.
func DefaultModels(p ProviderType) (model, embeddingModel string) {
	if m, ok := defaultModels[p]; ok {
		return m.Model, m.EmbeddingModel
	}
	m := defaultModels[ProviderOpenAI]
	return m.Model, m.EmbeddingModel
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider:          ProviderOpenAI,
		Model:             "gpt-4o-mini",
		EmbeddingProvider: ProviderOpenAI,
		EmbeddingModel:    "text-embedding-3-small",
		DataDir:           "data",
		PoliciesDir:       "policies",
		KBDir:             "kb",
		Port:              8080,
		Confirm: ConfirmConfig{
			Mode:               "llm_first",
			TimeoutMS:          2500,
			LLMThreshold:       0.80,
			DetThreshold:       0.70,
			RetroWindowMinutes: 60,
		},
		Turn: TurnConfig{
			BudgetSeconds:    8,
			CoalesceWindowMS: 2000,
		},
		Intake: IntakeConfig{
			Samples:         3,
			SampleTimeoutMS: 2000,
		},
	}
}
