package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (LEADGATE_*). Nested keys use a double
// underscore: LEADGATE_CONFIRM__MODE overrides confirm.mode.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider("LEADGATE_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "LEADGATE_"))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validProviders is the set of recognized chat provider values.
var validProviders = map[ProviderType]bool{
	ProviderOpenAI:    true,
	ProviderAnthropic: true,
	ProviderOllama:    true,
}

// validEmbeddingProviders additionally allows Google, which only serves
// embeddings.
var validEmbeddingProviders = map[ProviderType]bool{
	ProviderOpenAI: true,
	ProviderOllama: true,
	ProviderGoogle: true,
}

var validConfirmModes = map[string]bool{
	"llm_first": true,
	"hybrid":    true,
	"det_only":  true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if !validProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q: must be one of openai, anthropic, ollama", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}

	if c.EmbeddingProvider != "" && !validEmbeddingProviders[c.EmbeddingProvider] {
		return fmt.Errorf("invalid embedding_provider %q", c.EmbeddingProvider)
	}

	if c.PoliciesDir == "" {
		return fmt.Errorf("policies_dir is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.RateLimitRPM < 0 {
		return fmt.Errorf("rate_limit_rpm must be non-negative")
	}

	if !validConfirmModes[c.Confirm.Mode] {
		return fmt.Errorf("invalid confirm.mode %q: must be one of llm_first, hybrid, det_only", c.Confirm.Mode)
	}
	if c.Confirm.LLMThreshold < 0 || c.Confirm.LLMThreshold > 1 {
		return fmt.Errorf("confirm.llm_threshold %v out of [0,1]", c.Confirm.LLMThreshold)
	}
	if c.Confirm.DetThreshold < 0 || c.Confirm.DetThreshold > 1 {
		return fmt.Errorf("confirm.det_threshold %v out of [0,1]", c.Confirm.DetThreshold)
	}
	if c.Confirm.RetroWindowMinutes < 0 {
		return fmt.Errorf("confirm.retro_window_minutes must be non-negative")
	}

	if c.Turn.BudgetSeconds <= 0 {
		return fmt.Errorf("turn.budget_seconds must be positive")
	}
	if c.Turn.CoalesceWindowMS < 0 {
		return fmt.Errorf("turn.coalesce_window_ms must be non-negative")
	}

	if c.Intake.Samples <= 0 {
		return fmt.Errorf("intake.samples must be positive")
	}

	return nil
}

// APIKeyEnvVar returns the conventional environment variable name for
// the API key of the given provider.
func APIKeyEnvVar(provider ProviderType) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderGoogle:
		return "GOOGLE_API_KEY"
	default:
		return ""
	}
}
