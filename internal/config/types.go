package config

// ProviderType identifies an LLM or embedding provider.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOllama    ProviderType = "ollama"
	ProviderGoogle    ProviderType = "google"
)

// Config is the top-level leadgate configuration, corresponding to
// leadgate.yml.
type Config struct {
	Provider          ProviderType `yaml:"provider" koanf:"provider"`
	Model             string       `yaml:"model" koanf:"model"`
	EmbeddingProvider ProviderType `yaml:"embedding_provider" koanf:"embedding_provider"`
	EmbeddingModel    string       `yaml:"embedding_model" koanf:"embedding_model"`

	// RateLimitRPM caps LLM requests per minute. Zero disables the cap.
	RateLimitRPM int `yaml:"rate_limit_rpm" koanf:"rate_limit_rpm"`

	DataDir     string `yaml:"data_dir" koanf:"data_dir"`
	PoliciesDir string `yaml:"policies_dir" koanf:"policies_dir"`
	KBDir       string `yaml:"kb_dir" koanf:"kb_dir"`

	Port            int  `yaml:"port" koanf:"port"`
	AllowAllOrigins bool `yaml:"allow_all_origins" koanf:"allow_all_origins"`

	DefaultProcedure string `yaml:"default_procedure" koanf:"default_procedure"`

	Outbound OutboundConfig `yaml:"outbound" koanf:"outbound"`
	Confirm  ConfirmConfig  `yaml:"confirm" koanf:"confirm"`
	Turn     TurnConfig     `yaml:"turn" koanf:"turn"`
	Intake   IntakeConfig   `yaml:"intake" koanf:"intake"`
}

// OutboundConfig points at the chat platform bridge that delivers messages
// to leads. An empty URL switches delivery to dry-run logging.
type OutboundConfig struct {
	WebhookURL string `yaml:"webhook_url" koanf:"webhook_url"`
	Token      string `yaml:"token" koanf:"token"`
}

// ConfirmConfig tunes the confirmation gate.
type ConfirmConfig struct {
	// Mode is llm_first, hybrid or det_only.
	Mode               string  `yaml:"mode" koanf:"mode"`
	TimeoutMS          int     `yaml:"timeout_ms" koanf:"timeout_ms"`
	LLMThreshold       float64 `yaml:"llm_threshold" koanf:"llm_threshold"`
	DetThreshold       float64 `yaml:"det_threshold" koanf:"det_threshold"`
	RetroWindowMinutes int     `yaml:"retro_window_minutes" koanf:"retro_window_minutes"`
}

// TurnConfig bounds turn processing.
type TurnConfig struct {
	BudgetSeconds    int `yaml:"budget_seconds" koanf:"budget_seconds"`
	CoalesceWindowMS int `yaml:"coalesce_window_ms" koanf:"coalesce_window_ms"`
}

// IntakeConfig tunes the self-consistency intake classifier.
type IntakeConfig struct {
	Samples         int `yaml:"samples" koanf:"samples"`
	SampleTimeoutMS int `yaml:"sample_timeout_ms" koanf:"sample_timeout_ms"`
}
