package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to leadgate.yml.
func RunWizard() (*Config, error) {
	fmt.Println("Welcome to leadgate! Let's configure your deployment.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Provider selection.
	providerPrompt := promptui.Select{
		Label: "Select LLM provider",
		Items: []string{"openai", "anthropic", "ollama"},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.Provider = ProviderType(providerStr)
	cfg.EmbeddingProvider = cfg.Provider
	if cfg.Provider == ProviderAnthropic {
		cfg.EmbeddingProvider = ProviderOpenAI
	}
	cfg.Model, cfg.EmbeddingModel = DefaultModels(cfg.Provider)

	// 2. Confirmation gate mode.
	modePrompt := promptui.Select{
		Label: "Confirmation gate mode",
		Items: []string{
			"llm_first — LLM classifies, phrase tables as fallback",
			"hybrid    — phrase tables first, LLM for ambiguous replies",
			"det_only  — phrase tables only, no LLM calls",
		},
	}
	modeIdx, _, err := modePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("mode selection: %w", err)
	}
	cfg.Confirm.Mode = []string{"llm_first", "hybrid", "det_only"}[modeIdx]

	// 3. Policy directory.
	policiesPrompt := promptui.Prompt{
		Label:   "Policies directory (catalog, procedures, confirmation targets)",
		Default: cfg.PoliciesDir,
	}
	if cfg.PoliciesDir, err = policiesPrompt.Run(); err != nil {
		return nil, fmt.Errorf("policies dir: %w", err)
	}

	// 4. Knowledge base directory.
	kbPrompt := promptui.Prompt{
		Label:   "Knowledge base directory (markdown files)",
		Default: cfg.KBDir,
	}
	if cfg.KBDir, err = kbPrompt.Run(); err != nil {
		return nil, fmt.Errorf("kb dir: %w", err)
	}

	// 5. Outbound webhook.
	outboundPrompt := promptui.Prompt{
		Label:   "Outbound webhook URL (blank for dry-run logging)",
		Default: "",
	}
	if cfg.Outbound.WebhookURL, err = outboundPrompt.Run(); err != nil {
		return nil, fmt.Errorf("outbound url: %w", err)
	}

	// 6. Port.
	portPrompt := promptui.Prompt{
		Label:   "HTTP port",
		Default: strconv.Itoa(cfg.Port),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 65535 {
				return fmt.Errorf("invalid port")
			}
			return nil
		},
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Port, _ = strconv.Atoi(portStr)

	// Check for API key.
	if envVar := APIKeyEnvVar(cfg.Provider); envVar != "" {
		if os.Getenv(envVar) == "" {
			fmt.Printf("\nNote: Set %s in your environment before running leadgate serve.\n", envVar)
		}
	}

	configPath := "leadgate.yml"
	if err := cfg.Save(configPath); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", configPath)
	return cfg, nil
}
