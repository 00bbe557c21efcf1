package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"leadgate/internal/catalog"
	"leadgate/internal/config"
	"leadgate/internal/embeddings"
	"leadgate/internal/gate"
	"leadgate/internal/llm"
	"leadgate/internal/procedure"
)

// policyFiles names the policy documents expected under policies_dir.
const (
	catalogFile    = "catalog.yml"
	proceduresFile = "procedures.yml"
	targetsFile    = "confirm_targets.yml"
)

// policySet is one atomically loaded policy configuration.
type policySet struct {
	catalog    *catalog.Catalog
	procedures *procedure.Set
	targets    *gate.Targets
}

// loadPolicies loads and cross-validates the three policy files. The
// procedures file is optional; the other two are required.
func loadPolicies(dir string) (*policySet, error) {
	cat, err := catalog.Load(filepath.Join(dir, catalogFile))
	if err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	targets, err := gate.LoadTargets(filepath.Join(dir, targetsFile), cat)
	if err != nil {
		return nil, fmt.Errorf("loading confirmation targets: %w", err)
	}

	ps := &policySet{catalog: cat, targets: targets}

	procPath := filepath.Join(dir, proceduresFile)
	if _, err := os.Stat(procPath); err == nil {
		procs, err := procedure.Load(procPath, cat)
		if err != nil {
			return nil, fmt.Errorf("loading procedures: %w", err)
		}
		ps.procedures = procs
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing %s: %w", procPath, err)
	}

	return ps, nil
}

// createEmbedderFromConfig creates an embeddings.Embedder based on config.
func createEmbedderFromConfig(cfg *config.Config) (embeddings.Embedder, error) {
	provider := cfg.EmbeddingProvider
	if provider == "" {
		provider = cfg.Provider
	}
	model := cfg.EmbeddingModel
	if model == "" {
		_, model = config.DefaultModels(provider)
	}

	switch provider {
	case config.ProviderOpenAI:
		apiKey := os.Getenv(config.APIKeyEnvVar(config.ProviderOpenAI))
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required for OpenAI embeddings")
		}
		return embeddings.NewOpenAIEmbedder(apiKey, embeddings.OpenAIModel(model)), nil
	case config.ProviderOllama:
		return embeddings.NewOllamaEmbedder(model, 768, ""), nil
	case config.ProviderGoogle:
		apiKey := os.Getenv(config.APIKeyEnvVar(config.ProviderGoogle))
		if apiKey == "" {
			return nil, fmt.Errorf("GOOGLE_API_KEY environment variable is required for Google embeddings")
		}
		return embeddings.NewGoogleEmbedder(apiKey, embeddings.GoogleModel(model)), nil
	default:
		// For providers without native embeddings, fall back to OpenAI.
		apiKey := os.Getenv(config.APIKeyEnvVar(config.ProviderOpenAI))
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required (used for embeddings when provider is %s)", provider)
		}
		return embeddings.NewOpenAIEmbedder(apiKey, embeddings.OpenAIModel(model)), nil
	}
}

// createLLMProviderFromConfig creates an LLM provider based on config settings.
func createLLMProviderFromConfig(cfg *config.Config) (llm.Provider, error) {
	provider, err := llm.NewProvider(string(cfg.Provider), cfg.Model)
	if err != nil {
		return nil, err
	}
	if cfg.RateLimitRPM > 0 {
		provider = llm.NewRateLimitedProvider(provider, cfg.RateLimitRPM)
	}
	return provider, nil
}

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `leadgate init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
