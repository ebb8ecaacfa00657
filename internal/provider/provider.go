// Package provider resolves which LLM endpoint, credential, and model to
// use for a given task, layering the stored configuration over built-in
// defaults.
package provider

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kalambet/sift/internal/secret"
	"github.com/kalambet/sift/internal/storage"
)

// Known provider families.
const (
	Builtin    = "builtin"
	OpenAI     = "openai"
	OpenRouter = "openrouter"
	Custom     = "custom"
)

// Task types with per-task model overrides.
const (
	TaskTopicExtract = "topic_extract"
	TaskSummarize    = "summarize"
	TaskExplore      = "explore"
	TaskChunkMerge   = "chunk_merge"
)

// Family default endpoints.
const (
	openAIBaseURL     = "https://api.openai.com/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// Family default models, used when a configuration names neither a task
// model nor a default model.
const (
	openAIDefaultModel     = "gpt-4o-mini"
	openRouterDefaultModel = "openrouter/auto"
)

// EffectiveConfig is the fully resolved invocation target.
type EffectiveConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// ConfigError marks an unusable active configuration. It is distinct from
// provider transport failures: a broken config is never retried and never
// silently falls back to the built-in provider.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider config: %s: %v", e.Reason, e.Err)
	}
	return "provider config: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Store is the subset of the storage layer the resolver needs.
type Store interface {
	GetActiveProviderConfig() (storage.ProviderConfig, error)
}

// BuiltinProvider is the zero-configuration fallback, sourced from process
// configuration at startup.
type BuiltinProvider struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
}

// Resolver computes effective invocation settings.
type Resolver struct {
	store   Store
	builtin BuiltinProvider
}

func NewResolver(store Store, builtin BuiltinProvider) *Resolver {
	if builtin.BaseURL == "" {
		builtin.BaseURL = openRouterBaseURL
	}
	if builtin.DefaultModel == "" {
		builtin.DefaultModel = openRouterDefaultModel
	}
	return &Resolver{store: store, builtin: builtin}
}

// Resolve returns the endpoint, credential, and model for task. When no
// configuration is active the built-in provider is used; when one is active
// it is authoritative, and any defect in it (undecodable credential,
// missing endpoint) surfaces as a *ConfigError.
func (r *Resolver) Resolve(task string) (EffectiveConfig, error) {
	cfg, err := r.store.GetActiveProviderConfig()
	if errors.Is(err, storage.ErrNotFound) {
		return EffectiveConfig{
			Provider: Builtin,
			BaseURL:  r.builtin.BaseURL,
			APIKey:   r.builtin.APIKey,
			Model:    r.builtin.DefaultModel,
		}, nil
	}
	if err != nil {
		return EffectiveConfig{}, fmt.Errorf("loading active config: %w", err)
	}

	apiKey := ""
	if cfg.APIKeySecret != "" {
		apiKey, err = secret.Decode(cfg.APIKeySecret)
		if err != nil {
			return EffectiveConfig{}, &ConfigError{Reason: "decoding stored credential", Err: err}
		}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		switch cfg.Provider {
		case OpenAI:
			baseURL = openAIBaseURL
		case OpenRouter, Builtin:
			baseURL = openRouterBaseURL
		default:
			return EffectiveConfig{}, &ConfigError{Reason: fmt.Sprintf("provider %q requires an explicit base URL", cfg.Provider)}
		}
	}

	model, err := resolveModel(cfg, task)
	if err != nil {
		return EffectiveConfig{}, err
	}

	return EffectiveConfig{
		Provider: cfg.Provider,
		BaseURL:  baseURL,
		APIKey:   apiKey,
		Model:    model,
	}, nil
}

func resolveModel(cfg storage.ProviderConfig, task string) (string, error) {
	if cfg.TaskModelsJSON != "" && cfg.TaskModelsJSON != "{}" {
		var taskModels map[string]string
		if err := json.Unmarshal([]byte(cfg.TaskModelsJSON), &taskModels); err != nil {
			return "", &ConfigError{Reason: "parsing task model map", Err: err}
		}
		if m := taskModels[task]; m != "" {
			return m, nil
		}
	}
	if cfg.DefaultModel != "" {
		return cfg.DefaultModel, nil
	}
	switch cfg.Provider {
	case OpenAI:
		return openAIDefaultModel, nil
	case OpenRouter, Builtin:
		return openRouterDefaultModel, nil
	default:
		return "", &ConfigError{Reason: fmt.Sprintf("provider %q requires an explicit model", cfg.Provider)}
	}
}
