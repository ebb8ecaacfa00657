package provider

import (
	"errors"
	"testing"

	"github.com/kalambet/sift/internal/secret"
	"github.com/kalambet/sift/internal/storage"
)

type fakeStore struct {
	cfg storage.ProviderConfig
	err error
}

func (f *fakeStore) GetActiveProviderConfig() (storage.ProviderConfig, error) {
	return f.cfg, f.err
}

func TestResolve_BuiltinFallback(t *testing.T) {
	r := NewResolver(&fakeStore{err: storage.ErrNotFound}, BuiltinProvider{
		APIKey: "builtin-key",
	})

	got, err := r.Resolve(TaskSummarize)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Provider != Builtin {
		t.Errorf("Provider = %q, want builtin", got.Provider)
	}
	if got.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("BaseURL = %q", got.BaseURL)
	}
	if got.APIKey != "builtin-key" {
		t.Errorf("APIKey = %q", got.APIKey)
	}
	if got.Model != "openrouter/auto" {
		t.Errorf("Model = %q", got.Model)
	}
}

func TestResolve_ActiveConfigAuthoritative(t *testing.T) {
	r := NewResolver(&fakeStore{cfg: storage.ProviderConfig{
		Provider:     OpenAI,
		APIKeySecret: secret.Encode("sk-user-key"),
		DefaultModel: "gpt-4o",
	}}, BuiltinProvider{APIKey: "builtin-key"})

	got, err := r.Resolve(TaskExplore)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Provider != OpenAI || got.APIKey != "sk-user-key" || got.Model != "gpt-4o" {
		t.Errorf("Resolve = %+v", got)
	}
	if got.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("BaseURL = %q, want OpenAI default", got.BaseURL)
	}
}

func TestResolve_TaskModelOverride(t *testing.T) {
	r := NewResolver(&fakeStore{cfg: storage.ProviderConfig{
		Provider:       OpenRouter,
		APIKeySecret:   secret.Encode("k"),
		DefaultModel:   "openrouter/auto",
		TaskModelsJSON: `{"topic_extract":"anthropic/claude-haiku"}`,
	}}, BuiltinProvider{})

	got, err := r.Resolve(TaskTopicExtract)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Model != "anthropic/claude-haiku" {
		t.Errorf("Model = %q, want task override", got.Model)
	}

	got, err = r.Resolve(TaskChunkMerge)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Model != "openrouter/auto" {
		t.Errorf("Model = %q, want default model for unmapped task", got.Model)
	}
}

func TestResolve_FamilyDefaultModel(t *testing.T) {
	r := NewResolver(&fakeStore{cfg: storage.ProviderConfig{
		Provider:     OpenAI,
		APIKeySecret: secret.Encode("k"),
	}}, BuiltinProvider{})

	got, err := r.Resolve(TaskSummarize)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q, want OpenAI family default", got.Model)
	}
}

func TestResolve_MalformedCredentialIsConfigError(t *testing.T) {
	r := NewResolver(&fakeStore{cfg: storage.ProviderConfig{
		Provider:     OpenRouter,
		APIKeySecret: "not-an-encoded-value",
	}}, BuiltinProvider{APIKey: "builtin-key"})

	_, err := r.Resolve(TaskSummarize)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *ConfigError", err)
	}
	if !errors.Is(err, secret.ErrMalformed) {
		t.Errorf("err = %v, want wrapped ErrMalformed", err)
	}
}

func TestResolve_CustomProviderRequiresBaseURL(t *testing.T) {
	r := NewResolver(&fakeStore{cfg: storage.ProviderConfig{
		Provider:     Custom,
		APIKeySecret: secret.Encode("k"),
		DefaultModel: "local-model",
	}}, BuiltinProvider{})

	_, err := r.Resolve(TaskSummarize)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want *ConfigError", err)
	}
}

func TestResolve_EmptySecretMeansNoKey(t *testing.T) {
	r := NewResolver(&fakeStore{cfg: storage.ProviderConfig{
		Provider:     Custom,
		BaseURL:      "http://localhost:11434/v1",
		DefaultModel: "llama3",
	}}, BuiltinProvider{})

	got, err := r.Resolve(TaskSummarize)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.APIKey != "" {
		t.Errorf("APIKey = %q, want empty for keyless custom endpoint", got.APIKey)
	}
	if got.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("BaseURL = %q", got.BaseURL)
	}
}
