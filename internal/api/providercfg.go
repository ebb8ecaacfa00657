package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/sift/internal/provider"
	"github.com/kalambet/sift/internal/secret"
	"github.com/kalambet/sift/internal/storage"
)

type providerConfigResponse struct {
	ID         string            `json:"id"`
	Provider   string            `json:"provider"`
	BaseURL    string            `json:"baseUrl,omitempty"`
	HasAPIKey  bool              `json:"hasApiKey"`
	Model      string            `json:"model,omitempty"`
	TaskModels map[string]string `json:"taskModels,omitempty"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// handleGetConfig returns the active configuration. The credential is never
// echoed back, only its presence.
func handleGetConfig(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := deps.Store.GetActiveProviderConfig()
		if errors.Is(err, storage.ErrNotFound) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"provider": provider.Builtin})
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load config: %v", err)
			return
		}

		var taskModels map[string]string
		if cfg.TaskModelsJSON != "" {
			if err := json.Unmarshal([]byte(cfg.TaskModelsJSON), &taskModels); err != nil {
				slog.Warn("stored task model map is not valid JSON", "config_id", cfg.ID, "error", err)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(providerConfigResponse{
			ID:         cfg.ID,
			Provider:   cfg.Provider,
			BaseURL:    cfg.BaseURL,
			HasAPIKey:  cfg.APIKeySecret != "",
			Model:      cfg.DefaultModel,
			TaskModels: taskModels,
			UpdatedAt:  cfg.UpdatedAt,
		})
	}
}

type putConfigRequest struct {
	Provider   string            `json:"provider"`
	BaseURL    string            `json:"baseUrl"`
	APIKey     string            `json:"apiKey"`
	Model      string            `json:"model"`
	TaskModels map[string]string `json:"taskModels"`
}

var knownProviders = map[string]bool{
	provider.OpenAI:     true,
	provider.OpenRouter: true,
	provider.Custom:     true,
}

func handlePutConfig(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req putConfigRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if !knownProviders[req.Provider] {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "provider must be one of openai, openrouter, custom")
			return
		}
		if req.Provider == provider.Custom && req.BaseURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "baseUrl is required for a custom provider")
			return
		}

		keySecret := ""
		if req.APIKey != "" {
			keySecret = secret.Encode(req.APIKey)
		}

		taskModelsJSON := "{}"
		if len(req.TaskModels) > 0 {
			b, err := json.Marshal(req.TaskModels)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to encode task models: %v", err)
				return
			}
			taskModelsJSON = string(b)
		}

		cfg := storage.ProviderConfig{
			ID:             uuid.New().String(),
			Provider:       req.Provider,
			BaseURL:        req.BaseURL,
			APIKeySecret:   keySecret,
			DefaultModel:   req.Model,
			TaskModelsJSON: taskModelsJSON,
			UpdatedAt:      time.Now().UTC(),
		}
		if err := deps.Store.SaveProviderConfig(cfg); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save config: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": cfg.ID, "status": "active"})
	}
}

// handleDeleteConfig deactivates the stored configuration, restoring the
// built-in fallback.
func handleDeleteConfig(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeactivateProviderConfig(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to deactivate config: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"provider": provider.Builtin, "status": "deactivated"})
	}
}
