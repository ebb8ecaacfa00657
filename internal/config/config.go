// Package config loads process configuration from a JSON file backend with
// environment variable overrides.
package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
	Chunking ChunkingConfig
	Builtin  BuiltinConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type ChunkingConfig struct {
	MinSize int
	MaxSize int
}

// BuiltinConfig is the zero-configuration provider used when no provider
// config is stored in the database.
type BuiltinConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Chunking: ChunkingConfig{
			MinSize: 500,
			MaxSize: 800,
		},
		Builtin: BuiltinConfig{
			BaseURL:      "https://openrouter.ai/api/v1",
			DefaultModel: "openrouter/auto",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/sift/config.json, then applies SIFT_* environment
// overrides. The built-in provider key is env-only (SIFT_BUILTIN_API_KEY);
// it never lives in the config file.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "sift-data"
		}
	}
	return filepath.Join(dir, "sift")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "sift", "config.json")
}
