package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "SIFT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "SIFT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "SIFT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "chunking.min_size", typ: kInt, env: "SIFT_CHUNKING_MIN_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunking.MinSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.MinSize },
	},
	{
		key: "chunking.max_size", typ: kInt, env: "SIFT_CHUNKING_MAX_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunking.MaxSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.MaxSize },
	},
	{
		key: "builtin.base_url", typ: kString, env: "SIFT_BUILTIN_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Builtin.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Builtin.BaseURL },
	},
	{
		key: "builtin.default_model", typ: kString, env: "SIFT_BUILTIN_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Builtin.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Builtin.DefaultModel },
	},
	{
		key: "builtin.api_key", typ: kString, env: "SIFT_BUILTIN_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Builtin.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Builtin.APIKey },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
