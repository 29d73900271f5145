package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
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
		key: "server.host", typ: kString, env: "VINOCHAT_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "VINOCHAT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.rate_limit_rps", typ: kFloat, env: "VINOCHAT_SERVER_RATE_LIMIT_RPS",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitRPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitRPS },
	},
	{
		key: "server.rate_limit_burst", typ: kInt, env: "VINOCHAT_SERVER_RATE_LIMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitBurst },
	},
	{
		key: "server.external_user_header", typ: kString, env: "VINOCHAT_SERVER_EXTERNAL_USER_HEADER",
		apply:   func(cfg *Config, v any) { cfg.Server.ExternalUserHeader = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.ExternalUserHeader },
	},
	{
		key: "catalog.path", typ: kString, env: "VINOCHAT_CATALOG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.Path },
	},
	{
		key: "catalog.table", typ: kString, env: "VINOCHAT_CATALOG_TABLE",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Table = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.Table },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VINOCHAT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "llm.base_url", typ: kString, env: "VINOCHAT_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "VINOCHAT_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.fast_model", typ: kString, env: "VINOCHAT_LLM_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.FastModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.FastModel },
	},
	{
		key: "llm.complex_model", typ: kString, env: "VINOCHAT_LLM_COMPLEX_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.ComplexModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.ComplexModel },
	},
	{
		key: "llm.max_completion_tokens", typ: kInt, env: "VINOCHAT_LLM_MAX_COMPLETION_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxCompletionTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxCompletionTokens },
	},
	{
		key: "llm.max_history_messages", typ: kInt, env: "VINOCHAT_LLM_MAX_HISTORY_MESSAGES",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxHistoryMessages = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxHistoryMessages },
	},
	{
		key: "search.enabled", typ: kBool, env: "VINOCHAT_SEARCH_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Search.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Search.Enabled },
	},
	{
		key: "search.model", typ: kString, env: "VINOCHAT_SEARCH_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Search.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Model },
	},
	{
		key: "search.context_size", typ: kString, env: "VINOCHAT_SEARCH_CONTEXT_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Search.ContextSize = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.ContextSize },
	},
	{
		key: "search.country", typ: kString, env: "VINOCHAT_SEARCH_COUNTRY",
		apply:   func(cfg *Config, v any) { cfg.Search.Country = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.Country },
	},
	{
		key: "search.city", typ: kString, env: "VINOCHAT_SEARCH_CITY",
		apply:   func(cfg *Config, v any) { cfg.Search.City = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.City },
	},
	{
		key: "search.allowed_domains", typ: kString, env: "VINOCHAT_SEARCH_ALLOWED_DOMAINS",
		apply:   func(cfg *Config, v any) { cfg.Search.AllowedDomains = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.AllowedDomains },
	},
	{
		key: "session.ttl", typ: kString, env: "VINOCHAT_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.TTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.TTL },
	},
	{
		key: "perf.enabled", typ: kBool, env: "VINOCHAT_PERF_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Perf.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Perf.Enabled },
	},
	{
		key: "perf.path", typ: kString, env: "VINOCHAT_PERF_PATH",
		apply:   func(cfg *Config, v any) { cfg.Perf.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Perf.Path },
	},
	{
		key: "log.level", typ: kString, env: "VINOCHAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "assistant.capabilities_path", typ: kString, env: "VINOCHAT_ASSISTANT_CAPABILITIES_PATH",
		apply:   func(cfg *Config, v any) { cfg.Assistant.CapabilitiesPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Assistant.CapabilitiesPath },
	},
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	default:
		return "string"
	}
}

// parse converts a raw setting to the Go type apply expects.
func (t keyType) parse(raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(strings.TrimSpace(raw))
	case kBool:
		return strconv.ParseBool(strings.TrimSpace(raw))
	case kFloat:
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.typ.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides applies VINOCHAT_* variables. Empty variables are ignored.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.typ.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
