package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	secretService = "vinochat"
	secretAccount = "openai_api_key"
)

type Config struct {
	Server    ServerConfig
	Catalog   CatalogConfig
	Storage   StorageConfig
	LLM       LLMConfig
	Search    SearchConfig
	Session   SessionConfig
	Perf      PerfConfig
	Log       LogConfig
	Assistant AssistantConfig
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitRPS       float64
	RateLimitBurst     int
	ExternalUserHeader string
}

type CatalogConfig struct {
	Path  string
	Table string
}

type StorageConfig struct {
	DataDir string
}

type LLMConfig struct {
	BaseURL             string
	APIKey              string
	FastModel           string
	ComplexModel        string
	MaxCompletionTokens int
	MaxHistoryMessages  int
}

type SearchConfig struct {
	Enabled        bool
	Model          string
	ContextSize    string
	Country        string
	City           string
	AllowedDomains string
}

// Domains splits AllowedDomains on commas.
func (s SearchConfig) Domains() []string {
	var out []string
	for _, d := range strings.Split(s.AllowedDomains, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

type SessionConfig struct {
	TTL string
}

// TTLDuration parses TTL, falling back to two hours.
func (s SessionConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(s.TTL)
	if err != nil || d <= 0 {
		return 2 * time.Hour
	}
	return d
}

type PerfConfig struct {
	Enabled bool
	Path    string
}

type LogConfig struct {
	Level string
}

// SlogLevel maps Level to a slog level. Unknown values are info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

type AssistantConfig struct {
	CapabilitiesPath string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               5000,
			RateLimitRPS:       5,
			RateLimitBurst:     10,
			ExternalUserHeader: "X-External-User-Id",
		},
		Catalog: CatalogConfig{
			Table: "wine_cards_wide",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			BaseURL:             "https://api.openai.com/v1",
			FastModel:           "gpt-4.1-mini",
			ComplexModel:        "gpt-4.1",
			MaxCompletionTokens: 1200,
			MaxHistoryMessages:  8,
		},
		Search: SearchConfig{
			Enabled:     true,
			Model:       "gpt-4.1",
			ContextSize: "medium",
			Country:     "RU",
			City:        "moscow",
		},
		Session: SessionConfig{TTL: "2h"},
		Perf:    PerfConfig{Enabled: true},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, environment variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.vinochat.app) and the
// API key falls back to macOS Keychain.
// Elsewhere the backend is a YAML file at $XDG_CONFIG_HOME/vinochat/config.yaml
// and the API key falls back to secrets.yaml in the data directory.
//
// Precedence, lowest first: defaults, backend, .env, VINOCHAT_* variables.
// A .env file never overrides variables already set in the environment.
// The API key is optional; without it the assistant answers that the
// backend is unavailable.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{}, ".env")
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain, dotenv string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v. Ignoring it.\n", dotenv, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if cfg.LLM.APIKey == "" {
		if key, err := kc.Get(secretService, secretAccount); err == nil && key != "" {
			cfg.LLM.APIKey = key
		}
	}

	cfg.resolvePaths()
	return cfg, nil
}

// resolvePaths places unset file paths under the data directory.
func (c *Config) resolvePaths() {
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.Storage.DataDir, "wine_product.sqlite")
	}
	if c.Perf.Path == "" {
		c.Perf.Path = filepath.Join(c.Storage.DataDir, "logs", "wine_chat_perf.log")
	}
}

// Validate checks values the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range 1..65535", c.Server.Port))
	}
	if c.Server.RateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit_rps must be positive, got %v", c.Server.RateLimitRPS))
	}
	if c.Server.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("server.rate_limit_burst must be at least 1, got %d", c.Server.RateLimitBurst))
	}
	if strings.TrimSpace(c.Catalog.Table) == "" {
		errs = append(errs, errors.New("catalog.table is empty"))
	}
	if c.LLM.MaxCompletionTokens < 1 {
		errs = append(errs, fmt.Errorf("llm.max_completion_tokens must be positive, got %d", c.LLM.MaxCompletionTokens))
	}
	if c.LLM.MaxHistoryMessages < 0 {
		errs = append(errs, fmt.Errorf("llm.max_history_messages must not be negative, got %d", c.LLM.MaxHistoryMessages))
	}
	switch strings.ToLower(c.Search.ContextSize) {
	case "low", "medium", "high":
	default:
		errs = append(errs, fmt.Errorf("search.context_size must be low, medium or high, got %q", c.Search.ContextSize))
	}
	if d, err := time.ParseDuration(c.Session.TTL); err != nil || d <= 0 {
		errs = append(errs, fmt.Errorf("session.ttl %q is not a positive duration", c.Session.TTL))
	}
	return errors.Join(errs...)
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
