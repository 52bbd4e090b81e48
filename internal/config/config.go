package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Proxy     ProxyConfig
	Log       LogConfig
	Retrieval RetrievalConfig
	Session   SessionConfig
	Cache     CacheConfig
	Breaker   BreakerConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type ProxyConfig struct {
	OpenRouterAPIKey string
	DefaultModel     string
	BaseURL          string
}

type LogConfig struct {
	Level  string
	Format string
}

// RetrievalConfig selects the router variant and sizes the general ANN pool.
type RetrievalConfig struct {
	Variant       string
	Limit         int
	NumCandidates int
}

type SessionConfig struct {
	TTL time.Duration
}

// CacheConfig controls the embedding cache. An empty RedisAddr keeps the
// cache in process memory.
type CacheConfig struct {
	RedisAddr    string
	EmbeddingTTL time.Duration
}

type BreakerConfig struct {
	FailureThreshold int
	Timeout          time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Proxy: ProxyConfig{
			DefaultModel: "google/gemini-2.0-flash-001",
			BaseURL:      "https://openrouter.ai/api/v1",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Retrieval: RetrievalConfig{
			Variant:       "filtered",
			Limit:         100,
			NumCandidates: 400,
		},
		Session: SessionConfig{
			TTL: time.Hour,
		},
		Cache: CacheConfig{
			EmbeddingTTL: 24 * time.Hour,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.gamerec.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/gamerec/config.json
// and secrets come from the environment or $XDG_DATA_HOME/gamerec/secrets.json.
//
// Environment variables (GAMEREC_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// Keychain abstracts secret storage for testing.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

const keychainService = "gamerec"

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Proxy.OpenRouterAPIKey == "" {
		if key, err := kc.Get(keychainService, "openrouter_api_key"); err == nil && key != "" {
			cfg.Proxy.OpenRouterAPIKey = key
		}
	}

	if cfg.Proxy.OpenRouterAPIKey == "" {
		msg := "missing required config: OpenRouter API key. " +
			"Set it via environment variable GAMEREC_OPENROUTER_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// platformKeychain reads and writes the OS secret store.
type platformKeychain struct{}

// NewKeychain returns the secret store for the current platform.
func NewKeychain() Keychain {
	return platformKeychain{}
}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
