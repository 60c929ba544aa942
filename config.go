package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/DatanoiseTV/personamcp/internal/chat"
	"github.com/DatanoiseTV/personamcp/internal/llm"
	"github.com/DatanoiseTV/personamcp/internal/logging"
)

// Config holds application configuration from ~/.personamcp/config.yaml,
// overridden by PERSONAMCP_<SECTION>_<FIELD> environment variables.
type Config struct {
	Storage  StorageConfig  `koanf:"storage"`
	Gemini   GeminiConfig   `koanf:"gemini"`
	Chat     ChatConfig     `koanf:"chat"`
	Index    IndexConfig    `koanf:"index"`
	HTTP     HTTPConfig     `koanf:"http"`
	Log      logging.Config `koanf:"log"`
	Sessions SessionsConfig `koanf:"sessions"`
}

// StorageConfig locates the key-value store. An empty path keeps everything
// in memory.
type StorageConfig struct {
	Path string `koanf:"path"`
	// Ephemeral keeps everything in memory and discards it on exit.
	Ephemeral bool `koanf:"ephemeral"`
}

// GeminiConfig holds model settings. APIKey is only used for embeddings and
// to pre-fill new personas; each persona carries its own credential.
type GeminiConfig struct {
	APIKey          string        `koanf:"api_key"`
	Model           string        `koanf:"model"`
	EmbeddingModel  string        `koanf:"embedding_model"`
	BaseURL         string        `koanf:"base_url"`
	Timeout         time.Duration `koanf:"timeout"`
	Temperature     float32       `koanf:"temperature"`
	TopK            float32       `koanf:"top_k"`
	TopP            float32       `koanf:"top_p"`
	MaxOutputTokens int32         `koanf:"max_output_tokens"`
}

// ChatConfig tunes the group responder policy.
type ChatConfig struct {
	SecondResponderProbability float64       `koanf:"second_responder_probability"`
	SecondResponderDelay       time.Duration `koanf:"second_responder_delay"`
}

// IndexConfig selects the semantic persona index: "none", "chromem" or
// "qdrant".
type IndexConfig struct {
	Backend          string `koanf:"backend"`
	Path             string `koanf:"path"`
	Dimension        int    `koanf:"dimension"`
	QdrantHost       string `koanf:"qdrant_host"`
	QdrantPort       int    `koanf:"qdrant_port"`
	QdrantAPIKey     string `koanf:"qdrant_api_key"`
	QdrantUseTLS     bool   `koanf:"qdrant_use_tls"`
	QdrantCollection string `koanf:"qdrant_collection"`
}

// HTTPConfig enables the JSON API.
type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
}

// SessionsConfig bounds the in-memory chat sessions and chart editors.
type SessionsConfig struct {
	Max int `koanf:"max"`
}

// Index backends.
const (
	IndexNone    = "none"
	IndexChromem = "chromem"
	IndexQdrant  = "qdrant"
)

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig(home string) *Config {
	base := filepath.Join(home, ConfigDirName)
	return &Config{
		Storage: StorageConfig{Path: filepath.Join(base, "data")},
		Gemini: GeminiConfig{
			Model:           llm.DefaultModel,
			EmbeddingModel:  llm.DefaultEmbeddingModel,
			Timeout:         30 * time.Second,
			Temperature:     llm.DefaultTemperature,
			TopK:            llm.DefaultTopK,
			TopP:            llm.DefaultTopP,
			MaxOutputTokens: llm.DefaultMaxOutputTokens,
		},
		Chat: ChatConfig{
			SecondResponderProbability: chat.DefaultSecondResponderProbability,
			SecondResponderDelay:       chat.DefaultSecondResponderDelay,
		},
		Index: IndexConfig{
			Backend:          IndexNone,
			Path:             filepath.Join(base, "index"),
			Dimension:        llm.EmbeddingDimension,
			QdrantPort:       6334,
			QdrantCollection: "personamcp-personas",
		},
		HTTP:     HTTPConfig{Host: "localhost", Port: 8765},
		Log:      logging.DefaultConfig(),
		Sessions: SessionsConfig{Max: DefaultMaxSessions},
	}
}

// envKey maps PERSONAMCP_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// LoadConfig reads configPath (default ~/.personamcp/config.yaml) if it
// exists, then applies environment overrides.
func LoadConfig(configPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	if configPath == "" {
		configPath = filepath.Join(home, ConfigDirName, ConfigFileName)
	}

	k := koanf.New(".")
	content, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := DefaultConfig(home)
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.Gemini.APIKey == "" {
		cfg.Gemini.APIKey = key
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Index.Backend = strings.ToLower(strings.TrimSpace(c.Index.Backend))
	if c.Index.Backend == "" {
		c.Index.Backend = IndexNone
	}
	if c.Sessions.Max <= 0 {
		c.Sessions.Max = DefaultMaxSessions
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.Index.Backend {
	case IndexNone, IndexChromem:
	case IndexQdrant:
		if c.Index.QdrantHost == "" {
			return fmt.Errorf("index.qdrant_host is required for the qdrant backend")
		}
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}
	if c.Chat.SecondResponderProbability < 0 || c.Chat.SecondResponderProbability > 1 {
		return fmt.Errorf("chat.second_responder_probability must be within [0, 1], got %v", c.Chat.SecondResponderProbability)
	}
	if c.Chat.SecondResponderDelay < 0 {
		return fmt.Errorf("chat.second_responder_delay must not be negative")
	}
	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		return fmt.Errorf("http.port %d is out of range", c.HTTP.Port)
	}
	return c.Log.Validate()
}
