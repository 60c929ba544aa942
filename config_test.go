package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DatanoiseTV/personamcp/internal/chat"
	"github.com/DatanoiseTV/personamcp/internal/llm"
)

func isolateEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("GEMINI_API_KEY", "")
	return home
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"PERSONAMCP_GEMINI_MODEL", "gemini.model"},
		{"PERSONAMCP_CHAT_SECOND_RESPONDER_DELAY", "chat.second_responder_delay"},
		{"PERSONAMCP_INDEX_QDRANT_HOST", "index.qdrant_host"},
		{"PERSONAMCP_DEBUG", "debug"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			assert.Equal(t, tt.want, envKey(tt.env))
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	home := isolateEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ConfigDirName, "data"), cfg.Storage.Path)
	assert.Equal(t, llm.DefaultModel, cfg.Gemini.Model)
	assert.Equal(t, float32(llm.DefaultTemperature), cfg.Gemini.Temperature)
	assert.Equal(t, int32(llm.DefaultMaxOutputTokens), cfg.Gemini.MaxOutputTokens)
	assert.Equal(t, chat.DefaultSecondResponderProbability, cfg.Chat.SecondResponderProbability)
	assert.Equal(t, chat.DefaultSecondResponderDelay, cfg.Chat.SecondResponderDelay)
	assert.Equal(t, IndexNone, cfg.Index.Backend)
	assert.Equal(t, llm.EmbeddingDimension, cfg.Index.Dimension)
	assert.False(t, cfg.HTTP.Enabled)
	assert.Equal(t, 8765, cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultMaxSessions, cfg.Sessions.Max)
	assert.Empty(t, cfg.Gemini.APIKey)
}

func TestLoadConfig_File(t *testing.T) {
	isolateEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  path: /tmp/personas
gemini:
  model: gemini-2.0-flash
  temperature: 0.2
chat:
  second_responder_probability: 0.25
  second_responder_delay: 250ms
index:
  backend: Chromem
http:
  enabled: true
  port: 9000
log:
  level: debug
  format: json
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/personas", cfg.Storage.Path)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
	assert.InDelta(t, 0.2, cfg.Gemini.Temperature, 1e-6)
	assert.InDelta(t, 0.25, cfg.Chat.SecondResponderProbability, 1e-9)
	assert.Equal(t, 250*time.Millisecond, cfg.Chat.SecondResponderDelay)
	assert.Equal(t, IndexChromem, cfg.Index.Backend)
	assert.True(t, cfg.HTTP.Enabled)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, "localhost", cfg.HTTP.Host)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	isolateEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gemini:\n  model: from-file\n"), 0o600))

	t.Setenv("PERSONAMCP_GEMINI_MODEL", "from-env")
	t.Setenv("PERSONAMCP_CHAT_SECOND_RESPONDER_DELAY", "2s")
	t.Setenv("PERSONAMCP_SESSIONS_MAX", "4")
	t.Setenv("PERSONAMCP_STORAGE_EPHEMERAL", "true")
	t.Setenv("GEMINI_API_KEY", "shared-key")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Gemini.Model)
	assert.Equal(t, 2*time.Second, cfg.Chat.SecondResponderDelay)
	assert.Equal(t, 4, cfg.Sessions.Max)
	assert.True(t, cfg.Storage.Ephemeral)
	assert.Equal(t, "shared-key", cfg.Gemini.APIKey)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"PERSONAMCP_INDEX_BACKEND": "redis"}},
		{"qdrant without host", map[string]string{"PERSONAMCP_INDEX_BACKEND": "qdrant"}},
		{"probability above one", map[string]string{"PERSONAMCP_CHAT_SECOND_RESPONDER_PROBABILITY": "1.5"}},
		{"bad log level", map[string]string{"PERSONAMCP_LOG_LEVEL": "loud"}},
		{"http port out of range", map[string]string{"PERSONAMCP_HTTP_ENABLED": "true", "PERSONAMCP_HTTP_PORT": "70000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("")
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	isolateEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gemini: [unclosed"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
