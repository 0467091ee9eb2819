package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-decision-assistant/internal/rag"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, "./knowledge_base/medical", cfg.KnowledgeBasePath)
	assert.Equal(t, 512, cfg.EmbeddingCache)
	assert.Equal(t, rag.DefaultChatModel, cfg.Model)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.Safety.EnableSafetyCheck)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	// Clear relevant env vars
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Empty(t, cfg.APIKey)
	assert.Empty(t, cfg.PatientsFile)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("MEDASSIST_DATA_DIR", "/tmp/test-medassist")
	t.Setenv("MEDASSIST_PATIENTS_FILE", "/tmp/patients.json")
	t.Setenv("MEDASSIST_EMBEDDING_CACHE", "64")
	t.Setenv("MEDASSIST_LLM_TIMEOUT", "12s")
	t.Setenv("MEDASSIST_LOG_LEVEL", "debug")
	t.Setenv("MEDASSIST_SAFETY_CHECK", "false")
	t.Setenv("DASHSCOPE_API_KEY", "legacy-key")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-medassist", cfg.DataDir)
	assert.Equal(t, "/tmp/patients.json", cfg.PatientsFile)
	assert.Equal(t, 64, cfg.EmbeddingCache)
	assert.Equal(t, 12*time.Second, cfg.Timeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Safety.EnableSafetyCheck)
	assert.Equal(t, "legacy-key", cfg.APIKey)
}

func TestLoadLiteConfig_PrefixedKeyWins(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("DASHSCOPE_API_KEY", "legacy-key")
	t.Setenv("MEDASSIST_LLM_API_KEY", "new-key")

	assert.Equal(t, "new-key", LoadLiteConfig().APIKey)
}

func TestLoadLiteConfig_InvalidValues(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("MEDASSIST_EMBEDDING_CACHE", "-3")
	t.Setenv("MEDASSIST_LLM_TIMEOUT", "soon")

	cfg := LoadLiteConfig()

	assert.Equal(t, 512, cfg.EmbeddingCache)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.medassist", KnowledgeBasePath: "/kb"}

	assert.Equal(t, "/home/user/.medassist/feedback.db", cfg.FeedbackDBPath())
	assert.Equal(t, "/home/user/.medassist/exports", cfg.ExportDir())
	assert.Equal(t, "/kb/index.json", cfg.IndexPath())
}

func TestLiteConfig_LLMConfig(t *testing.T) {
	cfg := DefaultLiteConfig()
	cfg.APIKey = "k"

	llm := cfg.LLMConfig()

	assert.Equal(t, "k", llm.APIKey)
	assert.Equal(t, rag.DefaultEmbeddingModel, llm.EmbeddingModel)
	assert.Equal(t, uint32(5), llm.BreakerFails)
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	cfg := &LiteConfig{DataDir: filepath.Join(tmpDir, "medassist")}

	err = cfg.EnsureDataDir()
	require.NoError(t, err)

	// Verify directories exist
	_, err = os.Stat(cfg.DataDir)
	assert.NoError(t, err)

	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	vars := []string{
		"MEDASSIST_DATA_DIR",
		"MEDASSIST_PATIENTS_FILE",
		"MEDASSIST_KNOWLEDGE_BASE",
		"MEDASSIST_EMBEDDING_CACHE",
		"MEDASSIST_LLM_API_KEY",
		"MEDASSIST_LLM_BASE_URL",
		"MEDASSIST_LLM_MODEL",
		"MEDASSIST_LLM_TIMEOUT",
		"MEDASSIST_LOG_LEVEL",
		"MEDASSIST_LOG_FORMAT",
		"MEDASSIST_SAFETY_CHECK",
		"DASHSCOPE_API_KEY",
	}
	for _, v := range vars {
		// t.Setenv restores the previous value after the test
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}
