package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/rag"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewManager_Defaults(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "")

	// Act
	m, err := NewManagerFromFile(writeConfig(t, "{}\n"))

	// Assert
	require.NoError(t, err)
	cfg := m.GetConfig()
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.RequestTimeout)
	assert.False(t, cfg.Database.Enabled())
	assert.Equal(t, "", cfg.Cache.RedisURL)
	assert.Equal(t, rag.DefaultChatModel, cfg.LLM.Model)
	assert.Equal(t, "text-embedding-v2", cfg.LLM.EmbeddingModel)
	assert.Equal(t, uint32(5), cfg.LLM.BreakerFails)
	assert.Equal(t, 5, cfg.RAG.SimilarityTopK)
	assert.Equal(t, domain.DefaultSafetyConfig(), cfg.Safety)
	assert.Equal(t, filepath.Join("data", "feedback.db"), cfg.Data.FeedbackDB)
	assert.Equal(t, filepath.Join("knowledge_base", "medical", "index.json"), m.IndexPath())
	assert.NoError(t, m.Validate())
}

func TestNewManager_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  host: db.internal
  database: medical_db
logging:
  level: debug
  format: text
safety:
  enable_ethics_check: false
`)
	t.Setenv("MEDASSIST_RAG_SIMILARITY_TOP_K", "8")
	t.Setenv("DASHSCOPE_API_KEY", "sk-legacy")

	m, err := NewManagerFromFile(path)

	require.NoError(t, err)
	cfg := m.GetConfig()
	assert.Equal(t, 9090, m.GetServerConfig().Port)
	assert.Equal(t, "db.internal", m.GetDatabaseConfig().Host)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, 8, cfg.RAG.SimilarityTopK)
	assert.Equal(t, "sk-legacy", cfg.LLM.APIKey)
	assert.False(t, cfg.Safety.EnableEthicsCheck)
	assert.True(t, cfg.Safety.EnableSafetyCheck)
	assert.Equal(t, path, m.ConfigFile())
	assert.NoError(t, m.Validate())
}

func TestNewManager_MalformedFile(t *testing.T) {
	_, err := NewManagerFromFile(writeConfig(t, "server: [unterminated"))
	assert.Error(t, err)
}

func TestManager_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.Config)
		wantErr string
	}{
		{"bad port", func(c *domain.Config) { c.Server.Port = 0 }, "invalid server port"},
		{"tls without cert", func(c *domain.Config) { c.Server.TLSEnabled = true }, "TLS enabled"},
		{"db without name", func(c *domain.Config) { c.Database.Host = "x"; c.Database.Database = "" }, "database name"},
		{"bad top k", func(c *domain.Config) { c.RAG.SimilarityTopK = 0 }, "similarity_top_k"},
		{"bad temperature", func(c *domain.Config) { c.LLM.Temperature = 3 }, "temperature"},
		{"bad level", func(c *domain.Config) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"bad format", func(c *domain.Config) { c.Logging.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManagerFromFile(writeConfig(t, "{}\n"))
			require.NoError(t, err)
			tt.mutate(m.GetConfig())

			err = m.Validate()

			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "app.log")

	logger, closer, err := NewLogger(domain.LoggingConfig{Level: "warn", Format: "text", File: logFile})
	require.NoError(t, err)
	logger.Warn("写入日志")
	require.NoError(t, closer.Close())

	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "写入日志")
}

func TestNewLogger_Defaults(t *testing.T) {
	logger, closer, err := NewLogger(domain.LoggingConfig{Level: "nonsense"})

	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}
