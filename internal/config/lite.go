// Package config provides configuration management for the assistant.
// This file contains the lightweight configuration for standalone operation.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/rag"
)

// LiteConfig is a simplified configuration for the standalone MCP server.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir      string // Base directory for data files
	PatientsFile string // Optional JSON dataset served by the in-memory patient store

	// Knowledge base
	KnowledgeBasePath string
	EmbeddingCache    int

	// LLM settings; an empty key disables guideline search
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text

	Safety domain.SafetyConfig
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".medassist")

	return &LiteConfig{
		DataDir:           dataDir,
		KnowledgeBasePath: "./knowledge_base/medical",
		EmbeddingCache:    512,
		BaseURL:           rag.DefaultBaseURL,
		Model:             rag.DefaultChatModel,
		Timeout:           60 * time.Second,
		LogLevel:          "info",
		LogFormat:         "json",
		Safety:            domain.DefaultSafetyConfig(),
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("MEDASSIST_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	cfg.PatientsFile = os.Getenv("MEDASSIST_PATIENTS_FILE")

	if v := os.Getenv("MEDASSIST_KNOWLEDGE_BASE"); v != "" {
		cfg.KnowledgeBasePath = v
	}
	if v := os.Getenv("MEDASSIST_EMBEDDING_CACHE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EmbeddingCache = n
		}
	}

	cfg.APIKey = os.Getenv("MEDASSIST_LLM_API_KEY")
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("DASHSCOPE_API_KEY")
	}
	if v := os.Getenv("MEDASSIST_LLM_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("MEDASSIST_LLM_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("MEDASSIST_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}

	if v := os.Getenv("MEDASSIST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MEDASSIST_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if v := os.Getenv("MEDASSIST_SAFETY_CHECK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Safety.EnableSafetyCheck = b
		}
	}

	return cfg
}

// LLMConfig converts the lite settings into the shared client configuration.
func (c *LiteConfig) LLMConfig() domain.LLMConfig {
	return domain.LLMConfig{
		APIKey:         c.APIKey,
		BaseURL:        c.BaseURL,
		Model:          c.Model,
		EmbeddingModel: rag.DefaultEmbeddingModel,
		Temperature:    0.1,
		MaxTokens:      2048,
		Timeout:        c.Timeout,
		RateLimit:      5,
		RateBurst:      10,
		BreakerFails:   5,
		BreakerTimeout: 30 * time.Second,
	}
}

// IndexPath returns the location of the vector index file.
func (c *LiteConfig) IndexPath() string {
	return filepath.Join(c.KnowledgeBasePath, rag.IndexFileName)
}

// FeedbackDBPath returns the path to the feedback SQLite database.
func (c *LiteConfig) FeedbackDBPath() string {
	return filepath.Join(c.DataDir, "feedback.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}
