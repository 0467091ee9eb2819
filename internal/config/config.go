package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/rag"
)

// EnvPrefix prefixes every environment override, e.g. MEDASSIST_SERVER_PORT.
const EnvPrefix = "MEDASSIST"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	return NewManagerFromFile("")
}

// NewManagerFromFile loads configuration from an explicit file. An empty
// path searches the default locations.
func NewManagerFromFile(path string) (*Manager, error) {
	m := &Manager{v: viper.New()}
	if err := m.loadConfig(path); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig(path string) error {
	// .env is optional
	_ = godotenv.Load()

	v := m.v
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/medassist/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys read by earlier deployments without the prefix
	if err := v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY", "DASHSCOPE_API_KEY"); err != nil {
		return fmt.Errorf("error binding environment: %w", err)
	}
	if err := v.BindEnv("database.password", EnvPrefix+"_DATABASE_PASSWORD", "DB_PASSWORD"); err != nil {
		return fmt.Errorf("error binding environment: %w", err)
	}

	m.setDefaults()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Data.Dir != "" {
		if config.Data.DiabetesExcel != "" && !filepath.IsAbs(config.Data.DiabetesExcel) {
			config.Data.DiabetesExcel = filepath.Join(config.Data.Dir, config.Data.DiabetesExcel)
		}
		if config.Data.FeedbackDB != "" && !filepath.IsAbs(config.Data.FeedbackDB) {
			config.Data.FeedbackDB = filepath.Join(config.Data.Dir, config.Data.FeedbackDB)
		}
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	v := m.v

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.allow_origins", []string{})
	v.SetDefault("server.tls_enabled", false)

	// Database defaults; an empty host runs without the patient store
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "medical_db")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Cache defaults; an empty URL disables the answer cache
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "1h")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "logs/medical_assistant.log")

	// LLM defaults
	v.SetDefault("llm.base_url", rag.DefaultBaseURL)
	v.SetDefault("llm.model", rag.DefaultChatModel)
	v.SetDefault("llm.embedding_model", rag.DefaultEmbeddingModel)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.rate_limit", 5)
	v.SetDefault("llm.rate_burst", 10)
	v.SetDefault("llm.breaker_failures", 5)
	v.SetDefault("llm.breaker_timeout", "30s")

	// RAG defaults
	v.SetDefault("rag.knowledge_base_path", "./knowledge_base/medical")
	v.SetDefault("rag.index_file", rag.IndexFileName)
	v.SetDefault("rag.similarity_top_k", rag.DefaultTopK)
	v.SetDefault("rag.embedding_cache_size", 512)
	v.SetDefault("rag.answer_cache_ttl", "1h")

	// Safety defaults
	v.SetDefault("safety.enable_safety_check", true)
	v.SetDefault("safety.enable_ethics_check", true)
	v.SetDefault("safety.enable_humanistic_care", true)

	// Data defaults
	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.diabetes_excel", "糖尿病病例统计.xlsx")
	v.SetDefault("data.feedback_db", "feedback.db")

	// MCP defaults
	v.SetDefault("mcp.server_name", "medical-decision-assistant")
	v.SetDefault("mcp.server_version", "v0.1.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// ConfigFile reports the file that was read, or "" when running on defaults.
func (m *Manager) ConfigFile() string {
	return m.v.ConfigFileUsed()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.TLSEnabled && (config.Server.CertFile == "" || config.Server.KeyFile == "") {
		return fmt.Errorf("TLS enabled but cert_file or key_file is missing")
	}

	if config.Database.Enabled() {
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}

	if config.RAG.SimilarityTopK <= 0 {
		return fmt.Errorf("invalid similarity_top_k: %d", config.RAG.SimilarityTopK)
	}
	if config.LLM.Temperature < 0 || config.LLM.Temperature > 2 {
		return fmt.Errorf("invalid llm temperature: %v", config.LLM.Temperature)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "warning": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}
	if f := strings.ToLower(config.Logging.Format); f != "json" && f != "text" {
		return fmt.Errorf("invalid log format: %s", config.Logging.Format)
	}

	return nil
}

// IndexPath returns the location of the vector index file.
func (m *Manager) IndexPath() string {
	return filepath.Join(m.config.RAG.KnowledgeBasePath, m.config.RAG.IndexFile)
}

// NewLogger builds a logrus logger from the logging section. When a file is
// configured, entries go to both stdout and the file; the returned closer
// releases the file and is never nil.
func NewLogger(cfg domain.LoggingConfig) (*logrus.Logger, io.Closer, error) {
	return NewLoggerTo(cfg, os.Stdout)
}

// NewLoggerTo is NewLogger with console output sent to console instead of
// stdout. The stdio MCP server logs to stderr.
func NewLoggerTo(cfg domain.LoggingConfig, console io.Writer) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()
	logger.SetOutput(console)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.ToLower(cfg.Format) == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.File == "" {
		return logger, io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(console, file))
	return logger, file, nil
}
