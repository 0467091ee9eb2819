package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	LLM      LLMConfig      `mapstructure:"llm"`
	RAG      RAGConfig      `mapstructure:"rag"`
	Safety   SafetyConfig   `mapstructure:"safety"`
	Data     DataConfig     `mapstructure:"data"`
	MCP      MCPConfig      `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      int           `mapstructure:"rate_limit"`
	AllowOrigins   []string      `mapstructure:"allow_origins"`
	TLSEnabled     bool          `mapstructure:"tls_enabled"`
	CertFile       string        `mapstructure:"cert_file"`
	KeyFile        string        `mapstructure:"key_file"`
}

// DatabaseConfig represents database connection configuration.
// An empty Host disables the patient store.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Enabled reports whether a database is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// CacheConfig represents the redis answer cache configuration.
// An empty RedisURL disables caching.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// LLMConfig configures the OpenAI-compatible chat and embedding endpoint.
type LLMConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Temperature    float32       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	BreakerFails   uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
}

// RAGConfig configures retrieval.
type RAGConfig struct {
	KnowledgeBasePath  string        `mapstructure:"knowledge_base_path"`
	IndexFile          string        `mapstructure:"index_file"`
	SimilarityTopK     int           `mapstructure:"similarity_top_k"`
	EmbeddingCacheSize int           `mapstructure:"embedding_cache_size"`
	AnswerCacheTTL     time.Duration `mapstructure:"answer_cache_ttl"`
}

// SafetyConfig toggles the individual safety filters.
type SafetyConfig struct {
	EnableSafetyCheck    bool `mapstructure:"enable_safety_check"`
	EnableEthicsCheck    bool `mapstructure:"enable_ethics_check"`
	EnableHumanisticCare bool `mapstructure:"enable_humanistic_care"`
}

// DefaultSafetyConfig enables every filter.
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{EnableSafetyCheck: true, EnableEthicsCheck: true, EnableHumanisticCare: true}
}

// DataConfig locates on-disk data files.
type DataConfig struct {
	Dir           string `mapstructure:"dir"`
	DiabetesExcel string `mapstructure:"diabetes_excel"`
	FeedbackDB    string `mapstructure:"feedback_db"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}
