// Package config loads and holds the application configuration.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Conf is the global configuration loaded at startup.
var Conf Config

// Config mirrors the structure of config.yaml.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Chunking      ChunkingConfig      `mapstructure:"chunking"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Run           RunConfig           `mapstructure:"run"`
	Retry         RetryConfig         `mapstructure:"retry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig groups all database connections.
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig holds the MySQL connection settings.
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig holds the broker address and the task topics.
type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"`
	IndexTopic string `mapstructure:"index_topic"`
	RunTopic   string `mapstructure:"run_topic"`
}

// TikaConfig holds the Tika server settings.
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig holds the Elasticsearch settings.
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig holds the object storage settings.
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig holds the embedding provider settings.
// Dimensions is the fixed vector dimensionality; it must match the
// dense_vector mapping of the Elasticsearch index.
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig holds the chat model provider settings.
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig holds optional sampling parameters.
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// ChunkingConfig holds the text chunking parameters.
type ChunkingConfig struct {
	Size      int `mapstructure:"size"`
	Overlap   int `mapstructure:"overlap"`
	Tolerance int `mapstructure:"tolerance"`
}

// RetrievalConfig holds retrieval parameters. DedupOverlap is the fraction
// of the shorter character range above which two hits from the same
// document count as duplicates.
type RetrievalConfig struct {
	TopK         int     `mapstructure:"top_k"`
	DedupOverlap float64 `mapstructure:"dedup_overlap"`
}

// RunConfig holds checklist run execution settings.
type RunConfig struct {
	Workers            int `mapstructure:"workers"`
	CallTimeoutSeconds int `mapstructure:"call_timeout_seconds"`
}

// RetryConfig holds the shared retry policy for external calls.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	MaxDelayMs  int `mapstructure:"max_delay_ms"`
}

// Init reads the YAML file at configPath and unmarshals it into Conf.
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("failed to read config file: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("failed to unmarshal config: %w", err))
	}
}
