// Package config provides configuration loading and structs for the deptkb server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the metadata database path and raw store settings.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`

	// RawBackend selects the raw object store: "disk" or "s3".
	RawBackend string `yaml:"raw_backend"`
	RawPath    string `yaml:"raw_path"` // disk backend root

	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`
	S3UseSSL    bool   `yaml:"s3_use_ssl"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	// Provider selects the embedder: "openai" (OpenAI-compatible REST) or "mock".
	Provider   string        `yaml:"provider"`
	BaseURL    string        `yaml:"base_url"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	BatchSize  int           `yaml:"batch_size"`
	Timeout    Duration      `yaml:"timeout"`
}

// VectorConfig holds vector index settings.
type VectorConfig struct {
	// Backend selects the vector index: "memory" or "qdrant".
	Backend          string        `yaml:"backend"`
	QdrantURL        string        `yaml:"qdrant_url"`
	QdrantAPIKey     string        `yaml:"qdrant_api_key"`
	CollectionPrefix string        `yaml:"collection_prefix"`
	Timeout          Duration      `yaml:"timeout"`
}

// PipelineConfig holds ingestion orchestration settings.
type PipelineConfig struct {
	Workers          int           `yaml:"workers"`           // concurrent pipelines
	BatchConcurrency int           `yaml:"batch_concurrency"` // parallel embed/index batches per pipeline
	MaxAttempts      int           `yaml:"max_attempts"`      // per-stage attempts for transient failures
	RetryBase        Duration      `yaml:"retry_base"`
	RetryCap         Duration      `yaml:"retry_cap"`
	StageTimeout     Duration      `yaml:"stage_timeout"` // per external call
	MaxFileBytes     int64         `yaml:"max_file_bytes"`
	TargetTokens     int           `yaml:"target_tokens"`
	OverlapTokens    int           `yaml:"overlap_tokens"`
}

// RetrievalConfig holds retrieval settings.
type RetrievalConfig struct {
	DefaultK int `yaml:"default_k"`
	MaxK     int `yaml:"max_k"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.RawPath = expandPath(cfg.Storage.RawPath, configDir)

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
