package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/deptkb/data/db/deptkb.db"
	}
	if cfg.Storage.RawBackend == "" {
		cfg.Storage.RawBackend = "disk"
	}
	if cfg.Storage.RawPath == "" {
		cfg.Storage.RawPath = "/usr/local/var/deptkb/data/raw"
	}
	if cfg.Storage.S3Bucket == "" {
		cfg.Storage.S3Bucket = "deptkb-raw"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "DEPTKB_EMBEDDING_API_KEY"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = Duration(30 * time.Second)
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "memory"
	}
	if cfg.Vector.CollectionPrefix == "" {
		cfg.Vector.CollectionPrefix = "deptkb_"
	}
	if cfg.Vector.Timeout == 0 {
		cfg.Vector.Timeout = Duration(15 * time.Second)
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = 4
	}
	if cfg.Pipeline.BatchConcurrency == 0 {
		cfg.Pipeline.BatchConcurrency = 4
	}
	if cfg.Pipeline.MaxAttempts == 0 {
		cfg.Pipeline.MaxAttempts = 3
	}
	if cfg.Pipeline.RetryBase == 0 {
		cfg.Pipeline.RetryBase = Duration(time.Second)
	}
	if cfg.Pipeline.RetryCap == 0 {
		cfg.Pipeline.RetryCap = Duration(30 * time.Second)
	}
	if cfg.Pipeline.StageTimeout == 0 {
		cfg.Pipeline.StageTimeout = Duration(60 * time.Second)
	}
	if cfg.Pipeline.MaxFileBytes == 0 {
		cfg.Pipeline.MaxFileBytes = 50 << 20
	}
	if cfg.Pipeline.TargetTokens == 0 {
		cfg.Pipeline.TargetTokens = 400
	}
	if cfg.Pipeline.OverlapTokens == 0 {
		cfg.Pipeline.OverlapTokens = 80
	}
	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 5
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = 50
	}
}
