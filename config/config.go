// Package config loads the application configuration from a YAML file with
// environment variable overrides for deployment secrets. A .env file next to
// the binary is honored for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/openoverheid/docpipe/internal/broker/redisq"
	"github.com/openoverheid/docpipe/internal/ledger"
	"github.com/openoverheid/docpipe/internal/llm"
	"github.com/openoverheid/docpipe/internal/pipeline"
	"github.com/openoverheid/docpipe/internal/stages/docstore"
	"github.com/openoverheid/docpipe/internal/stages/embedding"
	"github.com/openoverheid/docpipe/internal/stages/notify"
	"github.com/openoverheid/docpipe/internal/stages/searchindex"
	"github.com/openoverheid/docpipe/pkg/storage"
)

type LogConfig struct {
	Level       string   `yaml:"level"`
	Encoding    string   `yaml:"encoding"`
	OutputPaths []string `yaml:"outputPaths"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type Config struct {
	Log       LogConfig               `yaml:"log"`
	Server    ServerConfig            `yaml:"server"`
	Broker    redisq.Config           `yaml:"broker"`
	Ledger    ledger.Config           `yaml:"ledger"`
	Storage   storage.Config          `yaml:"storage"`
	Consumer  pipeline.ConsumerConfig `yaml:"consumer"`
	LLM       llm.Config              `yaml:"llm"`
	Embedding embedding.Config        `yaml:"embedding"`
	DocStore  docstore.Config         `yaml:"docstore"`
	Solr      searchindex.Config      `yaml:"solr"`
	Notify    notify.Config           `yaml:"notify"`
}

// Load reads the YAML file at path, then applies environment overrides.
// A missing file is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout"},
		},
		Server: ServerConfig{Addr: ":8080"},
		Broker: redisq.Config{Addr: "localhost:6379"},
		Ledger: ledger.Config{Addr: "localhost:6379"},
		Storage: storage.Config{
			Driver: storage.DriverMinio,
		},
		LLM: llm.Config{
			Endpoint:       "http://localhost:11434",
			Model:          "llama3.1",
			EmbeddingModel: "nomic-embed-text",
			MaxTokens:      4096,
			Temperature:    0.1,
		},
		Embedding: embedding.Config{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		DocStore: docstore.Config{Path: "docpipe.db"},
		Solr: searchindex.Config{
			URL:        "http://127.0.0.1:8983/solr",
			Collection: "documents",
		},
	}
}

// applyEnv overrides secrets and endpoints that are usually injected per
// deployment rather than committed in a config file.
func applyEnv(cfg *Config) {
	setString(&cfg.Broker.Addr, "REDIS_ADDR")
	setString(&cfg.Broker.Password, "REDIS_PASSWORD")
	setString(&cfg.Ledger.Addr, "REDIS_ADDR")
	setString(&cfg.Ledger.Password, "REDIS_PASSWORD")
	setString(&cfg.LLM.Endpoint, "OLLAMA_ENDPOINT")
	setString(&cfg.LLM.Model, "OLLAMA_MODEL")
	setString(&cfg.LLM.EmbeddingModel, "OLLAMA_EMBEDDING_MODEL")
	setString(&cfg.Solr.URL, "SOLR_URL")
	setString(&cfg.Solr.Collection, "SOLR_COLLECTION")
	setString(&cfg.Notify.APIKey, "RESEND_API_KEY")
	setString(&cfg.Notify.To, "NOTIFICATION_EMAIL")
	setString(&cfg.Notify.From, "NOTIFICATION_FROM_EMAIL")
	setString(&cfg.DocStore.Path, "DOCSTORE_PATH")
	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.Storage.Minio.Endpoint, "MINIO_ENDPOINT")
	setString(&cfg.Storage.Minio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.Storage.Minio.SecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.Storage.Minio.BucketName, "MINIO_BUCKET")
	setString(&cfg.Storage.S3.AccessKey, "AWS_ACCESS_KEY_ID")
	setString(&cfg.Storage.S3.SecretKey, "AWS_SECRET_ACCESS_KEY")
	setString(&cfg.Storage.S3.Region, "AWS_REGION")
	setString(&cfg.Storage.S3.BucketName, "S3_BUCKET")
	setInt(&cfg.Consumer.MaxConcurrentCalls, "MAX_CONCURRENT_CALLS")

	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = storage.Driver(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
