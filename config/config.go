// Package config loads runtime configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Neo4jURI    string `mapstructure:"neo4j_uri"`
	Neo4jUser   string `mapstructure:"neo4j_user"`
	Neo4jPass   string `mapstructure:"neo4j_pass"`

	DataDir     string `mapstructure:"data_dir"`
	Collection  string `mapstructure:"collection"`
	StoreDriver string `mapstructure:"store_driver"`

	OllamaHost    string `mapstructure:"ollama_host"`
	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`

	Embeddings Embeddings `mapstructure:"embeddings"`
	LLM        LLM        `mapstructure:"llm"`
	Ingestion  Ingestion  `mapstructure:"ingestion"`
	Retrieval  Retrieval  `mapstructure:"retrieval"`
	Agent      Agent      `mapstructure:"agent"`
	Search     Search     `mapstructure:"search"`
	API        API        `mapstructure:"api"`
}

type Embeddings struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
	BatchSize int    `mapstructure:"batch_size"`
}

type LLM struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

type Ingestion struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

type Retrieval struct {
	FetchK              int     `mapstructure:"fetch_k"`
	RedundancyThreshold float64 `mapstructure:"redundancy_threshold"`
	RelevanceThreshold  float64 `mapstructure:"relevance_threshold"`
	RerankLimit         int     `mapstructure:"rerank_limit"`
	TokenBudget         int     `mapstructure:"token_budget"`
}

type Agent struct {
	MaxIterations int `mapstructure:"max_iterations"`
}

type Search struct {
	Endpoint   string `mapstructure:"endpoint"`
	MaxResults int    `mapstructure:"max_results"`
}

type API struct {
	Addr string `mapstructure:"addr"`
}

// Load reads config.yaml from the working directory when present, overlays
// RAINBOW_-prefixed environment variables, and fills in defaults for the
// rest.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RAINBOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// The OpenAI key commonly lives in the conventional variable rather
	// than the prefixed one.
	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres_dsn", "postgres://localhost:5432/rainbow-agent?sslmode=disable")
	v.SetDefault("neo4j_uri", "")
	v.SetDefault("neo4j_user", "neo4j")
	v.SetDefault("neo4j_pass", "password")

	v.SetDefault("data_dir", "./data")
	v.SetDefault("collection", "default")
	v.SetDefault("store_driver", StorePostgres)

	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("openai_base_url", "")

	v.SetDefault("embeddings.provider", ProviderOpenAI)
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.dimension", 1536)
	v.SetDefault("embeddings.batch_size", 64)

	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.model", "gpt-4o-mini")

	v.SetDefault("ingestion.chunk_size", 1536)
	v.SetDefault("ingestion.chunk_overlap", 20)

	v.SetDefault("retrieval.fetch_k", 50)
	v.SetDefault("retrieval.redundancy_threshold", 0.95)
	v.SetDefault("retrieval.relevance_threshold", 0.76)
	v.SetDefault("retrieval.rerank_limit", 30)
	v.SetDefault("retrieval.token_budget", 15360)

	v.SetDefault("agent.max_iterations", 10)

	v.SetDefault("search.endpoint", "https://html.duckduckgo.com/html/")
	v.SetDefault("search.max_results", 5)

	v.SetDefault("api.addr", ":8080")
}
