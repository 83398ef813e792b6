package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PlatformConfig describes one remote model-hosting platform: an
// OpenAI-compatible endpoint plus the models it serves per category.
// Model metadata is backend-specific (e.g. embed_size for embedding models).
type PlatformConfig struct {
	PlatformName    string                    `yaml:"platform_name"`
	PlatformType    string                    `yaml:"platform_type"`
	APIBaseURL      string                    `yaml:"api_base_url"`
	APIKey          string                    `yaml:"api_key"`
	APIKeyEnv       string                    `yaml:"api_key_env,omitempty"`
	LLMModels       map[string]map[string]any `yaml:"llm_models"`
	EmbeddingModels map[string]map[string]any `yaml:"embedding_models"`
	RerankModels    map[string]map[string]any `yaml:"rerank_models"`
}

// ResolvedAPIKey returns the credential, preferring the env indirection so
// keys can stay out of config files.
func (p PlatformConfig) ResolvedAPIKey() string {
	if p.APIKeyEnv != "" {
		if v := os.Getenv(p.APIKeyEnv); v != "" {
			return v
		}
	}
	return p.APIKey
}

// RetryConfig bounds the model client's retry loop. MaxAttempts 0 retries
// until the caller's context is cancelled.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BackoffSecs int `yaml:"backoff_secs"`
}

// ModelConfig holds model selection defaults and sampling parameters.
type ModelConfig struct {
	DefaultLLM             string      `yaml:"default_llm"`
	DefaultEmbedding       string      `yaml:"default_embedding"`
	Temperature            float64     `yaml:"temperature"`
	MaxTokens              int         `yaml:"max_tokens"`
	EmbeddingContextWindow int         `yaml:"embedding_context_window"`
	Retry                  RetryConfig `yaml:"retry"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RedisConfig contains connection details for a RediSearch vector store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
	Redis  *RedisConfig  `yaml:"redis,omitempty"`
}

// KBConfig holds knowledge base and retrieval defaults.
type KBConfig struct {
	VectorStore       VectorStoreConfig `yaml:"vector_store"`
	TopK              int               `yaml:"top_k"`
	ScoreThreshold    float64           `yaml:"score_threshold"`
	EmbeddingDim      int               `yaml:"embedding_dim"`
	MaxContentLength  int               `yaml:"max_content_length"`
	DefaultCollection string            `yaml:"default_collection"`
}

// PromptMessage is one message skeleton of a prompt template override.
type PromptMessage struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AppConfig is the root application configuration. It is loaded once at
// process start and passed into component constructors.
type AppConfig struct {
	Server    ServerConfig               `yaml:"server"`
	Platforms []PlatformConfig           `yaml:"platforms"`
	Model     ModelConfig                `yaml:"model"`
	KB        KBConfig                   `yaml:"kb"`
	Prompts   map[string][]PromptMessage `yaml:"prompts,omitempty"`
}

// Load reads a config from a specified path. If the file does not exist,
// returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/kbchat/config.yaml.
// If neither exists, it writes defaults to ~/.config/kbchat/config.yaml and
// returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "kbchat", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Server: ServerConfig{Addr: ":19198"},
		Platforms: []PlatformConfig{
			{
				PlatformName: "silicon-flow",
				PlatformType: "openai",
				APIBaseURL:   "https://api.siliconflow.cn/v1",
				APIKeyEnv:    "SILICONFLOW_API_KEY",
				LLMModels: map[string]map[string]any{
					"deepseek-ai/DeepSeek-V2.5": {},
				},
				EmbeddingModels: map[string]map[string]any{
					"BAAI/bge-m3": {"embed_size": 1024},
				},
				RerankModels: map[string]map[string]any{
					"BAAI/bge-reranker-v2-m3": {},
				},
			},
		},
		Model: ModelConfig{
			DefaultLLM:       "deepseek-ai/DeepSeek-V2.5",
			DefaultEmbedding: "BAAI/bge-m3",
		},
		KB: KBConfig{
			VectorStore: VectorStoreConfig{Type: "memory"},
		},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":19198"
	}
	if cfg.Model.Temperature == 0 {
		cfg.Model.Temperature = 0.6
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 2000
	}
	if cfg.Model.EmbeddingContextWindow == 0 {
		cfg.Model.EmbeddingContextWindow = 8192
	}
	if cfg.Model.Retry.MaxAttempts == 0 && cfg.Model.Retry.BackoffSecs == 0 {
		cfg.Model.Retry.MaxAttempts = 5
	}
	if cfg.Model.Retry.BackoffSecs == 0 {
		cfg.Model.Retry.BackoffSecs = 3
	}
	if cfg.KB.VectorStore.Type == "" {
		cfg.KB.VectorStore.Type = "memory"
	}
	if cfg.KB.VectorStore.Type == "qdrant" && cfg.KB.VectorStore.Qdrant != nil {
		if cfg.KB.VectorStore.Qdrant.URL == "" {
			cfg.KB.VectorStore.Qdrant.URL = "http://localhost:6333"
		}
		if cfg.KB.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.KB.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.KB.VectorStore.Type == "redis" && cfg.KB.VectorStore.Redis != nil {
		if cfg.KB.VectorStore.Redis.Addr == "" {
			cfg.KB.VectorStore.Redis.Addr = "localhost:6379"
		}
		if cfg.KB.VectorStore.Redis.PoolSize == 0 {
			cfg.KB.VectorStore.Redis.PoolSize = 10
		}
	}
	if cfg.KB.TopK == 0 {
		cfg.KB.TopK = 5
	}
	if cfg.KB.ScoreThreshold == 0 {
		cfg.KB.ScoreThreshold = 0.1
	}
	if cfg.KB.EmbeddingDim == 0 {
		cfg.KB.EmbeddingDim = 1024
	}
	if cfg.KB.MaxContentLength == 0 {
		cfg.KB.MaxContentLength = 5120
	}
	if cfg.KB.DefaultCollection == "" {
		cfg.KB.DefaultCollection = "default"
	}
}
