package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"kbchat/internal/chat"
	"kbchat/internal/config"
	"kbchat/internal/domain"
	"kbchat/internal/kb"
	"kbchat/internal/model"
	"kbchat/internal/prompt"
	"kbchat/internal/tui"
	"kbchat/internal/vectorstore"
	"kbchat/internal/vectorstore/memory"
	"kbchat/internal/vectorstore/qdrant"
	"kbchat/internal/vectorstore/redisearch"
)

func main() {
	_ = godotenv.Load()

	var (
		cfgPath    string
		kbName     string
		collection string
		promptName string
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional)")
	flag.StringVar(&kbName, "kb", "", "Knowledge base to ground answers in (empty for plain chat)")
	flag.StringVar(&collection, "collection", "", "Collection within the knowledge base")
	flag.StringVar(&promptName, "prompt", "", "Prompt template variant")
	flag.Parse()

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Structured logs would tear the terminal UI apart, so they are dropped.
	logger := zap.NewNop()

	store, err := newStore(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build vector store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	retry := model.RetryPolicy{
		MaxAttempts: cfg.Model.Retry.MaxAttempts,
		Backoff:     time.Duration(cfg.Model.Retry.BackoffSecs) * time.Second,
	}
	embedCfg, err := model.Resolve(cfg.Platforms, cfg.Model.DefaultEmbedding, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve embedding model: %v\n", err)
		os.Exit(1)
	}
	embedder := model.NewClient(embedCfg,
		model.WithRetryPolicy(retry),
		model.WithContextWindow(cfg.Model.EmbeddingContextWindow))

	kbService := kb.NewService(store, embedder, cfg.KB, logger)
	prompts := prompt.NewEngine(cfg.Prompts)
	factory := func(name string) (domain.ChatModel, error) {
		if name == "" {
			name = cfg.Model.DefaultLLM
		}
		mc, err := model.Resolve(cfg.Platforms, name, "")
		if err != nil {
			return nil, err
		}
		return model.NewClient(mc, model.WithRetryPolicy(retry)), nil
	}
	orchestrator := chat.NewOrchestrator(kbService, prompts, factory, cfg.Model, cfg.KB, logger)

	program := tea.NewProgram(tui.New(orchestrator, tui.Options{
		KBName:         kbName,
		CollectionName: collection,
		PromptName:     promptName,
	}), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "chat session failed: %v\n", err)
		os.Exit(1)
	}
}

func newStore(ctx context.Context, cfg *config.AppConfig) (vectorstore.Store, error) {
	switch cfg.KB.VectorStore.Type {
	case "memory", "":
		return memory.NewStore(), nil
	case "qdrant":
		if cfg.KB.VectorStore.Qdrant == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		return qdrant.NewStore(qdrant.Config{
			URL:     cfg.KB.VectorStore.Qdrant.URL,
			APIKey:  cfg.KB.VectorStore.Qdrant.APIKey,
			Timeout: time.Duration(cfg.KB.VectorStore.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	case "redis":
		if cfg.KB.VectorStore.Redis == nil {
			return nil, fmt.Errorf("redis config missing")
		}
		return redisearch.NewStore(ctx, redisearch.Config{
			Addr:     cfg.KB.VectorStore.Redis.Addr,
			Password: cfg.KB.VectorStore.Redis.Password,
			DB:       cfg.KB.VectorStore.Redis.DB,
			PoolSize: cfg.KB.VectorStore.Redis.PoolSize,
		})
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.KB.VectorStore.Type)
	}
}
