package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"kbchat/internal/api"
	"kbchat/internal/chat"
	"kbchat/internal/config"
	"kbchat/internal/domain"
	"kbchat/internal/kb"
	"kbchat/internal/model"
	"kbchat/internal/prompt"
	"kbchat/internal/vectorstore"
	"kbchat/internal/vectorstore/memory"
	"kbchat/internal/vectorstore/qdrant"
	"kbchat/internal/vectorstore/redisearch"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/kbchat/config.yaml if not provided)")
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

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := cancellableContext()

	store, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to build vector store", zap.Error(err))
	}
	defer store.Close()

	retry := model.RetryPolicy{
		MaxAttempts: cfg.Model.Retry.MaxAttempts,
		Backoff:     time.Duration(cfg.Model.Retry.BackoffSecs) * time.Second,
	}
	embedCfg, err := model.Resolve(cfg.Platforms, cfg.Model.DefaultEmbedding, "")
	if err != nil {
		logger.Fatal("failed to resolve embedding model", zap.Error(err))
	}
	embedder := model.NewClient(embedCfg,
		model.WithRetryPolicy(retry),
		model.WithContextWindow(cfg.Model.EmbeddingContextWindow),
		model.WithLogger(logger))

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
		return model.NewClient(mc, model.WithRetryPolicy(retry), model.WithLogger(logger)), nil
	}
	orchestrator := chat.NewOrchestrator(kbService, prompts, factory, cfg.Model, cfg.KB, logger)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewServer(kbService, orchestrator, logger).Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("serving", zap.String("addr", cfg.Server.Addr),
		zap.String("vector_store", cfg.KB.VectorStore.Type))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
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

func cancellableContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx
}
