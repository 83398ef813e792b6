package chat

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"kbchat/internal/config"
	"kbchat/internal/domain"
	"kbchat/internal/kb"
	"kbchat/internal/model"
	"kbchat/internal/prompt"
	"kbchat/internal/vectorstore"
)

// Searcher is the retrieval-facing subset of the knowledge base service.
type Searcher interface {
	KnowledgeBaseExists(ctx context.Context, kbName string) (bool, error)
	Search(ctx context.Context, query, kbName, collectionName string, topK int, scoreThreshold float64) ([]domain.Context, error)
}

// Renderer selects a template variant and renders it into chat messages.
type Renderer interface {
	Render(name, query string, contexts []domain.Context, history []domain.History) ([]domain.Message, error)
}

// ModelFactory resolves a model name to a ready chat model. An empty name
// selects the configured default.
type ModelFactory func(modelName string) (domain.ChatModel, error)

// Request is one chat call. Zero values select configured defaults.
type Request struct {
	Query          string           `json:"query"`
	KBName         string           `json:"kb_name,omitempty"`
	CollectionName string           `json:"collection_name,omitempty"`
	TopK           int              `json:"top_k,omitempty"`
	ScoreThreshold float64          `json:"score_threshold,omitempty"`
	History        []domain.History `json:"history,omitempty"`
	Model          string           `json:"model,omitempty"`
	Temperature    float64          `json:"temperature,omitempty"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	PromptName     string           `json:"prompt_name,omitempty"`
}

// Orchestrator composes retrieval, prompt rendering and model invocation into
// one request pipeline. It retains no state across requests and never lets a
// failure escape as anything but a ChatResult.
type Orchestrator struct {
	kb       Searcher
	prompts  Renderer
	models   ModelFactory
	modelCfg config.ModelConfig
	kbCfg    config.KBConfig
	log      *zap.Logger
}

func NewOrchestrator(searcher Searcher, prompts Renderer, models ModelFactory, modelCfg config.ModelConfig, kbCfg config.KBConfig, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		kb:       searcher,
		prompts:  prompts,
		models:   models,
		modelCfg: modelCfg,
		kbCfg:    kbCfg,
		log:      log,
	}
}

// Chat runs the pipeline: resolve knowledge base, search, render prompt,
// invoke model. Without a kb_name it degrades gracefully to ungrounded chat.
func (o *Orchestrator) Chat(ctx context.Context, req Request) (result domain.ChatResult) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("chat pipeline panic", zap.Any("panic", r))
			result = domain.ChatResult{Code: 500, Msg: "internal error"}
		}
	}()

	o.applyDefaults(&req)
	o.log.Info("chat request",
		zap.String("query", req.Query),
		zap.String("kb", req.KBName),
		zap.String("model", req.Model))

	var contexts []domain.Context
	if req.KBName != "" {
		exists, err := o.kb.KnowledgeBaseExists(ctx, req.KBName)
		if err != nil {
			return failure(err, "failed to resolve knowledge base")
		}
		if !exists {
			return failure(kb.ErrKnowledgeBaseNotFound,
				fmt.Sprintf("knowledge base %q not found", req.KBName))
		}
		contexts, err = o.kb.Search(ctx, req.Query, req.KBName, req.CollectionName, req.TopK, req.ScoreThreshold)
		if err != nil {
			return failure(err, "search failed: "+err.Error())
		}
	}

	messages, err := o.prompts.Render(req.PromptName, req.Query, contexts, req.History)
	if err != nil {
		return failure(err, err.Error())
	}

	chatModel, err := o.models(req.Model)
	if err != nil {
		return failure(err, err.Error())
	}
	answer, err := chatModel.Chat(ctx, messages, domain.ChatOptions{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		// The raw model failure stays in logs; callers get a classified summary.
		o.log.Error("model invocation failed", zap.Error(err))
		return domain.ChatResult{Code: 500, Msg: "model generation failed"}
	}
	if answer == "" {
		return domain.ChatResult{Code: 500, Msg: "model returned an empty response"}
	}
	return domain.ChatResult{Code: 200, Msg: "success", Data: answer}
}

func (o *Orchestrator) applyDefaults(req *Request) {
	if req.KBName != "" && req.CollectionName == "" {
		req.CollectionName = o.kbCfg.DefaultCollection
	}
	if req.TopK <= 0 {
		req.TopK = o.kbCfg.TopK
	}
	if req.ScoreThreshold <= 0 {
		req.ScoreThreshold = o.kbCfg.ScoreThreshold
	}
	if req.Model == "" {
		req.Model = o.modelCfg.DefaultLLM
	}
	if req.Temperature == 0 {
		req.Temperature = o.modelCfg.Temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = o.modelCfg.MaxTokens
	}
	if req.PromptName == "" {
		req.PromptName = prompt.TemplateDefault
	}
}

func failure(err error, msg string) domain.ChatResult {
	return domain.ChatResult{Code: CodeFor(err), Msg: msg}
}

// CodeFor maps an error to the numeric response code: 400 bad input, 404 not
// found, 403 conflict, 500 everything else.
func CodeFor(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, kb.ErrInvalidName), errors.Is(err, kb.ErrMalformedName):
		return 400
	case errors.Is(err, kb.ErrKnowledgeBaseNotFound),
		errors.Is(err, vectorstore.ErrCollectionNotFound),
		errors.Is(err, prompt.ErrUnknownTemplate),
		errors.Is(err, model.ErrModelNotFound),
		errors.Is(err, model.ErrPlatformNotFound):
		return 404
	case errors.Is(err, vectorstore.ErrCollectionExists):
		return 403
	default:
		return 500
	}
}
