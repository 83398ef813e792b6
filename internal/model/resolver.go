package model

import (
	"errors"
	"fmt"

	"kbchat/internal/config"
)

var (
	// ErrPlatformNotFound means no configured platform carries the requested name.
	ErrPlatformNotFound = errors.New("platform not found")
	// ErrModelNotFound means no configured platform serves the requested model.
	ErrModelNotFound = errors.New("model not found in any platform")
)

// ModelConfig is the resolved view of one model on one platform, constructed
// per request from the platform list and never persisted.
type ModelConfig struct {
	PlatformName string
	PlatformType string
	APIBaseURL   string
	APIKey       string
	ModelName    string
	Metadata     map[string]any
}

// EmbedSize returns the embedding dimensionality declared in the model
// metadata, or fallback when absent.
func (m ModelConfig) EmbedSize(fallback int) int {
	if v, ok := m.Metadata["embed_size"]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return fallback
}

// Resolve maps a model name, optionally scoped to a platform name, to a
// ModelConfig. Without a platform name the platform list is scanned in
// declaration order, checking llm, embedding and rerank models in that order,
// so a model listed under several platforms always resolves to the same one.
func Resolve(platforms []config.PlatformConfig, modelName, platformName string) (ModelConfig, error) {
	if platformName != "" {
		for _, p := range platforms {
			if p.PlatformName != platformName {
				continue
			}
			meta := map[string]any{}
			for _, models := range []map[string]map[string]any{p.LLMModels, p.EmbeddingModels, p.RerankModels} {
				if m, ok := models[modelName]; ok {
					meta = m
					break
				}
			}
			return newModelConfig(p, modelName, meta), nil
		}
		return ModelConfig{}, fmt.Errorf("%w: %s", ErrPlatformNotFound, platformName)
	}

	for _, p := range platforms {
		for _, models := range []map[string]map[string]any{p.LLMModels, p.EmbeddingModels, p.RerankModels} {
			if meta, ok := models[modelName]; ok {
				return newModelConfig(p, modelName, meta), nil
			}
		}
	}
	return ModelConfig{}, fmt.Errorf("%w: %s", ErrModelNotFound, modelName)
}

func newModelConfig(p config.PlatformConfig, modelName string, meta map[string]any) ModelConfig {
	if meta == nil {
		meta = map[string]any{}
	}
	return ModelConfig{
		PlatformName: p.PlatformName,
		PlatformType: p.PlatformType,
		APIBaseURL:   p.APIBaseURL,
		APIKey:       p.ResolvedAPIKey(),
		ModelName:    modelName,
		Metadata:     meta,
	}
}
