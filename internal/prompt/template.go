package prompt

import (
	"errors"
	"fmt"
	"strings"

	"kbchat/internal/config"
	"kbchat/internal/domain"
)

// ErrUnknownTemplate means the requested template variant is not registered.
var ErrUnknownTemplate = errors.New("unknown prompt template")

// Placeholders recognized in template skeletons.
const (
	placeholderQuery   = "{{query}}"
	placeholderContext = "{{context}}"
	placeholderHistory = "{{history}}"
)

// Template variant names. Each variant is a prompt-text contract controlling
// how strongly the answer must be grounded in retrieved context; the engine
// itself performs no answer-quality enforcement.
const (
	TemplateDefault         = "default"
	TemplatePreGeneration   = "pre-generation"
	TemplateWeakReference   = "weak-reference"
	TemplateStrongReference = "strong-reference"
)

// builtinTemplates holds the shipped variants: pre-generation answers from
// model knowledge only, strong-reference answers exclusively from the
// provided material and declines otherwise, default and weak-reference sit
// in between.
var builtinTemplates = map[string][]domain.Message{
	TemplateDefault: {
		{Role: domain.RoleSystem, Content: "You are a document question-answering assistant."},
		{Role: domain.RoleUser, Content: "Answer the question based on the reference material below. " +
			"If the answer cannot be found there, do not make anything up; say you don't know.\n" +
			"<<Reference>>\n{{context}}\n<<Question>>\n{{query}}"},
	},
	TemplatePreGeneration: {
		{Role: domain.RoleSystem, Content: "You are a knowledgeable assistant. Answer from your own knowledge."},
		{Role: domain.RoleUser, Content: "{{query}}"},
	},
	TemplateWeakReference: {
		{Role: domain.RoleSystem, Content: "You are a helpful assistant."},
		{Role: domain.RoleUser, Content: "The following material may help answer the question. " +
			"Use it when relevant, and your own knowledge otherwise.\n" +
			"<<Reference>>\n{{context}}\n<<Question>>\n{{query}}"},
	},
	TemplateStrongReference: {
		{Role: domain.RoleSystem, Content: "You are a document question-answering assistant. " +
			"You must only use the provided reference material."},
		{Role: domain.RoleUser, Content: "Answer the question using only the reference material below. " +
			"If the material does not contain the answer, reply that you cannot answer from the available documents.\n" +
			"<<Reference>>\n{{context}}\n<<Question>>\n{{query}}"},
	},
}

// Engine renders named template variants against a query, retrieved contexts
// and conversation history.
type Engine struct {
	templates map[string][]domain.Message
}

// NewEngine builds an engine with the built-in variants, applying any config
// overrides on top (an override with a known name replaces it; a new name
// registers an additional variant).
func NewEngine(overrides map[string][]config.PromptMessage) *Engine {
	templates := make(map[string][]domain.Message, len(builtinTemplates)+len(overrides))
	for name, msgs := range builtinTemplates {
		templates[name] = msgs
	}
	for name, msgs := range overrides {
		skeleton := make([]domain.Message, len(msgs))
		for i, m := range msgs {
			skeleton[i] = domain.Message{Role: m.Role, Content: m.Content}
		}
		templates[name] = skeleton
	}
	return &Engine{templates: templates}
}

// Render substitutes the placeholders of the named variant. Contexts are
// joined into one block preserving retrieval order. History is interpolated
// at the {{history}} placeholder when the variant has one; otherwise the
// turns are inserted as messages before the final user message, preserving
// chronological order.
func (e *Engine) Render(name, query string, contexts []domain.Context, history []domain.History) ([]domain.Message, error) {
	skeleton, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	contextBlock := joinContexts(contexts)
	historyBlock := joinHistory(history)
	interpolated := false
	for _, m := range skeleton {
		if strings.Contains(m.Content, placeholderHistory) {
			interpolated = true
			break
		}
	}

	rendered := make([]domain.Message, 0, len(skeleton)+len(history))
	for i, m := range skeleton {
		if !interpolated && i == len(skeleton)-1 {
			for _, h := range history {
				rendered = append(rendered, h.Message())
			}
		}
		content := strings.ReplaceAll(m.Content, placeholderQuery, query)
		content = strings.ReplaceAll(content, placeholderContext, contextBlock)
		content = strings.ReplaceAll(content, placeholderHistory, historyBlock)
		rendered = append(rendered, domain.Message{Role: m.Role, Content: content})
	}
	return rendered, nil
}

func joinContexts(contexts []domain.Context) string {
	if len(contexts) == 0 {
		return ""
	}
	parts := make([]string, len(contexts))
	for i, c := range contexts {
		parts[i] = c.Content
	}
	return strings.Join(parts, "\n\n")
}

func joinHistory(history []domain.History) string {
	if len(history) == 0 {
		return ""
	}
	parts := make([]string, len(history))
	for i, h := range history {
		parts[i] = h.Role + ": " + h.Content
	}
	return strings.Join(parts, "\n")
}
