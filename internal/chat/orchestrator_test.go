package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"kbchat/internal/config"
	"kbchat/internal/domain"
	"kbchat/internal/kb"
	"kbchat/internal/model"
	"kbchat/internal/prompt"
	"kbchat/internal/vectorstore"
)

type fakeSearcher struct {
	exists    bool
	existsErr error
	contexts  []domain.Context
	searchErr error

	searched      bool
	gotCollection string
	gotTopK       int
	gotThreshold  float64
}

func (f *fakeSearcher) KnowledgeBaseExists(ctx context.Context, kbName string) (bool, error) {
	return f.exists, f.existsErr
}

func (f *fakeSearcher) Search(ctx context.Context, query, kbName, collectionName string, topK int, scoreThreshold float64) ([]domain.Context, error) {
	f.searched = true
	f.gotCollection = collectionName
	f.gotTopK = topK
	f.gotThreshold = scoreThreshold
	return f.contexts, f.searchErr
}

type fakeModel struct {
	answer  string
	err     error
	got     []domain.Message
	gotOpts domain.ChatOptions
}

func (f *fakeModel) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (string, error) {
	f.got = messages
	f.gotOpts = opts
	return f.answer, f.err
}

func factoryFor(m domain.ChatModel) ModelFactory {
	return func(string) (domain.ChatModel, error) { return m, nil }
}

func testOrchestrator(searcher Searcher, factory ModelFactory) *Orchestrator {
	return NewOrchestrator(searcher, prompt.NewEngine(nil), factory,
		config.ModelConfig{DefaultLLM: "test-llm", Temperature: 0.6, MaxTokens: 2000},
		config.KBConfig{TopK: 5, ScoreThreshold: 0.1, DefaultCollection: "default"},
		nil)
}

func TestChatGroundedSuccess(t *testing.T) {
	searcher := &fakeSearcher{exists: true, contexts: []domain.Context{{Content: "the sky is blue"}}}
	m := &fakeModel{answer: "blue"}
	o := testOrchestrator(searcher, factoryFor(m))

	result := o.Chat(context.Background(), Request{Query: "what color is the sky?", KBName: "wiki"})
	if result.Code != 200 || result.Data != "blue" {
		t.Fatalf("want 200/blue, got %+v", result)
	}
	if !searcher.searched {
		t.Fatal("search must run when kb_name is set")
	}
	var joined strings.Builder
	for _, msg := range m.got {
		joined.WriteString(msg.Content)
	}
	if !strings.Contains(joined.String(), "the sky is blue") {
		t.Fatalf("retrieved context missing from prompt: %q", joined.String())
	}
}

func TestChatWithoutKnowledgeBase(t *testing.T) {
	searcher := &fakeSearcher{}
	m := &fakeModel{answer: "hello"}
	o := testOrchestrator(searcher, factoryFor(m))

	result := o.Chat(context.Background(), Request{Query: "hi"})
	if result.Code != 200 || result.Data != "hello" {
		t.Fatalf("want ungrounded 200, got %+v", result)
	}
	if searcher.searched {
		t.Fatal("search must not run without a kb_name")
	}
}

func TestChatMissingKnowledgeBase(t *testing.T) {
	o := testOrchestrator(&fakeSearcher{exists: false}, factoryFor(&fakeModel{}))
	result := o.Chat(context.Background(), Request{Query: "q", KBName: "ghost"})
	if result.Code != 404 {
		t.Fatalf("want 404, got %+v", result)
	}
	if !strings.Contains(result.Msg, "ghost") {
		t.Fatalf("message must name the kb: %q", result.Msg)
	}
}

func TestChatSearchFailure(t *testing.T) {
	searcher := &fakeSearcher{exists: true, searchErr: fmt.Errorf("%w: wiki_0_x", vectorstore.ErrCollectionNotFound)}
	o := testOrchestrator(searcher, factoryFor(&fakeModel{}))
	result := o.Chat(context.Background(), Request{Query: "q", KBName: "wiki"})
	if result.Code != 404 {
		t.Fatalf("want 404 for missing collection, got %+v", result)
	}
}

func TestChatUnknownPromptTemplate(t *testing.T) {
	o := testOrchestrator(&fakeSearcher{}, factoryFor(&fakeModel{answer: "x"}))
	result := o.Chat(context.Background(), Request{Query: "q", PromptName: "nope"})
	if result.Code != 404 {
		t.Fatalf("want 404 for unknown template, got %+v", result)
	}
}

func TestChatUnknownModel(t *testing.T) {
	factory := func(name string) (domain.ChatModel, error) {
		return nil, fmt.Errorf("%w: %s", model.ErrModelNotFound, name)
	}
	o := testOrchestrator(&fakeSearcher{}, factory)
	result := o.Chat(context.Background(), Request{Query: "q", Model: "ghost-model"})
	if result.Code != 404 {
		t.Fatalf("want 404 for unknown model, got %+v", result)
	}
}

func TestChatModelFailure(t *testing.T) {
	m := &fakeModel{err: errors.New("boom")}
	o := testOrchestrator(&fakeSearcher{}, factoryFor(m))
	result := o.Chat(context.Background(), Request{Query: "q"})
	if result.Code != 500 || result.Msg != "model generation failed" {
		t.Fatalf("want classified 500, got %+v", result)
	}
	if strings.Contains(result.Msg, "boom") {
		t.Fatalf("raw model error must not leak: %q", result.Msg)
	}
}

func TestChatEmptyAnswer(t *testing.T) {
	o := testOrchestrator(&fakeSearcher{}, factoryFor(&fakeModel{answer: ""}))
	result := o.Chat(context.Background(), Request{Query: "q"})
	if result.Code != 500 {
		t.Fatalf("want 500 for empty answer, got %+v", result)
	}
}

func TestChatRecoverFromPanic(t *testing.T) {
	factory := func(string) (domain.ChatModel, error) { panic("wired wrong") }
	o := testOrchestrator(&fakeSearcher{}, factory)
	result := o.Chat(context.Background(), Request{Query: "q"})
	if result.Code != 500 || result.Msg != "internal error" {
		t.Fatalf("panic must become a 500 result, got %+v", result)
	}
}

func TestChatAppliesDefaults(t *testing.T) {
	searcher := &fakeSearcher{exists: true}
	m := &fakeModel{answer: "a"}
	o := testOrchestrator(searcher, factoryFor(m))

	result := o.Chat(context.Background(), Request{Query: "q", KBName: "wiki"})
	if result.Code != 200 {
		t.Fatalf("want 200, got %+v", result)
	}
	if searcher.gotCollection != "default" || searcher.gotTopK != 5 || searcher.gotThreshold != 0.1 {
		t.Fatalf("retrieval defaults not applied: %q %d %v",
			searcher.gotCollection, searcher.gotTopK, searcher.gotThreshold)
	}
	if m.gotOpts.Temperature != 0.6 || m.gotOpts.MaxTokens != 2000 {
		t.Fatalf("sampling defaults not applied: %+v", m.gotOpts)
	}
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 200},
		{"invalid name", kb.ErrInvalidName, 400},
		{"malformed name", kb.ErrMalformedName, 400},
		{"kb not found", kb.ErrKnowledgeBaseNotFound, 404},
		{"collection not found", vectorstore.ErrCollectionNotFound, 404},
		{"unknown template", prompt.ErrUnknownTemplate, 404},
		{"model not found", model.ErrModelNotFound, 404},
		{"platform not found", model.ErrPlatformNotFound, 404},
		{"collection exists", vectorstore.ErrCollectionExists, 403},
		{"anything else", errors.New("boom"), 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeFor(tt.err); got != tt.want {
				t.Fatalf("want %d, got %d", tt.want, got)
			}
		})
	}
}
