package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kbchat/internal/chat"
	"kbchat/internal/config"
	"kbchat/internal/domain"
	"kbchat/internal/kb"
	"kbchat/internal/prompt"
	"kbchat/internal/vectorstore/memory"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float64, error) {
	return []float64{1, 0}, nil
}

func (stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

func (stubEmbedder) Dimension() int { return 2 }

type stubModel struct{ answer string }

func (m stubModel) Chat(context.Context, []domain.Message, domain.ChatOptions) (string, error) {
	return m.answer, nil
}

func testHandler(t *testing.T) http.Handler {
	t.Helper()
	kbCfg := config.KBConfig{
		TopK:              5,
		ScoreThreshold:    0.1,
		EmbeddingDim:      2,
		MaxContentLength:  5120,
		DefaultCollection: "default",
	}
	kbService := kb.NewService(memory.NewStore(), stubEmbedder{}, kbCfg, nil)
	orchestrator := chat.NewOrchestrator(kbService, prompt.NewEngine(nil),
		func(string) (domain.ChatModel, error) { return stubModel{answer: "generated answer"}, nil },
		config.ModelConfig{DefaultLLM: "test-llm", Temperature: 0.6, MaxTokens: 2000},
		kbCfg, nil)
	return NewServer(kbService, orchestrator, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) Response {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s %s: transport status must stay 200, got %d", method, path, rec.Code)
	}
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("%s %s: bad response body: %v", method, path, err)
	}
	return resp
}

func TestKnowledgeBaseEndpoints(t *testing.T) {
	h := testHandler(t)

	resp := do(t, h, http.MethodPost, "/kb/create_kb", `{"kb_name":"wiki"}`)
	if resp.Code != 200 {
		t.Fatalf("create: %+v", resp)
	}

	resp = do(t, h, http.MethodPost, "/kb/create_kb", `{"kb_name":"wiki"}`)
	if resp.Code != 403 {
		t.Fatalf("duplicate create must map to 403, got %+v", resp)
	}

	resp = do(t, h, http.MethodGet, "/kb/list_kbs", "")
	if resp.Code != 200 {
		t.Fatalf("list: %+v", resp)
	}
	names, _ := resp.Data.([]any)
	if len(names) != 1 || names[0] != "wiki" {
		t.Fatalf("want [wiki], got %v", resp.Data)
	}

	resp = do(t, h, http.MethodGet, "/kb/list_collection?kb_name=wiki", "")
	if resp.Code != 200 {
		t.Fatalf("list collections: %+v", resp)
	}

	resp = do(t, h, http.MethodPost, "/kb/drop_kb", `{"kb_name":"ghost"}`)
	if resp.Code != 404 {
		t.Fatalf("drop of missing kb must map to 404, got %+v", resp)
	}

	resp = do(t, h, http.MethodPost, "/kb/drop_kb", `{"kb_name":"wiki"}`)
	if resp.Code != 200 {
		t.Fatalf("drop: %+v", resp)
	}
}

func TestAddContextAndSearch(t *testing.T) {
	h := testHandler(t)
	if resp := do(t, h, http.MethodPost, "/kb/create_kb", `{"kb_name":"wiki"}`); resp.Code != 200 {
		t.Fatalf("create: %+v", resp)
	}

	// Single-object context form.
	resp := do(t, h, http.MethodPost, "/kb/add_context",
		`{"kb_name":"wiki","collection_name":"default","context":{"content":"the sky is blue"}}`)
	if resp.Code != 200 {
		t.Fatalf("add single: %+v", resp)
	}

	// List form.
	resp = do(t, h, http.MethodPost, "/kb/add_context",
		`{"kb_name":"wiki","collection_name":"default","context":[{"content":"grass is green"}]}`)
	if resp.Code != 200 {
		t.Fatalf("add list: %+v", resp)
	}

	resp = do(t, h, http.MethodPost, "/kb/search",
		`{"query":"sky","kb_name":"wiki","collection_name":"default"}`)
	if resp.Code != 200 {
		t.Fatalf("search: %+v", resp)
	}
	hits, _ := resp.Data.([]any)
	if len(hits) != 2 {
		t.Fatalf("want 2 hits, got %v", resp.Data)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	h := testHandler(t)
	resp := do(t, h, http.MethodPost, "/kb/search", `{"query":"  ","kb_name":"wiki"}`)
	if resp.Code != 200 {
		t.Fatalf("empty query must short-circuit to success, got %+v", resp)
	}
	if hits, _ := resp.Data.([]any); len(hits) != 0 {
		t.Fatalf("want empty hit list, got %v", resp.Data)
	}
}

func TestChatEndpoint(t *testing.T) {
	h := testHandler(t)
	resp := do(t, h, http.MethodPost, "/chat/kb_chat", `{"query":"hello"}`)
	if resp.Code != 200 || resp.Data != "generated answer" {
		t.Fatalf("ungrounded chat: %+v", resp)
	}

	resp = do(t, h, http.MethodPost, "/chat/kb_chat", `{"query":"q","kb_name":"ghost"}`)
	if resp.Code != 404 {
		t.Fatalf("missing kb must map to 404, got %+v", resp)
	}
}

func TestInvalidBody(t *testing.T) {
	h := testHandler(t)
	resp := do(t, h, http.MethodPost, "/kb/create_kb", `{not json`)
	if resp.Code != 400 {
		t.Fatalf("want 400 for invalid body, got %+v", resp)
	}
}
