package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"kbchat/internal/chat"
	"kbchat/internal/domain"
	"kbchat/internal/kb"
)

// Response is the uniform envelope returned by every endpoint. The transport
// status is always 200; the outcome lives in Code.
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

// Server wires the knowledge base service and the chat orchestrator to HTTP
// routes. It performs JSON decoding and envelope mapping only; no auth.
type Server struct {
	kb   *kb.Service
	chat *chat.Orchestrator
	log  *zap.Logger
}

func NewServer(kbService *kb.Service, orchestrator *chat.Orchestrator, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{kb: kbService, chat: orchestrator, log: log}
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat/kb_chat", s.handleChat)
	mux.HandleFunc("POST /kb/create_kb", s.handleCreateKB)
	mux.HandleFunc("POST /kb/drop_kb", s.handleDropKB)
	mux.HandleFunc("GET /kb/list_kbs", s.handleListKBs)
	mux.HandleFunc("POST /kb/create_collection", s.handleCreateCollection)
	mux.HandleFunc("POST /kb/drop_collection", s.handleDropCollection)
	mux.HandleFunc("GET /kb/list_collection", s.handleListCollections)
	mux.HandleFunc("POST /kb/add_context", s.handleAddContext)
	mux.HandleFunc("POST /kb/search", s.handleSearch)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, Response{Code: chat.CodeFor(err), Msg: err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, Response{Code: 400, Msg: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if !s.decode(w, r, &req) {
		return
	}
	result := s.chat.Chat(r.Context(), req)
	s.writeJSON(w, Response{Code: result.Code, Msg: result.Msg, Data: result.Data})
}

func (s *Server) handleCreateKB(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KBName string `json:"kb_name"`
		KBInfo string `json:"kb_info,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.kb.CreateKnowledgeBase(r.Context(), req.KBName, req.KBInfo); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, Response{Code: 200, Msg: "knowledge base created"})
}

func (s *Server) handleDropKB(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KBName string `json:"kb_name"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.kb.DropKnowledgeBase(r.Context(), req.KBName); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, Response{Code: 200, Msg: "knowledge base dropped"})
}

func (s *Server) handleListKBs(w http.ResponseWriter, r *http.Request) {
	names, err := s.kb.ListKnowledgeBases(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, Response{Code: 200, Msg: "success", Data: names})
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KBName         string `json:"kb_name"`
		CollectionName string `json:"collection_name"`
		CollectionInfo string `json:"collection_info,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.kb.CreateCollection(r.Context(), req.KBName, req.CollectionName, req.CollectionInfo); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, Response{Code: 200, Msg: "collection created"})
}

func (s *Server) handleDropCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KBName         string `json:"kb_name"`
		CollectionName string `json:"collection_name"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.kb.DropCollection(r.Context(), req.KBName, req.CollectionName); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, Response{Code: 200, Msg: "collection dropped"})
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	kbName := r.URL.Query().Get("kb_name")
	names, err := s.kb.ListCollections(r.Context(), kbName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, Response{Code: 200, Msg: "success", Data: names})
}

func (s *Server) handleAddContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		KBName         string          `json:"kb_name"`
		CollectionName string          `json:"collection_name"`
		Context        json.RawMessage `json:"context"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	contexts, err := decodeContexts(req.Context)
	if err != nil {
		s.writeJSON(w, Response{Code: 400, Msg: err.Error()})
		return
	}
	if err := s.kb.AddContexts(r.Context(), req.KBName, req.CollectionName, contexts); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, Response{Code: 200, Msg: "context uploaded"})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query          string  `json:"query"`
		KBName         string  `json:"kb_name"`
		CollectionName string  `json:"collection_name"`
		TopK           int     `json:"top_k,omitempty"`
		ScoreThreshold float64 `json:"score_threshold,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.writeJSON(w, Response{Code: 200, Msg: "success", Data: []domain.Context{}})
		return
	}
	contexts, err := s.kb.Search(r.Context(), req.Query, req.KBName, req.CollectionName, req.TopK, req.ScoreThreshold)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, Response{Code: 200, Msg: "success", Data: contexts})
}

// decodeContexts accepts either a single context object or a list of them.
func decodeContexts(raw json.RawMessage) ([]domain.Context, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var many []domain.Context
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one domain.Context
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []domain.Context{one}, nil
}
