package domain

import (
	"encoding/json"
	"fmt"
)

// Chat roles used in messages and history turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContextMetadata carries the provenance of a chunk. All fields are optional;
// ingestion fills in whatever it knows.
type ContextMetadata struct {
	SeriesName string `json:"series_name,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	Title      string `json:"title,omitempty"`
	StartPage  int    `json:"start_page,omitempty"`
	EndPage    int    `json:"end_page,omitempty"`
}

// Context is one retrievable chunk of text plus provenance. ID and Distance
// are populated on search results and empty on ingestion input. Distance is
// the cosine similarity reported by the backend; higher means closer.
type Context struct {
	ID       string          `json:"id,omitempty"`
	Distance float64         `json:"distance,omitempty"`
	Metadata ContextMetadata `json:"metadata"`
	Content  string          `json:"content"`
}

// Message is a single chat-completion message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is one prior conversation turn. It decodes from either an object
// form {"role": ..., "content": ...} or a two-element array [role, content].
type History struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnmarshalJSON accepts both history wire forms.
func (h *History) UnmarshalJSON(data []byte) error {
	type plain History
	var obj plain
	if err := json.Unmarshal(data, &obj); err == nil && (obj.Role != "" || obj.Content != "") {
		h.Role = obj.Role
		h.Content = obj.Content
		return nil
	}
	var pair []string
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) < 2 {
			return fmt.Errorf("history pair needs role and content, got %d elements", len(pair))
		}
		h.Role = pair[0]
		h.Content = pair[1]
		return nil
	}
	return fmt.Errorf("history must be an object or a [role, content] pair")
}

// Message converts a history turn to a chat message.
func (h History) Message() Message {
	return Message{Role: h.Role, Content: h.Content}
}

// ChatResult is the orchestrator's response envelope. Code 200 means Data
// holds the model answer; any other code carries a failure summary in Msg.
type ChatResult struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data string `json:"data,omitempty"`
}
