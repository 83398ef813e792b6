package domain

import (
	"encoding/json"
	"testing"
)

func TestHistoryUnmarshalObjectForm(t *testing.T) {
	var h History
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hi"}`), &h); err != nil {
		t.Fatal(err)
	}
	if h.Role != RoleUser || h.Content != "hi" {
		t.Fatalf("got %+v", h)
	}
}

func TestHistoryUnmarshalPairForm(t *testing.T) {
	var h History
	if err := json.Unmarshal([]byte(`["assistant","hello there"]`), &h); err != nil {
		t.Fatal(err)
	}
	if h.Role != RoleAssistant || h.Content != "hello there" {
		t.Fatalf("got %+v", h)
	}
}

func TestHistoryUnmarshalMixedList(t *testing.T) {
	var turns []History
	payload := `[{"role":"user","content":"a"},["assistant","b"]]`
	if err := json.Unmarshal([]byte(payload), &turns); err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[0].Content != "a" || turns[1].Content != "b" {
		t.Fatalf("got %+v", turns)
	}
}

func TestHistoryUnmarshalRejectsBadForms(t *testing.T) {
	for _, payload := range []string{`["only-role"]`, `42`, `"plain"`} {
		var h History
		if err := json.Unmarshal([]byte(payload), &h); err == nil {
			t.Fatalf("payload %s must not decode", payload)
		}
	}
}

func TestHistoryMessage(t *testing.T) {
	h := History{Role: RoleUser, Content: "q"}
	m := h.Message()
	if m.Role != RoleUser || m.Content != "q" {
		t.Fatalf("got %+v", m)
	}
}
