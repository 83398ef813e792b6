package model

import (
	"errors"
	"testing"

	"kbchat/internal/config"
)

func testPlatforms() []config.PlatformConfig {
	return []config.PlatformConfig{
		{
			PlatformName: "first",
			PlatformType: "openai",
			APIBaseURL:   "https://first.example/v1",
			APIKey:       "key-first",
			LLMModels: map[string]map[string]any{
				"shared-model": {},
				"chat-a":       {},
			},
		},
		{
			PlatformName: "second",
			PlatformType: "openai",
			APIBaseURL:   "https://second.example/v1",
			APIKey:       "key-second",
			EmbeddingModels: map[string]map[string]any{
				"shared-model": {"embed_size": 768},
				"embed-b":      {"embed_size": 1024},
			},
		},
	}
}

func TestResolveScansPlatformsInOrder(t *testing.T) {
	// shared-model appears on both platforms; declaration order wins, every time.
	for i := 0; i < 3; i++ {
		got, err := Resolve(testPlatforms(), "shared-model", "")
		if err != nil {
			t.Fatal(err)
		}
		if got.PlatformName != "first" {
			t.Fatalf("want platform first, got %s", got.PlatformName)
		}
	}
}

func TestResolveEmbeddingModel(t *testing.T) {
	got, err := Resolve(testPlatforms(), "embed-b", "")
	if err != nil {
		t.Fatal(err)
	}
	if got.PlatformName != "second" || got.APIKey != "key-second" {
		t.Fatalf("unexpected config: %+v", got)
	}
	if dim := got.EmbedSize(0); dim != 1024 {
		t.Fatalf("want embed size 1024, got %d", dim)
	}
}

func TestResolveScopedToPlatform(t *testing.T) {
	got, err := Resolve(testPlatforms(), "shared-model", "second")
	if err != nil {
		t.Fatal(err)
	}
	if got.PlatformName != "second" {
		t.Fatalf("want platform second, got %s", got.PlatformName)
	}
	if dim := got.EmbedSize(0); dim != 768 {
		t.Fatalf("want embed size 768, got %d", dim)
	}

	// Scoping to a known platform succeeds even for an undeclared model; the
	// endpoint decides whether it serves it.
	got, err = Resolve(testPlatforms(), "undeclared", "first")
	if err != nil {
		t.Fatal(err)
	}
	if got.ModelName != "undeclared" || got.PlatformName != "first" {
		t.Fatalf("unexpected config: %+v", got)
	}
}

func TestResolveNotFound(t *testing.T) {
	if _, err := Resolve(testPlatforms(), "nope", ""); !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("want ErrModelNotFound, got %v", err)
	}
	if _, err := Resolve(testPlatforms(), "chat-a", "third"); !errors.Is(err, ErrPlatformNotFound) {
		t.Fatalf("want ErrPlatformNotFound, got %v", err)
	}
}

func TestEmbedSizeFallback(t *testing.T) {
	cfg, err := Resolve(testPlatforms(), "chat-a", "")
	if err != nil {
		t.Fatal(err)
	}
	if dim := cfg.EmbedSize(42); dim != 42 {
		t.Fatalf("want fallback 42, got %d", dim)
	}
}
