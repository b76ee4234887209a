package notes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseNotes(t *testing.T) {
	out, err := parseNotes("```json\n{\"content\":\"# Cells\",\"summary\":\"About cells.\",\"quiz\":[{\"question\":\"q\",\"answer\":\"a\"}]}\n```", "Biology")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.Title != "Biology" || out.Content != "# Cells" || out.Summary != "About cells." {
		t.Fatalf("unexpected notes %+v", out)
	}
	if !json.Valid(out.Quiz) {
		t.Fatalf("quiz must stay json, got %s", out.Quiz)
	}

	plain, err := parseNotes("First paragraph.\n\nSecond paragraph.", "T")
	if err != nil {
		t.Fatalf("parse plain: %v", err)
	}
	if plain.Summary != "First paragraph." || !strings.Contains(plain.Content, "Second") {
		t.Fatalf("plain reply should be kept as content, got %+v", plain)
	}

	if _, err := parseNotes("   ", "T"); err == nil {
		t.Fatalf("expected error for empty reply")
	}
}

func TestUserPrompt_TruncatesOnRuneBoundary(t *testing.T) {
	// the limit falls inside a 3-byte rune
	text := "a" + strings.Repeat("世", maxPromptChars)
	got := userPrompt(text, "")
	if !utf8.ValidString(got) {
		t.Fatalf("truncated prompt is not valid UTF-8")
	}
	if len(got) > maxPromptChars || len(got) < maxPromptChars-utf8.UTFMax {
		t.Fatalf("unexpected length %d", len(got))
	}

	short := userPrompt("  Zellatmung ist wichtig  ", "Bio")
	if short != "Title: Bio\n\nZellatmung ist wichtig" {
		t.Fatalf("unexpected prompt %q", short)
	}
}

func TestOllamaGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req ollamaChatReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stream || req.Format != "json" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaChatResp{Message: ollamaMsg{
			Role:    "assistant",
			Content: `{"content":"notes","summary":"sum"}`,
		}})
	}))
	defer srv.Close()

	g := NewOllamaGenerator(srv.URL, "test-model")
	out, err := g.GenerateNotes(context.Background(), "some text", "Title")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Content != "notes" || out.Summary != "sum" {
		t.Fatalf("unexpected notes %+v", out)
	}
}

func TestOpenRouterGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"no auth"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"content\":\"c\",\"summary\":\"s\"}"}}]}`))
	}))
	defer srv.Close()

	out, err := NewOpenRouterGenerator(srv.URL, "key", "m").GenerateNotes(context.Background(), "text", "T")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.Content != "c" || out.Summary != "s" {
		t.Fatalf("unexpected notes %+v", out)
	}

	_, err = NewOpenRouterGenerator(srv.URL, "wrong", "m").GenerateNotes(context.Background(), "text", "T")
	if err == nil || !strings.Contains(err.Error(), "no auth") {
		t.Fatalf("expected upstream error, got %v", err)
	}

	if _, err := NewOpenRouterGenerator(srv.URL, "", "m").GenerateNotes(context.Background(), "text", "T"); err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(" Ollama ", func(model string) (Generator, error) {
		return NewOllamaGenerator("", model), nil
	})

	g, err := r.Get("ollama", "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if g.(*OllamaGenerator).Model != "m1" {
		t.Fatalf("model not passed through")
	}
	if _, err := r.Get("gemini", ""); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}
