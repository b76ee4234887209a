// Package notes holds the job handlers that turn text, files, videos and
// YouTube links into study notes through an external language model.
package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"note-queue-service/internal/entity"
)

// Generator produces notes for a body of text.
type Generator interface {
	GenerateNotes(ctx context.Context, text, title string) (*entity.NoteOutput, error)
}

type GeneratorFactory func(model string) (Generator, error)

// Registry selects a generator by provider name (AI_PROVIDER).
type Registry struct {
	mu        sync.RWMutex
	factories map[string]GeneratorFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]GeneratorFactory)}
}

func (r *Registry) Register(name string, f GeneratorFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(name, model string) (Generator, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(model)
}

const systemPrompt = `You write study notes. Reply with a single JSON object and nothing else:
{"content": "<markdown notes>", "summary": "<two or three sentences>", "quiz": [{"question": "...", "answer": "..."}]}`

// maxPromptChars keeps requests inside small context windows.
const maxPromptChars = 48_000

func userPrompt(text, title string) string {
	text = strings.TrimSpace(text)
	if len(text) > maxPromptChars {
		cut := maxPromptChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	if title == "" {
		return text
	}
	return "Title: " + title + "\n\n" + text
}

type modelNotes struct {
	Content string          `json:"content"`
	Summary string          `json:"summary"`
	Quiz    json.RawMessage `json:"quiz"`
}

// parseNotes accepts the model reply. Replies that are not the requested JSON
// are kept verbatim as content.
func parseNotes(reply, title string) (*entity.NoteOutput, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, fmt.Errorf("model returned an empty reply")
	}

	body := strings.TrimSuffix(strings.TrimPrefix(reply, "```json"), "```")
	var m modelNotes
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &m); err == nil && m.Content != "" {
		out := &entity.NoteOutput{Title: title, Content: m.Content, Summary: m.Summary}
		if len(m.Quiz) > 0 && string(m.Quiz) != "null" {
			out.Quiz = m.Quiz
		}
		return out, nil
	}

	return &entity.NoteOutput{Title: title, Content: reply, Summary: firstParagraph(reply)}, nil
}

func firstParagraph(s string) string {
	if i := strings.Index(s, "\n\n"); i > 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
