package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"careline/internal/llm"
	"careline/internal/models"
)

// fakeChat scripts completion responses. Respond inspects the request and
// returns the canned answer; when nil, the fixed Response/Err pair is used.
type fakeChat struct {
	mu       sync.Mutex
	Response string
	Err      error
	Respond  func(req llm.CompletionRequest) (string, error)
	Requests []llm.CompletionRequest
}

func (f *fakeChat) Complete(_ context.Context, req llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, req)
	f.mu.Unlock()
	if f.Respond != nil {
		return f.Respond(req)
	}
	return f.Response, f.Err
}

// lastSystemPrompt returns the system content of the most recent call.
func (f *fakeChat) lastSystemPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Requests) == 0 {
		return ""
	}
	msgs := f.Requests[len(f.Requests)-1].Messages
	if len(msgs) == 0 {
		return ""
	}
	return msgs[0].Content
}

// userContent extracts the user message of a scripted request.
func userContent(req llm.CompletionRequest) string {
	for _, m := range req.Messages {
		if m.Role == "user" {
			return m.Content
		}
	}
	return ""
}

// isAnalyzerCall distinguishes the structured analysis call from drafting.
func isAnalyzerCall(req llm.CompletionRequest) bool {
	return req.JSONSchema != nil
}

// shaperDraft pulls the draft text out of a shaper user prompt.
func shaperDraft(user string) string {
	if idx := strings.Index(user, "草稿：\n"); idx >= 0 {
		return user[idx+len("草稿：\n"):]
	}
	return user
}

// fakeEmbedder returns a fixed unit vector for any text.
type fakeEmbedder struct {
	Vector []float32
	Err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.Vector, f.Err
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.Vector
	}
	return out, nil
}

// fakeSearcher returns canned search results and records the requested k.
type fakeSearcher struct {
	Results []models.SearchResult
	Err     error
	LastK   int
	Calls   int
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, k int, _ models.SearchFilters) ([]models.SearchResult, error) {
	f.Calls++
	f.LastK = k
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Results, nil
}

// analysisJSON renders a bundle the way the analyzer's LLM would.
func analysisJSON(intent, risk string, stageNeeded int, needRAG bool, hint string) string {
	return fmt.Sprintf(
		`{"intent":%q,"emotional_state":"neutral","risk_level":%q,"care_stage_needed":%d,"need_rag":%t,"retrieval_hint":%q}`,
		intent, risk, stageNeeded, needRAG, hint)
}

// containsAll reports whether text carries every fragment.
func containsAll(text string, fragments ...string) bool {
	for _, f := range fragments {
		if !strings.Contains(text, f) {
			return false
		}
	}
	return true
}
