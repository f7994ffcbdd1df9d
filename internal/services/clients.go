package services

import (
	"context"

	"careline/internal/llm"
)

// ChatClient is the completion surface the pipeline stages depend on.
// *llm.Client satisfies it; tests substitute fakes.
type ChatClient interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// EmbedClient is the embedding surface used by the retriever and the
// knowledge admin endpoint.
type EmbedClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
