// Package llm defines the text generation and embedding collaborators and
// an OpenAI-compatible implementation of both.
package llm

import "context"

// Generator produces text from a prompt.
type Generator interface {
	// Complete sends a prompt to the model and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// Embedder maps texts to fixed-length vectors. The i-th vector belongs to
// the i-th text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// CompletionRequest represents a request to the model.
type CompletionRequest struct {
	Model       string  `json:"model"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

// CompletionResponse represents a response from the model.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	FinishReason string `json:"finish_reason"`
	LatencyMs    int    `json:"latency_ms"`
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

// Complete calls f(ctx, req).
func (f GeneratorFunc) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	return f(ctx, req)
}
