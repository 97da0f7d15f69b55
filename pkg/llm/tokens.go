package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts prompt tokens for a model.
type TokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the encoding for model, falling back to cl100k_base.
// When no encoding can be loaded (for example, offline with an empty cache)
// the counter estimates four characters per token.
func NewTokenCounter(model string) *TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// Count returns the number of tokens in text. A nil counter estimates.
func (c *TokenCounter) Count(text string) int {
	if c == nil || c.enc == nil {
		return EstimateTokens(text)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// Exact reports whether counts come from a real tokenizer.
func (c *TokenCounter) Exact() bool {
	return c != nil && c.enc != nil
}

// EstimateTokens approximates the token count of text at four bytes per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
