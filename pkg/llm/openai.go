package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is the generation model used when none is configured.
	DefaultModel = "gpt-4"

	// DefaultEmbeddingModel is the embedding model used when none is configured.
	DefaultEmbeddingModel = "text-embedding-ada-002"
)

// OpenAI implements Generator and Embedder against an OpenAI-compatible API.
type OpenAI struct {
	client         openai.Client
	model          string
	embeddingModel string
	baseURL        string
	maxRetries     int
}

// Option configures an OpenAI client.
type Option func(*OpenAI)

// WithModel sets the default generation model.
func WithModel(model string) Option {
	return func(o *OpenAI) {
		if model != "" {
			o.model = model
		}
	}
}

// WithEmbeddingModel sets the embedding model.
func WithEmbeddingModel(model string) Option {
	return func(o *OpenAI) {
		if model != "" {
			o.embeddingModel = model
		}
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
func WithBaseURL(baseURL string) Option {
	return func(o *OpenAI) {
		if baseURL != "" {
			o.baseURL = baseURL
		}
	}
}

// WithMaxRetries sets the client's transport-level retry count.
func WithMaxRetries(n int) Option {
	return func(o *OpenAI) {
		o.maxRetries = n
	}
}

// NewOpenAI creates a client. If apiKey is empty it is read from
// OPENAI_API_KEY; if no base URL option is given OPENAI_BASE_URL is honoured.
func NewOpenAI(apiKey string, opts ...Option) (*OpenAI, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (run 'meetmem auth set openai' or set OPENAI_API_KEY)")
	}

	o := &OpenAI{
		model:          DefaultModel,
		embeddingModel: DefaultEmbeddingModel,
		baseURL:        DefaultBaseURL,
		maxRetries:     2,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.baseURL == DefaultBaseURL {
		if env := os.Getenv("OPENAI_BASE_URL"); env != "" {
			o.baseURL = env
		}
	}

	o.client = openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(o.baseURL),
		option.WithMaxRetries(o.maxRetries),
	)
	return o, nil
}

// Complete runs a chat completion with an optional system message.
func (o *OpenAI) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if req == nil {
		return nil, errors.New("completion request is nil")
	}
	model := req.Model
	if model == "" {
		model = o.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion (%s): %w", model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion (%s): no choices returned", model)
	}

	return &CompletionResponse{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		FinishReason: resp.Choices[0].FinishReason,
		LatencyMs:    int(time.Since(start).Milliseconds()),
	}, nil
}

// Embed returns one embedding per input text, in input order.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(o.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings (%s): %w", o.embeddingModel, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings (%s): got %d vectors for %d inputs", o.embeddingModel, len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

// Model returns the embedding model name.
func (o *OpenAI) Model() string {
	return o.embeddingModel
}
