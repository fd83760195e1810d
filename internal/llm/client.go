package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// ChatClient is the minimal surface the gateway needs from a chat backend.
// It mirrors the two go-openai calls used throughout the codebase so any
// OpenAI-compatible or local backend can be adapted.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error)
}

// ChatStream yields streamed completion deltas. *openai.ChatCompletionStream
// satisfies it directly.
type ChatStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// ModelLister is an optional capability for backends that can enumerate
// models. Callers detect it with a type assertion.
type ModelLister interface {
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// OpenAIClient adapts *openai.Client to ChatClient/ModelLister.
type OpenAIClient struct {
	Inner *openai.Client
}

func (c *OpenAIClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return c.Inner.CreateChatCompletion(ctx, req)
}

func (c *OpenAIClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
	return c.Inner.CreateChatCompletionStream(ctx, req)
}

func (c *OpenAIClient) ListModels(ctx context.Context) (openai.ModelsList, error) {
	return c.Inner.ListModels(ctx)
}

// NewOpenAIClient builds an adapter for an OpenAI-compatible endpoint.
// baseURL may point at a local server; apiKey may be empty for unauthenticated
// local backends.
func NewOpenAIClient(baseURL, apiKey string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{Inner: openai.NewClientWithConfig(cfg)}
}
