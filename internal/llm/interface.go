package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// ChunkStream is the minimal surface of a streaming completion response
// used by the pipeline; it is easy to mock in tests.
type ChunkStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Client opens one streaming chat completion per call.
type Client interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChunkStream, error)
}
