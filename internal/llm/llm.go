package llm

import (
	"context"

	"github.com/comigor/shelli-go/internal/config"
	"github.com/sashabaranov/go-openai"
)

// streamClient adapts *openai.Client to the Client interface.
type streamClient struct {
	api *openai.Client
}

// NewClient creates a new OpenAI-backed streaming client
func NewClient(cfg config.LLMConfig) Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	return &streamClient{api: openai.NewClientWithConfig(apiCfg)}
}

func (c *streamClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChunkStream, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
