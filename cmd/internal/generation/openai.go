package generation

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEngine streams chat completions from an OpenAI-compatible API.
type OpenAIEngine struct {
	client *openai.Client
	cfg    Config
}

var _ Engine = (*OpenAIEngine)(nil)

// NewOpenAIEngine builds an engine from cfg. BaseURL may point at any
// compatible server.
func NewOpenAIEngine(cfg Config) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, ErrConfig
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIEngine{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}, nil
}

func (e *OpenAIEngine) request(turns []Turn) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if e.cfg.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: e.cfg.SystemPrompt})
	}
	for _, t := range turns {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		Messages:    msgs,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		Stream:      true,
	}
}

func (e *OpenAIEngine) Stream(ctx context.Context, turns []Turn) (<-chan Chunk, error) {
	stream, err := e.client.CreateChatCompletionStream(ctx, e.request(turns))
	if err != nil {
		return nil, fmt.Errorf("generation: open stream: %w", err)
	}

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				send(ctx, ch, Chunk{Err: fmt.Errorf("generation: stream: %w", err)})
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(ctx, ch, Chunk{Delta: resp.Choices[0].Delta.Content}) {
				return
			}
		}
	}()
	return ch, nil
}
