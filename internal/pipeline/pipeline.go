package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/shelli-go/internal/config"
	"github.com/comigor/shelli-go/internal/conversation"
	"github.com/comigor/shelli-go/internal/llm"
	"github.com/comigor/shelli-go/internal/logger"
	"github.com/comigor/shelli-go/internal/telemetry"
)

// Pipeline composes the conversation store, the streaming backend and
// the telemetry exporter. One consumer/accumulator pair is created per
// in-flight call; the store is the only state shared across calls.
type Pipeline struct {
	store    *conversation.Store
	client   llm.Client
	exporter telemetry.Exporter
	cfg      config.LLMConfig

	mu    sync.Mutex
	model string
}

// New creates a pipeline.
func New(store *conversation.Store, client llm.Client, exporter telemetry.Exporter, cfg config.LLMConfig) *Pipeline {
	return &Pipeline{
		store:    store,
		client:   client,
		exporter: exporter,
		cfg:      cfg,
		model:    cfg.Model,
	}
}

// SubmitUserMessage appends a user turn to the session history. A
// non-empty model overrides the model used by subsequent streams.
func (p *Pipeline) SubmitUserMessage(session, text, model string) error {
	if err := p.store.Append(session, conversation.Message{Role: conversation.RoleUser, Content: text}); err != nil {
		return err
	}
	if model != "" {
		p.mu.Lock()
		p.model = model
		p.mu.Unlock()
	}
	return nil
}

// Reset replaces the session history with a fresh system message.
func (p *Pipeline) Reset(session string) error {
	return p.store.Reset(session)
}

// History returns a read-only copy of the session history.
func (p *Pipeline) History(session string) ([]conversation.Message, error) {
	return p.store.Snapshot(session)
}

// StartStream opens one streaming completion for the session and
// returns the caller's output sequence. Errors before the stream opens
// (unknown session, backend refusal) reject the call synchronously with
// no telemetry side effects. Once the stream is open every terminal
// path, including cancellation, produces exactly one sealed record.
func (p *Pipeline) StartStream(ctx context.Context, session string) (<-chan Fragment, error) {
	history, err := p.store.Snapshot(session)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	model := p.model
	p.mu.Unlock()
	params := SamplingParameters{
		Model:       model,
		Temperature: p.cfg.Temperature,
		TopP:        p.cfg.TopP,
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, completionRequest(history, params))
	if err != nil {
		return nil, &BackendTransportError{Err: err}
	}

	out := make(chan Fragment)
	go p.run(ctx, session, history, params, stream, out)
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, session string, history []conversation.Message, params SamplingParameters, stream llm.ChunkStream, out chan Fragment) {
	defer close(out)

	acc := telemetry.NewAccumulator(
		uuid.NewString(),
		params.Model, params.Temperature, params.TopP,
		promptText(history),
		time.Now(),
	)

	c := &consumer{timeout: p.cfg.InactivityTimeout}
	outcome, termErr := c.consume(ctx, stream, out, acc)

	detail := ""
	if termErr != nil {
		detail = termErr.Error()
	}
	rec, err := acc.Seal(outcome, time.Now(), detail)
	if err != nil {
		logger.L.Error("internal consistency failure sealing completion span", "error", err)
		return
	}
	p.exporter.Submit(rec)

	switch outcome {
	case telemetry.OutcomeOK:
		// History reflects only fully-assembled assistant turns.
		if err := p.store.Append(session, conversation.Message{Role: conversation.RoleAssistant, Content: rec.ResponseText}); err != nil {
			logger.L.Error("failed to append assistant message", "session", session, "error", err)
		}
	case telemetry.OutcomeError:
		select {
		case out <- Fragment{Err: termErr}:
		case <-ctx.Done():
		}
	}

	logger.L.Info("completion finished",
		"request_id", rec.RequestID,
		"session", session,
		"outcome", rec.Outcome,
		"duration", rec.Duration,
	)
}

// promptText is the most recent user turn in the snapshot.
func promptText(history []conversation.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == conversation.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

func completionRequest(history []conversation.Message, params SamplingParameters) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:         params.Model,
		Messages:      messages,
		Temperature:   params.Temperature,
		TopP:          params.TopP,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
}
