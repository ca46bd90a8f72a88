package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/shelli-go/internal/llm"
	"github.com/comigor/shelli-go/internal/logger"
	"github.com/comigor/shelli-go/internal/telemetry"
)

// Fragment is one caller-visible piece of the streamed response. A
// terminal stream failure is delivered as a final fragment with Err set
// before the sequence closes.
type Fragment struct {
	Text string
	Err  error
}

// SamplingParameters are supplied per call and immutable for its duration.
type SamplingParameters struct {
	Model       string
	Temperature float32
	TopP        float32
}

// ErrStreamTimeout reports a backend silent past the inactivity bound.
var ErrStreamTimeout = errors.New("stream inactivity timeout")

// BackendTransportError wraps a connection or protocol fault raised by
// the generative backend.
type BackendTransportError struct {
	Err error
}

func (e *BackendTransportError) Error() string {
	return fmt.Sprintf("backend transport fault: %v", e.Err)
}

func (e *BackendTransportError) Unwrap() error { return e.Err }

// consumer drives exactly one streaming call and classifies its
// termination. Chunks are decoded in arrival order; delta text is
// forwarded to the caller before any telemetry bookkeeping so
// caller-visible latency is never inflated by instrumentation.
type consumer struct {
	timeout time.Duration
}

type recvItem struct {
	resp openai.ChatCompletionStreamResponse
	err  error
}

// consume reads the stream until a terminal condition and reports the
// outcome plus the terminal error, if any. Withdrawn caller interest
// (ctx cancellation) stops backend reads promptly: the reader goroutine
// is released and the stream closed.
func (c *consumer) consume(ctx context.Context, stream llm.ChunkStream, out chan<- Fragment, acc *telemetry.Accumulator) (telemetry.Outcome, error) {
	recvCh := make(chan recvItem)
	readerDone := make(chan struct{})
	defer func() {
		close(readerDone)
		if cerr := stream.Close(); cerr != nil {
			logger.L.Warn("stream close error", "error", cerr)
		}
	}()

	go func() {
		for {
			resp, err := stream.Recv()
			select {
			case recvCh <- recvItem{resp: resp, err: err}:
				if err != nil {
					return
				}
			case <-readerDone:
				return
			}
		}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return telemetry.OutcomeCancelled, ctx.Err()

		case <-timer.C:
			return telemetry.OutcomeError, fmt.Errorf("%w after %s", ErrStreamTimeout, c.timeout)

		case item := <-recvCh:
			if item.err != nil {
				if errors.Is(item.err, io.EOF) {
					return telemetry.OutcomeOK, nil
				}
				if ctx.Err() != nil {
					return telemetry.OutcomeCancelled, ctx.Err()
				}
				return telemetry.OutcomeError, &BackendTransportError{Err: item.err}
			}

			obs := decodeChunk(item.resp, seq)
			seq++

			if obs.DeltaText != "" {
				select {
				case out <- Fragment{Text: obs.DeltaText}:
				case <-ctx.Done():
					return telemetry.OutcomeCancelled, ctx.Err()
				}
			}
			acc.Observe(obs)

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.timeout)
		}
	}
}

// decodeChunk maps one raw backend chunk to a ChunkObservation.
func decodeChunk(resp openai.ChatCompletionStreamResponse, seq int) telemetry.ChunkObservation {
	obs := telemetry.ChunkObservation{SequenceIndex: seq}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		obs.DeltaText = choice.Delta.Content
		switch choice.FinishReason {
		case openai.FinishReasonStop:
			obs.FinishReason = telemetry.FinishStop
		case openai.FinishReasonLength:
			obs.FinishReason = telemetry.FinishLength
		}
	}
	if resp.Usage != nil {
		obs.EmitsUsage = true
		obs.PromptTokens = int64(resp.Usage.PromptTokens)
		obs.CompletionTokens = int64(resp.Usage.CompletionTokens)
	}
	return obs
}
