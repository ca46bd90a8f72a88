package telemetry

import "time"

// Outcome classifies how a completion call terminated.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// FinishReason is the backend's stated reason for ending generation.
type FinishReason string

const (
	FinishNone   FinishReason = ""
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
)

// ChunkObservation is one decoded unit from the backend's stream.
// Produced by the stream consumer for every chunk, consumed exactly
// once by the accumulator.
type ChunkObservation struct {
	SequenceIndex    int
	DeltaText        string
	EmitsUsage       bool
	PromptTokens     int64
	CompletionTokens int64
	FinishReason     FinishReason
}

// CompletionSpanRecord is the finalized telemetry unit for one
// completion call. It is sealed exactly once by the accumulator and
// must not be mutated afterwards. Token pointers stay nil when the
// backend never reported usage, which is distinct from reporting zero.
type CompletionSpanRecord struct {
	RequestID    string
	Model        string
	Temperature  float32
	TopP         float32
	PromptText   string
	ResponseText string

	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration

	PromptTokens     *int64
	CompletionTokens *int64
	TotalTokens      *int64
	FinishReason     FinishReason

	Outcome     Outcome
	ErrorDetail string
}
