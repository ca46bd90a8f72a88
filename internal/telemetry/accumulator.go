package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/qmuntal/stateless" // FSM library
)

// Accumulator states
type AccState stateless.State

var (
	StateOpen   AccState = "Open"
	StateSealed AccState = "Sealed"
)

// Accumulator triggers
type AccTrigger stateless.Trigger

var TriggerSeal AccTrigger = "Seal"

// Accumulator owns the telemetry record for a single completion call.
// It collects request parameters up front, accumulates per-chunk
// observations while the stream advances, and finalizes the record
// exactly once. The seal-once invariant is enforced by a two-state FSM:
// Sealed permits no further triggers, so a second Seal surfaces as an
// error instead of being silently ignored.
//
// An Accumulator is exclusively owned by the call that created it and
// needs no locking. Observe performs no I/O and never blocks.
type Accumulator struct {
	fsm  *stateless.StateMachine
	rec  CompletionSpanRecord
	text strings.Builder
}

// NewAccumulator opens the record for one completion call.
func NewAccumulator(requestID, model string, temperature, topP float32, promptText string, startedAt time.Time) *Accumulator {
	fsm := stateless.NewStateMachine(StateOpen)
	fsm.Configure(StateOpen).Permit(TriggerSeal, StateSealed)

	return &Accumulator{
		fsm: fsm,
		rec: CompletionSpanRecord{
			RequestID:   requestID,
			Model:       model,
			Temperature: temperature,
			TopP:        topP,
			PromptText:  promptText,
			StartedAt:   startedAt,
		},
	}
}

// Observe records one chunk in arrival order. Delta text is appended to
// the running response; usage counters are last-write-wins, so a later
// usage-bearing chunk overwrites an earlier one.
func (a *Accumulator) Observe(c ChunkObservation) {
	a.text.WriteString(c.DeltaText)
	if c.EmitsUsage {
		pt, ct := c.PromptTokens, c.CompletionTokens
		a.rec.PromptTokens = &pt
		a.rec.CompletionTokens = &ct
	}
	if c.FinishReason != FinishNone {
		a.rec.FinishReason = c.FinishReason
	}
}

// Seal finalizes the record: duration math, token totals, outcome
// tagging. The record is returned by value and the accumulator drops
// its own copy, so the caller holds the only reference. A second Seal
// returns an error; the state machine permits exactly one transition.
func (a *Accumulator) Seal(outcome Outcome, endedAt time.Time, errorDetail string) (CompletionSpanRecord, error) {
	if err := a.fsm.Fire(TriggerSeal); err != nil {
		return CompletionSpanRecord{}, fmt.Errorf("completion span sealed twice: %w", err)
	}

	rec := a.rec
	rec.ResponseText = a.text.String()
	rec.EndedAt = endedAt
	rec.Duration = endedAt.Sub(rec.StartedAt)
	rec.Outcome = outcome
	rec.ErrorDetail = errorDetail
	if rec.PromptTokens != nil && rec.CompletionTokens != nil {
		total := *rec.PromptTokens + *rec.CompletionTokens
		rec.TotalTokens = &total
	}

	a.rec = CompletionSpanRecord{}
	a.text.Reset()
	return rec, nil
}

// Sealed reports whether the accumulator already finalized its record.
func (a *Accumulator) Sealed() bool {
	return a.fsm.MustState() == StateSealed
}
