package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/comigor/shelli-go/internal/logger"
)

// Exporter accepts sealed records for eventual, best-effort delivery.
// Submit never blocks the caller beyond enqueueing and never mutates
// the record.
type Exporter interface {
	Submit(rec CompletionSpanRecord)
}

// Span attribute keys, following the gen_ai semantic convention names.
const (
	attrRequestID        = "gen_ai.request.id"
	attrModel            = "gen_ai.request.model"
	attrTemperature      = "gen_ai.request.temperature"
	attrTopP             = "gen_ai.request.top_p"
	attrPrompt           = "gen_ai.prompt"
	attrResponse         = "gen_ai.response.text"
	attrFinishReason     = "gen_ai.response.finish_reason"
	attrPromptTokens     = "gen_ai.usage.prompt_tokens"
	attrCompletionTokens = "gen_ai.usage.completion_tokens"
	attrTotalTokens      = "gen_ai.usage.total_tokens"
	attrOutcome          = "gen_ai.response.outcome"
)

// OTelExporter translates sealed records into OpenTelemetry spans and
// metrics. Records are handed to a worker goroutine over a bounded
// queue; when the queue is full the record is dropped and counted,
// keeping Submit non-blocking.
type OTelExporter struct {
	tracer trace.Tracer

	latency          metric.Float64Histogram
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter

	queue chan CompletionSpanRecord
	done  chan struct{}
}

// NewOTelExporter builds the exporter and starts its delivery worker.
func NewOTelExporter(tracer trace.Tracer, meter metric.Meter) (*OTelExporter, error) {
	latency, err := meter.Float64Histogram("completion.duration",
		metric.WithDescription("End-to-end latency of one streaming completion call"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	promptTokens, err := meter.Int64Counter("completion.prompt_tokens",
		metric.WithDescription("Prompt tokens reported by the backend"))
	if err != nil {
		return nil, err
	}
	completionTokens, err := meter.Int64Counter("completion.completion_tokens",
		metric.WithDescription("Completion tokens reported by the backend"))
	if err != nil {
		return nil, err
	}

	e := &OTelExporter{
		tracer:           tracer,
		latency:          latency,
		promptTokens:     promptTokens,
		completionTokens: completionTokens,
		queue:            make(chan CompletionSpanRecord, 256),
		done:             make(chan struct{}),
	}
	go e.run()
	return e, nil
}

// Submit enqueues a sealed record. Delivery failures never reach the
// conversational path.
func (e *OTelExporter) Submit(rec CompletionSpanRecord) {
	select {
	case e.queue <- rec:
	default:
		logger.L.Warn("telemetry queue full; dropping completion record", "request_id", rec.RequestID)
	}
}

// Close drains the queue and stops the worker.
func (e *OTelExporter) Close(ctx context.Context) error {
	close(e.queue)
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *OTelExporter) run() {
	defer close(e.done)
	for rec := range e.queue {
		e.export(rec)
	}
}

func (e *OTelExporter) export(rec CompletionSpanRecord) {
	_, span := e.tracer.Start(context.Background(), "chat.completion",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(rec.StartedAt))

	attrs := []attribute.KeyValue{
		attribute.String(attrRequestID, rec.RequestID),
		attribute.String(attrModel, rec.Model),
		attribute.Float64(attrTemperature, float64(rec.Temperature)),
		attribute.Float64(attrTopP, float64(rec.TopP)),
		attribute.String(attrPrompt, rec.PromptText),
		attribute.String(attrResponse, rec.ResponseText),
		attribute.String(attrOutcome, string(rec.Outcome)),
	}
	if rec.FinishReason != FinishNone {
		attrs = append(attrs, attribute.String(attrFinishReason, string(rec.FinishReason)))
	}
	// Token attributes are omitted entirely when the backend never
	// reported usage; an explicit zero is still recorded.
	if rec.PromptTokens != nil {
		attrs = append(attrs, attribute.Int64(attrPromptTokens, *rec.PromptTokens))
	}
	if rec.CompletionTokens != nil {
		attrs = append(attrs, attribute.Int64(attrCompletionTokens, *rec.CompletionTokens))
	}
	if rec.TotalTokens != nil {
		attrs = append(attrs, attribute.Int64(attrTotalTokens, *rec.TotalTokens))
	}
	span.SetAttributes(attrs...)

	switch rec.Outcome {
	case OutcomeError:
		span.SetStatus(codes.Error, rec.ErrorDetail)
	case OutcomeOK:
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(rec.EndedAt))

	mattrs := metric.WithAttributes(
		attribute.String(attrModel, rec.Model),
		attribute.String(attrOutcome, string(rec.Outcome)),
	)
	e.latency.Record(context.Background(), rec.Duration.Seconds(), mattrs)
	if rec.PromptTokens != nil {
		e.promptTokens.Add(context.Background(), *rec.PromptTokens, mattrs)
	}
	if rec.CompletionTokens != nil {
		e.completionTokens.Add(context.Background(), *rec.CompletionTokens, mattrs)
	}
}
