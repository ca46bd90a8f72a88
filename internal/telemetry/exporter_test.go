package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func attrValue(t *testing.T, attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	t.Helper()
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func int64Ptr(v int64) *int64 { return &v }

func TestOTelExporter_MapsSealedRecordToSpan(t *testing.T) {
	spans := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	exp, err := NewOTelExporter(tp.Tracer("test"), mp.Meter("test"))
	require.NoError(t, err)

	start := time.Now().Add(-time.Second)
	end := time.Now()
	exp.Submit(CompletionSpanRecord{
		RequestID:        "req-42",
		Model:            "gpt-3.5-turbo",
		Temperature:      2.0,
		TopP:             1.0,
		PromptText:       "hello?",
		ResponseText:     "Hello",
		StartedAt:        start,
		EndedAt:          end,
		Duration:         end.Sub(start),
		PromptTokens:     int64Ptr(5),
		CompletionTokens: int64Ptr(2),
		TotalTokens:      int64Ptr(7),
		FinishReason:     FinishStop,
		Outcome:          OutcomeOK,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, exp.Close(ctx))

	got := spans.GetSpans()
	require.Len(t, got, 1)
	span := got[0]
	require.Equal(t, "chat.completion", span.Name)
	require.Equal(t, codes.Ok, span.Status.Code)
	require.WithinDuration(t, start, span.StartTime, time.Millisecond)
	require.WithinDuration(t, end, span.EndTime, time.Millisecond)

	model, ok := attrValue(t, span.Attributes, "gen_ai.request.model")
	require.True(t, ok)
	require.Equal(t, "gpt-3.5-turbo", model.AsString())

	total, ok := attrValue(t, span.Attributes, "gen_ai.usage.total_tokens")
	require.True(t, ok)
	require.EqualValues(t, 7, total.AsInt64())

	resp, ok := attrValue(t, span.Attributes, "gen_ai.response.text")
	require.True(t, ok)
	require.Equal(t, "Hello", resp.AsString())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics)
}

func TestOTelExporter_ErrorOutcomeAndUnsetTokens(t *testing.T) {
	spans := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(spans))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))

	exp, err := NewOTelExporter(tp.Tracer("test"), mp.Meter("test"))
	require.NoError(t, err)

	now := time.Now()
	exp.Submit(CompletionSpanRecord{
		RequestID:   "req-43",
		Model:       "gpt-3.5-turbo",
		StartedAt:   now.Add(-time.Second),
		EndedAt:     now,
		Duration:    time.Second,
		Outcome:     OutcomeError,
		ErrorDetail: "stream inactivity timeout after 5s",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, exp.Close(ctx))

	got := spans.GetSpans()
	require.Len(t, got, 1)
	span := got[0]
	require.Equal(t, codes.Error, span.Status.Code)
	require.Contains(t, span.Status.Description, "timeout")

	_, ok := attrValue(t, span.Attributes, "gen_ai.usage.prompt_tokens")
	require.False(t, ok, "unset token fields must not be exported")
	_, ok = attrValue(t, span.Attributes, "gen_ai.usage.total_tokens")
	require.False(t, ok)
}
