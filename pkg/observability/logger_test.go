package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/observability"
)

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	return record
}

func TestTracingHandler_InjectsTraceAndRun(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(observability.NewTracingHandler(inner, "svc", "test", observability.ModeCLI))

	traceID, err := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("0102030405060708")
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	ctx = observability.WithRunID(ctx, "run-42")

	logger.InfoContext(ctx, "item analyzed", "item", "a.jpg")

	record := decodeRecord(t, &buf)
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", record["trace_id"])
	assert.Equal(t, "0102030405060708", record["span_id"])
	assert.Equal(t, "run-42", record["run_id"])
	assert.Equal(t, "svc", record["service"])
	assert.Equal(t, "test", record["env"])
	assert.Equal(t, "cli", record["mode"])
	assert.Equal(t, "a.jpg", record["item"])
}

func TestTracingHandler_PlainContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(observability.NewTracingHandler(inner, "svc", "", observability.ModeBatch))

	logger.InfoContext(context.Background(), "no context")

	record := decodeRecord(t, &buf)
	assert.NotContains(t, record, "trace_id")
	assert.NotContains(t, record, "run_id")
	assert.NotContains(t, record, "env")
	assert.Equal(t, "batch", record["mode"])
}

func TestTracingHandler_GroupKeepsServiceAtTop(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	inner := slog.NewJSONHandler(&buf, nil)
	logger := slog.New(observability.NewTracingHandler(inner, "svc", "", observability.ModeCLI)).
		WithGroup("cache").With("dir", ".cache")

	logger.Info("cleared")

	record := decodeRecord(t, &buf)
	assert.Equal(t, "svc", record["service"])

	group, ok := record["cache"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, ".cache", group["dir"])
}

func TestRunIDFromContext(t *testing.T) {
	t.Parallel()

	_, ok := observability.RunIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = observability.RunIDFromContext(observability.WithRunID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := observability.RunIDFromContext(observability.WithRunID(context.Background(), "r"))
	assert.True(t, ok)
	assert.Equal(t, "r", id)
}
