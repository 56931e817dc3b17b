package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

func TestNoopMetrics(t *testing.T) {
	m := NewNoopMetrics()
	ctx := context.Background()

	// Recording must not panic on no-op instruments.
	m.RecordCheck(ctx, "reschedule")
	m.RecordPoll(ctx, "stream", "timeout", 50*time.Millisecond)
	m.RecordRequest(ctx, "status", "success", 5*time.Millisecond)
	m.RecordArtifact(ctx, 3)
	m.JobStarted(ctx)
	m.JobFinished(ctx)
}

func TestNewMetrics_WithProvider(t *testing.T) {
	m := NewMetrics(noop.NewMeterProvider())
	if m.pollChecks == nil || m.pollDuration == nil || m.pollOutcomes == nil {
		t.Fatal("expected poll instruments to be initialized")
	}
	if m.requestDuration == nil || m.requestCount == nil {
		t.Fatal("expected request instruments to be initialized")
	}
	if m.artifactBytes == nil || m.activeJobs == nil {
		t.Fatal("expected artifact and job instruments to be initialized")
	}
}

func TestNoopTracer(t *testing.T) {
	tracer := NewNoopTracer()
	ctx := context.Background()

	ctx, span := tracer.StartPoll(ctx, "op-1", "blocking")
	tracer.RecordError(span, errors.New("boom"))
	span.End()

	_, span = tracer.StartCall(ctx, "status", OperationAttr("op-1"))
	tracer.RecordError(span, nil)
	span.End()
}

func TestLoggerWithTrace_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	got := LoggerWithTrace(context.Background(), logger)
	if got != logger {
		t.Error("expected the same logger when no span is present")
	}
}

func TestLoggerWithTrace_WithSpanContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	LoggerWithTrace(ctx, logger).Info("hello")
	if !strings.Contains(buf.String(), LogFieldTraceID+"=") {
		t.Errorf("expected trace id in log output, got %q", buf.String())
	}
}
