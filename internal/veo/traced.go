package veo

import (
	"context"
	"log/slog"
	"time"

	"github.com/maauso/videogen-lro/internal/observability"
	"github.com/maauso/videogen-lro/internal/operation"
)

// Traced decorates a Client with spans, request metrics and debug logging.
type Traced struct {
	next    Client
	model   string
	tracer  *observability.Tracer
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewTraced wraps next. Nil collaborators fall back to no-op implementations.
func NewTraced(next Client, model string, tracer *observability.Tracer, metrics *observability.Metrics, logger *slog.Logger) *Traced {
	if tracer == nil {
		tracer = observability.NewNoopTracer()
	}
	if metrics == nil {
		metrics = observability.NewNoopMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Traced{next: next, model: model, tracer: tracer, metrics: metrics, logger: logger}
}

// Submit implements Client.
func (t *Traced) Submit(ctx context.Context, req Request) (operation.Handle, error) {
	ctx, span := t.tracer.StartCall(ctx, CallSubmit, observability.ModelAttr(t.model))
	defer span.End()

	start := time.Now()
	handle, err := t.next.Submit(ctx, req)
	t.finish(ctx, CallSubmit, start, err)
	t.tracer.RecordError(span, err)

	if err == nil {
		span.SetAttributes(observability.OperationAttr(handle.String()))
		observability.LoggerWithTrace(ctx, t.logger).Debug("operation submitted",
			slog.String("operation", handle.String()),
			slog.String("model", t.model),
		)
	}
	return handle, err
}

// CheckStatus implements Client.
func (t *Traced) CheckStatus(ctx context.Context, handle operation.Handle) (operation.Status, error) {
	ctx, span := t.tracer.StartCall(ctx, CallStatus, observability.OperationAttr(handle.String()))
	defer span.End()

	start := time.Now()
	status, err := t.next.CheckStatus(ctx, handle)
	t.finish(ctx, CallStatus, start, err)
	t.tracer.RecordError(span, err)
	return status, err
}

// Download implements Client.
func (t *Traced) Download(ctx context.Context, res operation.Result) (operation.Artifact, error) {
	ctx, span := t.tracer.StartCall(ctx, CallDownload, observability.OperationAttr(res.Handle.String()))
	defer span.End()

	start := time.Now()
	artifact, err := t.next.Download(ctx, res)
	t.finish(ctx, CallDownload, start, err)
	t.tracer.RecordError(span, err)

	if err == nil {
		t.metrics.RecordArtifact(ctx, len(artifact.Data))
		observability.LoggerWithTrace(ctx, t.logger).Debug("artifact downloaded",
			slog.String("operation", res.Handle.String()),
			slog.String("locator", redactURL(res.Locator)),
			slog.String("content_type", artifact.ContentType),
			slog.Int("bytes", len(artifact.Data)),
		)
	}
	return artifact, err
}

func (t *Traced) finish(ctx context.Context, call string, start time.Time, err error) {
	t.metrics.RecordRequest(context.WithoutCancel(ctx), call, string(operation.KindOf(err)), time.Since(start))
}
