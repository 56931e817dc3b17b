package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metric instruments for polling, vendor calls and jobs.
type Metrics struct {
	pollChecks      metric.Int64Counter
	pollDuration    metric.Float64Histogram
	pollOutcomes    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestCount    metric.Int64Counter
	artifactBytes   metric.Int64Histogram
	activeJobs      metric.Int64UpDownCounter
}

// NewMetrics creates a new Metrics instance with the given MeterProvider.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(MeterName)
	m := &Metrics{}

	// Instrument creation only fails on invalid parameters; fall back to an
	// undescribed instrument so recording never has to nil-check.
	var err error

	m.pollChecks, err = meter.Int64Counter(
		"videogen.poll.checks",
		metric.WithDescription("Number of status checks issued by poll loops"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		m.pollChecks, _ = meter.Int64Counter("videogen.poll.checks")
	}

	m.pollDuration, err = meter.Float64Histogram(
		"videogen.poll.duration",
		metric.WithDescription("Time from the first status check to the poll outcome in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.pollDuration, _ = meter.Float64Histogram("videogen.poll.duration")
	}

	m.pollOutcomes, err = meter.Int64Counter(
		"videogen.poll.outcomes",
		metric.WithDescription("Poll loops by outcome"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		m.pollOutcomes, _ = meter.Int64Counter("videogen.poll.outcomes")
	}

	m.requestDuration, err = meter.Float64Histogram(
		"videogen.http.request.duration",
		metric.WithDescription("Duration of vendor API calls in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.requestDuration, _ = meter.Float64Histogram("videogen.http.request.duration")
	}

	m.requestCount, err = meter.Int64Counter(
		"videogen.http.request.count",
		metric.WithDescription("Total number of vendor API calls"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.requestCount, _ = meter.Int64Counter("videogen.http.request.count")
	}

	m.artifactBytes, err = meter.Int64Histogram(
		"videogen.artifact.size",
		metric.WithDescription("Size of downloaded artifacts"),
		metric.WithUnit("By"),
	)
	if err != nil {
		m.artifactBytes, _ = meter.Int64Histogram("videogen.artifact.size")
	}

	m.activeJobs, err = meter.Int64UpDownCounter(
		"videogen.jobs.active",
		metric.WithDescription("Number of generation jobs currently running"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		m.activeJobs, _ = meter.Int64UpDownCounter("videogen.jobs.active")
	}

	return m
}

// RecordCheck records one status check issued by a poll loop.
func (m *Metrics) RecordCheck(ctx context.Context, strategy string) {
	m.pollChecks.Add(ctx, 1, metric.WithAttributes(StrategyAttr(strategy)))
}

// RecordPoll records the outcome of a poll loop.
func (m *Metrics) RecordPoll(ctx context.Context, strategy, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(StrategyAttr(strategy), OutcomeAttr(outcome))
	m.pollDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.pollOutcomes.Add(ctx, 1, attrs)
}

// RecordRequest records a vendor API call.
func (m *Metrics) RecordRequest(ctx context.Context, call, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(
		CallAttr(call),
		attribute.String("outcome", outcome),
	)
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.requestCount.Add(ctx, 1, attrs)
}

// RecordArtifact records the size of a downloaded artifact.
func (m *Metrics) RecordArtifact(ctx context.Context, size int) {
	m.artifactBytes.Record(ctx, int64(size))
}

// JobStarted increments the active job gauge.
func (m *Metrics) JobStarted(ctx context.Context) {
	m.activeJobs.Add(ctx, 1)
}

// JobFinished decrements the active job gauge.
func (m *Metrics) JobFinished(ctx context.Context) {
	m.activeJobs.Add(ctx, -1)
}
