package observability

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Providers owns the SDK meter and tracer providers for the process.
// Metrics are collected on demand through Snapshot; spans go to the
// configured exporter, if any.
type Providers struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider

	reader *sdkmetric.ManualReader
}

type providerConfig struct {
	spanExporter sdktrace.SpanExporter
}

// ProviderOption configures NewProviders.
type ProviderOption func(*providerConfig)

// WithSpanExporter batches finished spans to exp.
func WithSpanExporter(exp sdktrace.SpanExporter) ProviderOption {
	return func(c *providerConfig) {
		c.spanExporter = exp
	}
}

// NewProviders creates SDK providers tagged with serviceName.
func NewProviders(serviceName string, opts ...ProviderOption) *Providers {
	var cfg providerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	reader := sdkmetric.NewManualReader()

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(cfg.spanExporter))
	}

	return &Providers{
		MeterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)),
		TracerProvider: sdktrace.NewTracerProvider(traceOpts...),
		reader:         reader,
	}
}

// Snapshot collects the current value of every metric.
func (p *Providers) Snapshot(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("observability: collect metrics: %w", err)
	}
	return Points(rm), nil
}

// Shutdown flushes pending spans and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(
		p.TracerProvider.Shutdown(ctx),
		p.MeterProvider.Shutdown(ctx),
	)
}

// Point is one metric data point in a flat, JSON-friendly shape.
// Sums and gauges set Value; histograms set Count and Sum.
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
	Count      uint64            `json:"count,omitempty"`
	Sum        float64           `json:"sum,omitempty"`
}

// Points flattens collected metrics, ordered by name and attributes.
func Points(rm metricdata.ResourceMetrics) []Point {
	var out []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Gauge[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Count: dp.Count, Sum: float64(dp.Sum)})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Count: dp.Count, Sum: dp.Sum})
				}
			}
		}
	}
	slices.SortFunc(out, func(a, b Point) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(fmt.Sprint(a.Attributes), fmt.Sprint(b.Attributes)))
	})
	return out
}

// Find returns the first point with the given name whose attributes include attrs.
func Find(points []Point, name string, attrs map[string]string) (Point, bool) {
	for _, p := range points {
		if p.Name != name {
			continue
		}
		match := true
		for k, v := range attrs {
			if p.Attributes[k] != v {
				match = false
				break
			}
		}
		if match {
			return p, true
		}
	}
	return Point{}, false
}

func attrMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
