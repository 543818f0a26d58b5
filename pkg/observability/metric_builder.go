package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// metricBuilder creates instruments on one meter and keeps the first
// failure, so a constructor checks err once after building all of them.
type metricBuilder struct {
	meter metric.Meter
	err   error
}

func newMetricBuilder(mt metric.Meter) *metricBuilder {
	return &metricBuilder{meter: mt}
}

func create[T any](b *metricBuilder, name string, fn func() (T, error)) T {
	inst, err := fn()
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("create %s: %w", name, err)
	}

	return inst
}

func (b *metricBuilder) counter(name, desc, unit string) metric.Int64Counter {
	return create(b, name, func() (metric.Int64Counter, error) {
		return b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	})
}

// histogram uses explicit bucket bounds, in seconds for durations.
func (b *metricBuilder) histogram(name, desc, unit string, bounds ...float64) metric.Float64Histogram {
	return create(b, name, func() (metric.Float64Histogram, error) {
		return b.meter.Float64Histogram(name,
			metric.WithDescription(desc), metric.WithUnit(unit), metric.WithExplicitBucketBoundaries(bounds...))
	})
}

func (b *metricBuilder) gauge(name, desc, unit string) metric.Int64ObservableGauge {
	return create(b, name, func() (metric.Int64ObservableGauge, error) {
		return b.meter.Int64ObservableGauge(name, metric.WithDescription(desc), metric.WithUnit(unit))
	})
}

func (b *metricBuilder) floatGauge(name, desc, unit string) metric.Float64ObservableGauge {
	return create(b, name, func() (metric.Float64ObservableGauge, error) {
		return b.meter.Float64ObservableGauge(name, metric.WithDescription(desc), metric.WithUnit(unit))
	})
}
