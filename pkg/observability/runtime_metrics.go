package observability

import (
	"context"
	"fmt"
	"math"
	runtimemetrics "runtime/metrics"

	"go.opentelemetry.io/otel/metric"
)

const (
	metricGoroutines = "photo_analyzer.runtime.goroutines"
	metricHeapBytes  = "photo_analyzer.runtime.heap.bytes"
	metricTotalBytes = "photo_analyzer.runtime.memory.bytes"

	sampleGoroutines = "/sched/goroutines:goroutines"
	sampleHeapBytes  = "/memory/classes/heap/objects:bytes"
	sampleTotalBytes = "/memory/classes/total:bytes"
)

// RuntimeMetrics exposes goroutine and memory figures from runtime/metrics.
// Values are read on each collection; nothing polls in the background.
type RuntimeMetrics struct {
	goroutines metric.Int64ObservableGauge
	heapBytes  metric.Int64ObservableGauge
	totalBytes metric.Int64ObservableGauge
}

// NewRuntimeMetrics registers the runtime gauges on mt.
func NewRuntimeMetrics(mt metric.Meter) (*RuntimeMetrics, error) {
	b := newMetricBuilder(mt)

	rm := &RuntimeMetrics{
		goroutines: b.gauge(metricGoroutines, "Live goroutines", "{goroutine}"),
		heapBytes:  b.gauge(metricHeapBytes, "Heap memory occupied by live and unswept objects", "By"),
		totalBytes: b.gauge(metricTotalBytes, "All memory mapped by the Go runtime", "By"),
	}

	if b.err != nil {
		return nil, b.err
	}

	_, err := mt.RegisterCallback(rm.observe, rm.goroutines, rm.heapBytes, rm.totalBytes)
	if err != nil {
		return nil, fmt.Errorf("register runtime metrics callback: %w", err)
	}

	return rm, nil
}

func (rm *RuntimeMetrics) observe(_ context.Context, obs metric.Observer) error {
	samples := []runtimemetrics.Sample{
		{Name: sampleGoroutines},
		{Name: sampleHeapBytes},
		{Name: sampleTotalBytes},
	}

	runtimemetrics.Read(samples)

	for idx := range samples {
		val, ok := sampleInt64Value(samples[idx].Value)
		if !ok {
			continue
		}

		switch samples[idx].Name {
		case sampleGoroutines:
			obs.ObserveInt64(rm.goroutines, val)
		case sampleHeapBytes:
			obs.ObserveInt64(rm.heapBytes, val)
		case sampleTotalBytes:
			obs.ObserveInt64(rm.totalBytes, val)
		}
	}

	return nil
}

// sampleInt64Value converts Uint64 and Float64 samples; other kinds are skipped.
func sampleInt64Value(val runtimemetrics.Value) (int64, bool) {
	switch val.Kind() {
	case runtimemetrics.KindUint64:
		return int64(min(val.Uint64(), uint64(math.MaxInt64))), true
	case runtimemetrics.KindFloat64:
		return int64(val.Float64()), true
	case runtimemetrics.KindBad, runtimemetrics.KindFloat64Histogram:
		return 0, false
	default:
		return 0, false
	}
}
