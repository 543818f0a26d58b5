package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricItemsTotal       = "photo_analyzer.items.total"
	metricAnalyzeDuration  = "photo_analyzer.analyze.duration.seconds"
	metricCacheLookups     = "photo_analyzer.cache.lookups.total"
	metricCheckpointSaves  = "photo_analyzer.checkpoint.saves.total"
	metricScaleEvents      = "photo_analyzer.concurrency.scale.total"
	metricSlotsActive      = "photo_analyzer.concurrency.slots.active"
	metricSlotsMax         = "photo_analyzer.concurrency.slots.max"
	metricResidentMemoryMB = "photo_analyzer.process.memory.mb"

	attrOutcome      = "outcome"
	attrAnalysisMode = "analysis_mode"
	attrKind         = "error_kind"
	attrResult       = "result"
	attrStatus       = "status"
	attrReason       = "reason"

	statusOK    = "ok"
	statusError = "error"
)

// analyzeBucketBoundaries covers 100ms to 10 minutes: local vision models
// range from sub-second to multi-minute per photo in multi-stage mode.
var analyzeBucketBoundaries = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600}

// SlotStats is the concurrency snapshot observed by the slot gauges.
type SlotStats struct {
	Active   int
	Max      int
	MemoryMB float64
}

// BatchMetrics holds the instruments of a batch run. All methods are safe
// to call on a nil receiver.
type BatchMetrics struct {
	items           metric.Int64Counter
	analyzeDuration metric.Float64Histogram
	cacheLookups    metric.Int64Counter
	checkpointSaves metric.Int64Counter
	scaleEvents     metric.Int64Counter

	registration metric.Registration
}

// NewBatchMetrics creates the instruments. When slots is non-nil, the
// active/max slot and memory gauges observe it on every collection.
func NewBatchMetrics(mt metric.Meter, slots func() SlotStats) (*BatchMetrics, error) {
	b := newMetricBuilder(mt)

	bm := &BatchMetrics{
		items:           b.counter(metricItemsTotal, "Items finished by outcome", "{item}"),
		analyzeDuration: b.histogram(metricAnalyzeDuration, "Analyzer call duration", "s", analyzeBucketBoundaries...),
		cacheLookups:    b.counter(metricCacheLookups, "Result cache lookups by result", "{lookup}"),
		checkpointSaves: b.counter(metricCheckpointSaves, "Checkpoint saves by status", "{save}"),
		scaleEvents:     b.counter(metricScaleEvents, "Concurrency limit reductions by reason", "{event}"),
	}

	active := b.gauge(metricSlotsActive, "Concurrency slots in use", "{slot}")
	maxSlots := b.gauge(metricSlotsMax, "Current concurrency limit", "{slot}")
	memory := b.floatGauge(metricResidentMemoryMB, "Resident memory seen by the concurrency manager", "MiBy")

	if b.err != nil {
		return nil, b.err
	}

	if slots == nil {
		return bm, nil
	}

	reg, err := mt.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		st := slots()
		obs.ObserveInt64(active, int64(st.Active))
		obs.ObserveInt64(maxSlots, int64(st.Max))
		obs.ObserveFloat64(memory, st.MemoryMB)

		return nil
	}, active, maxSlots, memory)
	if err != nil {
		return nil, fmt.Errorf("register slot gauges: %w", err)
	}

	bm.registration = reg

	return bm, nil
}

// RecordItem counts one finished item. Outcome is e.g. "analyzed",
// "cached" or "failed".
func (bm *BatchMetrics) RecordItem(ctx context.Context, outcome string) {
	if bm == nil {
		return
	}

	bm.items.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// RecordAnalyze records one analyzer call. Kind is "none" on success.
func (bm *BatchMetrics) RecordAnalyze(ctx context.Context, mode, kind string, d time.Duration) {
	if bm == nil {
		return
	}

	bm.analyzeDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String(attrAnalysisMode, mode),
		attribute.String(attrKind, kind),
	))
}

// RecordCacheLookup counts one cache lookup.
func (bm *BatchMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if bm == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	bm.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordCheckpointSave counts one checkpoint save attempt.
func (bm *BatchMetrics) RecordCheckpointSave(ctx context.Context, err error) {
	if bm == nil {
		return
	}

	status := statusOK
	if err != nil {
		status = statusError
	}

	bm.checkpointSaves.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}

// RecordScale counts one concurrency limit change.
func (bm *BatchMetrics) RecordScale(ctx context.Context, reason string) {
	if bm == nil {
		return
	}

	bm.scaleEvents.Add(ctx, 1, metric.WithAttributes(attribute.String(attrReason, reason)))
}

// Close unregisters the gauge callback.
func (bm *BatchMetrics) Close() error {
	if bm == nil || bm.registration == nil {
		return nil
	}

	err := bm.registration.Unregister()
	if err != nil {
		return fmt.Errorf("unregister slot gauges: %w", err)
	}

	return nil
}
