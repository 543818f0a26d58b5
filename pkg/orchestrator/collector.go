package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/checkpoint"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/persist"
)

// collector is the only goroutine that touches the checkpoint while workers
// run. It buffers outcomes and folds them in every interval completions.
type collector struct {
	o          *Orchestrator
	cp         *checkpoint.Checkpoint
	projectDir string
	interval   int
	summary    *Summary

	analyzed []string
	failed   []string
	scores   map[string]json.RawMessage
}

func newCollector(o *Orchestrator, cp *checkpoint.Checkpoint, projectDir string, interval int, summary *Summary) *collector {
	return &collector{
		o:          o,
		cp:         cp,
		projectDir: projectDir,
		interval:   max(interval, 1),
		summary:    summary,
		scores:     make(map[string]json.RawMessage),
	}
}

// consume drains outcomes until the channel is closed, then flushes whatever
// is still buffered.
func (c *collector) consume(ctx context.Context, outcomes <-chan Outcome) {
	// The final flush must happen even when the batch was cancelled.
	flushCtx := context.WithoutCancel(ctx)

	for out := range outcomes {
		c.add(ctx, out)

		if len(c.analyzed)+len(c.failed) >= c.interval {
			c.flush(flushCtx)
		}
	}

	c.flush(flushCtx)
}

func (c *collector) add(ctx context.Context, out Outcome) {
	c.o.metrics.RecordItem(ctx, out.label())

	switch {
	case out.Failed():
		c.failed = append(c.failed, out.ItemID)
		c.summary.Failures = append(c.summary.Failures, out.failure())
	case out.Cached:
		c.summary.Cached++
		c.analyzed = append(c.analyzed, out.ItemID)
		c.scores[out.ItemID] = out.Result
	default:
		c.summary.Analyzed++
		c.analyzed = append(c.analyzed, out.ItemID)
		c.scores[out.ItemID] = out.Result
	}
}

// flush folds the buffer into the checkpoint and saves it, retrying once.
// A failed save is logged and the run continues; the next flush rewrites
// the whole document.
func (c *collector) flush(ctx context.Context) {
	if len(c.analyzed) == 0 && len(c.failed) == 0 {
		return
	}

	c.o.checkpoints.Update(c.cp, c.analyzed, c.scores, c.failed)

	c.analyzed = nil
	c.failed = nil
	c.scores = make(map[string]json.RawMessage)

	err := persist.Retry(persist.DefaultAttempts, persist.DefaultRetryDelay, func() error {
		return c.o.checkpoints.Save(c.cp, c.projectDir)
	})

	c.o.metrics.RecordCheckpointSave(ctx, err)

	if err != nil {
		c.o.logger.WarnContext(ctx, "checkpoint save skipped", "error", err)

		return
	}

	c.o.logger.DebugContext(ctx, "checkpoint saved",
		"done", c.cp.Progress.PhotosCount, "failed", len(c.cp.Progress.FailedItems))
}
