// Package orchestrator runs one batch: it resumes from a checkpoint when it
// can, analyzes the pending items under the concurrency manager, caches each
// result and folds it into the checkpoint from a single writer goroutine.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/analyzer"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/cache"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/checkpoint"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/concurrency"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/observability"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/results"
)

const tracerName = "photo-analyzer/orchestrator"

// Run defaults.
const (
	DefaultBaseTimeout        = 60 * time.Second
	DefaultCheckpointInterval = 10
)

// ErrNoAnalyzer is returned by New when Deps.Analyzer is nil.
var ErrNoAnalyzer = errors.New("orchestrator requires an analyzer")

// Item is one unit of work. ID must be unique within a batch; it is the key
// of the checkpoint and results documents.
type Item struct {
	ID   string
	Path string
}

// Options configures one Run.
type Options struct {
	ProjectDir    string
	ItemDirectory string

	// Config is the rubric. Together with Prompt and Mode it is hashed into
	// the checkpoint and cache keys (see Fingerprint) and, unless Rubric is
	// set, marshaled into every analyzer request.
	Config any
	Rubric json.RawMessage

	Prompt string
	Mode   analyzer.Mode

	// BaseTimeout bounds one analyzer call; ModeMulti multiplies it.
	BaseTimeout time.Duration

	// CheckpointInterval is the number of completed items per checkpoint save.
	CheckpointInterval int

	// Parallel caps the worker goroutines. Zero uses the concurrency
	// manager's current limit.
	Parallel int

	MismatchPolicy MismatchPolicy

	// ScoreField is the gjson path of the overall score, for statistics.
	ScoreField string

	// NoCache skips cache lookups and stores.
	NoCache bool
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = analyzer.ModeSingle
	}

	if o.BaseTimeout <= 0 {
		o.BaseTimeout = DefaultBaseTimeout
	}

	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = DefaultCheckpointInterval
	}

	if o.ScoreField == "" {
		o.ScoreField = results.DefaultScoreField
	}

	return o
}

// Fingerprint is the value hashed into the config hash: everything that
// changes what the analyzer returns for a photo. Cache keys and checkpoint
// validation both derive from it.
func (o Options) Fingerprint() any {
	return fingerprint{Rubric: o.Config, Prompt: o.Prompt, Mode: o.withDefaults().Mode}
}

type fingerprint struct {
	Rubric any           `json:"rubric"`
	Prompt string        `json:"prompt"`
	Mode   analyzer.Mode `json:"mode"`
}

// Summary describes a finished (or interrupted) run.
type Summary struct {
	RunID       string
	Total       int
	Analyzed    int
	Cached      int
	Resumed     int
	Failures    []results.Failure
	Duration    time.Duration
	ResultsPath string
	Concurrency concurrency.Stats
}

// Failed returns the number of failed items.
func (s *Summary) Failed() int {
	return len(s.Failures)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Analyzer    analyzer.Analyzer
	Concurrency *concurrency.Manager
	Checkpoints *checkpoint.Manager

	// Cache nil disables caching.
	Cache *cache.Manager

	Metrics *observability.BatchMetrics
	Tracer  trace.Tracer
	Logger  *slog.Logger
}

// Orchestrator runs batches. Runs against the same project directory must
// not overlap.
type Orchestrator struct {
	analyzer    analyzer.Analyzer
	concurrency *concurrency.Manager
	checkpoints *checkpoint.Manager
	cache       *cache.Manager
	metrics     *observability.BatchMetrics
	tracer      trace.Tracer
	logger      *slog.Logger
}

// New validates deps and fills defaults: a single-slot concurrency manager,
// a default checkpoint manager and the global tracer.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Analyzer == nil {
		return nil, ErrNoAnalyzer
	}

	o := &Orchestrator{
		analyzer:    deps.Analyzer,
		concurrency: deps.Concurrency,
		checkpoints: deps.Checkpoints,
		cache:       deps.Cache,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
		logger:      deps.Logger,
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}

	if o.concurrency == nil {
		o.concurrency = concurrency.NewManager(concurrency.Options{Logger: o.logger})
	}

	if o.checkpoints == nil {
		o.checkpoints = checkpoint.NewManager(checkpoint.WithLogger(o.logger))
	}

	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	return o, nil
}

// batch carries the state shared by the workers of one Run call.
type batch struct {
	opts       Options
	configHash string
	rubric     json.RawMessage
	modelID    string
}

// Run processes items. Per-item failures are reported in the summary and
// never abort the batch. When ctx is cancelled, completed items are flushed
// to the checkpoint and ctx's error is returned with a partial summary.
func (o *Orchestrator) Run(ctx context.Context, items []Item, opts Options) (*Summary, error) {
	started := time.Now()
	opts = opts.withDefaults()

	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)

	ctx, span := o.tracer.Start(ctx, "photo_analyzer.batch",
		trace.WithAttributes(
			attribute.String("batch.run_id", runID),
			attribute.Int("batch.items", len(items)),
			attribute.String("batch.mode", string(opts.Mode)),
		))
	defer span.End()

	summary, err := o.run(ctx, runID, dedupe(items), opts)
	if summary != nil {
		summary.Duration = time.Since(started)
		summary.Concurrency = o.concurrency.Stats()

		span.SetAttributes(
			attribute.Int("batch.analyzed", summary.Analyzed),
			attribute.Int("batch.cached", summary.Cached),
			attribute.Int("batch.failed", summary.Failed()),
		)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return summary, err
}

func (o *Orchestrator) run(ctx context.Context, runID string, items []Item, opts Options) (*Summary, error) {
	configHash, err := checkpoint.ComputeConfigHash(opts.Fingerprint())
	if err != nil {
		return nil, err
	}

	rubric := opts.Rubric
	if rubric == nil {
		rubric, err = json.Marshal(opts.Config)
		if err != nil {
			return nil, fmt.Errorf("marshal rubric: %w", err)
		}
	}

	cp, resumed, err := o.resume(ctx, items, opts)
	if err != nil {
		return nil, err
	}

	done := cp.AnalyzedSet()
	pending := make([]Item, 0, len(items))

	for _, item := range items {
		if !done[item.ID] {
			pending = append(pending, item)
		}
	}

	summary := &Summary{
		RunID:   runID,
		Total:   len(items),
		Resumed: len(items) - len(pending),
	}

	o.logger.InfoContext(ctx, "batch started",
		"items", len(items), "pending", len(pending), "resumed", resumed,
		"mode", opts.Mode, "model", o.analyzer.ModelID())

	state := &batch{
		opts:       opts,
		configHash: configHash,
		rubric:     rubric,
		modelID:    o.analyzer.ModelID(),
	}

	col := newCollector(o, cp, opts.ProjectDir, opts.CheckpointInterval, summary)
	runErr := o.dispatch(ctx, state, pending, col)

	if runErr != nil {
		o.logger.WarnContext(ctx, "batch interrupted, checkpoint kept",
			"done", len(cp.Progress.AnalyzedItems), "total", len(items), "error", runErr)

		return summary, runErr
	}

	err = o.finish(ctx, state, cp, summary)
	if err != nil {
		return summary, err
	}

	o.logger.InfoContext(ctx, "batch finished",
		"analyzed", summary.Analyzed, "cached", summary.Cached,
		"resumed", summary.Resumed, "failed", summary.Failed())

	return summary, nil
}

// resume loads and validates an existing checkpoint, or initializes a new
// one. The returned bool reports whether an existing checkpoint was resumed.
func (o *Orchestrator) resume(ctx context.Context, items []Item, opts Options) (*checkpoint.Checkpoint, bool, error) {
	cp := o.checkpoints.Load(opts.ProjectDir)
	if cp != nil {
		res := o.checkpoints.Validate(cp, opts.Fingerprint())
		if res.Valid {
			o.checkpoints.MarkResumed(cp)

			return cp, true, nil
		}

		if opts.MismatchPolicy == MismatchAbort {
			return nil, false, newRejectedCheckpointError(res)
		}

		o.logger.WarnContext(ctx, "discarding checkpoint, starting over", "reason", res.Reason)

		err := o.checkpoints.Delete(opts.ProjectDir)
		if err != nil {
			return nil, false, err
		}
	}

	cp, err := o.checkpoints.Initialize(checkpoint.InitParams{
		ProjectDir:         opts.ProjectDir,
		Config:             opts.Fingerprint(),
		AnalysisPrompt:     promptPayload(opts.Prompt),
		TotalItems:         len(items),
		ParallelSetting:    opts.Parallel,
		CheckpointInterval: opts.CheckpointInterval,
		ItemDirectory:      opts.ItemDirectory,
	})
	if err != nil {
		return nil, false, err
	}

	return cp, false, nil
}

// dispatch fans pending items out to workers and blocks until every started
// worker and the collector are done.
func (o *Orchestrator) dispatch(ctx context.Context, state *batch, pending []Item, col *collector) error {
	outcomes := make(chan Outcome)
	collected := make(chan struct{})

	go func() {
		defer close(collected)
		col.consume(ctx, outcomes)
	}()

	limit := state.opts.Parallel
	if limit <= 0 {
		limit = o.concurrency.Stats().Max
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))

	for _, item := range pending {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			out, err := o.process(gctx, state, item)
			if err != nil {
				return err
			}

			outcomes <- out

			return nil
		})
	}

	err := g.Wait()

	close(outcomes)
	<-collected

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	return err
}

// process runs one item through cache, slot, analyzer and cache store. The
// error return is reserved for cancellation of the batch; item failures are
// carried in the Outcome.
func (o *Orchestrator) process(ctx context.Context, state *batch, item Item) (Outcome, error) {
	ctx, span := o.tracer.Start(ctx, "photo_analyzer.item",
		trace.WithAttributes(attribute.String("item.id", item.ID)))
	defer span.End()

	key, err := o.cacheKey(state, item)
	if err != nil {
		return failedOutcome(item, fmt.Errorf("%w: %w", analyzer.ErrInvalidInput, err)), nil
	}

	if entry, ok := o.lookup(ctx, state, item, key); ok {
		span.SetAttributes(attribute.Bool("item.cached", true))

		return Outcome{ItemID: item.ID, Result: entry.Result, Cached: true}, nil
	}

	slot, err := o.concurrency.Acquire(ctx)
	if err != nil {
		return Outcome{}, err
	}

	result, elapsed, callErr := o.analyze(ctx, state, item)

	o.concurrency.ReportLatency(slot, elapsed)
	o.concurrency.Release(slot)

	if callErr != nil && ctx.Err() != nil {
		return Outcome{}, ctx.Err()
	}

	out := Outcome{ItemID: item.ID, Result: result, Err: callErr, Kind: analyzer.Classify(callErr), Duration: elapsed}
	o.metrics.RecordAnalyze(ctx, string(state.opts.Mode), out.Kind.String(), elapsed)

	if out.Failed() {
		span.RecordError(callErr)
		span.SetStatus(codes.Error, out.Kind.String())
		o.logger.WarnContext(ctx, "item failed", "item", item.ID, "kind", out.Kind, "error", callErr)

		return out, nil
	}

	o.store(ctx, state, item, key, result)

	return out, nil
}

func (o *Orchestrator) analyze(ctx context.Context, state *batch, item Item) (json.RawMessage, time.Duration, error) {
	callCtx, cancel := context.WithTimeout(ctx, analyzer.TimeoutFor(state.opts.BaseTimeout, state.opts.Mode))
	defer cancel()

	req := analyzer.Request{
		ItemID: item.ID,
		Path:   item.Path,
		Prompt: state.opts.Prompt,
		Rubric: state.rubric,
		Mode:   state.opts.Mode,
	}

	type reply struct {
		result json.RawMessage
		err    error
	}

	// Buffered so an analyzer that ignores ctx can still finish and exit.
	replies := make(chan reply, 1)
	start := time.Now()

	go func() {
		result, err := o.analyzer.Analyze(callCtx, req)
		replies <- reply{result: result, err: err}
	}()

	var (
		result json.RawMessage
		err    error
	)

	select {
	case r := <-replies:
		result, err = r.result, r.err
	case <-callCtx.Done():
		err = callCtx.Err()
	}

	elapsed := time.Since(start)

	if err == nil && len(result) == 0 {
		err = fmt.Errorf("%w: empty result", analyzer.ErrInvalidInput)
	}

	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, analyzer.ErrTimeout) {
		err = fmt.Errorf("%w after %s: %w", analyzer.ErrTimeout, elapsed.Round(time.Millisecond), err)
	}

	return result, elapsed, err
}

func (o *Orchestrator) cacheKey(state *batch, item Item) (string, error) {
	if o.cache == nil || state.opts.NoCache {
		return "", nil
	}

	contentHash, err := cache.HashContent(item.Path)
	if err != nil {
		return "", err
	}

	return cache.ComputeKey(contentHash, state.configHash, state.modelID), nil
}

func (o *Orchestrator) lookup(ctx context.Context, state *batch, item Item, key string) (*cache.Entry, bool) {
	if key == "" {
		return nil, false
	}

	entry, ok := o.cache.Get(state.opts.ProjectDir, key)
	o.metrics.RecordCacheLookup(ctx, ok)

	if ok {
		o.logger.DebugContext(ctx, "cache hit", "item", item.ID)
	}

	return entry, ok
}

func (o *Orchestrator) store(ctx context.Context, state *batch, item Item, key string, result json.RawMessage) {
	if key == "" {
		return
	}

	err := o.cache.Put(state.opts.ProjectDir, key, result, cache.Meta{PhotoFilename: item.ID})
	if err != nil {
		o.logger.WarnContext(ctx, "cache store failed", "item", item.ID, "error", err)
	}
}

// finish writes the results document and removes the checkpoint.
func (o *Orchestrator) finish(ctx context.Context, state *batch, cp *checkpoint.Checkpoint, summary *Summary) error {
	statistics := results.ComputeStatistics(cp.Results.Scores, state.opts.ScoreField)

	doc := &results.Document{
		Version:     results.DocumentVersion,
		GeneratedAt: time.Now().UTC(),
		RunID:       summary.RunID,
		ConfigHash:  state.configHash,
		ModelID:     state.modelID,
		Total:       summary.Total,
		Analyzed:    summary.Analyzed,
		Cached:      summary.Cached,
		Resumed:     summary.Resumed,
		Scores:      cp.Results.Scores,
		Failures:    summary.Failures,
		Statistics:  statistics,
	}

	if doc.Failures == nil {
		doc.Failures = []results.Failure{}
	}

	err := results.Save(state.opts.ProjectDir, doc)
	if err != nil {
		return err
	}

	summary.ResultsPath = results.Path(state.opts.ProjectDir)

	var raw json.RawMessage
	if statistics != nil {
		raw, err = json.Marshal(statistics)
		if err != nil {
			return fmt.Errorf("marshal statistics: %w", err)
		}
	}

	o.checkpoints.Complete(cp, raw)

	err = o.checkpoints.Delete(state.opts.ProjectDir)
	if err != nil {
		o.logger.WarnContext(ctx, "completed checkpoint not removed", "error", err)
	}

	return nil
}

func failedOutcome(item Item, err error) Outcome {
	return Outcome{ItemID: item.ID, Err: err, Kind: analyzer.Classify(err)}
}

// promptPayload echoes the prompt into the checkpoint as a JSON string.
func promptPayload(prompt string) json.RawMessage {
	if prompt == "" {
		return nil
	}

	raw, err := json.Marshal(prompt)
	if err != nil {
		return nil
	}

	return raw
}

// dedupe drops repeated ids, keeping the first occurrence.
func dedupe(items []Item) []Item {
	seen := make(map[string]bool, len(items))
	out := make([]Item, 0, len(items))

	for _, item := range items {
		if seen[item.ID] {
			continue
		}

		seen[item.ID] = true

		out = append(out, item)
	}

	return out
}
