package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/analyzer"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/analyzer/anthropic"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/cache"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/checkpoint"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/concurrency"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/config"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/observability"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/orchestrator"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/version"
)

// ErrItemsFailed is returned by analyze --fail-on-errors when any photo failed.
var ErrItemsFailed = errors.New("some photos failed analysis")

// errDraining is reported by /readyz once shutdown has begun.
var errDraining = errors.New("batch is shutting down")

type analyzeFlags struct {
	projectDir      string
	rubricPath      string
	mode            string
	metricsAddr     string
	parallel        int
	maxSlots        int
	interval        int
	timeout         time.Duration
	autoScale       bool
	noCache         bool
	abortOnMismatch bool
	failOnErrors    bool
	batchMode       bool
}

// NewAnalyzeCommand creates the analyze subcommand.
func NewAnalyzeCommand(g *Globals) *cobra.Command {
	var flags analyzeFlags

	cmd := &cobra.Command{
		Use:   "analyze <photo-dir>",
		Short: "Score every photo in a directory against a rubric",
		Long: `Score every photo in a directory against a rubric.

An interrupted run resumes from the checkpoint in the project directory as
long as the rubric is unchanged. Results are cached by photo content, rubric
and model, so re-running a finished batch costs no model calls.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, g, args[0], &flags)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&flags.projectDir, "project", "p", "", "project directory for checkpoint, cache and results (default: the photo directory)")
	fs.StringVarP(&flags.rubricPath, "rubric", "r", "", "rubric file (.json, .yaml)")
	fs.StringVar(&flags.mode, "mode", config.ModeSingle, "analysis mode: single or multi")
	fs.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve /healthz, /readyz and /metrics on this address while running")
	fs.IntVar(&flags.parallel, "parallel", 0, "worker goroutines (default: current slot limit)")
	fs.IntVar(&flags.maxSlots, "max-slots", 0, "concurrent analyzer calls (default: 1, or CPU-based with --auto-scale)")
	fs.IntVar(&flags.interval, "checkpoint-interval", config.DefaultCheckpointInterval, "save the checkpoint every N photos")
	fs.DurationVar(&flags.timeout, "timeout", config.DefaultAnalysisTimeout, "per-photo timeout (x4 in multi mode)")
	fs.BoolVar(&flags.autoScale, "auto-scale", false, "reduce concurrency when latency or memory degrade")
	fs.BoolVar(&flags.noCache, "no-cache", false, "ignore and do not write the result cache")
	fs.BoolVar(&flags.abortOnMismatch, "abort-on-mismatch", false, "fail instead of restarting when the checkpoint cannot be resumed")
	fs.BoolVar(&flags.failOnErrors, "fail-on-errors", false, "exit non-zero when any photo fails")
	fs.BoolVar(&flags.batchMode, "batch", false, "tag telemetry as an unattended batch run")

	_ = cmd.MarkFlagRequired("rubric")

	return cmd
}

// applyFlags overrides config values with explicitly set flags.
func (f *analyzeFlags) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed

	if changed("mode") {
		cfg.Analysis.Mode = f.mode
	}

	if changed("timeout") {
		cfg.Analysis.Timeout = f.timeout
	}

	if changed("parallel") {
		cfg.Concurrency.Parallel = f.parallel
	}

	if changed("max-slots") {
		cfg.Concurrency.MaxSlots = f.maxSlots
	}

	if changed("auto-scale") {
		cfg.Concurrency.AutoScale = f.autoScale
	}

	if changed("checkpoint-interval") {
		cfg.Checkpoint.Interval = f.interval
	}

	if changed("metrics-addr") {
		cfg.Telemetry.MetricsAddr = f.metricsAddr
	}

	if changed("no-cache") {
		cfg.Cache.Enabled = !f.noCache
	}

	if changed("abort-on-mismatch") && f.abortOnMismatch {
		cfg.Checkpoint.OnMismatch = config.MismatchAbort
	}

	if changed("fail-on-errors") {
		cfg.Analysis.FailOnErrors = f.failOnErrors
	}
}

func runAnalyze(cmd *cobra.Command, g *Globals, photoDir string, flags *analyzeFlags) error {
	cfg, err := g.LoadConfig()
	if err != nil {
		return err
	}

	flags.applyFlags(cmd, cfg)

	projectDir := flags.projectDir
	if projectDir == "" {
		projectDir = photoDir
	}

	rubric, err := config.LoadRubric(flags.rubricPath)
	if err != nil {
		return err
	}

	items, err := DiscoverItems(photoDir)
	if err != nil {
		return err
	}

	providers, err := observability.Init(telemetryConfig(g, cfg, flags.batchMode, cmd))
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("telemetry shutdown failed", "error", shutdownErr)
		}
	}()

	logger := providers.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, metrics, err := buildOrchestrator(cfg, providers)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := metrics.Close()
		if closeErr != nil {
			logger.Warn("batch metrics close failed", "error", closeErr)
		}
	}()

	if cfg.Telemetry.MetricsAddr != "" {
		diag, diagErr := observability.NewDiagnosticsServer(cfg.Telemetry.MetricsAddr, providers.MetricsHandler,
			func(context.Context) error {
				if ctx.Err() != nil {
					return errDraining
				}

				return nil
			})
		if diagErr != nil {
			return diagErr
		}

		logger.Info("diagnostics server listening", "addr", diag.Addr())

		defer func() {
			closeErr := diag.Close(context.Background())
			if closeErr != nil {
				logger.Warn("diagnostics server close failed", "error", closeErr)
			}
		}()
	}

	opts, err := runOptions(cfg, rubric, projectDir, photoDir)
	if err != nil {
		return err
	}

	summary, runErr := orch.Run(ctx, items, opts)

	var rejected *orchestrator.RejectedCheckpointError
	if errors.As(runErr, &rejected) {
		return fmt.Errorf("%w (run `photo-analyzer checkpoint clear %s` to start over)", runErr, projectDir)
	}

	if summary != nil && !g.Quiet {
		printSummary(cmd.OutOrStdout(), summary)
	}

	if runErr != nil {
		return runErr
	}

	if cfg.Analysis.FailOnErrors && summary.Failed() > 0 {
		return fmt.Errorf("%w: %d of %d", ErrItemsFailed, summary.Failed(), summary.Total)
	}

	return nil
}

func telemetryConfig(g *Globals, cfg *config.Config, batch bool, cmd *cobra.Command) observability.Config {
	obsCfg := observability.DefaultConfig()
	obsCfg.Version = version.Version
	obsCfg.Log = g.LogConfig(cfg, cmd.ErrOrStderr())
	obsCfg.Export = observability.ExportConfig{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPHeaders:  cfg.Telemetry.Headers(),
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
		Prometheus:   cfg.Telemetry.MetricsAddr != "",
	}

	if batch {
		obsCfg.Mode = observability.ModeBatch
	}

	return obsCfg
}

func buildOrchestrator(
	cfg *config.Config, providers observability.Providers,
) (*orchestrator.Orchestrator, *observability.BatchMetrics, error) {
	logger := providers.Logger

	thresholdMB, err := cfg.Concurrency.MemoryThresholdMB()
	if err != nil {
		return nil, nil, err
	}

	var metrics *observability.BatchMetrics

	rebaseline := concurrency.RebaselineNever
	if cfg.Concurrency.Rebaseline == config.RebaselineAfterScale {
		rebaseline = concurrency.RebaselineAfterScale
	}

	slots := concurrency.NewManager(concurrency.Options{
		MaxSlots:          cfg.Concurrency.MaxSlots,
		AutoScale:         cfg.Concurrency.AutoScale,
		MemoryThresholdMB: thresholdMB,
		BaselineSamples:   cfg.Concurrency.BaselineSamples,
		LatencyFactor:     cfg.Concurrency.LatencyFactor,
		Rebaseline:        rebaseline,
		Logger:            logger,
		OnScale: func(_, _ int, reason string) {
			metrics.RecordScale(context.Background(), reason)
		},
	})

	metrics, err = observability.NewBatchMetrics(providers.Meter, func() observability.SlotStats {
		st := slots.Stats()

		return observability.SlotStats{Active: st.Active, Max: st.Max, MemoryMB: st.MemoryMB}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create batch metrics: %w", err)
	}

	_, err = observability.NewRuntimeMetrics(providers.Meter)
	if err != nil {
		return nil, nil, fmt.Errorf("create runtime metrics: %w", err)
	}

	provider := analyzer.NewProvider(func() (analyzer.Analyzer, error) {
		return anthropic.New(anthropic.Config{
			APIKey:    cfg.Model.APIKey,
			BaseURL:   cfg.Model.BaseURL,
			Model:     cfg.Model.Name,
			MaxTokens: cfg.Model.MaxTokens,
		}), nil
	})

	model, err := provider.Get()
	if err != nil {
		return nil, nil, fmt.Errorf("create analyzer: %w", err)
	}

	var results *cache.Manager

	if cfg.Cache.Enabled {
		limit, limitErr := cfg.Cache.MemoryLimitBytes()
		if limitErr != nil {
			return nil, nil, limitErr
		}

		results = cache.NewManager(cacheOptions(cfg, limit, logger)...)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Analyzer:    model,
		Concurrency: slots,
		Checkpoints: checkpoint.NewManager(checkpoint.WithMaxAge(cfg.Checkpoint.MaxAge), checkpoint.WithLogger(logger)),
		Cache:       results,
		Metrics:     metrics,
		Tracer:      providers.Tracer,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, err
	}

	return orch, metrics, nil
}

func runOptions(cfg *config.Config, rubric config.Rubric, projectDir, photoDir string) (orchestrator.Options, error) {
	raw, err := rubric.JSON()
	if err != nil {
		return orchestrator.Options{}, err
	}

	prompt := cfg.Analysis.Prompt
	if prompt == "" {
		prompt = rubric.String("prompt")
	}

	policy := orchestrator.MismatchRestart
	if cfg.Checkpoint.OnMismatch == config.MismatchAbort {
		policy = orchestrator.MismatchAbort
	}

	return orchestrator.Options{
		ProjectDir:         projectDir,
		ItemDirectory:      photoDir,
		Config:             rubric,
		Rubric:             raw,
		Prompt:             prompt,
		Mode:               analyzer.ParseMode(cfg.Analysis.Mode),
		BaseTimeout:        cfg.Analysis.Timeout,
		CheckpointInterval: cfg.Checkpoint.Interval,
		Parallel:           cfg.Concurrency.Parallel,
		MismatchPolicy:     policy,
		ScoreField:         cfg.Analysis.ScoreField,
		NoCache:            !cfg.Cache.Enabled,
	}, nil
}
