package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "photo-analyzer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, config.ModeSingle, cfg.Analysis.Mode)
	assert.Equal(t, config.DefaultAnalysisTimeout, cfg.Analysis.Timeout)
	assert.Equal(t, config.DefaultScoreField, cfg.Analysis.ScoreField)
	assert.Equal(t, config.DefaultCriteriaField, cfg.Analysis.CriteriaField)
	assert.Equal(t, 0, cfg.Concurrency.MaxSlots)
	assert.False(t, cfg.Concurrency.AutoScale)
	assert.InDelta(t, config.DefaultLatencyFactor, cfg.Concurrency.LatencyFactor, 1e-9)
	assert.Equal(t, config.DefaultBaselineSamples, cfg.Concurrency.BaselineSamples)
	assert.Equal(t, config.RebaselineNever, cfg.Concurrency.Rebaseline)
	assert.Equal(t, config.DefaultCheckpointInterval, cfg.Checkpoint.Interval)
	assert.Equal(t, config.DefaultCheckpointMaxAge, cfg.Checkpoint.MaxAge)
	assert.Equal(t, config.MismatchRestart, cfg.Checkpoint.OnMismatch)
	assert.True(t, cfg.Cache.Enabled)
	assert.False(t, cfg.Cache.Compress)
	assert.Equal(t, config.DefaultModelName, cfg.Model.Name)
	assert.Equal(t, int64(config.DefaultModelMaxTokens), cfg.Model.MaxTokens)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.InDelta(t, 1.0, cfg.Telemetry.SampleRatio, 1e-9)

	threshold, err := cfg.Concurrency.MemoryThresholdMB()
	require.NoError(t, err)
	assert.Zero(t, threshold)

	limit, err := cfg.Cache.MemoryLimitBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(64<<20), limit)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
analysis:
  mode: multi
  timeout: 90s
  prompt: "Score against the open call theme."
  fail_on_errors: true
concurrency:
  max_slots: 3
  auto_scale: true
  memory_threshold: 2GiB
  rebaseline: after_scale
checkpoint:
  interval: 5
  on_mismatch: abort
cache:
  compress: true
  memory_limit: "0"
model:
  name: claude-opus-4-1
  max_tokens: 4096
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, config.ModeMulti, cfg.Analysis.Mode)
	assert.Equal(t, 90*time.Second, cfg.Analysis.Timeout)
	assert.Equal(t, "Score against the open call theme.", cfg.Analysis.Prompt)
	assert.True(t, cfg.Analysis.FailOnErrors)
	assert.Equal(t, 3, cfg.Concurrency.MaxSlots)
	assert.True(t, cfg.Concurrency.AutoScale)
	assert.Equal(t, config.RebaselineAfterScale, cfg.Concurrency.Rebaseline)
	assert.Equal(t, 5, cfg.Checkpoint.Interval)
	assert.Equal(t, config.MismatchAbort, cfg.Checkpoint.OnMismatch)
	assert.True(t, cfg.Cache.Compress)
	assert.Equal(t, "claude-opus-4-1", cfg.Model.Name)
	assert.Equal(t, int64(4096), cfg.Model.MaxTokens)

	threshold, err := cfg.Concurrency.MemoryThresholdMB()
	require.NoError(t, err)
	assert.InDelta(t, 2048.0, threshold, 1e-9)

	limit, err := cfg.Cache.MemoryLimitBytes()
	require.NoError(t, err)
	assert.Zero(t, limit)
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"bad_mode", "analysis:\n  mode: triple\n", config.ErrInvalidMode},
		{"zero_timeout", "analysis:\n  timeout: 0s\n", config.ErrInvalidTimeout},
		{"zero_interval", "checkpoint:\n  interval: 0\n", config.ErrInvalidInterval},
		{"bad_mismatch", "checkpoint:\n  on_mismatch: merge\n", config.ErrInvalidMismatch},
		{"negative_slots", "concurrency:\n  max_slots: -2\n", config.ErrInvalidSlots},
		{"bad_rebaseline", "concurrency:\n  rebaseline: sometimes\n", config.ErrInvalidRebaseline},
		{"flat_latency_factor", "concurrency:\n  latency_factor: 1\n", config.ErrInvalidLatencyFactor},
		{"bad_threshold", "concurrency:\n  memory_threshold: lots\n", config.ErrInvalidSizeFormat},
		{"bad_cache_limit", "cache:\n  memory_limit: big\n", config.ErrInvalidSizeFormat},
		{"bad_ratio", "telemetry:\n  sample_ratio: 1.5\n", config.ErrInvalidSampleRatio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := config.LoadConfig(writeConfig(t, tt.content))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadConfig_ReportsAllViolations(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "analysis:\n  mode: x\ncheckpoint:\n  interval: -1\n"))
	require.ErrorIs(t, err, config.ErrInvalidMode)
	require.ErrorIs(t, err, config.ErrInvalidInterval)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "analysis: [unclosed\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("PHOTO_ANALYZER_CHECKPOINT_INTERVAL", "25")
	t.Setenv("PHOTO_ANALYZER_ANALYSIS_MODE", "multi")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := config.LoadConfig(writeConfig(t, "checkpoint:\n  interval: 5\n"))
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Checkpoint.Interval)
	assert.Equal(t, config.ModeMulti, cfg.Analysis.Mode)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
}

func TestTelemetryConfig_Headers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want map[string]string
	}{
		{"", nil},
		{"authorization=Bearer abc", map[string]string{"authorization": "Bearer abc"}},
		{" x-team = photo , x-env=dev ", map[string]string{"x-team": "photo", "x-env": "dev"}},
		{"garbage,=orphan", nil},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, config.TelemetryConfig{OTLPHeaders: tt.raw}.Headers())
		})
	}
}
