// Package config loads photo-analyzer settings from a YAML file and
// PHOTO_ANALYZER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidMode          = errors.New("analysis mode must be single or multi")
	ErrInvalidTimeout       = errors.New("analysis timeout must be positive")
	ErrInvalidInterval      = errors.New("checkpoint interval must be positive")
	ErrInvalidSlots         = errors.New("max slots must not be negative")
	ErrInvalidMismatch      = errors.New("checkpoint on_mismatch must be restart or abort")
	ErrInvalidRebaseline    = errors.New("concurrency rebaseline must be never or after_scale")
	ErrInvalidSizeFormat    = errors.New("invalid size format")
	ErrInvalidSampleRatio   = errors.New("telemetry sample ratio must be within [0, 1]")
	ErrInvalidLatencyFactor = errors.New("latency factor must be greater than 1")
)

// Enumerated option values.
const (
	MismatchRestart = "restart"
	MismatchAbort   = "abort"

	RebaselineNever      = "never"
	RebaselineAfterScale = "after_scale"

	ModeSingle = "single"
	ModeMulti  = "multi"
)

// envPrefix is prepended to every environment override, e.g.
// PHOTO_ANALYZER_ANALYSIS_TIMEOUT.
const envPrefix = "PHOTO_ANALYZER"

// Config holds all photo-analyzer settings.
type Config struct {
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Checkpoint  CheckpointConfig  `mapstructure:"checkpoint"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Model       ModelConfig       `mapstructure:"model"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// AnalysisConfig controls each analyzer call.
type AnalysisConfig struct {
	Mode          string        `mapstructure:"mode"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Prompt        string        `mapstructure:"prompt"`
	ScoreField    string        `mapstructure:"score_field"`
	CriteriaField string        `mapstructure:"criteria_field"`
	FailOnErrors  bool          `mapstructure:"fail_on_errors"`
}

// ConcurrencyConfig maps onto concurrency.Options.
type ConcurrencyConfig struct {
	MaxSlots        int     `mapstructure:"max_slots"`
	AutoScale       bool    `mapstructure:"auto_scale"`
	MemoryThreshold string  `mapstructure:"memory_threshold"`
	LatencyFactor   float64 `mapstructure:"latency_factor"`
	BaselineSamples int     `mapstructure:"baseline_samples"`
	Rebaseline      string  `mapstructure:"rebaseline"`
	Parallel        int     `mapstructure:"parallel"`
}

// CheckpointConfig controls checkpoint cadence and resume policy.
type CheckpointConfig struct {
	Interval   int           `mapstructure:"interval"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	OnMismatch string        `mapstructure:"on_mismatch"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Compress    bool   `mapstructure:"compress"`
	MemoryLimit string `mapstructure:"memory_limit"`
}

// ModelConfig selects the vision model service.
type ModelConfig struct {
	Name      string `mapstructure:"name"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int64  `mapstructure:"max_tokens"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds OpenTelemetry and metrics endpoint settings.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	MetricsAddr  string  `mapstructure:"metrics_addr"`
}

// LoadConfig loads configuration from file and environment variables. An
// empty configPath searches for photo-analyzer.yaml in the working
// directory, ./config and $HOME/.config/photo-analyzer; finding none is not
// an error.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("photo-analyzer")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("$HOME/.config/photo-analyzer")
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindErr := viperCfg.BindEnv("model.api_key", envPrefix+"_MODEL_API_KEY", "ANTHROPIC_API_KEY")
	if bindErr != nil {
		return nil, fmt.Errorf("bind model.api_key: %w", bindErr)
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validateConfig(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("analysis.mode", ModeSingle)
	viperCfg.SetDefault("analysis.timeout", DefaultAnalysisTimeout.String())
	viperCfg.SetDefault("analysis.prompt", "")
	viperCfg.SetDefault("analysis.score_field", DefaultScoreField)
	viperCfg.SetDefault("analysis.criteria_field", DefaultCriteriaField)
	viperCfg.SetDefault("analysis.fail_on_errors", false)

	viperCfg.SetDefault("concurrency.max_slots", 0)
	viperCfg.SetDefault("concurrency.auto_scale", false)
	viperCfg.SetDefault("concurrency.memory_threshold", "")
	viperCfg.SetDefault("concurrency.latency_factor", DefaultLatencyFactor)
	viperCfg.SetDefault("concurrency.baseline_samples", DefaultBaselineSamples)
	viperCfg.SetDefault("concurrency.rebaseline", RebaselineNever)
	viperCfg.SetDefault("concurrency.parallel", 0)

	viperCfg.SetDefault("checkpoint.interval", DefaultCheckpointInterval)
	viperCfg.SetDefault("checkpoint.max_age", DefaultCheckpointMaxAge.String())
	viperCfg.SetDefault("checkpoint.on_mismatch", MismatchRestart)

	viperCfg.SetDefault("cache.enabled", true)
	viperCfg.SetDefault("cache.compress", false)
	viperCfg.SetDefault("cache.memory_limit", DefaultCacheMemoryLimit)

	viperCfg.SetDefault("model.name", DefaultModelName)
	viperCfg.SetDefault("model.api_key", "")
	viperCfg.SetDefault("model.base_url", "")
	viperCfg.SetDefault("model.max_tokens", DefaultModelMaxTokens)

	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "text")

	viperCfg.SetDefault("telemetry.otlp_endpoint", "")
	viperCfg.SetDefault("telemetry.otlp_headers", "")
	viperCfg.SetDefault("telemetry.otlp_insecure", false)
	viperCfg.SetDefault("telemetry.sample_ratio", 1.0)
	viperCfg.SetDefault("telemetry.metrics_addr", "")
}

func validateConfig(config *Config) error {
	var errs []error

	if config.Analysis.Mode != ModeSingle && config.Analysis.Mode != ModeMulti {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidMode, config.Analysis.Mode))
	}

	if config.Analysis.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidTimeout, config.Analysis.Timeout))
	}

	if config.Checkpoint.Interval <= 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidInterval, config.Checkpoint.Interval))
	}

	if config.Checkpoint.OnMismatch != MismatchRestart && config.Checkpoint.OnMismatch != MismatchAbort {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidMismatch, config.Checkpoint.OnMismatch))
	}

	if config.Concurrency.MaxSlots < 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidSlots, config.Concurrency.MaxSlots))
	}

	if config.Concurrency.Rebaseline != RebaselineNever && config.Concurrency.Rebaseline != RebaselineAfterScale {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidRebaseline, config.Concurrency.Rebaseline))
	}

	if config.Concurrency.LatencyFactor <= 1 {
		errs = append(errs, fmt.Errorf("%w: %g", ErrInvalidLatencyFactor, config.Concurrency.LatencyFactor))
	}

	if config.Telemetry.SampleRatio < 0 || config.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("%w: %g", ErrInvalidSampleRatio, config.Telemetry.SampleRatio))
	}

	if _, err := config.Concurrency.MemoryThresholdMB(); err != nil {
		errs = append(errs, err)
	}

	if _, err := config.Cache.MemoryLimitBytes(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// MemoryThresholdMB parses MemoryThreshold ("2GB", "512MiB"). Empty means
// no threshold and yields 0.
func (c ConcurrencyConfig) MemoryThresholdMB() (float64, error) {
	size, err := parseSize("concurrency.memory_threshold", c.MemoryThreshold)
	if err != nil {
		return 0, err
	}

	return float64(size) / bytesPerMiB, nil
}

// MemoryLimitBytes parses MemoryLimit. Empty or "0" disables the
// in-memory cache layer and yields 0.
func (c CacheConfig) MemoryLimitBytes() (int64, error) {
	size, err := parseSize("cache.memory_limit", c.MemoryLimit)
	if err != nil {
		return 0, err
	}

	return int64(min(size, math.MaxInt64)), nil
}

func parseSize(key, value string) (uint64, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}

	size, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%w for %s: %s", ErrInvalidSizeFormat, key, value)
	}

	return size, nil
}

// Headers parses OTLPHeaders, a comma-separated list of key=value pairs as
// in OTEL_EXPORTER_OTLP_HEADERS. Pairs without '=' or with an empty key are
// dropped.
func (t TelemetryConfig) Headers() map[string]string {
	headers := make(map[string]string)

	for _, pair := range strings.Split(t.OTLPHeaders, ",") {
		key, value, ok := strings.Cut(pair, "=")

		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}

		headers[key] = strings.TrimSpace(value)
	}

	if len(headers) == 0 {
		return nil
	}

	return headers
}
