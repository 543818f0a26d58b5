package config

import "time"

// Analysis defaults.
const (
	DefaultAnalysisTimeout = 60 * time.Second
	DefaultScoreField      = "overall_score"
	DefaultCriteriaField   = "scores"
)

// Concurrency defaults.
const (
	DefaultLatencyFactor   = 2.0
	DefaultBaselineSamples = 3
)

// Checkpoint defaults.
const (
	DefaultCheckpointInterval = 10
	DefaultCheckpointMaxAge   = 7 * 24 * time.Hour
)

// Cache defaults.
const (
	DefaultCacheMemoryLimit = "64MiB"
)

// Model defaults.
const (
	DefaultModelName      = "claude-sonnet-4-5"
	DefaultModelMaxTokens = 2048
)

const bytesPerMiB = 1 << 20
