// Package analyzer defines the contract between the batch orchestrator and
// the external service that scores a single item.
package analyzer

import (
	"context"
	"encoding/json"
	"time"
)

// Mode selects how many sequential sub-calls an analysis makes.
type Mode string

// Analysis modes.
const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// MultiStageTimeoutMultiplier scales the per-item timeout in ModeMulti.
const MultiStageTimeoutMultiplier = 4

// TimeoutFor returns the per-item deadline for mode.
func TimeoutFor(base time.Duration, mode Mode) time.Duration {
	if mode == ModeMulti {
		return base * MultiStageTimeoutMultiplier
	}

	return base
}

// ParseMode maps a config string to a Mode. Unknown values select ModeSingle.
func ParseMode(s string) Mode {
	if Mode(s) == ModeMulti {
		return ModeMulti
	}

	return ModeSingle
}

// Request identifies one item to analyze.
type Request struct {
	ItemID string
	Path   string
	Prompt string
	Rubric json.RawMessage
	Mode   Mode
}

// Analyzer scores one item. Implementations must honour ctx cancellation and
// report deadline expiry so that Classify yields KindTimeout.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (json.RawMessage, error)

	// ModelID identifies the model; it is part of every cache key.
	ModelID() string
}

// Func adapts a plain function to Analyzer.
type Func func(ctx context.Context, req Request) (json.RawMessage, error)

// Analyze calls f.
func (f Func) Analyze(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// ModelID returns "func".
func (f Func) ModelID() string {
	return "func"
}

type named struct {
	Func

	model string
}

func (n named) ModelID() string { return n.model }

// Named wraps fn with an explicit model id.
func Named(modelID string, fn Func) Analyzer {
	return named{Func: fn, model: modelID}
}
