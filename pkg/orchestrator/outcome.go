package orchestrator

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/analyzer"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/checkpoint"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/results"
)

// Item outcome labels used in metrics and logs.
const (
	outcomeAnalyzed = "analyzed"
	outcomeCached   = "cached"
	outcomeFailed   = "failed"
)

// ErrCheckpointRejected is matched by every *RejectedCheckpointError.
var ErrCheckpointRejected = errors.New("checkpoint rejected")

// MismatchPolicy decides what Run does with a checkpoint that fails validation.
type MismatchPolicy int

const (
	// MismatchRestart discards the checkpoint and starts from zero.
	MismatchRestart MismatchPolicy = iota

	// MismatchAbort makes Run return a *RejectedCheckpointError.
	MismatchAbort
)

// RejectedCheckpointError reports a checkpoint that could not be resumed.
// It matches ErrCheckpointRejected and the checkpoint.Err* sentinel that
// caused the rejection.
type RejectedCheckpointError struct {
	Reason string
	Err    error
}

func newRejectedCheckpointError(res checkpoint.ValidationResult) *RejectedCheckpointError {
	return &RejectedCheckpointError{Reason: res.Reason, Err: res.Err}
}

func (e *RejectedCheckpointError) Error() string {
	return "checkpoint rejected: " + e.Reason
}

// Unwrap exposes both sentinels to errors.Is.
func (e *RejectedCheckpointError) Unwrap() []error {
	return []error{ErrCheckpointRejected, e.Err}
}

// Outcome is the tagged result of one item. Exactly one of Result and Err is set.
type Outcome struct {
	ItemID   string
	Result   json.RawMessage
	Cached   bool
	Kind     analyzer.ErrorKind
	Err      error
	Duration time.Duration
}

// Failed reports whether the item produced no result.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

func (o Outcome) label() string {
	switch {
	case o.Failed():
		return outcomeFailed
	case o.Cached:
		return outcomeCached
	default:
		return outcomeAnalyzed
	}
}

func (o Outcome) failure() results.Failure {
	return results.Failure{ID: o.ItemID, Kind: o.Kind.String(), Message: o.Err.Error()}
}
