// Package checkpoint makes batch runs resumable: it persists run progress to
// a single JSON document per project and refuses to resume against a
// changed rubric.
package checkpoint

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the current checkpoint document version.
const SchemaVersion = "1.0"

// Status is the lifecycle state of a batch run.
type Status string

// Run statuses.
const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// BatchMetadata describes how the run was launched.
type BatchMetadata struct {
	ParallelSetting    int    `json:"parallelSetting"`
	CheckpointInterval int    `json:"checkpointInterval"`
	TotalPhotosInBatch int    `json:"totalPhotosInBatch"`
	PhotoDirectory     string `json:"photoDirectory"`
}

// Progress tracks which items are done. AnalyzedItems is in completion order.
type Progress struct {
	AnalyzedItems []string `json:"analyzedItems"`
	PhotosCount   int      `json:"photosCount"`
	FailedItems   []string `json:"failedItems"`
	Status        Status   `json:"status"`
}

// Results holds the score payloads gathered so far, keyed by item id.
type Results struct {
	Scores         map[string]json.RawMessage `json:"scores"`
	Statistics     json.RawMessage            `json:"statistics,omitempty"`
	LastUpdateTime time.Time                  `json:"lastUpdateTime"`
}

// Metadata records the checkpoint's own history.
type Metadata struct {
	CreatedAt     time.Time  `json:"createdAt"`
	LastResumedAt *time.Time `json:"lastResumedAt"`
	ResumeCount   int        `json:"resumeCount"`
}

// Checkpoint is the durable snapshot of one batch run. Nested sections are
// pointers so that a document missing a section can be told apart from an
// empty one.
type Checkpoint struct {
	Version        string          `json:"version"`
	ProjectDir     string          `json:"projectDir"`
	ConfigHash     string          `json:"configHash"`
	AnalysisPrompt json.RawMessage `json:"analysisPrompt,omitempty"`
	BatchMetadata  *BatchMetadata  `json:"batchMetadata"`
	Progress       *Progress       `json:"progress"`
	Results        *Results        `json:"results"`
	Metadata       *Metadata       `json:"metadata"`
}

// IsAnalyzed reports whether id is already in progress.analyzedItems.
func (c *Checkpoint) IsAnalyzed(id string) bool {
	return c.AnalyzedSet()[id]
}

// AnalyzedSet returns progress.analyzedItems as a set.
func (c *Checkpoint) AnalyzedSet() map[string]bool {
	if c == nil || c.Progress == nil {
		return map[string]bool{}
	}

	set := make(map[string]bool, len(c.Progress.AnalyzedItems))

	for _, id := range c.Progress.AnalyzedItems {
		set[id] = true
	}

	return set
}

// InitParams are the inputs to Manager.Initialize.
type InitParams struct {
	ProjectDir         string
	Config             any
	AnalysisPrompt     json.RawMessage
	TotalItems         int
	ParallelSetting    int
	CheckpointInterval int
	ItemDirectory      string
}
