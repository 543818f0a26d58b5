package checkpoint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/persist"
)

// basename is the checkpoint file name without the codec extension.
const basename = ".analysis-checkpoint"

// DefaultMaxAge is the staleness window after which a checkpoint is never resumed.
const DefaultMaxAge = 7 * 24 * time.Hour

// hoursPerDay converts checkpoint age to days for messages.
const hoursPerDay = 24

// Sentinel errors for checkpoint validation, in check order.
var (
	ErrNullCheckpoint     = errors.New("checkpoint is null or not an object")
	ErrMissingFields      = errors.New("checkpoint missing required fields")
	ErrUnsupportedVersion = errors.New("unsupported checkpoint version")
	ErrCheckpointTooOld   = errors.New("checkpoint too old")
	ErrConfigChanged      = errors.New("config changed")
)

// ValidationResult is the outcome of Manager.Validate. Err is one of the
// sentinel errors when Valid is false.
type ValidationResult struct {
	Valid  bool
	Reason string
	Err    error
}

// Manager reads, writes and validates checkpoint documents. It holds no
// per-run state; callers own the *Checkpoint and serialize its mutation.
type Manager struct {
	MaxAge time.Duration

	codec  persist.Codec
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxAge overrides DefaultMaxAge.
func WithMaxAge(maxAge time.Duration) Option {
	return func(m *Manager) { m.MaxAge = maxAge }
}

// WithLogger sets the logger used for load/save diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a checkpoint manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		MaxAge: DefaultMaxAge,
		// Compact JSON keeps opaque score payloads byte-identical across a round trip.
		codec:  persist.NewCompactJSONCodec(),
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Path returns the checkpoint file path inside projectDir.
func (m *Manager) Path(projectDir string) string {
	return filepath.Join(projectDir, basename+m.codec.Extension())
}

// ComputeConfigHash returns the SHA-256 of config's canonical JSON form.
// Object keys are sorted at every depth, so two configs that differ only in
// key order hash identically.
func ComputeConfigHash(config any) (string, error) {
	canonical, err := canonicalJSON(config)
	if err != nil {
		return "", fmt.Errorf("canonicalize config: %w", err)
	}

	sum := sha256.Sum256(canonical)

	return hex.EncodeToString(sum[:]), nil
}

// canonicalJSON round-trips value through a generic tree; encoding/json
// writes map keys in sorted order.
func canonicalJSON(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var tree any

	decodeErr := decoder.Decode(&tree)
	if decodeErr != nil {
		return nil, decodeErr
	}

	return json.Marshal(tree)
}

// Initialize builds a zero-progress checkpoint for a new run.
func (m *Manager) Initialize(params InitParams) (*Checkpoint, error) {
	hash, err := ComputeConfigHash(params.Config)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()

	return &Checkpoint{
		Version:        SchemaVersion,
		ProjectDir:     params.ProjectDir,
		ConfigHash:     hash,
		AnalysisPrompt: params.AnalysisPrompt,
		BatchMetadata: &BatchMetadata{
			ParallelSetting:    params.ParallelSetting,
			CheckpointInterval: params.CheckpointInterval,
			TotalPhotosInBatch: params.TotalItems,
			PhotoDirectory:     params.ItemDirectory,
		},
		Progress: &Progress{
			AnalyzedItems: []string{},
			FailedItems:   []string{},
			Status:        StatusInProgress,
		},
		Results: &Results{
			Scores:         map[string]json.RawMessage{},
			LastUpdateTime: now,
		},
		Metadata: &Metadata{
			CreatedAt: now,
		},
	}, nil
}

// Save atomically writes cp to projectDir. A crash mid-save leaves the
// previous checkpoint in place.
func (m *Manager) Save(cp *Checkpoint, projectDir string) error {
	if cp == nil {
		return ErrNullCheckpoint
	}

	err := persist.SaveState(projectDir, basename, m.codec, cp)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	return nil
}

// Load reads the checkpoint in projectDir. A missing, unreadable or
// malformed file yields nil: the caller starts fresh.
func (m *Manager) Load(projectDir string) *Checkpoint {
	var cp *Checkpoint

	err := persist.Retry(persist.DefaultAttempts, persist.DefaultRetryDelay, func() error {
		cp = nil

		return persist.LoadState(projectDir, basename, m.codec, &cp)
	})

	switch {
	case err == nil:
		return cp
	case errors.Is(err, os.ErrNotExist):
		m.logger.Debug("no checkpoint found", "path", m.Path(projectDir))
	default:
		m.logger.Warn("ignoring unreadable checkpoint", "path", m.Path(projectDir), "error", err)
	}

	return nil
}

// Validate decides whether cp may be resumed under currentConfig. Checks run
// in a fixed order and the first failure is reported.
func (m *Manager) Validate(cp *Checkpoint, currentConfig any) ValidationResult {
	if cp == nil {
		return invalid(ErrNullCheckpoint, "Checkpoint is null or not an object")
	}

	missing := missingFields(cp)
	if len(missing) > 0 {
		return invalid(ErrMissingFields, "Missing required fields: "+strings.Join(missing, ", "))
	}

	if cp.Version != SchemaVersion {
		return invalid(ErrUnsupportedVersion, fmt.Sprintf("Unsupported checkpoint version: %s", cp.Version))
	}

	age := m.now().Sub(cp.Metadata.CreatedAt)
	if age > m.MaxAge {
		days := int(age.Hours() / hoursPerDay)

		return invalid(ErrCheckpointTooOld, fmt.Sprintf("Checkpoint is too old (%d days)", days))
	}

	hash, err := ComputeConfigHash(currentConfig)
	if err != nil {
		return invalid(ErrConfigChanged, fmt.Sprintf("Config changed: current config cannot be hashed: %v", err))
	}

	if hash != cp.ConfigHash {
		return invalid(ErrConfigChanged, "Config changed since checkpoint was created")
	}

	return ValidationResult{Valid: true}
}

func invalid(err error, reason string) ValidationResult {
	return ValidationResult{Reason: reason, Err: err}
}

func missingFields(cp *Checkpoint) []string {
	var missing []string

	if cp.Version == "" {
		missing = append(missing, "version")
	}

	if cp.ConfigHash == "" {
		missing = append(missing, "configHash")
	}

	if cp.Progress == nil {
		missing = append(missing, "progress")
	}

	if cp.Results == nil {
		missing = append(missing, "results")
	}

	switch {
	case cp.Metadata == nil:
		missing = append(missing, "metadata")
	case cp.Metadata.CreatedAt.IsZero():
		missing = append(missing, "metadata.createdAt")
	}

	return missing
}

// Update folds a batch of outcomes into cp in place and returns cp.
// Analyzed and failed ids are appended once each, results merged over existing
// scores, and metadata.resumeCount incremented once per call. An id that is
// analyzed leaves failedItems, so a retried failure is not counted twice.
func (m *Manager) Update(
	cp *Checkpoint,
	analyzed []string,
	results map[string]json.RawMessage,
	failed []string,
) *Checkpoint {
	if cp == nil {
		return nil
	}

	ensureSections(cp)

	cp.Progress.AnalyzedItems = appendNew(cp.Progress.AnalyzedItems, analyzed)
	cp.Progress.FailedItems = appendNew(cp.Progress.FailedItems, failed)

	if len(analyzed) > 0 {
		done := make(map[string]struct{}, len(cp.Progress.AnalyzedItems))
		for _, id := range cp.Progress.AnalyzedItems {
			done[id] = struct{}{}
		}

		cp.Progress.FailedItems = slices.DeleteFunc(cp.Progress.FailedItems, func(id string) bool {
			_, ok := done[id]

			return ok
		})
	}

	cp.Progress.PhotosCount = len(cp.Progress.AnalyzedItems)

	maps.Copy(cp.Results.Scores, results)
	cp.Results.LastUpdateTime = m.now().UTC()

	cp.Metadata.ResumeCount++

	return cp
}

// appendNew appends the ids of add not already in ids, in order.
func appendNew(ids, add []string) []string {
	seen := make(map[string]struct{}, len(ids)+len(add))
	for _, id := range ids {
		seen[id] = struct{}{}
	}

	for _, id := range add {
		if _, ok := seen[id]; ok {
			continue
		}

		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	return ids
}

// MarkResumed stamps metadata.lastResumedAt.
func (m *Manager) MarkResumed(cp *Checkpoint) {
	if cp == nil {
		return
	}

	ensureSections(cp)

	now := m.now().UTC()
	cp.Metadata.LastResumedAt = &now
}

// Complete marks the run finished and attaches optional statistics.
func (m *Manager) Complete(cp *Checkpoint, statistics json.RawMessage) {
	if cp == nil {
		return
	}

	ensureSections(cp)

	cp.Progress.Status = StatusCompleted
	cp.Results.Statistics = statistics
	cp.Results.LastUpdateTime = m.now().UTC()
}

// Delete removes the checkpoint file. Nothing to delete is not an error.
func (m *Manager) Delete(projectDir string) error {
	err := os.Remove(m.Path(projectDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}

	return nil
}

func ensureSections(cp *Checkpoint) {
	if cp.Progress == nil {
		cp.Progress = &Progress{Status: StatusInProgress}
	}

	if cp.Results == nil {
		cp.Results = &Results{}
	}

	if cp.Results.Scores == nil {
		cp.Results.Scores = map[string]json.RawMessage{}
	}

	if cp.Metadata == nil {
		cp.Metadata = &Metadata{}
	}
}
