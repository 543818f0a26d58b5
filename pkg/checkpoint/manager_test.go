package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRubric() map[string]any {
	return map[string]any{
		"theme": "urban solitude",
		"criteria": []any{
			map[string]any{"name": "composition", "weight": 30},
			map[string]any{"name": "theme_fit", "weight": 40},
		},
		"limits": map[string]any{"maxPhotos": 3, "deadline": "2026-11-01"},
	}
}

func newTestCheckpoint(t *testing.T, m *Manager, dir string) *Checkpoint {
	t.Helper()

	cp, err := m.Initialize(InitParams{
		ProjectDir:         dir,
		Config:             testRubric(),
		AnalysisPrompt:     json.RawMessage(`{"system":"score each photo"}`),
		TotalItems:         10,
		ParallelSetting:    3,
		CheckpointInterval: 5,
		ItemDirectory:      filepath.Join(dir, "photos"),
	})
	require.NoError(t, err)

	return cp
}

func TestComputeConfigHash_KeyOrderIndependent(t *testing.T) {
	t.Parallel()

	a := `{"theme":"x","criteria":[{"name":"c","weight":1}],"nested":{"b":2,"a":1}}`
	b := `{"nested":{"a":1,"b":2},"criteria":[{"weight":1,"name":"c"}],"theme":"x"}`

	var cfgA, cfgB map[string]any

	require.NoError(t, json.Unmarshal([]byte(a), &cfgA))
	require.NoError(t, json.Unmarshal([]byte(b), &cfgB))

	hashA, err := ComputeConfigHash(cfgA)
	require.NoError(t, err)

	hashB, err := ComputeConfigHash(cfgB)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
	assert.Len(t, hashA, 64)
}

func TestComputeConfigHash_StructAndMapAgree(t *testing.T) {
	t.Parallel()

	type rubric struct {
		Theme string `json:"theme"`
		Max   int    `json:"max"`
	}

	fromStruct, err := ComputeConfigHash(rubric{Theme: "t", Max: 3})
	require.NoError(t, err)

	fromMap, err := ComputeConfigHash(map[string]any{"max": 3, "theme": "t"})
	require.NoError(t, err)

	assert.Equal(t, fromStruct, fromMap)
}

func TestComputeConfigHash_ValueChangeChangesHash(t *testing.T) {
	t.Parallel()

	base := testRubric()
	changed := testRubric()
	changed["theme"] = "rural crowds"

	h1, err := ComputeConfigHash(base)
	require.NoError(t, err)

	h2, err := ComputeConfigHash(changed)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestComputeConfigHash_Unmarshalable(t *testing.T) {
	t.Parallel()

	_, err := ComputeConfigHash(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}

func TestManager_Initialize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(WithClock(func() time.Time { return now }))

	cp := newTestCheckpoint(t, m, dir)

	assert.Equal(t, SchemaVersion, cp.Version)
	assert.Equal(t, dir, cp.ProjectDir)
	assert.Len(t, cp.ConfigHash, 64)
	assert.JSONEq(t, `{"system":"score each photo"}`, string(cp.AnalysisPrompt))
	assert.Equal(t, 10, cp.BatchMetadata.TotalPhotosInBatch)
	assert.Equal(t, 3, cp.BatchMetadata.ParallelSetting)
	assert.Equal(t, 5, cp.BatchMetadata.CheckpointInterval)
	assert.Empty(t, cp.Progress.AnalyzedItems)
	assert.Zero(t, cp.Progress.PhotosCount)
	assert.Equal(t, StatusInProgress, cp.Progress.Status)
	assert.Empty(t, cp.Results.Scores)
	assert.Nil(t, cp.Results.Statistics)
	assert.Equal(t, now, cp.Metadata.CreatedAt)
	assert.Nil(t, cp.Metadata.LastResumedAt)
	assert.Zero(t, cp.Metadata.ResumeCount)
}

func TestManager_SaveLoad_RoundTripLarge(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager()
	cp := newTestCheckpoint(t, m, dir)

	const items = 1200

	ids := make([]string, 0, items)
	results := make(map[string]json.RawMessage, items)

	for i := range items {
		id := fmt.Sprintf("photo-%04d.jpg", i)
		payload, err := json.Marshal(map[string]any{
			"overall_score": float64(i%10) + 0.5,
			"scores":        map[string]float64{"composition": float64(i % 7), "lighting": float64(i % 5)},
			"feedback":      "strong leading lines",
		})
		require.NoError(t, err)

		ids = append(ids, id)
		results[id] = payload
	}

	m.Update(cp, ids, results, []string{"broken.jpg"})

	start := time.Now()

	require.NoError(t, m.Save(cp, dir))

	loaded := m.Load(dir)

	assert.Less(t, time.Since(start), time.Second)
	require.NotNil(t, loaded)
	assert.Equal(t, cp, loaded)
	assert.Equal(t, items, loaded.Progress.PhotosCount)
	assert.Len(t, loaded.Results.Scores, items)
}

func TestManager_Save_LeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager()

	require.NoError(t, m.Save(newTestCheckpoint(t, m, dir), dir))
	require.NoError(t, m.Save(newTestCheckpoint(t, m, dir), dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(m.Path(dir)), entries[0].Name())
}

func TestManager_Save_Nil(t *testing.T) {
	t.Parallel()

	err := NewManager().Save(nil, t.TempDir())
	assert.ErrorIs(t, err, ErrNullCheckpoint)
}

func TestManager_Load_DegradesToNil(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content *string
	}{
		{name: "missing_file"},
		{name: "malformed_json", content: ptr(`{"version":"1.0",`)},
		{name: "json_null", content: ptr(`null`)},
		{name: "top_level_array", content: ptr(`[1,2,3]`)},
		{name: "empty_file", content: ptr(``)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			m := NewManager()

			if tt.content != nil {
				require.NoError(t, os.WriteFile(m.Path(dir), []byte(*tt.content), 0o600))
			}

			assert.Nil(t, m.Load(dir))
		})
	}
}

func TestManager_Load_MissingProjectDir(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewManager().Load(filepath.Join(t.TempDir(), "nope")))
}

func TestManager_Validate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	clock := WithClock(func() time.Time { return now })

	fresh := func(t *testing.T) *Checkpoint {
		t.Helper()

		return newTestCheckpoint(t, NewManager(clock), "/projects/open-call")
	}

	tests := []struct {
		name    string
		mutate  func(cp *Checkpoint) *Checkpoint
		config  func() map[string]any
		valid   bool
		wantErr error
		reason  string
	}{
		{
			name:   "valid",
			mutate: func(cp *Checkpoint) *Checkpoint { return cp },
			valid:  true,
		},
		{
			name:    "null",
			mutate:  func(*Checkpoint) *Checkpoint { return nil },
			wantErr: ErrNullCheckpoint,
			reason:  "null or not an object",
		},
		{
			name: "missing_fields",
			mutate: func(cp *Checkpoint) *Checkpoint {
				cp.ConfigHash = ""
				cp.Progress = nil

				return cp
			},
			wantErr: ErrMissingFields,
			reason:  "Missing required fields: configHash, progress",
		},
		{
			name: "missing_created_at",
			mutate: func(cp *Checkpoint) *Checkpoint {
				cp.Metadata.CreatedAt = time.Time{}

				return cp
			},
			wantErr: ErrMissingFields,
			reason:  "metadata.createdAt",
		},
		{
			name: "missing_checked_before_version",
			mutate: func(cp *Checkpoint) *Checkpoint {
				cp.Version = "9.9"
				cp.Results = nil

				return cp
			},
			wantErr: ErrMissingFields,
			reason:  "Missing",
		},
		{
			name: "unsupported_version",
			mutate: func(cp *Checkpoint) *Checkpoint {
				cp.Version = "2.0"

				return cp
			},
			wantErr: ErrUnsupportedVersion,
			reason:  "Unsupported checkpoint version",
		},
		{
			name: "too_old",
			mutate: func(cp *Checkpoint) *Checkpoint {
				cp.Metadata.CreatedAt = now.Add(-8 * 24 * time.Hour)

				return cp
			},
			wantErr: ErrCheckpointTooOld,
			reason:  "too old",
		},
		{
			name: "exactly_max_age_is_valid",
			mutate: func(cp *Checkpoint) *Checkpoint {
				cp.Metadata.CreatedAt = now.Add(-DefaultMaxAge)

				return cp
			},
			valid: true,
		},
		{
			name: "old_and_changed_reports_age_first",
			mutate: func(cp *Checkpoint) *Checkpoint {
				cp.Metadata.CreatedAt = now.Add(-30 * 24 * time.Hour)

				return cp
			},
			config: func() map[string]any {
				cfg := testRubric()
				cfg["theme"] = "other"

				return cfg
			},
			wantErr: ErrCheckpointTooOld,
			reason:  "too old",
		},
		{
			name:   "config_changed",
			mutate: func(cp *Checkpoint) *Checkpoint { return cp },
			config: func() map[string]any {
				cfg := testRubric()
				cfg["theme"] = "crowded beaches"

				return cfg
			},
			wantErr: ErrConfigChanged,
			reason:  "Config changed",
		},
		{
			name:   "reordered_config_still_valid",
			mutate: func(cp *Checkpoint) *Checkpoint { return cp },
			config: func() map[string]any {
				var cfg map[string]any

				raw := `{"limits":{"deadline":"2026-11-01","maxPhotos":3},` +
					`"criteria":[{"weight":30,"name":"composition"},{"weight":40,"name":"theme_fit"}],` +
					`"theme":"urban solitude"}`
				if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
					panic(err)
				}

				return cfg
			},
			valid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testRubric()
			if tt.config != nil {
				cfg = tt.config()
			}

			res := NewManager(clock).Validate(tt.mutate(fresh(t)), cfg)

			assert.Equal(t, tt.valid, res.Valid)

			if tt.valid {
				assert.Empty(t, res.Reason)
				assert.NoError(t, res.Err)

				return
			}

			assert.ErrorIs(t, res.Err, tt.wantErr)
			assert.Contains(t, res.Reason, tt.reason)
		})
	}
}

func TestManager_Update_InPlace(t *testing.T) {
	t.Parallel()

	m := NewManager()
	cp := newTestCheckpoint(t, m, t.TempDir())

	got := m.Update(cp,
		[]string{"a.jpg", "b.jpg"},
		map[string]json.RawMessage{"a.jpg": json.RawMessage(`{"s":1}`), "b.jpg": json.RawMessage(`{"s":2}`)},
		nil,
	)

	assert.Same(t, cp, got)

	m.Update(cp,
		[]string{"c.jpg"},
		map[string]json.RawMessage{"c.jpg": json.RawMessage(`{"s":3}`), "a.jpg": json.RawMessage(`{"s":9}`)},
		[]string{"d.jpg"},
	)

	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, cp.Progress.AnalyzedItems)
	assert.Equal(t, []string{"d.jpg"}, cp.Progress.FailedItems)
	assert.Equal(t, len(cp.Progress.AnalyzedItems), cp.Progress.PhotosCount)
	assert.Len(t, cp.Results.Scores, 3)
	assert.JSONEq(t, `{"s":9}`, string(cp.Results.Scores["a.jpg"]))
	assert.Equal(t, 2, cp.Metadata.ResumeCount)
	assert.True(t, cp.IsAnalyzed("c.jpg"))
	assert.False(t, cp.IsAnalyzed("d.jpg"))
}

func TestManager_Update_FailedItemsAcrossResumes(t *testing.T) {
	t.Parallel()

	m := NewManager()
	cp := newTestCheckpoint(t, m, t.TempDir())

	m.Update(cp, []string{"a.jpg"}, nil, []string{"b.jpg", "c.jpg"})

	// Second resume: b.jpg fails again, c.jpg now succeeds.
	m.Update(cp, []string{"c.jpg"}, nil, []string{"b.jpg"})

	// Third resume: b.jpg fails yet again.
	m.Update(cp, nil, nil, []string{"b.jpg", "b.jpg"})

	assert.Equal(t, []string{"a.jpg", "c.jpg"}, cp.Progress.AnalyzedItems)
	assert.Equal(t, []string{"b.jpg"}, cp.Progress.FailedItems)
	assert.Equal(t, 2, cp.Progress.PhotosCount)
	assert.Equal(t, 3, cp.Metadata.ResumeCount)
}

func TestManager_Update_NilAndPartial(t *testing.T) {
	t.Parallel()

	m := NewManager()

	assert.Nil(t, m.Update(nil, []string{"a"}, nil, nil))

	partial := &Checkpoint{Version: SchemaVersion}
	m.Update(partial, []string{"a"}, map[string]json.RawMessage{"a": json.RawMessage(`1`)}, nil)

	assert.Equal(t, 1, partial.Progress.PhotosCount)
	assert.Equal(t, 1, partial.Metadata.ResumeCount)
}

func TestManager_MarkResumedAndComplete(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 2, 8, 0, 0, 0, time.UTC)
	m := NewManager(WithClock(func() time.Time { return now }))
	cp := newTestCheckpoint(t, m, t.TempDir())

	m.MarkResumed(cp)
	require.NotNil(t, cp.Metadata.LastResumedAt)
	assert.Equal(t, now, *cp.Metadata.LastResumedAt)

	m.Complete(cp, json.RawMessage(`{"mean":7.5}`))
	assert.Equal(t, StatusCompleted, cp.Progress.Status)
	assert.JSONEq(t, `{"mean":7.5}`, string(cp.Results.Statistics))
}

func TestManager_Delete(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager()

	require.NoError(t, m.Save(newTestCheckpoint(t, m, dir), dir))
	require.FileExists(t, m.Path(dir))

	require.NoError(t, m.Delete(dir))
	assert.NoFileExists(t, m.Path(dir))

	// Deleting again, or in a directory that never existed, succeeds.
	require.NoError(t, m.Delete(dir))
	require.NoError(t, m.Delete(filepath.Join(dir, "never", "existed")))
}

func TestCheckDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := NewManager()

	require.NoError(t, m.Save(newTestCheckpoint(t, m, dir), dir))

	data, err := os.ReadFile(m.Path(dir))
	require.NoError(t, err)

	problems, err := CheckDocument(data)
	require.NoError(t, err)
	assert.Empty(t, problems)

	problems, err = CheckDocument([]byte(`{"version":"1.0","progress":{"status":"paused"}}`))
	require.NoError(t, err)
	assert.NotEmpty(t, problems)

	_, err = CheckDocument([]byte(`not json`))
	assert.Error(t, err)
}

func ptr(s string) *string { return &s }
