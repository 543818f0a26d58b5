// Package results stores the final document of a batch run and extracts
// the numeric scores that feed candidate-set selection.
package results

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"time"

	"github.com/tidwall/gjson"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/alg/stats"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/combination"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/persist"
)

// File layout inside a project directory.
const (
	DirName  = "results"
	basename = "batch-results"
)

// Default payload paths, in gjson syntax.
const (
	DefaultScoreField    = "overall_score"
	DefaultCriteriaField = "scores"
)

// DocumentVersion is the current results format.
const DocumentVersion = "1.0"

// Failure records one item that produced no result.
type Failure struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Statistics summarizes the overall scores of a run.
type Statistics struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Document is the results file of one batch run.
type Document struct {
	Version     string                     `json:"version"`
	GeneratedAt time.Time                  `json:"generatedAt"`
	RunID       string                     `json:"runId"`
	ConfigHash  string                     `json:"configHash"`
	ModelID     string                     `json:"modelId"`
	Total       int                        `json:"total"`
	Analyzed    int                        `json:"analyzed"`
	Cached      int                        `json:"cached"`
	Resumed     int                        `json:"resumed"`
	Scores      map[string]json.RawMessage `json:"scores"`
	Failures    []Failure                  `json:"failures"`
	Statistics  *Statistics                `json:"statistics,omitempty"`
}

var persister = persist.NewPersister[Document](basename, persist.NewJSONCodec())

// Path returns the results file path for projectDir.
func Path(projectDir string) string {
	return filepath.Join(projectDir, DirName, persister.Filename())
}

// Save atomically writes doc under projectDir.
func Save(projectDir string, doc *Document) error {
	err := persister.Save(filepath.Join(projectDir, DirName), doc)
	if err != nil {
		return fmt.Errorf("save results: %w", err)
	}

	return nil
}

// Load reads the results document of projectDir.
func Load(projectDir string) (*Document, error) {
	doc, err := persister.Load(filepath.Join(projectDir, DirName))
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}

	return doc, nil
}

// ScoreOf returns the number at path in payload.
func ScoreOf(payload json.RawMessage, path string) (float64, bool) {
	value := gjson.GetBytes(payload, path)
	if value.Type != gjson.Number {
		return 0, false
	}

	return value.Float(), true
}

// ComputeStatistics summarizes the score at scoreField across scores.
// Payloads without a numeric score are skipped. Nil is returned when no
// payload has one.
func ComputeStatistics(scores map[string]json.RawMessage, scoreField string) *Statistics {
	values := make([]float64, 0, len(scores))

	for _, payload := range scores {
		if score, ok := ScoreOf(payload, scoreField); ok {
			values = append(values, score)
		}
	}

	if len(values) == 0 {
		return nil
	}

	mean, stddev := stats.MeanStdDev(values)

	return &Statistics{
		Count:  len(values),
		Mean:   mean,
		StdDev: stddev,
		Min:    slices.Min(values),
		Max:    slices.Max(values),
	}
}

// ScoredItems converts the document's payloads into combination input,
// ordered by id. Payloads without a numeric score are skipped; numeric
// members of the object at criteriaField become per-criterion scores.
func (d *Document) ScoredItems(scoreField, criteriaField string) []combination.ScoredItem {
	ids := make([]string, 0, len(d.Scores))
	for id := range d.Scores {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	items := make([]combination.ScoredItem, 0, len(ids))

	for _, id := range ids {
		payload := d.Scores[id]

		score, ok := ScoreOf(payload, scoreField)
		if !ok || math.IsNaN(score) {
			continue
		}

		item := combination.ScoredItem{ID: id, Score: score}

		criteria := gjson.GetBytes(payload, criteriaField)
		if criteria.IsObject() {
			criteria.ForEach(func(name, value gjson.Result) bool {
				if value.Type == gjson.Number {
					if item.Scores == nil {
						item.Scores = make(map[string]float64)
					}

					item.Scores[name.String()] = value.Float()
				}

				return true
			})
		}

		items = append(items, item)
	}

	return items
}
