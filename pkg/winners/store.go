// Package winners keeps an append-only list of items tagged as winning
// entries, with the score payload they were judged on.
package winners

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tidwall/gjson"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/alg/stats"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/persist"
)

const basename = "winners"

// Tier is the recognition level of a winner.
type Tier string

// Known tiers.
const (
	TierWinner     Tier = "winner"
	TierFinalist   Tier = "finalist"
	TierHonourable Tier = "honourable_mention"
)

// ErrInvalidWinner is returned by Add for entries missing an id or with an unknown tier.
var ErrInvalidWinner = errors.New("invalid winner")

// Winner is one tagged item.
type Winner struct {
	ItemID      string            `json:"photoId"`
	Tier        Tier              `json:"tier"`
	Competition string            `json:"competition,omitempty"`
	Score       json.RawMessage   `json:"score,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	TaggedAt    time.Time         `json:"taggedAt"`
}

// Store reads and appends winners.json in a project directory. Appends from
// one Store are serialized; each append rewrites the file atomically.
type Store struct {
	persister *persist.Persister[[]Winner]
	now       func() time.Time
}

// NewStore creates a store.
func NewStore() *Store {
	return &Store{
		persister: persist.NewPersister[[]Winner](basename, persist.NewJSONCodec()),
		now:       time.Now,
	}
}

// Filename returns the store's file name inside a project directory.
func (s *Store) Filename() string {
	return s.persister.Filename()
}

// Add appends w. TaggedAt defaults to now.
func (s *Store) Add(projectDir string, w Winner) error {
	if w.ItemID == "" {
		return fmt.Errorf("%w: missing item id", ErrInvalidWinner)
	}

	if w.Tier == "" {
		w.Tier = TierWinner
	}

	if !slices.Contains([]Tier{TierWinner, TierFinalist, TierHonourable}, w.Tier) {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidWinner, w.Tier)
	}

	if w.TaggedAt.IsZero() {
		w.TaggedAt = s.now().UTC()
	}

	err := s.persister.Update(projectDir, func(list *[]Winner) {
		*list = append(*list, w)
	})
	if err != nil {
		return fmt.Errorf("add winner: %w", err)
	}

	return nil
}

// List returns all winners in insertion order. A missing or corrupted
// store reads as empty.
func (s *Store) List(projectDir string) ([]Winner, error) {
	list, err := s.persister.Load(projectDir)
	if err != nil {
		if persist.IsTransient(err) {
			return nil, fmt.Errorf("list winners: %w", err)
		}

		return []Winner{}, nil
	}

	if *list == nil {
		return []Winner{}, nil
	}

	return *list, nil
}

// Profile returns the mean of each numeric criterion found at
// criteriaField across the winners' score payloads.
func Profile(list []Winner, criteriaField string) map[string]float64 {
	byCriterion := make(map[string][]float64)

	for _, w := range list {
		criteria := gjson.GetBytes(w.Score, criteriaField)
		if !criteria.IsObject() {
			continue
		}

		criteria.ForEach(func(name, value gjson.Result) bool {
			if value.Type == gjson.Number {
				byCriterion[name.String()] = append(byCriterion[name.String()], value.Float())
			}

			return true
		})
	}

	profile := make(map[string]float64, len(byCriterion))
	for name, values := range byCriterion {
		profile[name] = stats.Mean(values)
	}

	return profile
}
