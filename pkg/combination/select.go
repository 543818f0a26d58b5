package combination

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/alg/mapx"
	"github.com/darthpelo/photo-open-call-analyzer-sub000/pkg/alg/stats"
)

// DefaultMaxCombinations is the safety cap on C(N, k) evaluated by SelectCandidateSets.
const DefaultMaxCombinations = 10000

// ErrTooManyCombinations is returned when the search space exceeds the cap.
var ErrTooManyCombinations = errors.New("too many combinations")

// ScoredItem is one individually analyzed item. Scores holds the
// per-criterion breakdown and may be nil.
type ScoredItem struct {
	ID     string             `json:"id"`
	Score  float64            `json:"score"`
	Scores map[string]float64 `json:"scores,omitempty"`
}

// CandidateSet is a proposed group with its cheap ranking scores.
type CandidateSet struct {
	Items     []ScoredItem `json:"photos"`
	PreScore  float64      `json:"preScore"`
	Diversity float64      `json:"diversity"`
}

// IDs returns the item ids of the set in order.
func (c CandidateSet) IDs() []string {
	ids := make([]string, len(c.Items))
	for i, item := range c.Items {
		ids[i] = item.ID
	}

	return ids
}

// SelectOptions bounds SelectCandidateSets. Zero values select defaults:
// all items, all sets, DefaultMaxCombinations.
type SelectOptions struct {
	PreFilterTopN     int
	MaxSetsToEvaluate int
	MaxCombinations   uint64
}

// SelectCandidateSets ranks k-item groups drawn from the top PreFilterTopN
// items by individual score. Sets are ordered by mean score, highest first,
// then by diversity. Fewer than k items yield no sets and no error.
func SelectCandidateSets(items []ScoredItem, k int, opts SelectOptions) ([]CandidateSet, error) {
	if k <= 0 || len(items) < k {
		return []CandidateSet{}, nil
	}

	limit := opts.MaxCombinations
	if limit == 0 {
		limit = DefaultMaxCombinations
	}

	pool := slices.Clone(items)
	slices.SortStableFunc(pool, func(a, b ScoredItem) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(a.ID, b.ID))
	})

	if opts.PreFilterTopN > 0 && opts.PreFilterTopN < len(pool) {
		pool = pool[:opts.PreFilterTopN]
	}

	total := Count(len(pool), k)
	if total > limit {
		return nil, fmt.Errorf("%w: C(%d,%d)=%d exceeds limit %d; lower the pre-filter or raise the limit",
			ErrTooManyCombinations, len(pool), k, total, limit)
	}

	top := opts.MaxSetsToEvaluate

	var sets []CandidateSet

	for group := range Generate(pool, k) {
		set := newCandidateSet(group)
		if top <= 0 {
			sets = append(sets, set)

			continue
		}

		// Only the best top sets are held. A newcomer ranks after its equals,
		// so ties keep generation order.
		i, _ := slices.BinarySearchFunc(sets, set, func(held, target CandidateSet) int {
			return cmp.Or(compareSets(held, target), -1)
		})
		if i >= top {
			continue
		}

		if len(sets) == top {
			sets = sets[:top-1]
		}

		sets = slices.Insert(sets, i, set)
	}

	if top <= 0 {
		slices.SortStableFunc(sets, compareSets)
	}

	if sets == nil {
		sets = []CandidateSet{}
	}

	return sets, nil
}

func newCandidateSet(group []ScoredItem) CandidateSet {
	scores := make([]float64, len(group))
	for i, item := range group {
		scores[i] = item.Score
	}

	return CandidateSet{
		Items:     group,
		PreScore:  stats.Mean(scores),
		Diversity: CalculateDiversity(group),
	}
}

// compareSets orders by mean score, then diversity, both descending.
func compareSets(a, b CandidateSet) int {
	return cmp.Or(cmp.Compare(b.PreScore, a.PreScore), cmp.Compare(b.Diversity, a.Diversity))
}

// CalculateDiversity returns the mean coefficient of variation of each
// criterion across the group, clamped to [0, 1]. A criterion contributes
// only from items that carry it; items without scores contribute nothing.
// Identical profiles give 0.
func CalculateDiversity(items []ScoredItem) float64 {
	byCriterion := make(map[string][]float64)

	for _, item := range items {
		for name, value := range item.Scores {
			byCriterion[name] = append(byCriterion[name], value)
		}
	}

	if len(byCriterion) == 0 {
		return 0
	}

	variations := make([]float64, 0, len(byCriterion))

	for _, name := range mapx.SortedKeys(byCriterion) {
		variations = append(variations, stats.CoefficientOfVariation(byCriterion[name]))
	}

	return stats.Clamp(stats.Mean(variations), 0, 1)
}
