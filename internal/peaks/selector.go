package peaks

import (
	"fmt"
	"math"
	"sort"
)

// Config controls how magnitudes are derived and how candidates are skipped.
type Config struct {
	// Baseline is subtracted from each acceleration reading before taking
	// the absolute value. 0 ranks by raw magnitude; units.StandardGravity
	// ranks by deviation from rest.
	Baseline float64 `json:"baseline"`

	// LegacyRankSkip rejects a candidate whenever the record one rank above
	// it lies within the minimum gap, whether or not that record was
	// selected. Historical outputs depend on it; it can drop candidates
	// that are valid against the selection.
	LegacyRankSkip bool `json:"legacy_rank_skip"`
}

// Selector ranks samples by magnitude and greedily picks peaks that are at
// least a minimum gap apart in time. A Selector holds no state between calls.
type Selector struct {
	cfg Config
}

// NewSelector returns a selector using cfg.
func NewSelector(cfg Config) *Selector {
	return &Selector{cfg: cfg}
}

// Config returns the selector configuration.
func (s *Selector) Config() Config {
	return s.cfg
}

// Select runs the selector with a zero baseline.
func Select(samples []Record, targetCount int, minGap float64) ([]Selected, error) {
	return NewSelector(Config{}).Select(samples, targetCount, minGap)
}

// Select returns up to targetCount samples ordered by descending magnitude
// such that no two are closer than minGap in time. A shorter result is not
// an error.
func (s *Selector) Select(samples []Record, targetCount int, minGap float64) ([]Selected, error) {
	if err := validate(samples, targetCount, minGap); err != nil {
		return nil, err
	}

	order := s.rank(samples)
	if math.IsInf(order[0].magnitude, 0) {
		return nil, fmt.Errorf("%w: acceleration %g minus baseline %g overflows", ErrInvalidArgument, order[0].rec.Accel, s.cfg.Baseline)
	}

	limit := targetCount
	if limit > len(order) {
		limit = len(order)
	}
	picked := make([]ranked, 0, limit)
	picked = append(picked, order[0])
	prevPicked := true

	for i := 1; i < len(order) && len(picked) < targetCount; i++ {
		cand := order[i]
		prev := order[i-1]

		if math.Abs(cand.rec.Time-prev.rec.Time) < minGap && (prevPicked || s.cfg.LegacyRankSkip) {
			prevPicked = false
			continue
		}

		prevPicked = clearOf(picked, cand.rec.Time, minGap)
		if prevPicked {
			picked = append(picked, cand)
		}
	}

	out := make([]Selected, len(picked))
	for i, p := range picked {
		out[i] = p.selected()
	}
	return out, nil
}

// Rank returns every sample projected and ordered as the selector sees it,
// strongest first, ties in input order.
func (s *Selector) Rank(samples []Record) []Selected {
	order := s.rank(samples)
	out := make([]Selected, len(order))
	for i, r := range order {
		out[i] = r.selected()
	}
	return out
}

func (s *Selector) rank(samples []Record) []ranked {
	order := make([]ranked, len(samples))
	for i, rec := range samples {
		order[i] = ranked{rec: rec, magnitude: Magnitude(rec.Accel, s.cfg.Baseline)}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return order[a].magnitude > order[b].magnitude
	})
	return order
}

// clearOf reports whether t is at least minGap away from every picked time.
func clearOf(picked []ranked, t, minGap float64) bool {
	for _, p := range picked {
		if math.Abs(t-p.rec.Time) < minGap {
			return false
		}
	}
	return true
}

func validate(samples []Record, targetCount int, minGap float64) error {
	if len(samples) == 0 {
		return fmt.Errorf("%w: no samples", ErrInvalidArgument)
	}
	if targetCount < 1 {
		return fmt.Errorf("%w: target count must be at least 1, got %d", ErrInvalidArgument, targetCount)
	}
	if math.IsNaN(minGap) || minGap < 0 {
		return fmt.Errorf("%w: minimum gap must be non-negative, got %g", ErrInvalidArgument, minGap)
	}
	return nil
}
