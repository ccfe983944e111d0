// Package thermometer converts per-category activity counts into the
// scalar engagement score persisted on a user.
//
// The weighting is a pinned external specification carried as
// configuration; it is never derived at runtime.
package thermometer

import (
	"math"

	"github.com/okian/ember/internal/domain/category"
)

// Default weighting configuration constants.
const (
	defaultWeightOutside       = 1.5
	defaultWeightIntern        = 4.0
	defaultWeightCompetition   = 2.5
	defaultWeightLanguage      = 3.0
	defaultWeightCertification = 4.5
	defaultMaxScore            = 100
)

// Reading holds the per-category counts and the weighted sum derived
// from them.
type Reading struct {
	Counts map[category.Category]int
	Sum    float64
}

// Meter applies the pinned weighting function.
type Meter struct {
	weights  map[category.Category]float64
	maxScore float64
}

// Option applies a configuration option to the Meter.
type Option func(*Meter)

// WithWeights replaces the weight table. Non-positive weights are
// ignored so a partial config cannot zero out a category by accident.
func WithWeights(weights map[category.Category]float64) Option {
	return func(m *Meter) {
		for c, w := range weights {
			if c.Valid() && w > 0 {
				m.weights[c] = w
			}
		}
	}
}

// WithMaxScore caps the weighted sum.
func WithMaxScore(maxScore float64) Option {
	return func(m *Meter) {
		if maxScore > 0 {
			m.maxScore = maxScore
		}
	}
}

// New constructs a Meter with the pinned default weights.
func New(opts ...Option) *Meter {
	m := &Meter{
		weights: map[category.Category]float64{
			category.Outside:       defaultWeightOutside,
			category.Intern:        defaultWeightIntern,
			category.Competition:   defaultWeightCompetition,
			category.Language:      defaultWeightLanguage,
			category.Certification: defaultWeightCertification,
		},
		maxScore: defaultMaxScore,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Score maps the five counts to a Reading. Missing categories count as
// zero; the sum is capped at the configured maximum.
func (m *Meter) Score(counts map[category.Category]int) Reading {
	normalized := make(map[category.Category]int, len(category.All()))
	var sum float64
	for _, c := range category.All() {
		n := counts[c]
		if n < 0 {
			n = 0
		}
		normalized[c] = n
		sum += float64(n) * m.weights[c]
	}

	sum = math.Min(sum, m.maxScore)

	return Reading{Counts: normalized, Sum: sum}
}

// Weight reports the configured weight for a category.
func (m *Meter) Weight(c category.Category) float64 {
	return m.weights[c]
}
