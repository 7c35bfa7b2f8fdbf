// ABOUTME: Criterion classification, gate status fold and pluggable scorers
// ABOUTME: The random scorer is a placeholder for real measurement

package quality

import (
	"math/rand/v2"
	"sync"

	"github.com/2389/coven-hub/internal/store"
)

// WarningRatio is the fraction of a threshold that still earns a warning.
const WarningRatio = 0.8

// Classify grades one measured value against its threshold.
func Classify(current, threshold float64) store.CriterionStatus {
	switch {
	case current >= threshold:
		return store.CriterionPass
	case current >= WarningRatio*threshold:
		return store.CriterionWarning
	default:
		return store.CriterionFail
	}
}

// Fold reduces criterion statuses to a gate status: failing if any fail,
// else warning if any warn, else passing.
func Fold(statuses []store.CriterionStatus) store.GateStatus {
	result := store.GatePassing
	for _, s := range statuses {
		switch s {
		case store.CriterionFail:
			return store.GateFailing
		case store.CriterionWarning:
			result = store.GateWarning
		}
	}
	return result
}

// Scorer measures the current value of one criterion.
type Scorer interface {
	Score(gate *store.QualityGate, criterion store.QualityCriteria) float64
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(gate *store.QualityGate, criterion store.QualityCriteria) float64

// Score implements Scorer.
func (f ScorerFunc) Score(gate *store.QualityGate, criterion store.QualityCriteria) float64 {
	return f(gate, criterion)
}

// RandomScorer draws a score in [0, 100).
type RandomScorer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomScorer returns a scorer over rng, or a randomly seeded source if nil.
func NewRandomScorer(rng *rand.Rand) *RandomScorer {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RandomScorer{rng: rng}
}

// Score implements Scorer.
func (s *RandomScorer) Score(*store.QualityGate, store.QualityCriteria) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() * 100
}
