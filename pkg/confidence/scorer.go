// Package confidence aggregates sub-scores into the trust score that gates
// an answer.
package confidence

import (
	"fmt"
	"math"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// Inputs are the three sub-scores, each in [0,1].
type Inputs struct {
	Selection    float64
	Completeness float64
	SoftPass     float64
	Fallback     bool
}

// Scorer applies min-based aggregation and the refusal threshold.
type Scorer struct {
	threshold       float64
	fallbackPenalty float64
}

// NewScorer validates threshold in [0,1] and penalty in (0,1).
func NewScorer(threshold, fallbackPenalty float64) (*Scorer, error) {
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return nil, fmt.Errorf("confidence threshold %g outside [0,1]", threshold)
	}
	if fallbackPenalty <= 0 || fallbackPenalty >= 1 || math.IsNaN(fallbackPenalty) {
		return nil, fmt.Errorf("fallback penalty %g outside (0,1)", fallbackPenalty)
	}
	return &Scorer{threshold: threshold, fallbackPenalty: fallbackPenalty}, nil
}

func (s *Scorer) Threshold() float64 { return s.threshold }

// Score is min(selection, completeness, soft-pass) times the fallback
// penalty when the card came from the heuristic path. No sub-score can
// compensate for another.
func (s *Scorer) Score(in Inputs) contracts.ConfidenceReport {
	score := math.Min(clamp(in.Selection), math.Min(clamp(in.Completeness), clamp(in.SoftPass)))
	penalty := 1.0
	if in.Fallback {
		penalty = s.fallbackPenalty
		score *= penalty
	}
	return contracts.ConfidenceReport{
		Score:           clamp(score),
		Selection:       in.Selection,
		Completeness:    in.Completeness,
		SoftPass:        in.SoftPass,
		Fallback:        in.Fallback,
		FallbackPenalty: penalty,
		Threshold:       s.threshold,
	}
}

// Gate returns a LowConfidenceRefusal when the report is below threshold.
func (s *Scorer) Gate(r contracts.ConfidenceReport) error {
	if r.Score < s.threshold {
		return &contracts.LowConfidenceRefusal{Score: r.Score, Threshold: s.threshold}
	}
	return nil
}

// Completeness is bound required inputs over total required inputs.
func Completeness(required []string, bound map[string]float64) float64 {
	if len(required) == 0 {
		return 0
	}
	n := 0
	for _, name := range required {
		if _, ok := bound[name]; ok {
			n++
		}
	}
	return float64(n) / float64(len(required))
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
