//go:build property
// +build property

package solver

import (
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// TestSolveDeterministic: identical inputs give identical answers, and an
// answer always carries provenance for every input it used.
func TestSolveDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("same inputs, same result", prop.ForAll(
		func(mean, std, rf float64) bool {
			f := newFixture(t, 0.6, values(map[string]float64{"mean": mean, "std": std, "rf": rf}), sharpePlan())
			s := f.solver(t)
			a := s.Solve(context.Background(), Request{ClientRequestID: "p", Question: "Sharpe?"})
			b := s.Solve(context.Background(), Request{ClientRequestID: "p", Question: "Sharpe?"})
			if a.Status() != b.Status() {
				return false
			}
			sa, ok := a.(*contracts.Success)
			if !ok {
				return true
			}
			sb := b.(*contracts.Success)
			return sa.OutputValue == sb.OutputValue && len(sa.Provenance) == len(sa.Inputs)
		},
		gen.Float64Range(-0.5, 0.5),
		gen.Float64Range(-0.2, 1),
		gen.Float64Range(0, 0.1),
	))

	properties.Property("negative volatility never answers", prop.ForAll(
		func(std float64) bool {
			f := newFixture(t, 0.6, values(map[string]float64{"mean": 0.1, "std": std, "rf": 0.01}), sharpePlan())
			res := f.solver(t).Solve(context.Background(), Request{Question: "Sharpe?"})
			r, ok := res.(*contracts.Refused)
			return ok && r.FailedCheck == "statistical_invariant.std_dev"
		},
		gen.Float64Range(-10, -math.SmallestNonzeroFloat64),
	))

	properties.TestingRun(t)
}
