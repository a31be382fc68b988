package verifier

import (
	"fmt"
	"math"
	"strings"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/symbolic"
)

// declaredNames lists inputs then steps in card order.
func declaredNames(card *contracts.FormulaCard) []string {
	names := card.RequiredInputs()
	for _, f := range card.Steps {
		names = append(names, f.Variable)
	}
	return names
}

func formatRange(r *contracts.Range) string {
	lo, hi := "-inf", "+inf"
	open := "["
	if r.Min != nil {
		lo = fmt.Sprintf("%g", *r.Min)
		if r.MinExclusive {
			open = "("
		}
	}
	if r.Max != nil {
		hi = fmt.Sprintf("%g", *r.Max)
	}
	return open + lo + ", " + hi + "]"
}

func checkRanges(card *contracts.FormulaCard, values map[string]float64) []contracts.VerificationResult {
	var out []contracts.VerificationResult
	for _, name := range declaredNames(card) {
		_, _, rng, _ := card.Declared(name)
		if rng == nil {
			continue
		}
		sev := contracts.SeverityHard
		if rng.Advisory {
			sev = contracts.SeveritySoft
		}
		v, ok := values[name]
		switch {
		case !ok:
			out = append(out, fail(CheckRange, sev, "%s has no value to check against %s", name, formatRange(rng)))
		case rng.Contains(v):
			out = append(out, pass(CheckRange, sev, "%s = %g within %s", name, v, formatRange(rng)))
		default:
			out = append(out, fail(CheckRange, sev, "%s = %g outside %s", name, v, formatRange(rng)))
		}
	}
	return out
}

func checkDimensions(card *contracts.FormulaCard, plan *symbolic.Plan) []contracts.VerificationResult {
	env := make(map[string]Dimension, len(card.Inputs)+len(card.Steps))
	var out []contracts.VerificationResult
	for _, in := range card.Inputs {
		d, err := ParseUnit(in.Unit)
		if err != nil {
			out = append(out, fail(CheckDimensional, contracts.SeverityHard, "input %s: %v", in.Name, err))
			continue
		}
		env[in.Name] = d
	}
	if len(out) > 0 {
		return out
	}

	for _, s := range plan.Steps {
		f := s.Formula
		inferred, err := inferDimension(s.Program.Tree, env)
		if err != nil {
			out = append(out, fail(CheckDimensional, contracts.SeverityHard, "step %s: %v", f.Variable, err))
			return out
		}
		if f.Unit == "" {
			env[f.Variable] = Dimension{exp: inferred.exp}
			out = append(out, pass(CheckDimensional, contracts.SeverityHard, "step %s inferred as %s", f.Variable, inferred))
			continue
		}
		declared, err := ParseUnit(f.Unit)
		if err != nil {
			out = append(out, fail(CheckDimensional, contracts.SeverityHard, "step %s: %v", f.Variable, err))
			return out
		}
		if !inferred.wildcard && !inferred.equal(declared) {
			out = append(out, fail(CheckDimensional, contracts.SeverityHard,
				"step %s declared %s but formula yields %s", f.Variable, declared, inferred))
			return out
		}
		env[f.Variable] = declared
		out = append(out, pass(CheckDimensional, contracts.SeverityHard, "step %s is %s", f.Variable, declared))
	}
	return out
}

func sum(names []string, values map[string]float64) (float64, []string) {
	var total float64
	var missing []string
	for _, n := range names {
		v, ok := values[n]
		if !ok {
			missing = append(missing, n)
			continue
		}
		total += v
	}
	return total, missing
}

func (l *Layer) checkFinancial(card *contracts.FormulaCard, values map[string]float64) []contracts.VerificationResult {
	var out []contracts.VerificationResult
	for _, inv := range card.Invariants {
		check := CheckFinancialInvariant + "." + string(inv.Kind)
		eps := l.tolerance(card, inv)

		switch inv.Kind {
		case contracts.InvariantWeightsSum:
			target := 1.0
			if inv.Target != nil {
				target = *inv.Target
			}
			total, missing := sum(inv.Variables, values)
			if len(missing) > 0 {
				out = append(out, fail(check, contracts.SeverityHard, "%s: no value for %s", inv.Name, strings.Join(missing, ", ")))
				continue
			}
			if math.Abs(total-target) > eps {
				out = append(out, fail(check, contracts.SeverityHard,
					"%s: weights %s sum to %g, want %g within %g", inv.Name, strings.Join(inv.Variables, "+"), total, target, eps))
				continue
			}
			out = append(out, pass(check, contracts.SeverityHard, "%s: weights sum to %g", inv.Name, total))

		case contracts.InvariantBalance:
			lhs, m1 := sum(inv.LHS, values)
			rhs, m2 := sum(inv.RHS, values)
			if missing := append(m1, m2...); len(missing) > 0 {
				out = append(out, fail(check, contracts.SeverityHard, "%s: no value for %s", inv.Name, strings.Join(missing, ", ")))
				continue
			}
			if math.Abs(lhs-rhs) > eps {
				out = append(out, fail(check, contracts.SeverityHard,
					"%s: %s = %g does not balance %s = %g", inv.Name, strings.Join(inv.LHS, "+"), lhs, strings.Join(inv.RHS, "+"), rhs))
				continue
			}
			out = append(out, pass(check, contracts.SeverityHard, "%s: %g balances %g", inv.Name, lhs, rhs))

		default:
			out = append(out, fail(check, contracts.SeverityHard, "%s: unknown invariant kind %q", inv.Name, inv.Kind))
		}
	}
	return out
}

func checkStatistical(card *contracts.FormulaCard, values map[string]float64) []contracts.VerificationResult {
	var out []contracts.VerificationResult
	for _, name := range declaredNames(card) {
		_, kind, _, _ := card.Declared(name)
		v, ok := values[name]
		if !ok {
			continue
		}
		check := CheckStatisticalInvariant + "." + string(kind)
		switch kind {
		case contracts.KindStdDev, contracts.KindVariance:
			if v < 0 {
				out = append(out, fail(check, contracts.SeverityHard, "%s = %g is negative", name, v))
			} else {
				out = append(out, pass(check, contracts.SeverityHard, "%s = %g is non-negative", name, v))
			}
		case contracts.KindCorrelation:
			if v < -1 || v > 1 {
				out = append(out, fail(check, contracts.SeverityHard, "%s = %g outside [-1, 1]", name, v))
			} else {
				out = append(out, pass(check, contracts.SeverityHard, "%s = %g within [-1, 1]", name, v))
			}
		case contracts.KindSampleCount:
			if v < 1 || v != math.Trunc(v) {
				out = append(out, fail(check, contracts.SeverityHard, "%s = %g is not a positive integer count", name, v))
			} else {
				out = append(out, pass(check, contracts.SeverityHard, "%s = %g", name, v))
			}
		}
	}
	return out
}

// checkCrossStep confirms that each step read exactly the values produced
// before it. A mismatch means part of the trace was recomputed out of band.
func checkCrossStep(in Input) []contracts.VerificationResult {
	var out []contracts.VerificationResult
	produced := make(map[string]float64, len(in.Steps))

	if len(in.Steps) != len(in.Plan.Steps) {
		return []contracts.VerificationResult{fail(CheckCrossStep, contracts.SeverityHard,
			"trace has %d steps, plan has %d", len(in.Steps), len(in.Plan.Steps))}
	}

	for i, s := range in.Steps {
		if s.Index != i+1 {
			out = append(out, fail(CheckCrossStep, contracts.SeverityHard, "step %s has index %d, want %d", s.Variable, s.Index, i+1))
			return out
		}
		compiled := in.Plan.Steps[i]
		if compiled.Formula.Variable != s.Variable {
			out = append(out, fail(CheckCrossStep, contracts.SeverityHard, "step %d produced %s, plan expects %s", s.Index, s.Variable, compiled.Formula.Variable))
			return out
		}

		for _, dep := range compiled.Program.Dependencies {
			got, ok := s.Operands[dep]
			if !ok {
				out = append(out, fail(CheckCrossStep, contracts.SeverityHard, "step %d (%s) did not record operand %s", s.Index, s.Variable, dep))
				return out
			}
			want, isStep := produced[dep]
			if !isStep {
				var bound bool
				want, bound = in.Bindings[dep]
				if !bound {
					out = append(out, fail(CheckCrossStep, contracts.SeverityHard, "step %d (%s) read %s before it was produced", s.Index, s.Variable, dep))
					return out
				}
			}
			if got != want {
				out = append(out, fail(CheckCrossStep, contracts.SeverityHard,
					"step %d (%s) read %s = %g, source value is %g", s.Index, s.Variable, dep, got, want))
				return out
			}
		}
		produced[s.Variable] = s.Value
	}
	return append(out, pass(CheckCrossStep, contracts.SeverityHard, "%d steps consistent", len(in.Steps)))
}
