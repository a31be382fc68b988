// Package symbolic evaluates a formula card's expression graph in
// topological order and records every intermediate value.
package symbolic

import (
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/kernel/celdp"
)

// CompileError reports a card whose expression graph cannot be planned.
type CompileError struct {
	CardID   string
	Variable string
	Reason   string
}

func (e *CompileError) Error() string {
	if e.Variable == "" {
		return fmt.Sprintf("card %s: %s", e.CardID, e.Reason)
	}
	return fmt.Sprintf("card %s: step %s: %s", e.CardID, e.Variable, e.Reason)
}

// Step is a compiled formula.
type Step struct {
	Formula contracts.Formula
	Program *celdp.Program
	// Declared is the position of the formula in the card.
	Declared int
}

// Plan is the compiled, topologically ordered form of a card. Plans are
// immutable and safe for concurrent use.
type Plan struct {
	CardID    string
	Inputs    []string
	Steps     []Step
	OutputVar string
}

// Compile validates every formula of card and orders the steps so that each
// operand is produced before it is read. Ties keep declaration order.
func Compile(card *contracts.FormulaCard) (*Plan, error) {
	fail := func(variable, format string, args ...any) error {
		return &CompileError{CardID: card.ID, Variable: variable, Reason: fmt.Sprintf(format, args...)}
	}

	if len(card.Inputs) == 0 {
		return nil, fail("", "card declares no required inputs")
	}
	if len(card.Steps) == 0 {
		return nil, fail("", "card declares no formulas")
	}

	names := make([]string, 0, len(card.Inputs)+len(card.Steps))
	inputs := make(map[string]bool, len(card.Inputs))
	for _, in := range card.Inputs {
		if in.Name == "" {
			return nil, fail("", "input with empty name")
		}
		if inputs[in.Name] {
			return nil, fail("", "duplicate input %q", in.Name)
		}
		inputs[in.Name] = true
		names = append(names, in.Name)
	}

	producer := make(map[string]int, len(card.Steps))
	for i, f := range card.Steps {
		if f.Variable == "" {
			return nil, fail("", "formula %d has no variable", i+1)
		}
		if inputs[f.Variable] {
			return nil, fail(f.Variable, "formula overwrites input %q", f.Variable)
		}
		if _, dup := producer[f.Variable]; dup {
			return nil, fail(f.Variable, "variable produced twice")
		}
		producer[f.Variable] = i
		names = append(names, f.Variable)
	}

	if card.OutputVar == "" {
		return nil, fail("", "output_var is empty")
	}
	if _, ok := producer[card.OutputVar]; !ok && !inputs[card.OutputVar] {
		return nil, fail("", "output_var %q is not produced by any formula", card.OutputVar)
	}

	eval, err := celdp.NewEvaluator(names)
	if err != nil {
		return nil, fmt.Errorf("card %s: build formula environment: %w", card.ID, err)
	}

	compiled := make([]Step, len(card.Steps))
	for i, f := range card.Steps {
		prg, err := eval.Compile(f.Expression)
		if err != nil {
			return nil, fail(f.Variable, "%v", err)
		}
		for _, dep := range prg.Dependencies {
			if dep == f.Variable {
				return nil, fail(f.Variable, "formula references itself")
			}
		}
		compiled[i] = Step{Formula: f, Program: prg, Declared: i}
	}

	ordered, err := order(compiled, producer)
	if err != nil {
		return nil, fail("", "%v", err)
	}

	return &Plan{
		CardID:    card.ID,
		Inputs:    card.RequiredInputs(),
		Steps:     ordered,
		OutputVar: card.OutputVar,
	}, nil
}

// order is Kahn's algorithm choosing the earliest declared ready step each
// round, so the result is stable for a given card.
func order(steps []Step, producer map[string]int) ([]Step, error) {
	indegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))
	for i, s := range steps {
		for _, dep := range s.Program.Dependencies {
			if j, ok := producer[dep]; ok {
				indegree[i]++
				dependents[j] = append(dependents[j], i)
			}
		}
	}

	done := make([]bool, len(steps))
	out := make([]Step, 0, len(steps))
	for len(out) < len(steps) {
		next := -1
		for i := range steps {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, s := range steps {
				if !done[i] {
					stuck = append(stuck, s.Formula.Variable)
				}
			}
			return nil, fmt.Errorf("dependency cycle among %s", strings.Join(stuck, ", "))
		}
		done[next] = true
		out = append(out, steps[next])
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return out, nil
}
