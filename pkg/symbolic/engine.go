package symbolic

import (
	"log/slog"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// Trace is the ordered evaluation record of one plan.
type Trace struct {
	CardID      string                      `json:"card_id"`
	Steps       []contracts.ComputationStep `json:"steps"`
	OutputVar   string                      `json:"output_var"`
	OutputValue float64                     `json:"output_value"`
}

// Engine evaluates compiled plans. It holds no per-request state.
type Engine struct {
	logger *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger.With("component", "symbolic")}
}

// Evaluate runs plan against bindings. Every required input must be bound;
// a gap is a MissingInputError. Domain-invalid operations fail with an
// EvaluationError naming the step.
func (e *Engine) Evaluate(plan *Plan, bindings map[string]float64) (*Trace, error) {
	var missing []string
	for _, name := range plan.Inputs {
		if _, ok := bindings[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &contracts.MissingInputError{CardID: plan.CardID, Names: missing}
	}

	env := make(map[string]float64, len(plan.Inputs)+len(plan.Steps))
	for _, name := range plan.Inputs {
		env[name] = bindings[name]
	}

	trace := &Trace{
		CardID:    plan.CardID,
		Steps:     make([]contracts.ComputationStep, 0, len(plan.Steps)),
		OutputVar: plan.OutputVar,
	}
	for i, s := range plan.Steps {
		operands := make(map[string]float64, len(s.Program.Dependencies))
		for _, dep := range s.Program.Dependencies {
			operands[dep] = env[dep]
		}

		value, evalErr := s.Program.Eval(env)
		if evalErr != nil {
			e.logger.Debug("step failed", "card_id", plan.CardID, "step", i+1, "variable", s.Formula.Variable, "error", evalErr)
			return nil, &contracts.EvaluationError{
				CardID:   plan.CardID,
				Step:     i + 1,
				Variable: s.Formula.Variable,
				Formula:  s.Formula.Expression,
				Reason:   evalErr.Message,
			}
		}

		env[s.Formula.Variable] = value
		trace.Steps = append(trace.Steps, contracts.ComputationStep{
			Index:    i + 1,
			Variable: s.Formula.Variable,
			Formula:  s.Formula.Expression,
			Value:    value,
			Operands: operands,
		})
	}

	trace.OutputValue = env[plan.OutputVar]
	return trace, nil
}
