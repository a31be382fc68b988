package symbolic

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

func sharpeCard() *contracts.FormulaCard {
	return &contracts.FormulaCard{
		ID:     "sharpe_ratio",
		Domain: "portfolio",
		Topic:  "risk_adjusted_return",
		Inputs: []contracts.Variable{
			{Name: "mean", Unit: "rate"},
			{Name: "std", Unit: "rate", Kind: contracts.KindStdDev},
			{Name: "rf", Unit: "rate"},
		},
		Steps: []contracts.Formula{
			{Variable: "excess_return", Expression: "mean - rf", Unit: "rate"},
			{Variable: "sharpe", Expression: "excess_return / std", Unit: "ratio"},
		},
		OutputVar: "sharpe",
	}
}

func TestSharpeTrace(t *testing.T) {
	plan, err := Compile(sharpeCard())
	require.NoError(t, err)

	trace, err := NewEngine(nil).Evaluate(plan, map[string]float64{"mean": 0.08, "std": 0.12, "rf": 0.02})
	require.NoError(t, err)

	require.Len(t, trace.Steps, 2)
	assert.Equal(t, 1, trace.Steps[0].Index)
	assert.Equal(t, "excess_return", trace.Steps[0].Variable)
	assert.InDelta(t, 0.06, trace.Steps[0].Value, 1e-12)
	assert.Equal(t, 2, trace.Steps[1].Index)
	assert.Equal(t, "sharpe", trace.Steps[1].Variable)
	assert.InDelta(t, 0.5, trace.Steps[1].Value, 1e-12)
	assert.Equal(t, "sharpe", trace.OutputVar)
	assert.InDelta(t, 0.5, trace.OutputValue, 1e-12)

	assert.Equal(t, trace.Steps[0].Value, trace.Steps[1].Operands["excess_return"])
	assert.Equal(t, 0.12, trace.Steps[1].Operands["std"])
}

func TestTopologicalOrderStable(t *testing.T) {
	card := &contracts.FormulaCard{
		ID:     "reordered",
		Inputs: []contracts.Variable{{Name: "a"}, {Name: "b"}},
		Steps: []contracts.Formula{
			{Variable: "total", Expression: "left + right"},
			{Variable: "left", Expression: "a * 2.0"},
			{Variable: "right", Expression: "b * 3.0"},
		},
		OutputVar: "total",
	}
	plan, err := Compile(card)
	require.NoError(t, err)

	var order []string
	for _, s := range plan.Steps {
		order = append(order, s.Formula.Variable)
	}
	assert.Equal(t, []string{"left", "right", "total"}, order)

	trace, err := NewEngine(nil).Evaluate(plan, map[string]float64{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, 8.0, trace.OutputValue)
	for i, s := range trace.Steps {
		assert.Equal(t, i+1, s.Index)
	}
}

func TestCompileRejectsBadGraphs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *contracts.FormulaCard)
		want   string
	}{
		{"no inputs", func(c *contracts.FormulaCard) { c.Inputs = nil }, "no required inputs"},
		{"cycle", func(c *contracts.FormulaCard) {
			c.Steps = []contracts.Formula{
				{Variable: "x", Expression: "y + mean"},
				{Variable: "y", Expression: "x + rf"},
				{Variable: "sharpe", Expression: "x / std"},
			}
		}, "dependency cycle"},
		{"self reference", func(c *contracts.FormulaCard) { c.Steps[0].Expression = "excess_return + mean" }, "references itself"},
		{"undefined name", func(c *contracts.FormulaCard) { c.Steps[0].Expression = "mean - beta" }, "undeclared variable"},
		{"bad output", func(c *contracts.FormulaCard) { c.OutputVar = "alpha" }, "not produced"},
		{"duplicate step", func(c *contracts.FormulaCard) { c.Steps[1].Variable = "excess_return" }, "produced twice"},
		{"overwrites input", func(c *contracts.FormulaCard) { c.Steps[0].Variable = "mean" }, "overwrites input"},
		{"integer literal", func(c *contracts.FormulaCard) { c.Steps[0].Expression = "mean - 1" }, "Integer literal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := sharpeCard()
			tt.mutate(card)
			_, err := Compile(card)
			var ce *CompileError
			require.True(t, errors.As(err, &ce), "got %v", err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEvaluateMissingInput(t *testing.T) {
	plan, err := Compile(sharpeCard())
	require.NoError(t, err)

	_, err = NewEngine(nil).Evaluate(plan, map[string]float64{"mean": 0.08, "rf": 0.02})
	var missing *contracts.MissingInputError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"std"}, missing.Names)
}

func TestEvaluateDivisionByZero(t *testing.T) {
	plan, err := Compile(sharpeCard())
	require.NoError(t, err)

	_, err = NewEngine(nil).Evaluate(plan, map[string]float64{"mean": 0.08, "std": 0, "rf": 0.02})
	var evalErr *contracts.EvaluationError
	require.True(t, errors.As(err, &evalErr))
	assert.Equal(t, 2, evalErr.Step)
	assert.Equal(t, "sharpe", evalErr.Variable)
	assert.Contains(t, evalErr.Reason, "division by zero")
}

func TestEvaluateByteIdentical(t *testing.T) {
	plan, err := Compile(sharpeCard())
	require.NoError(t, err)
	engine := NewEngine(nil)
	bindings := map[string]float64{"mean": 0.0731, "std": 0.1419, "rf": 0.0187}

	first, err := engine.Evaluate(plan, bindings)
	require.NoError(t, err)
	want, err := json.Marshal(first)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := engine.Evaluate(plan, bindings)
		require.NoError(t, err)
		got, err := json.Marshal(again)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}
