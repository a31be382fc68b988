package celdp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator(t *testing.T) {
	eval, err := NewEvaluator([]string{"mean", "rf", "std", "x", "r"})
	require.NoError(t, err)

	tests := []struct {
		name          string
		expr          string
		vars          map[string]float64
		wantValue     float64
		wantErrorCode string
	}{
		{
			name:      "Excess Return",
			expr:      "mean - rf",
			vars:      map[string]float64{"mean": 0.08, "rf": 0.02},
			wantValue: 0.08 - 0.02,
		},
		{
			name:      "Compound Growth",
			expr:      "pow(1.0 + r, 3.0)",
			vars:      map[string]float64{"r": 0.1},
			wantValue: 1.331,
		},
		{
			name:      "Min Max",
			expr:      "max(min(x, 1.0), -1.0)",
			vars:      map[string]float64{"x": 4.0},
			wantValue: 1.0,
		},
		{
			name:          "Divide by Zero",
			expr:          "mean / std",
			vars:          map[string]float64{"mean": 1.0, "std": 0.0},
			wantErrorCode: CodeDomainError,
		},
		{
			name:          "Divide by Zero Hidden by Min",
			expr:          "min(1.0, mean / std)",
			vars:          map[string]float64{"mean": 1.0, "std": 0.0},
			wantErrorCode: CodeDomainError,
		},
		{
			name:          "Log of Zero",
			expr:          "ln(x)",
			vars:          map[string]float64{"x": 0.0},
			wantErrorCode: CodeDomainError,
		},
		{
			name:          "Sqrt of Negative",
			expr:          "sqrt(x)",
			vars:          map[string]float64{"x": -4.0},
			wantErrorCode: CodeDomainError,
		},
		{
			name:          "Overflow",
			expr:          "exp(x)",
			vars:          map[string]float64{"x": 1000.0},
			wantErrorCode: CodeDomainError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prg, err := eval.Compile(tt.expr)
			require.NoError(t, err)

			got, evalErr := prg.Eval(tt.vars)
			if tt.wantErrorCode != "" {
				require.NotNil(t, evalErr)
				assert.Equal(t, tt.wantErrorCode, evalErr.ErrorCode)
				return
			}
			require.Nil(t, evalErr)
			assert.InDelta(t, tt.wantValue, got, 1e-12)
		})
	}
}

func TestCompileRejects(t *testing.T) {
	eval, err := NewEvaluator([]string{"x"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		expr     string
		wantCode string
	}{
		{name: "Undeclared", expr: "x + y", wantCode: CodeCompileFailed},
		{name: "Integer Literal", expr: "x + 1", wantCode: CodeValidationFailed},
		{name: "Parse Error", expr: "x +", wantCode: CodeCompileFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eval.Compile(tt.expr)
			var celErr *CELError
			require.True(t, errors.As(err, &celErr), "got %v", err)
			assert.Equal(t, tt.wantCode, celErr.ErrorCode)
		})
	}
}

func TestEvalDeterministic(t *testing.T) {
	eval, err := NewEvaluator([]string{"a", "b"})
	require.NoError(t, err)
	prg, err := eval.Compile("sqrt(a * a + b * b) / (a + b)")
	require.NoError(t, err)

	vars := map[string]float64{"a": 0.3, "b": 0.7}
	first, e1 := prg.Eval(vars)
	require.Nil(t, e1)
	for i := 0; i < 50; i++ {
		again, e2 := prg.Eval(vars)
		require.Nil(t, e2)
		require.Equal(t, first, again)
	}
}

func TestGuardUsesRecordedValues(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)
	res, err := v.Validate("min(1.0, a / (b - c))")
	require.NoError(t, err)

	var div, sub *Node
	res.Tree.Walk(func(n *Node) {
		switch n.Op {
		case OpDiv:
			div = n
		case OpSub:
			sub = n
		}
	})
	require.NotNil(t, div)
	require.NotNil(t, sub)
	assert.NotZero(t, div.ID)
	assert.NotEqual(t, div.ID, sub.ID)

	calls := 0
	recorded := func(n *Node) (float64, bool) {
		calls++
		switch {
		case n == sub:
			return 0, true
		case n.Kind == NodeConst:
			return n.Value, true
		}
		return 1, true
	}
	gerr := res.Tree.Guard(recorded)
	var de *DomainError
	require.True(t, errors.As(gerr, &de), "got %v", gerr)
	assert.Equal(t, OpDiv, de.Op)
	assert.Contains(t, de.Reason, "division by zero")
	assert.Positive(t, calls)
}

func TestEvalNamesFailingOperation(t *testing.T) {
	eval, err := NewEvaluator([]string{"a", "b"})
	require.NoError(t, err)
	prg, err := eval.Compile("a + ln(b - 1.0)")
	require.NoError(t, err)

	_, evalErr := prg.Eval(map[string]float64{"a": 2, "b": 1})
	require.NotNil(t, evalErr)
	assert.Equal(t, CodeDomainError, evalErr.ErrorCode)
	assert.Contains(t, evalErr.Message, "ln of non-positive value 0")

	got, evalErr := prg.Eval(map[string]float64{"a": 2, "b": 2})
	require.Nil(t, evalErr)
	assert.InDelta(t, 2.0, got, 1e-12)
}
