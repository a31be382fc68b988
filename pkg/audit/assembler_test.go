package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

func sharpeCard() *contracts.FormulaCard {
	return &contracts.FormulaCard{
		ID:     "sharpe_ratio",
		Inputs: []contracts.Variable{{Name: "mean"}, {Name: "std"}, {Name: "rf"}},
		Steps: []contracts.Formula{
			{Variable: "excess_return", Expression: "mean - rf"},
			{Variable: "sharpe", Expression: "excess_return / std"},
		},
		OutputVar: "sharpe",
	}
}

func sharpeInput() SuccessInput {
	src := contracts.Provenance{Kind: contracts.ProvenanceTable, Source: "fund_stats", Reference: "row:2025"}
	return SuccessInput{
		RequestID:       "req-1",
		Card:            sharpeCard(),
		CardVersion:     "1.0.0",
		SelectionReason: "rule match",
		Bindings: map[string]contracts.Binding{
			"mean": {Name: "mean", Value: 0.08, Provenance: src},
			"std":  {Name: "std", Value: 0.12, Provenance: src},
			"rf":   {Name: "rf", Value: 0.02, Provenance: contracts.UserSupplied()},
		},
		Steps: []contracts.ComputationStep{
			{Index: 1, Variable: "excess_return", Formula: "mean - rf", Value: 0.06},
			{Index: 2, Variable: "sharpe", Formula: "excess_return / std", Value: 0.5},
		},
		OutputValue: 0.5,
		Confidence:  contracts.ConfidenceReport{Score: 1, Selection: 1, Completeness: 1, SoftPass: 1, Threshold: 0.5},
	}
}

func TestAssembleSuccess(t *testing.T) {
	s, err := AssembleSuccess(sharpeInput())
	require.NoError(t, err)
	assert.Equal(t, "sharpe_ratio", s.CardID)
	assert.Equal(t, 0.5, s.OutputValue)
	assert.Equal(t, "sharpe", s.OutputVar)
	assert.Len(t, s.Provenance, 3)
	assert.Equal(t, contracts.UserSuppliedSource, s.Provenance["rf"].Source)
	assert.Equal(t, map[string]float64{"mean": 0.08, "std": 0.12, "rf": 0.02}, s.Inputs)
}

func TestAssembleSuccessRequiresProvenance(t *testing.T) {
	in := sharpeInput()
	in.Bindings["std"] = contracts.Binding{Name: "std", Value: 0.12}

	_, err := AssembleSuccess(in)
	var ae *AssemblyError
	require.True(t, errors.As(err, &ae))
	assert.Contains(t, ae.Reason, "std")
	assert.Equal(t, contracts.CodeAssemblyViolation, ae.Code())

	delete(in.Bindings, "std")
	_, err = AssembleSuccess(in)
	assert.Error(t, err)
}

func TestAssembleSuccessRejectsForeignTrace(t *testing.T) {
	in := sharpeInput()
	in.OutputValue = 0.7
	_, err := AssembleSuccess(in)
	assert.Error(t, err)
}

func TestFromError(t *testing.T) {
	score := 0.3
	tests := []struct {
		name   string
		err    error
		status contracts.Status
		check  func(t *testing.T, r contracts.SolveResult)
	}{
		{
			"missing input", &contracts.MissingInputError{CardID: "sharpe_ratio", Names: []string{"std"}}, contracts.StatusRefused,
			func(t *testing.T, r contracts.SolveResult) {
				ref := r.(*contracts.Refused)
				assert.Equal(t, contracts.ReasonMissingInput, ref.Reason)
				assert.Equal(t, []string{"std"}, ref.MissingInputs)
			},
		},
		{
			"hard check", &contracts.VerificationFailure{Result: contracts.VerificationResult{Check: "financial_invariant.weights_sum", Detail: "weights w1+w2 sum to 1.1"}}, contracts.StatusRefused,
			func(t *testing.T, r contracts.SolveResult) {
				ref := r.(*contracts.Refused)
				assert.Equal(t, "financial_invariant.weights_sum", ref.FailedCheck)
				assert.Equal(t, "verification failed: financial_invariant.weights_sum: weights w1+w2 sum to 1.1", ref.Reason)
			},
		},
		{
			"low confidence", &contracts.LowConfidenceRefusal{Score: score, Threshold: 0.5}, contracts.StatusRefused,
			func(t *testing.T, r contracts.SolveResult) {
				ref := r.(*contracts.Refused)
				assert.Equal(t, contracts.ReasonLowConfidence, ref.Reason)
				require.NotNil(t, ref.Score)
				assert.Equal(t, score, *ref.Score)
			},
		},
		{"no card", &contracts.NoMatchingCardError{}, contracts.StatusRefused, nil},
		{"interpretation", &contracts.InterpretationError{Question: "?", Err: errors.New("bad")}, contracts.StatusRefused, nil},
		{
			"evaluation", &contracts.EvaluationError{CardID: "c", Step: 2, Variable: "sharpe", Reason: "division by zero"}, contracts.StatusError,
			func(t *testing.T, r contracts.SolveResult) {
				assert.Equal(t, contracts.CodeEvaluation, r.(*contracts.Errored).Code)
			},
		},
		{
			"upstream timeout", &contracts.UpstreamDataError{Attempts: 2, Err: context.DeadlineExceeded}, contracts.StatusError,
			func(t *testing.T, r contracts.SolveResult) {
				assert.Equal(t, contracts.CodeUpstreamData, r.(*contracts.Errored).Code)
			},
		},
		{
			"cancelled", fmt.Errorf("bound: %w", context.Canceled), contracts.StatusError,
			func(t *testing.T, r contracts.SolveResult) {
				e := r.(*contracts.Errored)
				assert.Equal(t, MessageCancelled, e.Message)
				assert.Equal(t, contracts.CodeRequestCancelled, e.Code)
			},
		},
		{"unknown", errors.New("boom"), contracts.StatusError, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := FromError("req-9", "", nil, tt.err)
			assert.Equal(t, tt.status, r.Status())
			assert.Equal(t, "req-9", contracts.RequestIDOf(r))
			if tt.check != nil {
				tt.check(t, r)
			}
		})
	}
}
