package celdp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidator(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantValid bool
		wantIssue string // substring match
	}{
		{name: "Double Arithmetic", expr: "(mean - rf) / std", wantValid: true},
		{name: "Math Functions", expr: "pow(1.0 + r, 2.0) - sqrt(abs(x)) + min(a, max(b, ln(c)))", wantValid: true},
		{name: "Negative Literal", expr: "-0.5 * x", wantValid: true},
		{name: "Forbidden Integer Literal", expr: "x * 2", wantIssue: "Integer literal 2"},
		{name: "Forbidden now()", expr: "now() > timestamp('2023-01-01T00:00:00Z')", wantIssue: "now() is forbidden"},
		{name: "Forbidden Map Keys", expr: "{'a': 1.0}.keys()", wantIssue: "Map iteration"},
		{name: "Forbidden Modulo", expr: "x % y", wantIssue: "not permitted"},
		{name: "Forbidden Comparison", expr: "x > y ? x : y", wantIssue: "not permitted"},
		{name: "Forbidden String", expr: "'abc'", wantIssue: "numeric literals"},
		{name: "Forbidden Select", expr: "input.x", wantIssue: "Field selection"},
		{name: "Wrong Arity", expr: "pow(x)", wantIssue: "expects 2 argument(s)"},
		{name: "Unknown Function", expr: "log10(x)", wantIssue: "not permitted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := v.Validate(tt.expr)
			require.NoError(t, err)
			require.Equal(t, tt.wantValid, result.Valid, "issues: %v", result.Issues)

			if tt.wantValid {
				require.NotNil(t, result.Tree)
				return
			}
			found := false
			for _, iss := range result.Issues {
				if strings.Contains(iss.Message, tt.wantIssue) {
					found = true
					break
				}
			}
			require.True(t, found, "issues %v, expected to contain %q", result.Issues, tt.wantIssue)
		})
	}
}

func TestValidatorParseError(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	_, err = v.Validate("(a + ")
	require.Error(t, err)
}

func TestIdentifiersFirstAppearance(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	res, err := v.Validate("b * (a + b) / c")
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a", "c"}, res.Tree.Identifiers())
}

func TestValidatorReportsNestedIssues(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	res, err := v.Validate("x % now()")
	require.NoError(t, err)
	require.False(t, res.Valid)

	var msgs []string
	for _, iss := range res.Issues {
		msgs = append(msgs, iss.Message)
	}
	joined := strings.Join(msgs, "\n")
	require.Contains(t, joined, "not permitted")
	require.Contains(t, joined, "now() is forbidden")
}
