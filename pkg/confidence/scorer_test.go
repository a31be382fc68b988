package confidence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

func TestScoreIsMinimum(t *testing.T) {
	s, err := NewScorer(0.5, 0.8)
	require.NoError(t, err)

	tests := []struct {
		name string
		in   Inputs
		want float64
	}{
		{"all perfect", Inputs{Selection: 1, Completeness: 1, SoftPass: 1}, 1},
		{"weak selection", Inputs{Selection: 0.4, Completeness: 1, SoftPass: 1}, 0.4},
		{"weak soft checks", Inputs{Selection: 0.9, Completeness: 1, SoftPass: 0.5}, 0.5},
		{"fallback penalty", Inputs{Selection: 0.5, Completeness: 1, SoftPass: 1, Fallback: true}, 0.4},
		{"clamped", Inputs{Selection: 1.7, Completeness: 1, SoftPass: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := s.Score(tt.in)
			assert.InDelta(t, tt.want, r.Score, 1e-12)
			assert.Equal(t, 0.5, r.Threshold)
		})
	}
}

func TestGate(t *testing.T) {
	s, err := NewScorer(0.6, 0.5)
	require.NoError(t, err)

	require.NoError(t, s.Gate(s.Score(Inputs{Selection: 0.6, Completeness: 1, SoftPass: 1})))

	err = s.Gate(s.Score(Inputs{Selection: 0.59, Completeness: 1, SoftPass: 1}))
	var low *contracts.LowConfidenceRefusal
	require.True(t, errors.As(err, &low))
	assert.InDelta(t, 0.59, low.Score, 1e-12)
	assert.Equal(t, 0.6, low.Threshold)
}

func TestThresholdIsExplicit(t *testing.T) {
	strict, err := NewScorer(0.95, 0.5)
	require.NoError(t, err)
	lax, err := NewScorer(0.1, 0.5)
	require.NoError(t, err)

	in := Inputs{Selection: 0.8, Completeness: 1, SoftPass: 1}
	assert.Error(t, strict.Gate(strict.Score(in)))
	assert.NoError(t, lax.Gate(lax.Score(in)))
}

func TestNewScorerValidates(t *testing.T) {
	for _, c := range []struct{ threshold, penalty float64 }{{-0.1, 0.5}, {1.1, 0.5}, {0.5, 0}, {0.5, 1}} {
		_, err := NewScorer(c.threshold, c.penalty)
		assert.Error(t, err, "%+v", c)
	}
}

func TestCompleteness(t *testing.T) {
	assert.Equal(t, 1.0, Completeness([]string{"a", "b"}, map[string]float64{"a": 1, "b": 0}))
	assert.Equal(t, 0.5, Completeness([]string{"a", "b"}, map[string]float64{"a": 1}))
	assert.Equal(t, 0.0, Completeness(nil, nil))
}
