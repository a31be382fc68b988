package selector

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/registry"
)

func builtinSelector(t *testing.T) *Selector {
	t.Helper()
	reg, err := registry.Builtin()
	require.NoError(t, err)
	s, err := New(reg, DefaultConfig(), nil)
	require.NoError(t, err)
	return s
}

func TestRuleMatch(t *testing.T) {
	s := builtinSelector(t)

	sel, err := s.Select(context.Background(), &contracts.TaskPlan{
		Question:  "What is the Sharpe ratio of my fund?",
		Domain:    "Portfolio",
		Variables: []string{"mean", "std", "rf"},
	})
	require.NoError(t, err)

	rm, ok := sel.(*RuleMatched)
	require.True(t, ok, "want rule match, got %T", sel)
	assert.Equal(t, "sharpe_ratio", rm.Entry().Card.ID)
	assert.Equal(t, 1.0, rm.Confidence())
	assert.False(t, rm.IsFallback())
	assert.Contains(t, rm.Reason(), "3/3 required inputs")
}

func TestRuleMatchCountsStatedValues(t *testing.T) {
	s := builtinSelector(t)

	sel, err := s.Select(context.Background(), &contracts.TaskPlan{
		Question:  "equity?",
		Variables: []string{"total_assets"},
		Stated:    map[string]float64{"total_liabilities": 40},
	})
	require.NoError(t, err)
	assert.Equal(t, "balance_sheet_equity", sel.Entry().Card.ID)
	assert.False(t, sel.IsFallback())
}

func TestRuleTieBreaksOnRegistrationOrder(t *testing.T) {
	mk := func(id string) *contracts.FormulaCard {
		return &contracts.FormulaCard{
			ID: id, Name: id, Domain: "d", Topic: "t",
			Inputs:    []contracts.Variable{{Name: "x"}},
			Steps:     []contracts.Formula{{Variable: "y", Expression: "x"}},
			OutputVar: "y",
		}
	}
	reg, err := registry.NewBuilder().Add(mk("second_alpha"), mk("first_alpha")).Build()
	require.NoError(t, err)
	s, err := New(reg, DefaultConfig(), nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		sel, err := s.Select(context.Background(), &contracts.TaskPlan{Variables: []string{"x"}})
		require.NoError(t, err)
		assert.Equal(t, "second_alpha", sel.Entry().Card.ID)
	}
}

func TestHeuristicFallback(t *testing.T) {
	s := builtinSelector(t)

	sel, err := s.Select(context.Background(), &contracts.TaskPlan{
		Question:  "How volatile is a two asset portfolio given the correlation between them?",
		Variables: []string{"asset_weights"},
	})
	require.NoError(t, err)

	h, ok := sel.(*HeuristicFallback)
	require.True(t, ok, "want fallback, got %T", sel)
	assert.True(t, h.IsFallback())
	assert.Equal(t, "two_asset_volatility", h.Entry().Card.ID)
	assert.Greater(t, h.Confidence(), 0.0)
	assert.Less(t, h.Confidence(), DefaultConfig().FallbackCap)
	assert.Less(t, h.Confidence(), DefaultConfig().MinOverlap)
	assert.Contains(t, h.Reason(), "heuristic fallback")
}

func TestFallbackNeverOutranksRuleMatch(t *testing.T) {
	s := builtinSelector(t)
	queries := []string{
		"sharpe sharpe sharpe ratio risk adjusted excess return volatility performance",
		"npv net present value discount salvage capital budgeting project",
		"loan mortgage payment amortization annuity monthly",
	}
	for _, q := range queries {
		sel, err := s.Select(context.Background(), &contracts.TaskPlan{Question: q})
		require.NoError(t, err)
		require.True(t, sel.IsFallback())
		assert.Less(t, sel.Confidence(), DefaultConfig().MinOverlap, q)
	}
}

func TestNoMatchingCard(t *testing.T) {
	s := builtinSelector(t)

	tests := []struct {
		name string
		plan *contracts.TaskPlan
	}{
		{"unrelated words", &contracts.TaskPlan{Question: "zebra giraffe xylophone"}},
		{"empty question", &contracts.TaskPlan{}},
		{"unknown domain", &contracts.TaskPlan{Question: "sharpe ratio", Domain: "astrology"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Select(context.Background(), tt.plan)
			var nm *contracts.NoMatchingCardError
			require.True(t, errors.As(err, &nm), "got %v", err)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"cap equals overlap", Config{MinOverlap: 0.6, FallbackCap: 0.6, AbsoluteFloor: 0.1}, true},
		{"cap above overlap", Config{MinOverlap: 0.5, FallbackCap: 0.7, AbsoluteFloor: 0.1}, true},
		{"floor above cap", Config{MinOverlap: 0.8, FallbackCap: 0.3, AbsoluteFloor: 0.4}, true},
		{"zero overlap", Config{MinOverlap: 0, FallbackCap: 0, AbsoluteFloor: 0}, true},
		{"alpha above one", Config{MinOverlap: 0.75, FallbackCap: 0.7, AbsoluteFloor: 0.1, Alpha: 1.2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"sharpe", "ratio", "risk", "free"}, tokenize("What is the SHARPE ratio (risk_free)?"))
	assert.Equal(t, []string{"strasse", "rendite"}, tokenize("STRAẞE Rendite"))
}

func TestFormulaTextIsSearchable(t *testing.T) {
	s := builtinSelector(t)

	// 12 appears only in the loan card's monthly_rate formula.
	sel, err := s.Select(context.Background(), &contracts.TaskPlan{Question: "divide by 12"})
	require.NoError(t, err)
	assert.Equal(t, "loan_payment", sel.Entry().Card.ID)
}

// keywordEmbedder maps each text onto fixed axes by keyword.
type keywordEmbedder struct {
	axes  []string
	calls int
	fail  bool
}

func (k *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	k.calls++
	if k.fail && k.calls > 1 {
		return nil, errors.New("quota exceeded")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, len(k.axes))
		for j, word := range k.axes {
			if strings.Contains(strings.ToLower(text), word) {
				v[j] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}

func TestHybridRelevance(t *testing.T) {
	base := builtinSelector(t)
	emb := &keywordEmbedder{axes: []string{"amorti", "sharpe", "equity"}}
	s, err := base.WithEmbeddings(context.Background(), emb)
	require.NoError(t, err)
	assert.Equal(t, 1, emb.calls)

	// "amortised" shares no BM25 term with any card but embeds close to the
	// loan card.
	sel, err := s.Select(context.Background(), &contracts.TaskPlan{Question: "what would the amortised instalment be"})
	require.NoError(t, err)
	h, ok := sel.(*HeuristicFallback)
	require.True(t, ok, "got %T", sel)
	assert.Equal(t, "loan_payment", h.Entry().Card.ID)
	require.NotNil(t, h.Similarity)
	assert.InDelta(t, 1.0, *h.Similarity, 1e-9)
	assert.InDelta(t, DefaultConfig().FallbackCap*h.Relevance, h.Confidence(), 1e-12)
	assert.LessOrEqual(t, h.Confidence(), DefaultConfig().FallbackCap)
	assert.Contains(t, h.Reason(), "hybrid relevance")

	_, err = base.Select(context.Background(), &contracts.TaskPlan{Question: "what would the amortised instalment be"})
	var nm *contracts.NoMatchingCardError
	assert.True(t, errors.As(err, &nm), "lexical-only selector should not match, got %v", err)
}

func TestHybridDegradesToLexical(t *testing.T) {
	emb := &keywordEmbedder{axes: []string{"sharpe"}, fail: true}
	s, err := builtinSelector(t).WithEmbeddings(context.Background(), emb)
	require.NoError(t, err)

	sel, err := s.Select(context.Background(), &contracts.TaskPlan{
		Question:  "How volatile is a two asset portfolio given the correlation between them?",
		Variables: []string{"asset_weights"},
	})
	require.NoError(t, err)
	h := sel.(*HeuristicFallback)
	assert.Equal(t, "two_asset_volatility", h.Entry().Card.ID)
	assert.Nil(t, h.Similarity)
	assert.Contains(t, h.Reason(), "lexical relevance")
}
