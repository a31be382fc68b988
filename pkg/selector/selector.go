// Package selector maps a TaskPlan to exactly one formula card.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/registry"
)

// Config holds the selection thresholds.
type Config struct {
	// MinOverlap is the required-input overlap a rule match must reach.
	MinOverlap float64
	// FallbackCap bounds heuristic confidence. It must stay below MinOverlap
	// so no heuristic match outranks a rule match.
	FallbackCap float64
	// AbsoluteFloor is the lowest heuristic confidence still accepted.
	AbsoluteFloor float64
	// Alpha weighs lexical against semantic relevance when embeddings are
	// configured. 1 is lexical only.
	Alpha float64
}

func DefaultConfig() Config {
	return Config{MinOverlap: 0.75, FallbackCap: 0.7, AbsoluteFloor: 0.1, Alpha: 0.4}
}

func (c Config) Validate() error {
	if c.MinOverlap <= 0 || c.MinOverlap > 1 {
		return fmt.Errorf("selection min overlap %.3f outside (0,1]", c.MinOverlap)
	}
	if c.FallbackCap < 0 || c.FallbackCap >= c.MinOverlap {
		return fmt.Errorf("selection fallback cap %.3f must be in [0, min overlap %.3f)", c.FallbackCap, c.MinOverlap)
	}
	if c.AbsoluteFloor < 0 || c.AbsoluteFloor > c.FallbackCap {
		return fmt.Errorf("selection absolute floor %.3f must be in [0, fallback cap %.3f]", c.AbsoluteFloor, c.FallbackCap)
	}
	if c.Alpha < 0 || c.Alpha > 1 {
		return fmt.Errorf("selection alpha %.3f outside [0,1]", c.Alpha)
	}
	return nil
}

// Selection is either RuleMatched or HeuristicFallback.
type Selection interface {
	Entry() *registry.Entry
	Confidence() float64
	Reason() string
	IsFallback() bool
	isSelection()
}

// RuleMatched is a deterministic match on domain, topic and input overlap.
type RuleMatched struct {
	entry   *registry.Entry
	Overlap float64
	Matched []string
}

func (r *RuleMatched) Entry() *registry.Entry { return r.entry }
func (r *RuleMatched) Confidence() float64    { return r.Overlap }
func (r *RuleMatched) IsFallback() bool       { return false }
func (r *RuleMatched) isSelection()           {}

func (r *RuleMatched) Reason() string {
	c := r.entry.Card
	return fmt.Sprintf("rule match: domain=%s topic=%s, %d/%d required inputs extracted (%s)",
		c.Domain, c.Topic, len(r.Matched), len(c.Inputs), strings.Join(r.Matched, ", "))
}

// HeuristicFallback is a retrieval match used when no rule fires.
// Relevance is in [0,1]: saturated BM25, blended with cosine Similarity
// when embeddings are configured.
type HeuristicFallback struct {
	entry      *registry.Entry
	Lexical    float64
	Similarity *float64
	Relevance  float64
	confidence float64
}

func (h *HeuristicFallback) Entry() *registry.Entry { return h.entry }
func (h *HeuristicFallback) Confidence() float64    { return h.confidence }
func (h *HeuristicFallback) IsFallback() bool       { return true }
func (h *HeuristicFallback) isSelection()           {}

func (h *HeuristicFallback) Reason() string {
	if h.Similarity != nil {
		return fmt.Sprintf("heuristic fallback: hybrid relevance %.3f (bm25 %.3f, cosine %.3f) to %q, confidence capped at %.3f",
			h.Relevance, h.Lexical, *h.Similarity, h.entry.Card.Name, h.confidence)
	}
	return fmt.Sprintf("heuristic fallback: lexical relevance %.3f (bm25 %.3f) to %q, confidence capped at %.3f",
		h.Relevance, h.Lexical, h.entry.Card.Name, h.confidence)
}

// Embedder turns texts into vectors, one per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Selector is safe for concurrent use.
type Selector struct {
	reg     *registry.Registry
	entries []*registry.Entry
	index   *bm25Index
	cfg     Config
	logger  *slog.Logger

	embedder Embedder
	vectors  [][]float32
}

func New(reg *registry.Registry, cfg Config, logger *slog.Logger) (*Selector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	entries := reg.Entries()
	return &Selector{
		reg:     reg,
		entries: entries,
		index:   newBM25Index(entries),
		cfg:     cfg,
		logger:  logger.With("component", "selector"),
	}, nil
}

// WithEmbeddings returns a copy of s that blends semantic similarity into
// fallback relevance. Card vectors are computed once here.
func (s *Selector) WithEmbeddings(ctx context.Context, e Embedder) (*Selector, error) {
	texts := make([]string, len(s.entries))
	for i, entry := range s.entries {
		texts[i] = searchableText(entry)
	}
	vecs, err := e.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed cards: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed cards: got %d vectors for %d cards", len(vecs), len(texts))
	}
	out := *s
	out.embedder = e
	out.vectors = vecs
	return &out, nil
}

// Select tries rule matching first and falls back to retrieval relevance.
func (s *Selector) Select(ctx context.Context, plan *contracts.TaskPlan) (Selection, error) {
	if m := s.ruleMatch(plan); m != nil {
		s.logger.Debug("rule match", "card_id", m.entry.Card.ID, "overlap", m.Overlap)
		return m, nil
	}

	h, best := s.heuristicMatch(ctx, plan)
	if h == nil {
		return nil, &contracts.NoMatchingCardError{Domain: plan.Domain, Topic: plan.Topic, BestScore: best}
	}
	s.logger.Debug("heuristic fallback", "card_id", h.entry.Card.ID, "relevance", h.Relevance, "confidence", h.confidence)
	return h, nil
}

func (s *Selector) candidates(plan *contracts.TaskPlan) []int {
	var out []int
	for i, e := range s.entries {
		if equalFold(plan.Domain, e.Card.Domain) && equalFold(plan.Topic, e.Card.Topic) {
			out = append(out, i)
		}
	}
	return out
}

func (s *Selector) ruleMatch(plan *contracts.TaskPlan) *RuleMatched {
	var best *RuleMatched
	for _, i := range s.candidates(plan) {
		e := s.entries[i]
		required := e.Card.RequiredInputs()
		var matched []string
		for _, name := range required {
			if plan.HasVariable(name) {
				matched = append(matched, name)
			}
		}
		overlap := float64(len(matched)) / float64(len(required))
		// Strict comparison keeps the earliest registered card on ties.
		if best == nil || overlap > best.Overlap {
			best = &RuleMatched{entry: e, Overlap: overlap, Matched: matched}
		}
	}
	if best == nil || best.Overlap < s.cfg.MinOverlap {
		return nil
	}
	return best
}

func (s *Selector) heuristicMatch(ctx context.Context, plan *contracts.TaskPlan) (*HeuristicFallback, float64) {
	text := strings.Join(append([]string{plan.Question, plan.Topic}, plan.Variables...), " ")
	query := tokenize(text)
	if len(query) == 0 {
		return nil, 0
	}

	var qvec []float32
	if s.embedder != nil {
		vecs, err := s.embedder.Embed(ctx, []string{text})
		switch {
		case err != nil:
			s.logger.Warn("query embedding failed, using lexical relevance only", "error", err)
		case len(vecs) == 1:
			qvec = vecs[0]
		}
	}

	var best *HeuristicFallback
	for _, i := range s.candidates(plan) {
		lex := s.index.score(i, query)
		h := &HeuristicFallback{entry: s.entries[i], Lexical: lex, Relevance: lex / (lex + 1)}
		if qvec != nil {
			sim := math.Max(0, cosine(qvec, s.vectors[i]))
			h.Similarity = &sim
			h.Relevance = s.cfg.Alpha*h.Relevance + (1-s.cfg.Alpha)*sim
		}
		// Strict comparison keeps the earliest registered card on ties.
		if h.Relevance > 0 && (best == nil || h.Relevance > best.Relevance) {
			best = h
		}
	}
	if best == nil {
		return nil, 0
	}

	best.confidence = s.cfg.FallbackCap * best.Relevance
	if best.confidence < s.cfg.AbsoluteFloor {
		return nil, best.confidence
	}
	return best, best.confidence
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
