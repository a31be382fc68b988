package verifier

import (
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/symbolic"
)

// Check families, run in this order.
const (
	CheckRange                = "range"
	CheckDimensional          = "dimensional"
	CheckFinancialInvariant   = "financial_invariant"
	CheckStatisticalInvariant = "statistical_invariant"
	CheckCrossStep            = "cross_step_consistency"
)

// DefaultTolerance is the invariant epsilon when nothing narrower applies.
const DefaultTolerance = 1e-6

// Config holds process-wide verification settings. Read-only after load.
type Config struct {
	DefaultTolerance float64
	// Overrides maps card id to an invariant tolerance.
	Overrides map[string]float64
}

// Input is everything one verification pass reads. None of it is mutated.
type Input struct {
	Card     *contracts.FormulaCard
	Plan     *symbolic.Plan
	Bindings map[string]float64
	Steps    []contracts.ComputationStep
}

// Report is the ordered outcome of all checks.
type Report struct {
	Results []contracts.VerificationResult
}

// FirstHardFailure returns the earliest failed hard check.
func (r *Report) FirstHardFailure() (contracts.VerificationResult, bool) {
	for _, res := range r.Results {
		if !res.Passed && res.Severity == contracts.SeverityHard {
			return res, true
		}
	}
	return contracts.VerificationResult{}, false
}

// SoftPassFraction is passed soft checks over all soft checks, or 1 when
// there are none.
func (r *Report) SoftPassFraction() float64 {
	total, passed := 0, 0
	for _, res := range r.Results {
		if res.Severity != contracts.SeveritySoft {
			continue
		}
		total++
		if res.Passed {
			passed++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(passed) / float64(total)
}

// Layer runs the verification battery.
type Layer struct {
	cfg    Config
	logger *slog.Logger
}

func NewLayer(cfg Config, logger *slog.Logger) *Layer {
	if cfg.DefaultTolerance <= 0 {
		cfg.DefaultTolerance = DefaultTolerance
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer{cfg: cfg, logger: logger.With("component", "verifier")}
}

// Verify runs every family in fixed order. All families run even after a
// hard failure so the audit trail is complete.
func (l *Layer) Verify(in Input) *Report {
	values := make(map[string]float64, len(in.Bindings)+len(in.Steps))
	for k, v := range in.Bindings {
		values[k] = v
	}
	for _, s := range in.Steps {
		values[s.Variable] = s.Value
	}

	r := &Report{}
	r.Results = append(r.Results, checkRanges(in.Card, values)...)
	r.Results = append(r.Results, checkDimensions(in.Card, in.Plan)...)
	r.Results = append(r.Results, l.checkFinancial(in.Card, values)...)
	r.Results = append(r.Results, checkStatistical(in.Card, values)...)
	r.Results = append(r.Results, checkCrossStep(in)...)

	if f, ok := r.FirstHardFailure(); ok {
		l.logger.Info("verification failed", "card_id", in.Card.ID, "check", f.Check, "detail", f.Detail)
	}
	return r
}

// tolerance resolves the epsilon for one invariant: configured per-card
// override, then the invariant's own, then the card default, then the
// process default.
func (l *Layer) tolerance(card *contracts.FormulaCard, inv contracts.Invariant) float64 {
	if eps, ok := l.cfg.Overrides[card.ID]; ok && eps > 0 {
		return eps
	}
	if inv.Tolerance > 0 {
		return inv.Tolerance
	}
	if card.Tolerance > 0 {
		return card.Tolerance
	}
	return l.cfg.DefaultTolerance
}

func pass(check string, sev contracts.Severity, format string, args ...any) contracts.VerificationResult {
	return contracts.VerificationResult{Check: check, Passed: true, Severity: sev, Detail: fmt.Sprintf(format, args...)}
}

func fail(check string, sev contracts.Severity, format string, args ...any) contracts.VerificationResult {
	return contracts.VerificationResult{Check: check, Passed: false, Severity: sev, Detail: fmt.Sprintf(format, args...)}
}

// CheckInputRanges returns the first hard range failure over the bound
// inputs alone. It is used when evaluation fails and no trace exists to
// verify.
func CheckInputRanges(card *contracts.FormulaCard, bindings map[string]float64) (contracts.VerificationResult, bool) {
	for _, name := range card.RequiredInputs() {
		_, _, rng, _ := card.Declared(name)
		v, ok := bindings[name]
		if rng == nil || rng.Advisory || !ok || rng.Contains(v) {
			continue
		}
		return fail(CheckRange, contracts.SeverityHard, "%s = %g outside %s", name, v, formatRange(rng)), true
	}
	return contracts.VerificationResult{}, false
}
