// Package solver runs one question through interpretation, card selection,
// binding, symbolic evaluation, verification and scoring, and returns an
// auditable answer or a refusal.
package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Mindburn-Labs/verifiquant/pkg/audit"
	"github.com/Mindburn-Labs/verifiquant/pkg/confidence"
	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/interpreter"
	"github.com/Mindburn-Labs/verifiquant/pkg/kernel/retry"
	"github.com/Mindburn-Labs/verifiquant/pkg/observability"
	"github.com/Mindburn-Labs/verifiquant/pkg/resolver"
	"github.com/Mindburn-Labs/verifiquant/pkg/selector"
	"github.com/Mindburn-Labs/verifiquant/pkg/symbolic"
	"github.com/Mindburn-Labs/verifiquant/pkg/verifier"
)

// Request is one question. Values are numbers the caller supplies next to
// the question; they are bound with user-supplied provenance. The solver
// mints the request id; ClientRequestID is only logged and traced.
type Request struct {
	ClientRequestID string
	Question        string
	Domain          string
	Topic           string
	Values          map[string]float64
}

// Deps wires the pipeline. Notary, Recorder and Telemetry are optional.
type Deps struct {
	Interpreter interpreter.TaskInterpreter
	Resolver    resolver.DataResolver
	Selector    *selector.Selector
	Engine      *symbolic.Engine
	Verifier    *verifier.Layer
	Scorer      *confidence.Scorer

	Notary    *audit.Notary
	Recorder  *audit.Recorder
	Telemetry *observability.Provider
	Logger    *slog.Logger

	// ResolverTimeout bounds each data-resolution attempt.
	ResolverTimeout time.Duration
	// Retry governs the single retry of a failed resolution. Zero uses
	// retry.ResolverPolicy.
	Retry retry.BackoffPolicy
}

// Solver is safe for concurrent use; each Solve call is independent.
type Solver struct {
	d      Deps
	logger *slog.Logger
	newID  func() string
}

func New(d Deps) (*Solver, error) {
	switch {
	case d.Interpreter == nil:
		return nil, errors.New("solver: interpreter is required")
	case d.Resolver == nil:
		return nil, errors.New("solver: resolver is required")
	case d.Selector == nil:
		return nil, errors.New("solver: selector is required")
	case d.Engine == nil:
		return nil, errors.New("solver: engine is required")
	case d.Verifier == nil:
		return nil, errors.New("solver: verifier is required")
	case d.Scorer == nil:
		return nil, errors.New("solver: scorer is required")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Telemetry == nil {
		d.Telemetry = observability.Disabled()
	}
	if d.Retry.MaxAttempts == 0 {
		d.Retry = retry.ResolverPolicy()
	}
	return &Solver{
		d:      d,
		logger: d.Logger.With("component", "solver"),
		newID:  func() string { return uuid.New().String() },
	}, nil
}

// run carries per-request state through the stages.
type run struct {
	requestID string
	stage     Stage
	cardID    string
	checks    []contracts.VerificationResult
}

// Solve answers req. It always returns a result; failures are Refused or
// Errored variants, never a Go error.
func (s *Solver) Solve(ctx context.Context, req Request) contracts.SolveResult {
	r := s.start()
	attrs := []attribute.KeyValue{observability.AttrRequestID.String(r.requestID)}
	if req.ClientRequestID != "" {
		attrs = append(attrs, observability.AttrClientRequestID.String(req.ClientRequestID))
		s.logger.Debug("solve started", "request_id", r.requestID, "client_request_id", req.ClientRequestID)
	}
	ctx, done := s.d.Telemetry.TrackOperation(ctx, observability.OperationSolve, attrs...)

	var result contracts.SolveResult
	plan, err := s.interpret(ctx, r, req)
	if err == nil {
		result, err = s.fromPlan(ctx, r, plan)
	}
	result = s.finish(ctx, r, result, err)
	done(errorOf(result))
	return result
}

func (s *Solver) start() *run {
	return &run{requestID: s.newID(), stage: StageReceived}
}

// advance moves r to next. Cancellation is observed here, so every stage
// boundary is a cancellation point.
func (s *Solver) advance(ctx context.Context, r *run, next Stage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !CanMove(r.stage, next) {
		return fmt.Errorf("illegal transition %s -> %s", r.stage, next)
	}
	s.logger.Debug("stage transition", "request_id", r.requestID, "from", r.stage, "stage", next, "card_id", r.cardID)
	observability.AddSpanEvent(ctx, "stage", observability.StageOperation(r.requestID, string(next))...)
	if s.d.Recorder != nil {
		if err := s.d.Recorder.Transition(ctx, r.requestID, string(r.stage), string(next), r.cardID); err != nil {
			return err
		}
	}
	r.stage = next
	return nil
}

func (s *Solver) interpret(ctx context.Context, r *run, req Request) (*contracts.TaskPlan, error) {
	ictx, done := s.d.Telemetry.TrackOperation(ctx, observability.OperationInterpret, observability.AttrRequestID.String(r.requestID))
	plan, err := s.d.Interpreter.Interpret(ictx, req.Question)
	done(err)
	if err != nil {
		return nil, err
	}

	plan = mergeRequest(plan, req)
	if err := s.advance(ctx, r, StageInterpreted); err != nil {
		return nil, err
	}
	return plan, nil
}

// mergeRequest applies the caller's explicit scope and values over what
// the interpreter extracted. The interpreter's plan is not mutated.
func mergeRequest(p *contracts.TaskPlan, req Request) *contracts.TaskPlan {
	out := *p
	if req.Domain != "" {
		out.Domain = req.Domain
	}
	if req.Topic != "" {
		out.Topic = req.Topic
	}
	out.Variables = append([]string(nil), p.Variables...)
	out.Stated = make(map[string]float64, len(p.Stated)+len(req.Values))
	for k, v := range p.Stated {
		out.Stated[k] = v
	}
	names := make([]string, 0, len(req.Values))
	for k := range req.Values {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		out.Stated[k] = req.Values[k]
		if !contains(out.Variables, k) {
			out.Variables = append(out.Variables, k)
		}
	}
	return &out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// fromPlan runs selection through scoring.
func (s *Solver) fromPlan(ctx context.Context, r *run, plan *contracts.TaskPlan) (contracts.SolveResult, error) {
	sel, err := s.d.Selector.Select(ctx, plan)
	if err != nil {
		return nil, err
	}
	entry := sel.Entry()
	card := entry.Card
	r.cardID = card.ID
	observability.SetSpanAttributes(ctx, observability.AttrCardID.String(card.ID), observability.AttrFallback.Bool(sel.IsFallback()))

	bindings, err := s.bind(ctx, r, card, plan)
	var missing *contracts.MissingInputError
	if errors.As(err, &missing) {
		// Binding ran to completion; the refusal leaves from Bound.
		if aerr := s.advance(ctx, r, StageBound); aerr != nil {
			return nil, aerr
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	values := make(map[string]float64, len(bindings))
	for name, b := range bindings {
		values[name] = b.Value
	}
	if err := s.advance(ctx, r, StageBound); err != nil {
		return nil, err
	}

	cctx, done := s.d.Telemetry.TrackOperation(ctx, observability.OperationCompute, observability.AttrCardID.String(card.ID))
	trace, err := s.d.Engine.Evaluate(entry.Plan, values)
	done(err)
	if err != nil {
		if f, failed := verifier.CheckInputRanges(card, values); failed {
			r.checks = []contracts.VerificationResult{f}
			return nil, &contracts.VerificationFailure{Result: f}
		}
		return nil, err
	}
	if err := s.advance(cctx, r, StageComputed); err != nil {
		return nil, err
	}

	_, done = s.d.Telemetry.TrackOperation(ctx, observability.OperationVerify, observability.AttrCardID.String(card.ID))
	report := s.d.Verifier.Verify(verifier.Input{Card: card, Plan: entry.Plan, Bindings: values, Steps: trace.Steps})
	r.checks = report.Results
	if f, failed := report.FirstHardFailure(); failed {
		err := &contracts.VerificationFailure{Result: f}
		done(err)
		return nil, err
	}
	done(nil)
	if err := s.advance(ctx, r, StageVerified); err != nil {
		return nil, err
	}

	conf := s.d.Scorer.Score(confidence.Inputs{
		Selection:    sel.Confidence(),
		Completeness: confidence.Completeness(card.RequiredInputs(), values),
		SoftPass:     report.SoftPassFraction(),
		Fallback:     sel.IsFallback(),
	})
	observability.SetSpanAttributes(ctx, observability.AttrConfidence.Float64(conf.Score))
	if err := s.d.Scorer.Gate(conf); err != nil {
		return nil, err
	}
	if err := s.advance(ctx, r, StageScored); err != nil {
		return nil, err
	}

	version := ""
	if entry.Version != nil {
		version = entry.Version.String()
	}
	return audit.AssembleSuccess(audit.SuccessInput{
		RequestID:       r.requestID,
		Card:            card,
		CardVersion:     version,
		SelectionReason: sel.Reason(),
		IsFallback:      sel.IsFallback(),
		Bindings:        bindings,
		Steps:           trace.Steps,
		OutputValue:     trace.OutputValue,
		Confidence:      conf,
		Checks:          report.Results,
	})
}

// finish maps err to its variant, moves to the terminal stage, issues the
// receipt and records the result. Audit work ignores cancellation so a
// cancelled request still leaves a complete trail.
func (s *Solver) finish(ctx context.Context, r *run, result contracts.SolveResult, err error) contracts.SolveResult {
	if err != nil {
		result = audit.FromError(r.requestID, r.cardID, r.checks, err)
	}
	actx := context.WithoutCancel(ctx)

	terminal := StageAnswered
	switch v := result.(type) {
	case *contracts.Refused:
		terminal = StageRefused
		s.logger.Info("request refused", "request_id", r.requestID, "card_id", r.cardID, "reason", v.Reason, "code", v.Code)
	case *contracts.Errored:
		terminal = StageErrored
		s.logger.Error("request errored", "request_id", r.requestID, "card_id", r.cardID, "code", v.Code, "error", v.Message)
	}
	if terr := s.advance(actx, r, terminal); terr != nil {
		s.logger.Error("record terminal stage", "request_id", r.requestID, "error", terr)
	}

	if s.d.Notary != nil {
		if _, nerr := s.d.Notary.Issue(actx, result); nerr != nil {
			s.logger.Error("receipt not issued", "request_id", r.requestID, "error", nerr)
			result = &contracts.Errored{
				RequestID: r.requestID,
				Code:      contracts.CodeReceiptFailure,
				Message:   "result could not be notarized",
			}
		}
	}
	if s.d.Recorder != nil {
		if rerr := s.d.Recorder.Result(actx, result); rerr != nil {
			s.logger.Error("record result", "request_id", r.requestID, "error", rerr)
		}
	}
	observability.SetSpanAttributes(ctx, observability.AttrStatus.String(string(result.Status())))
	s.d.Telemetry.RecordOutcome(actx, result)
	return result
}

// errorOf reports Errored results to telemetry as failures. Refusals are
// the pipeline working as intended.
func errorOf(r contracts.SolveResult) error {
	if e, ok := r.(*contracts.Errored); ok {
		return errors.New(e.Message)
	}
	return nil
}
