package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// MessageCancelled is the Errored message for an abandoned request.
const MessageCancelled = "request cancelled"

// AssemblyError reports a Success that would not be auditable.
type AssemblyError struct {
	CardID string
	Reason string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("cannot assemble result for card %s: %s", e.CardID, e.Reason)
}

// Code returns the stable error code.
func (e *AssemblyError) Code() string { return contracts.CodeAssemblyViolation }

// SuccessInput is everything a verified, scored computation produced.
type SuccessInput struct {
	RequestID       string
	Card            *contracts.FormulaCard
	CardVersion     string
	SelectionReason string
	IsFallback      bool
	Bindings        map[string]contracts.Binding
	Steps           []contracts.ComputationStep
	OutputValue     float64
	Confidence      contracts.ConfidenceReport
	Checks          []contracts.VerificationResult
}

// AssembleSuccess packages a Success. Every required input must be bound
// with a provenance and the trace must end in the card's output variable.
func AssembleSuccess(in SuccessInput) (*contracts.Success, error) {
	if in.Card == nil {
		return nil, &AssemblyError{Reason: "no card"}
	}
	required := in.Card.RequiredInputs()
	inputs := make(map[string]float64, len(required))
	prov := make(map[string]contracts.Provenance, len(required))

	var unsourced []string
	for _, name := range required {
		b, ok := in.Bindings[name]
		if !ok || b.Provenance.IsZero() {
			unsourced = append(unsourced, name)
			continue
		}
		inputs[name] = b.Value
		prov[name] = b.Provenance
	}
	if len(unsourced) > 0 {
		sort.Strings(unsourced)
		return nil, &AssemblyError{CardID: in.Card.ID, Reason: "no provenance for " + strings.Join(unsourced, ", ")}
	}
	if len(in.Steps) == 0 {
		return nil, &AssemblyError{CardID: in.Card.ID, Reason: "empty computation trace"}
	}
	if last := in.Steps[len(in.Steps)-1]; last.Variable != in.Card.OutputVar || last.Value != in.OutputValue {
		return nil, &AssemblyError{CardID: in.Card.ID, Reason: fmt.Sprintf("trace ends in %s, want output %s", last.Variable, in.Card.OutputVar)}
	}

	return &contracts.Success{
		RequestID:       in.RequestID,
		CardID:          in.Card.ID,
		CardVersion:     in.CardVersion,
		SelectionReason: in.SelectionReason,
		Inputs:          inputs,
		Provenance:      prov,
		Steps:           append([]contracts.ComputationStep(nil), in.Steps...),
		OutputVar:       in.Card.OutputVar,
		OutputValue:     in.OutputValue,
		IsFallback:      in.IsFallback,
		Confidence:      in.Confidence,
		Checks:          append([]contracts.VerificationResult(nil), in.Checks...),
	}, nil
}

// coded is satisfied by every typed pipeline error.
type coded interface {
	Code() string
}

// FromError maps a pipeline error to its SolveResult. Refusal-class errors
// become Refused; everything else, including unknown errors, is Errored.
// cardID and checks are attached when known.
func FromError(requestID, cardID string, checks []contracts.VerificationResult, err error) contracts.SolveResult {
	var (
		interp  *contracts.InterpretationError
		noMatch *contracts.NoMatchingCardError
		missing *contracts.MissingInputError
		vf      *contracts.VerificationFailure
		low     *contracts.LowConfidenceRefusal
	)
	refused := func(reason, code string) *contracts.Refused {
		return &contracts.Refused{RequestID: requestID, Reason: reason, Code: code, CardID: cardID, Checks: checks}
	}

	switch {
	case errors.As(err, &missing):
		r := refused(contracts.ReasonMissingInput, missing.Code())
		r.MissingInputs = append([]string(nil), missing.Names...)
		if missing.CardID != "" {
			r.CardID = missing.CardID
		}
		return r
	case errors.As(err, &vf):
		r := refused(fmt.Sprintf("verification failed: %s: %s", vf.Result.Check, vf.Result.Detail), vf.Code())
		r.FailedCheck = vf.Result.Check
		return r
	case errors.As(err, &low):
		r := refused(contracts.ReasonLowConfidence, low.Code())
		score := low.Score
		r.Score = &score
		return r
	case errors.As(err, &noMatch):
		return refused(noMatch.Error(), noMatch.Code())
	case errors.As(err, &interp):
		return refused(interp.Error(), interp.Code())
	}

	out := &contracts.Errored{RequestID: requestID, Message: err.Error()}
	var c coded
	switch {
	case errors.As(err, &c):
		out.Code = c.Code()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		out.Code = contracts.CodeRequestCancelled
		out.Message = MessageCancelled
	}
	return out
}
