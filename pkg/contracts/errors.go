package contracts

import (
	"fmt"
	"strings"
)

// Stable error codes, surfaced in audit records and API problem details.
const (
	CodeInterpretation    = "VQ/CORE/INTERPRETATION/FAILED"
	CodeNoMatchingCard    = "VQ/CORE/SELECTION/NO_MATCH"
	CodeMissingInput      = "VQ/CORE/BINDING/MISSING_INPUT"
	CodeEvaluation        = "VQ/CORE/SYMBOLIC/EVALUATION_ERROR"
	CodeVerification      = "VQ/CORE/VERIFICATION/HARD_FAILURE"
	CodeLowConfidence     = "VQ/CORE/CONFIDENCE/BELOW_THRESHOLD"
	CodeUpstreamData      = "VQ/CORE/RESOLVER/UPSTREAM_ERROR"
	CodeRequestCancelled  = "VQ/CORE/REQUEST/CANCELLED"
	CodeAssemblyViolation = "VQ/CORE/AUDIT/ASSEMBLY_VIOLATION"
	CodeReceiptFailure    = "VQ/CORE/AUDIT/RECEIPT_FAILURE"
)

// InterpretationError reports that the natural-language stage failed.
type InterpretationError struct {
	Question string
	Err      error
}

func (e *InterpretationError) Error() string {
	if e.Err == nil {
		return "interpretation failed"
	}
	return fmt.Sprintf("interpretation failed: %v", e.Err)
}

func (e *InterpretationError) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *InterpretationError) Code() string { return CodeInterpretation }

// NoMatchingCardError reports that neither rule nor heuristic matching
// produced a card above the absolute floor.
type NoMatchingCardError struct {
	Domain    string
	Topic     string
	BestScore float64
}

func (e *NoMatchingCardError) Error() string {
	scope := ""
	if e.Domain != "" || e.Topic != "" {
		scope = fmt.Sprintf(" (domain=%q topic=%q)", e.Domain, e.Topic)
	}
	return fmt.Sprintf("no formula card matches the question%s: best heuristic score %.3f", scope, e.BestScore)
}

// Code returns the stable error code.
func (e *NoMatchingCardError) Code() string { return CodeNoMatchingCard }

// MissingInputError names every required input without a binding.
type MissingInputError struct {
	CardID string
	Names  []string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("card %s: missing required input(s): %s", e.CardID, strings.Join(e.Names, ", "))
}

// Code returns the stable error code.
func (e *MissingInputError) Code() string { return CodeMissingInput }

// EvaluationError is a fatal domain-invalid operation in a named step.
type EvaluationError struct {
	CardID   string
	Step     int
	Variable string
	Formula  string
	Reason   string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("card %s: step %d (%s = %s): %s", e.CardID, e.Step, e.Variable, e.Formula, e.Reason)
}

// Code returns the stable error code.
func (e *EvaluationError) Code() string { return CodeEvaluation }

// VerificationFailure wraps a failed check.
type VerificationFailure struct {
	Result VerificationResult
}

func (e *VerificationFailure) Error() string {
	return fmt.Sprintf("verification check %s failed (%s): %s", e.Result.Check, e.Result.Severity, e.Result.Detail)
}

// Code returns the stable error code.
func (e *VerificationFailure) Code() string { return CodeVerification }

// LowConfidenceRefusal reports a score below the configured threshold.
type LowConfidenceRefusal struct {
	Score     float64
	Threshold float64
}

func (e *LowConfidenceRefusal) Error() string {
	return fmt.Sprintf("low confidence: score %.4f below threshold %.4f", e.Score, e.Threshold)
}

// Code returns the stable error code.
func (e *LowConfidenceRefusal) Code() string { return CodeLowConfidence }

// UpstreamDataError reports a data-resolution fault, including timeouts.
type UpstreamDataError struct {
	Names    []string
	Attempts int
	Err      error
}

func (e *UpstreamDataError) Error() string {
	return fmt.Sprintf("upstream data error after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *UpstreamDataError) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *UpstreamDataError) Code() string { return CodeUpstreamData }
