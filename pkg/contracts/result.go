package contracts

import (
	"encoding/json"
	"fmt"
)

// Status tags the SolveResult variant on the wire.
type Status string

const (
	StatusSuccess Status = "success"
	StatusRefused Status = "refused"
	StatusError   Status = "error"
)

// Refusal reasons with fixed wording.
const (
	ReasonMissingInput  = "missing required input"
	ReasonLowConfidence = "low confidence"
)

// SolveResult is one of *Success, *Refused or *Errored.
type SolveResult interface {
	Status() Status
	isSolveResult()
}

// Success is a verified, auditable answer.
type Success struct {
	RequestID       string                `json:"request_id,omitempty"`
	CardID          string                `json:"card_id"`
	CardVersion     string                `json:"card_version,omitempty"`
	SelectionReason string                `json:"selection_reason"`
	Inputs          map[string]float64    `json:"inputs"`
	Provenance      map[string]Provenance `json:"provenance"`
	Steps           []ComputationStep     `json:"steps"`
	OutputVar       string                `json:"output_var"`
	OutputValue     float64               `json:"output_value"`
	IsFallback      bool                  `json:"is_fallback"`
	Confidence      ConfidenceReport      `json:"confidence"`
	Checks          []VerificationResult  `json:"checks,omitempty"`
	Receipt         *Receipt              `json:"receipt,omitempty"`
}

// Refused carries the reason no numeric answer was returned.
type Refused struct {
	RequestID     string               `json:"request_id,omitempty"`
	Reason        string               `json:"reason"`
	Code          string               `json:"code,omitempty"`
	MissingInputs []string             `json:"missing_inputs,omitempty"`
	CardID        string               `json:"card_id,omitempty"`
	FailedCheck   string               `json:"failed_check,omitempty"`
	Score         *float64             `json:"score,omitempty"`
	Checks        []VerificationResult `json:"checks,omitempty"`
	Receipt       *Receipt             `json:"receipt,omitempty"`
}

// Errored reports an internal or data-source fault.
type Errored struct {
	RequestID string   `json:"request_id,omitempty"`
	Code      string   `json:"code,omitempty"`
	Message   string   `json:"message"`
	Receipt   *Receipt `json:"receipt,omitempty"`
}

func (*Success) Status() Status { return StatusSuccess }
func (*Refused) Status() Status { return StatusRefused }
func (*Errored) Status() Status { return StatusError }

func (*Success) isSolveResult() {}
func (*Refused) isSolveResult() {}
func (*Errored) isSolveResult() {}

// WithoutReceipt returns a shallow copy of r with its receipt removed, the
// form a receipt's result hash covers.
func WithoutReceipt(r SolveResult) SolveResult {
	switch v := r.(type) {
	case *Success:
		cp := *v
		cp.Receipt = nil
		return &cp
	case *Refused:
		cp := *v
		cp.Receipt = nil
		return &cp
	case *Errored:
		cp := *v
		cp.Receipt = nil
		return &cp
	}
	return r
}

// AttachReceipt sets the receipt on any variant.
func AttachReceipt(r SolveResult, rc *Receipt) {
	switch v := r.(type) {
	case *Success:
		v.Receipt = rc
	case *Refused:
		v.Receipt = rc
	case *Errored:
		v.Receipt = rc
	}
}

// RequestIDOf returns the request id carried by any variant.
func RequestIDOf(r SolveResult) string {
	switch v := r.(type) {
	case *Success:
		return v.RequestID
	case *Refused:
		return v.RequestID
	case *Errored:
		return v.RequestID
	}
	return ""
}

func (s *Success) MarshalJSON() ([]byte, error) {
	type alias Success
	return json.Marshal(struct {
		Status Status `json:"status"`
		*alias
	}{StatusSuccess, (*alias)(s)})
}

func (r *Refused) MarshalJSON() ([]byte, error) {
	type alias Refused
	return json.Marshal(struct {
		Status Status `json:"status"`
		*alias
	}{StatusRefused, (*alias)(r)})
}

func (e *Errored) MarshalJSON() ([]byte, error) {
	type alias Errored
	return json.Marshal(struct {
		Status Status `json:"status"`
		*alias
	}{StatusError, (*alias)(e)})
}

// DecodeSolveResult parses a wire result back into its variant.
func DecodeSolveResult(data []byte) (SolveResult, error) {
	var head struct {
		Status Status `json:"status"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	var out SolveResult
	switch head.Status {
	case StatusSuccess:
		out = &Success{}
	case StatusRefused:
		out = &Refused{}
	case StatusError:
		out = &Errored{}
	default:
		return nil, fmt.Errorf("decode result: unknown status %q", head.Status)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", head.Status, err)
	}
	return out, nil
}
