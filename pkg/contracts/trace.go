package contracts

// ComputationStep is one evaluated node of a card's expression graph.
// Indices start at 1 and are gapless.
type ComputationStep struct {
	Index    int     `json:"index"`
	Variable string  `json:"variable"`
	Formula  string  `json:"formula"`
	Value    float64 `json:"value"`
	// Operands records the value read for every identifier the formula
	// references, exactly as seen at evaluation time.
	Operands map[string]float64 `json:"operands,omitempty"`
}

// Severity grades a verification failure.
type Severity string

const (
	// SeverityHard blocks the answer.
	SeverityHard Severity = "hard"
	// SeveritySoft only penalizes confidence.
	SeveritySoft Severity = "soft"
)

// VerificationResult is the outcome of one check.
type VerificationResult struct {
	Check    string   `json:"check"`
	Passed   bool     `json:"passed"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail,omitempty"`
}

// ConfidenceReport is the aggregated trust score gating an answer.
type ConfidenceReport struct {
	Score           float64 `json:"score"`
	Selection       float64 `json:"selection"`
	Completeness    float64 `json:"completeness"`
	SoftPass        float64 `json:"soft_pass"`
	Fallback        bool    `json:"fallback"`
	FallbackPenalty float64 `json:"fallback_penalty"`
	Threshold       float64 `json:"threshold"`
}

// Passed reports whether the score clears the threshold.
func (c ConfidenceReport) Passed() bool {
	return c.Score >= c.Threshold
}
