package contracts

// Unit is a declared dimension for a variable, e.g. "currency", "ratio",
// "currency/time". An empty unit is dimensionless.
type Unit string

// Kind is the semantic role of a variable. Statistical invariants key off it.
type Kind string

const (
	KindAmount      Kind = "amount"
	KindRate        Kind = "rate"
	KindWeight      Kind = "weight"
	KindStdDev      Kind = "std_dev"
	KindVariance    Kind = "variance"
	KindCorrelation Kind = "correlation"
	KindSampleCount Kind = "sample_count"
)

// Range bounds a variable. A nil bound is open. Advisory ranges only
// penalize confidence instead of blocking the answer.
type Range struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	// MinExclusive excludes Min itself.
	MinExclusive bool `json:"min_exclusive,omitempty" yaml:"min_exclusive,omitempty"`
	Advisory     bool `json:"advisory,omitempty" yaml:"advisory,omitempty"`
}

// Contains reports whether v lies within the range. Max is always inclusive.
func (r Range) Contains(v float64) bool {
	if r.Min != nil && (v < *r.Min || (r.MinExclusive && v == *r.Min)) {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Variable is a declared input of a card.
type Variable struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Unit        Unit   `json:"unit,omitempty" yaml:"unit,omitempty"`
	Kind        Kind   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Range       *Range `json:"range,omitempty" yaml:"range,omitempty"`
}

// Formula is one node of a card's expression graph: it produces Variable
// from Expression.
type Formula struct {
	Variable    string `json:"variable" yaml:"variable"`
	Expression  string `json:"formula" yaml:"formula"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Unit        Unit   `json:"unit,omitempty" yaml:"unit,omitempty"`
	Kind        Kind   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Range       *Range `json:"range,omitempty" yaml:"range,omitempty"`
}

// InvariantKind enumerates the financial identities a card may declare.
type InvariantKind string

const (
	// InvariantWeightsSum requires the listed variables to sum to Target (default 1).
	InvariantWeightsSum InvariantKind = "weights_sum"
	// InvariantBalance requires sum(LHS) == sum(RHS).
	InvariantBalance InvariantKind = "balance"
)

// Invariant is a financial identity checked after evaluation.
type Invariant struct {
	Name      string        `json:"name" yaml:"name"`
	Kind      InvariantKind `json:"kind" yaml:"kind"`
	Variables []string      `json:"variables,omitempty" yaml:"variables,omitempty"`
	LHS       []string      `json:"lhs,omitempty" yaml:"lhs,omitempty"`
	RHS       []string      `json:"rhs,omitempty" yaml:"rhs,omitempty"`
	Target    *float64      `json:"target,omitempty" yaml:"target,omitempty"`
	Tolerance float64       `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
}

// FormulaCard is a named, deterministic formula definition.
type FormulaCard struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"short_description,omitempty" yaml:"short_description,omitempty"`
	Domain      string      `json:"domain" yaml:"domain"`
	Topic       string      `json:"topic" yaml:"topic"`
	Version     string      `json:"version,omitempty" yaml:"version,omitempty"`
	Inputs      []Variable  `json:"inputs" yaml:"inputs"`
	Steps       []Formula   `json:"steps" yaml:"steps"`
	OutputVar   string      `json:"output_var" yaml:"output_var"`
	Tags        []string    `json:"tags,omitempty" yaml:"tags,omitempty"`
	Invariants  []Invariant `json:"invariants,omitempty" yaml:"invariants,omitempty"`
	// Tolerance is the card's default epsilon for invariants; zero means the
	// process-wide default.
	Tolerance float64 `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
}

// RequiredInputs returns the input names in declaration order.
func (c *FormulaCard) RequiredInputs() []string {
	names := make([]string, len(c.Inputs))
	for i, in := range c.Inputs {
		names[i] = in.Name
	}
	return names
}

// Input returns the declared input with the given name.
func (c *FormulaCard) Input(name string) (Variable, bool) {
	for _, in := range c.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Variable{}, false
}

// Step returns the formula producing the given variable.
func (c *FormulaCard) Step(variable string) (Formula, bool) {
	for _, f := range c.Steps {
		if f.Variable == variable {
			return f, true
		}
	}
	return Formula{}, false
}

// Declared returns unit, kind and range for any input or step variable.
func (c *FormulaCard) Declared(name string) (Unit, Kind, *Range, bool) {
	if in, ok := c.Input(name); ok {
		return in.Unit, in.Kind, in.Range, true
	}
	if f, ok := c.Step(name); ok {
		return f.Unit, f.Kind, f.Range, true
	}
	return "", "", nil, false
}
