package contracts

import "fmt"

// ProvenanceKind classifies where a bound value came from.
type ProvenanceKind string

const (
	ProvenanceDocument     ProvenanceKind = "document"
	ProvenanceTable        ProvenanceKind = "table"
	ProvenanceLineItem     ProvenanceKind = "line_item"
	ProvenanceDatabase     ProvenanceKind = "database"
	ProvenanceService      ProvenanceKind = "service"
	ProvenanceUserSupplied ProvenanceKind = "user_supplied"
)

// UserSuppliedSource is the source label for values stated by the caller.
const UserSuppliedSource = "user-supplied"

// Provenance is the source reference backing a bound value.
type Provenance struct {
	Kind      ProvenanceKind `json:"kind"`
	Source    string         `json:"source"`
	Reference string         `json:"reference,omitempty"`
}

// UserSupplied returns the provenance for values given in the question.
func UserSupplied() Provenance {
	return Provenance{Kind: ProvenanceUserSupplied, Source: UserSuppliedSource}
}

// IsZero reports whether no provenance was recorded.
func (p Provenance) IsZero() bool {
	return p.Source == "" && p.Reference == ""
}

func (p Provenance) String() string {
	if p.Reference == "" {
		return p.Source
	}
	return fmt.Sprintf("%s#%s", p.Source, p.Reference)
}

// Binding maps one variable name to a value and its provenance.
type Binding struct {
	Name       string     `json:"name"`
	Value      float64    `json:"value"`
	Provenance Provenance `json:"provenance"`
}

// Resolution is the outcome of a DataResolver call.
type Resolution struct {
	Bound   map[string]Binding `json:"bound"`
	Missing []string           `json:"missing,omitempty"`
}

// Values flattens bound bindings to name -> value.
func (r Resolution) Values() map[string]float64 {
	out := make(map[string]float64, len(r.Bound))
	for name, b := range r.Bound {
		out[name] = b.Value
	}
	return out
}
