// Package registry holds the immutable catalog of formula cards.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/symbolic"
)

var ErrCardNotFound = errors.New("card not found")

// DefaultVersion is assigned to cards that declare none.
const DefaultVersion = "1.0.0"

// Entry is a registered card with its compiled plan.
type Entry struct {
	Card    *contracts.FormulaCard
	Plan    *symbolic.Plan
	Version *semver.Version
	// Order is the zero-based registration position. Selection ties break on it.
	Order int
}

// Registry is built once and never mutated. Readers need no locking.
type Registry struct {
	entries []*Entry
	byID    map[string]*Entry
	domains map[string][]string
}

// Builder accumulates cards in registration order.
type Builder struct {
	cards []*contracts.FormulaCard
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends cards. Validation happens in Build.
func (b *Builder) Add(cards ...*contracts.FormulaCard) *Builder {
	b.cards = append(b.cards, cards...)
	return b
}

// Build compiles every card and freezes the catalog. Duplicate ids, invalid
// versions and uncompilable formulas fail the whole build.
func (b *Builder) Build() (*Registry, error) {
	r := &Registry{
		entries: make([]*Entry, 0, len(b.cards)),
		byID:    make(map[string]*Entry, len(b.cards)),
		domains: make(map[string][]string),
	}

	topics := make(map[string]map[string]bool)
	for i, c := range b.cards {
		if c == nil {
			return nil, fmt.Errorf("card %d is nil", i)
		}
		if c.ID == "" {
			return nil, fmt.Errorf("card %d has no id", i)
		}
		if _, dup := r.byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate card id %q", c.ID)
		}

		card := clone(c)
		if card.Version == "" {
			card.Version = DefaultVersion
		}
		v, err := semver.NewVersion(card.Version)
		if err != nil {
			return nil, fmt.Errorf("card %s: invalid version %q: %w", card.ID, card.Version, err)
		}

		plan, err := symbolic.Compile(card)
		if err != nil {
			return nil, err
		}

		e := &Entry{Card: card, Plan: plan, Version: v, Order: i}
		r.entries = append(r.entries, e)
		r.byID[card.ID] = e

		if card.Domain != "" {
			if topics[card.Domain] == nil {
				topics[card.Domain] = make(map[string]bool)
			}
			if card.Topic != "" {
				topics[card.Domain][card.Topic] = true
			}
		}
	}

	for domain, set := range topics {
		list := make([]string, 0, len(set))
		for t := range set {
			list = append(list, t)
		}
		sort.Strings(list)
		r.domains[domain] = list
	}
	return r, nil
}

// Get returns the entry registered under id.
func (r *Registry) Get(id string) (*Entry, error) {
	if e, ok := r.byID[id]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCardNotFound, id)
}

// Entries returns all entries in registration order.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Registry) Len() int { return len(r.entries) }

// Domains maps each domain to its sorted topics.
func (r *Registry) Domains() map[string][]string {
	out := make(map[string][]string, len(r.domains))
	for d, ts := range r.domains {
		out[d] = append([]string(nil), ts...)
	}
	return out
}

// DomainNames returns domains sorted case-insensitively.
func (r *Registry) DomainNames() []string {
	names := make([]string, 0, len(r.domains))
	for d := range r.domains {
		names = append(names, d)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names
}

// clone deep-copies the slices so callers cannot mutate registered cards.
func clone(c *contracts.FormulaCard) *contracts.FormulaCard {
	out := *c
	out.Inputs = append([]contracts.Variable(nil), c.Inputs...)
	out.Steps = append([]contracts.Formula(nil), c.Steps...)
	out.Tags = append([]string(nil), c.Tags...)
	out.Invariants = make([]contracts.Invariant, len(c.Invariants))
	for i, inv := range c.Invariants {
		inv.Variables = append([]string(nil), inv.Variables...)
		inv.LHS = append([]string(nil), inv.LHS...)
		inv.RHS = append([]string(nil), inv.RHS...)
		out.Invariants[i] = inv
	}
	return &out
}
