// Package interpreter turns a natural-language question into a TaskPlan.
// Interpreters only extract; they never resolve data or pick a card.
package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/registry"
)

// TaskInterpreter extracts a TaskPlan from a question.
type TaskInterpreter interface {
	Interpret(ctx context.Context, question string) (*contracts.TaskPlan, error)
}

// Term is one variable name the catalog understands.
type Term struct {
	Name        string
	Description string
}

// Vocabulary is the set of names and scopes an interpreter may emit.
type Vocabulary struct {
	Terms   []Term
	Domains map[string][]string
	known   map[string]bool
}

// VocabularyFrom collects every card input name in registration order.
func VocabularyFrom(reg *registry.Registry) *Vocabulary {
	v := &Vocabulary{Domains: reg.Domains(), known: make(map[string]bool)}
	for _, e := range reg.Entries() {
		for _, in := range e.Card.Inputs {
			if v.known[in.Name] {
				continue
			}
			v.known[in.Name] = true
			v.Terms = append(v.Terms, Term{Name: in.Name, Description: in.Description})
		}
	}
	return v
}

// Knows reports whether name is a catalog input.
func (v *Vocabulary) Knows(name string) bool { return v.known[name] }

// Prompt renders the extraction instructions for a language model.
func (v *Vocabulary) Prompt() string {
	var b strings.Builder
	b.WriteString("Extract a task plan from a financial question. Reply with one JSON object:\n")
	b.WriteString(`{"domain": string, "topic": string, "variables": [string], "window": string, "frequency": string, "stated": {name: number}}`)
	b.WriteString("\nUse only these variable names. List every one the question needs, and put a value in \"stated\" only if the question gives that number literally. Write percentages as fractions. Never estimate.\n")
	for _, t := range v.Terms {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}

	domains := make([]string, 0, len(v.Domains))
	for d := range v.Domains {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	b.WriteString("Domains and topics:\n")
	for _, d := range domains {
		fmt.Fprintf(&b, "- %s: %s\n", d, strings.Join(v.Domains[d], ", "))
	}
	return b.String()
}

type planDocument struct {
	Domain    string             `json:"domain"`
	Topic     string             `json:"topic"`
	Variables []string           `json:"variables"`
	Window    string             `json:"window"`
	Frequency string             `json:"frequency"`
	Stated    map[string]float64 `json:"stated"`
}

// ParsePlan decodes a model reply. Names outside the vocabulary are
// dropped so a model cannot introduce inputs no card declares.
func (v *Vocabulary) ParsePlan(question, reply string) (*contracts.TaskPlan, error) {
	raw := strings.TrimSpace(reply)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var doc planDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, &contracts.InterpretationError{Question: question, Err: fmt.Errorf("decode plan: %w", err)}
	}

	plan := &contracts.TaskPlan{
		Question:  question,
		Domain:    strings.TrimSpace(doc.Domain),
		Topic:     strings.TrimSpace(doc.Topic),
		Window:    doc.Window,
		Frequency: doc.Frequency,
	}
	seen := make(map[string]bool)
	for _, name := range doc.Variables {
		name = strings.TrimSpace(name)
		if v.Knows(name) && !seen[name] {
			seen[name] = true
			plan.Variables = append(plan.Variables, name)
		}
	}
	for name, val := range doc.Stated {
		if !v.Knows(name) || math.IsNaN(val) || math.IsInf(val, 0) {
			continue
		}
		if plan.Stated == nil {
			plan.Stated = make(map[string]float64)
		}
		plan.Stated[name] = val
	}

	if len(plan.Variables) == 0 && len(plan.Stated) == 0 && plan.Domain == "" && plan.Topic == "" {
		return nil, &contracts.InterpretationError{Question: question, Err: fmt.Errorf("no known variables or scope in reply")}
	}
	return plan, nil
}
