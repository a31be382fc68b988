package celdp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type NodeKind int

const (
	NodeConst NodeKind = iota
	NodeIdent
	NodeCall
)

// Arithmetic operators.
const (
	OpAdd = "+"
	OpSub = "-"
	OpMul = "*"
	OpDiv = "/"
	OpNeg = "neg"
)

// Functions lists the permitted math functions and their arity.
var Functions = map[string]int{
	"pow":  2,
	"ln":   1,
	"exp":  1,
	"sqrt": 1,
	"abs":  1,
	"min":  2,
	"max":  2,
}

// Node is the validated arithmetic tree of a formula.
type Node struct {
	// ID is the parser's expression id.
	ID    int64
	Kind  NodeKind
	Op    string
	Name  string
	Value float64
	Args  []*Node
}

// Identifiers returns referenced names in order of first appearance.
func (n *Node) Identifiers() []string {
	seen := map[string]bool{}
	var out []string
	n.Walk(func(x *Node) {
		if x.Kind == NodeIdent && !seen[x.Name] {
			seen[x.Name] = true
			out = append(out, x.Name)
		}
	})
	return out
}

// Walk visits n and its descendants depth-first, parents before children.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, a := range n.Args {
		a.Walk(fn)
	}
}

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	switch n.Kind {
	case NodeConst:
		return strconv.FormatFloat(n.Value, 'g', -1, 64)
	case NodeIdent:
		return n.Name
	}
	switch n.Op {
	case OpNeg:
		return "-" + n.Args[0].String()
	case OpAdd, OpSub, OpMul, OpDiv:
		return fmt.Sprintf("(%s %s %s)", n.Args[0], n.Op, n.Args[1])
	}
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", n.Op, strings.Join(args, ", "))
}

// DomainError is an operation applied outside its mathematical domain.
type DomainError struct {
	Op     string
	Reason string
}

func (e *DomainError) Error() string { return e.Reason }

// Guard walks the tree children first and reports the first operation that
// left its domain: division by zero, ln of a non-positive value, sqrt of a
// negative value, or any non-finite intermediate. value returns the recorded
// result of a node; nodes without one are skipped.
func (n *Node) Guard(value func(*Node) (float64, bool)) error {
	if n == nil {
		return nil
	}
	for _, a := range n.Args {
		if err := a.Guard(value); err != nil {
			return err
		}
	}
	if n.Kind != NodeCall {
		return nil
	}

	arg := func(i int) (float64, bool) {
		if i >= len(n.Args) {
			return 0, false
		}
		return value(n.Args[i])
	}
	switch n.Op {
	case OpDiv:
		if d, ok := arg(1); ok && d == 0 {
			return &DomainError{Op: OpDiv, Reason: fmt.Sprintf("division by zero in %s", n)}
		}
	case "ln":
		if x, ok := arg(0); ok && x <= 0 {
			return &DomainError{Op: "ln", Reason: fmt.Sprintf("ln of non-positive value %g", x)}
		}
	case "sqrt":
		if x, ok := arg(0); ok && x < 0 {
			return &DomainError{Op: "sqrt", Reason: fmt.Sprintf("sqrt of negative value %g", x)}
		}
	}
	if out, ok := value(n); ok && (math.IsNaN(out) || math.IsInf(out, 0)) {
		return &DomainError{Op: n.Op, Reason: fmt.Sprintf("non-finite result from %s", n)}
	}
	return nil
}

func applyFunction(name string, args []float64) float64 {
	switch name {
	case "pow":
		return math.Pow(args[0], args[1])
	case "ln":
		return math.Log(args[0])
	case "exp":
		return math.Exp(args[0])
	case "sqrt":
		return math.Sqrt(args[0])
	case "abs":
		return math.Abs(args[0])
	case "min":
		return math.Min(args[0], args[1])
	case "max":
		return math.Max(args[0], args[1])
	}
	return math.NaN()
}
