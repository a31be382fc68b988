package verifier

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/kernel/celdp"
)

// Base dimensions. Everything else is a dimensionless alias.
var baseDimensions = []string{"currency", "time", "count"}

var dimensionless = map[string]bool{
	"":        true,
	"ratio":   true,
	"rate":    true,
	"weight":  true,
	"percent": true,
}

// Dimension holds integer exponents over the base dimensions. A wildcard
// is a bare numeric constant that takes the dimension of its sibling in
// additive positions.
type Dimension struct {
	exp      [3]int
	wildcard bool
}

func (d Dimension) IsDimensionless() bool {
	return d.exp == [3]int{}
}

func (d Dimension) equal(o Dimension) bool {
	return d.exp == o.exp
}

func (d Dimension) String() string {
	var num, den []string
	for i, e := range d.exp {
		switch {
		case e == 1:
			num = append(num, baseDimensions[i])
		case e > 1:
			num = append(num, fmt.Sprintf("%s^%d", baseDimensions[i], e))
		case e == -1:
			den = append(den, baseDimensions[i])
		case e < -1:
			den = append(den, fmt.Sprintf("%s^%d", baseDimensions[i], -e))
		}
	}
	if len(num) == 0 && len(den) == 0 {
		return "dimensionless"
	}
	s := strings.Join(num, "*")
	if s == "" {
		s = "1"
	}
	if len(den) > 0 {
		s += "/" + strings.Join(den, "/")
	}
	return s
}

// ParseUnit reads units like "currency", "currency/time", "currency*count"
// or "time^2". Dimensionless aliases map to the empty dimension.
func ParseUnit(u contracts.Unit) (Dimension, error) {
	s := strings.ToLower(strings.TrimSpace(string(u)))
	var d Dimension
	if dimensionless[s] {
		return d, nil
	}

	sign := 1
	term := strings.Builder{}
	apply := func() error {
		t := term.String()
		term.Reset()
		if dimensionless[t] {
			return nil
		}
		name, power := t, 1
		if i := strings.IndexByte(t, '^'); i >= 0 {
			p, err := strconv.Atoi(t[i+1:])
			if err != nil {
				return fmt.Errorf("unit %q: bad exponent", u)
			}
			name, power = t[:i], p
		}
		for i, b := range baseDimensions {
			if b == name {
				d.exp[i] += sign * power
				return nil
			}
		}
		return fmt.Errorf("unknown unit %q", name)
	}

	for _, r := range s {
		switch r {
		case '*', '/':
			if err := apply(); err != nil {
				return d, err
			}
			// Every term after the first '/' is in the denominator.
			if r == '/' {
				sign = -1
			}
		case ' ':
		default:
			term.WriteRune(r)
		}
	}
	if err := apply(); err != nil {
		return d, err
	}
	return d, nil
}

// inferDimension walks a formula tree given the dimensions of its identifiers.
func inferDimension(n *celdp.Node, env map[string]Dimension) (Dimension, error) {
	switch n.Kind {
	case celdp.NodeConst:
		return Dimension{wildcard: true}, nil
	case celdp.NodeIdent:
		d, ok := env[n.Name]
		if !ok {
			return d, fmt.Errorf("no dimension known for %s", n.Name)
		}
		return d, nil
	}

	args := make([]Dimension, len(n.Args))
	for i, a := range n.Args {
		d, err := inferDimension(a, env)
		if err != nil {
			return d, err
		}
		args[i] = d
	}

	switch n.Op {
	case celdp.OpAdd, celdp.OpSub, "min", "max":
		return unify(n, args[0], args[1])
	case celdp.OpMul:
		return combine(args[0], args[1], 1), nil
	case celdp.OpDiv:
		return combine(args[0], args[1], -1), nil
	case celdp.OpNeg, "abs":
		return args[0], nil
	case "ln", "exp":
		if !args[0].IsDimensionless() {
			return Dimension{}, fmt.Errorf("%s requires a dimensionless argument, got %s in %s", n.Op, args[0], n)
		}
		return Dimension{}, nil
	case "sqrt":
		var out Dimension
		for i, e := range args[0].exp {
			if e%2 != 0 {
				return out, fmt.Errorf("sqrt of %s has no integral dimension in %s", args[0], n)
			}
			out.exp[i] = e / 2
		}
		out.wildcard = args[0].wildcard
		return out, nil
	case "pow":
		if !args[1].IsDimensionless() {
			return Dimension{}, fmt.Errorf("pow exponent must be dimensionless, got %s in %s", args[1], n)
		}
		if args[0].IsDimensionless() {
			return Dimension{wildcard: args[0].wildcard}, nil
		}
		exp := n.Args[1]
		if exp.Kind != celdp.NodeConst || exp.Value != math.Trunc(exp.Value) {
			return Dimension{}, fmt.Errorf("pow of dimensioned %s needs a constant integral exponent in %s", args[0], n)
		}
		var out Dimension
		for i, e := range args[0].exp {
			out.exp[i] = e * int(exp.Value)
		}
		return out, nil
	}
	return Dimension{}, fmt.Errorf("operator %s has no dimensional rule", n.Op)
}

func unify(n *celdp.Node, a, b Dimension) (Dimension, error) {
	switch {
	case a.wildcard && b.wildcard:
		return a, nil
	case a.wildcard:
		return Dimension{exp: b.exp}, nil
	case b.wildcard:
		return Dimension{exp: a.exp}, nil
	case !a.equal(b):
		return Dimension{}, fmt.Errorf("cannot combine %s with %s in %s", a, b, n)
	}
	return a, nil
}

func combine(a, b Dimension, sign int) Dimension {
	out := Dimension{wildcard: a.wildcard && b.wildcard}
	for i := range out.exp {
		out.exp[i] = a.exp[i] + sign*b.exp[i]
	}
	return out
}
