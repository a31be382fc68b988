package celdp

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Error codes.
const (
	CodeValidationFailed = "VQ/CORE/CEL_DP/VALIDATION_FAILED"
	CodeCompileFailed    = "VQ/CORE/CEL_DP/COMPILE_FAILED"
	CodeDomainError      = "VQ/CORE/CEL_DP/DOMAIN_ERROR"
	CodeRuntimeError     = "VQ/CORE/CEL_DP/RUNTIME_ERROR"
)

// CELDPEvaluator compiles formulas over a fixed set of double variables.
type CELDPEvaluator struct {
	env  *cel.Env
	vars map[string]bool
}

type CELError struct {
	ErrorCode       string `json:"error_code"`
	JSONPointerPath string `json:"json_pointer_path"`
	Message         string `json:"message"`
}

func (e *CELError) Error() string {
	return e.ErrorCode + ": " + e.Message
}

// Program is a compiled formula.
type Program struct {
	Source string
	Tree   *Node
	// Dependencies are the referenced variables in order of first use.
	Dependencies []string
	prg          cel.Program
}

// NewEvaluator declares every name in variables as a CEL double.
func NewEvaluator(variables []string) (*CELDPEvaluator, error) {
	opts := mathFunctions()
	declared := make(map[string]bool, len(variables))
	for _, name := range variables {
		if declared[name] {
			continue
		}
		declared[name] = true
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, err
	}
	return &CELDPEvaluator{env: env, vars: declared}, nil
}

// Compile validates, type-checks and plans expr.
func (e *CELDPEvaluator) Compile(expr string) (*Program, error) {
	// 1. Parse
	parsed, issues := e.env.Parse(expr)
	if issues != nil && issues.Err() != nil {
		return nil, &CELError{ErrorCode: CodeCompileFailed, Message: issues.Err().Error()}
	}

	// 2. Validate
	res := validateExpr(parsed.Expr()) //nolint:staticcheck // Deprecated but no alternative for AST traversal yet
	if !res.Valid {
		msgs := []string{}
		for _, iss := range res.Issues {
			msgs = append(msgs, iss.Message)
		}
		return nil, &CELError{ErrorCode: CodeValidationFailed, Message: strings.Join(msgs, "; ")}
	}

	deps := res.Tree.Identifiers()
	for _, d := range deps {
		if !e.vars[d] {
			return nil, &CELError{ErrorCode: CodeCompileFailed, JSONPointerPath: "/" + d, Message: fmt.Sprintf("undeclared variable %q", d)}
		}
	}

	// 3. Check
	checked, issues := e.env.Check(parsed)
	if issues != nil && issues.Err() != nil {
		return nil, &CELError{ErrorCode: CodeCompileFailed, Message: issues.Err().Error()}
	}
	if !checked.OutputType().IsExactType(cel.DoubleType) {
		return nil, &CELError{ErrorCode: CodeCompileFailed, Message: fmt.Sprintf("expression yields %s, want double", checked.OutputType())}
	}

	// 4. Program
	prg, err := e.env.Program(checked, cel.EvalOptions(cel.OptTrackState))
	if err != nil {
		return nil, &CELError{ErrorCode: CodeCompileFailed, Message: err.Error()}
	}

	return &Program{Source: expr, Tree: res.Tree, Dependencies: deps, prg: prg}, nil
}

// Eval runs the program once. Intermediate values recorded by CEL are then
// guarded so a domain violation names the failing operation.
func (p *Program) Eval(vars map[string]float64) (float64, *CELError) {
	activation := make(map[string]any, len(p.Dependencies))
	for _, d := range p.Dependencies {
		v, ok := vars[d]
		if !ok {
			return 0, &CELError{ErrorCode: CodeDomainError, JSONPointerPath: "/" + d, Message: fmt.Sprintf("undefined variable %q", d)}
		}
		activation[d] = v
	}
	val, det, err := p.prg.Eval(activation)
	if err != nil {
		return 0, &CELError{ErrorCode: CodeRuntimeError, Message: err.Error()}
	}

	if det != nil && det.State() != nil {
		state := det.State()
		recorded := func(n *Node) (float64, bool) {
			if v, ok := state.Value(n.ID); ok {
				if d, ok := v.(types.Double); ok {
					return float64(d), true
				}
			}
			switch n.Kind {
			case NodeConst:
				return n.Value, true
			case NodeIdent:
				v, ok := vars[n.Name]
				return v, ok
			}
			return 0, false
		}
		if gerr := p.Tree.Guard(recorded); gerr != nil {
			return 0, &CELError{ErrorCode: CodeDomainError, Message: gerr.Error()}
		}
	}

	d, ok := val.(types.Double)
	if !ok {
		return 0, &CELError{ErrorCode: CodeRuntimeError, Message: fmt.Sprintf("unexpected result type %s", val.Type())}
	}
	out := float64(d)
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, &CELError{ErrorCode: CodeDomainError, Message: "non-finite result"}
	}
	return out, nil
}

func mathFunctions() []cel.EnvOption {
	var opts []cel.EnvOption
	for name, arity := range Functions {
		fn := name
		switch arity {
		case 1:
			opts = append(opts, cel.Function(fn,
				cel.Overload(fn+"_double", []*cel.Type{cel.DoubleType}, cel.DoubleType,
					cel.UnaryBinding(func(arg ref.Val) ref.Val {
						x, ok := arg.(types.Double)
						if !ok {
							return types.NewErr("%s: expected double", fn)
						}
						return types.Double(applyFunction(fn, []float64{float64(x)}))
					}))))
		case 2:
			opts = append(opts, cel.Function(fn,
				cel.Overload(fn+"_double_double", []*cel.Type{cel.DoubleType, cel.DoubleType}, cel.DoubleType,
					cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
						x, ok1 := lhs.(types.Double)
						y, ok2 := rhs.(types.Double)
						if !ok1 || !ok2 {
							return types.NewErr("%s: expected double operands", fn)
						}
						return types.Double(applyFunction(fn, []float64{float64(x), float64(y)}))
					}))))
		}
	}
	return opts
}
