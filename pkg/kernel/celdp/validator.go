package celdp

import (
	"fmt"

	"github.com/google/cel-go/cel"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Operators permitted in formula source, keyed by their CEL function name.
var allowedOperators = map[string]string{
	"_+_": OpAdd,
	"_-_": OpSub,
	"_*_": OpMul,
	"_/_": OpDiv,
	"-_":  OpNeg,
}

type CELDPIssue struct {
	Message  string
	Severity string // ERROR
}

type CELDPValidationResult struct {
	Valid  bool
	Issues []CELDPIssue
	// Tree is the arithmetic form of the expression. Nil when invalid.
	Tree *Node
}

type CELDPValidator struct {
	env *cel.Env
}

func NewValidator() (*CELDPValidator, error) {
	// Use standard env for parsing
	env, err := cel.NewEnv()
	if err != nil {
		return nil, err
	}
	return &CELDPValidator{env: env}, nil
}

// Validate parses exprSource and checks it against the deterministic
// double-arithmetic subset: double literals, identifiers, + - * / and unary
// minus, and the whitelisted math functions.
func (v *CELDPValidator) Validate(exprSource string) (*CELDPValidationResult, error) {
	parsedAST, issues := v.env.Parse(exprSource)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}

	return validateExpr(parsedAST.Expr()), nil //nolint:staticcheck // Deprecated but no alternative for AST traversal yet
}

// validateExpr checks a parsed expression. Node ids are the parser's, so
// they match the ids of any AST checked from the same parse.
func validateExpr(expr *exprpb.Expr) *CELDPValidationResult {
	result := &CELDPValidationResult{
		Valid:  true,
		Issues: []CELDPIssue{},
	}
	tree := checkRecursively(expr, &result.Issues)

	if len(result.Issues) > 0 {
		result.Valid = false
		return result
	}
	result.Tree = tree
	return result
}

func issue(issues *[]CELDPIssue, format string, args ...any) {
	*issues = append(*issues, CELDPIssue{Message: fmt.Sprintf(format, args...), Severity: "ERROR"})
}

func checkRecursively(e *exprpb.Expr, issues *[]CELDPIssue) *Node {
	if e == nil {
		return nil
	}

	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_ConstExpr:
		c := k.ConstExpr
		switch ck := c.ConstantKind.(type) {
		case *exprpb.Constant_DoubleValue:
			return &Node{ID: e.Id, Kind: NodeConst, Value: ck.DoubleValue}
		case *exprpb.Constant_Int64Value:
			issue(issues, "Integer literal %d is forbidden; write %d.0", ck.Int64Value, ck.Int64Value)
		case *exprpb.Constant_Uint64Value:
			issue(issues, "Unsigned literal %du is forbidden", ck.Uint64Value)
		default:
			issue(issues, "Only numeric literals are permitted")
		}
		return nil

	case *exprpb.Expr_IdentExpr:
		return &Node{ID: e.Id, Kind: NodeIdent, Name: k.IdentExpr.Name}

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		op, ok := callOperator(call, issues)
		n := &Node{ID: e.Id, Kind: NodeCall, Op: op}
		if call.Target != nil {
			checkRecursively(call.Target, issues)
		}
		for _, arg := range call.Args {
			n.Args = append(n.Args, checkRecursively(arg, issues))
		}
		if !ok {
			return nil
		}
		return n

	case *exprpb.Expr_SelectExpr:
		issue(issues, "Field selection is forbidden")
		checkRecursively(k.SelectExpr.Operand, issues)
	case *exprpb.Expr_ListExpr:
		issue(issues, "List literals are forbidden")
	case *exprpb.Expr_StructExpr:
		issue(issues, "Map and message literals are forbidden")
	case *exprpb.Expr_ComprehensionExpr:
		issue(issues, "Comprehensions are forbidden")
	}
	return nil
}

// callOperator resolves the operator of call, recording an issue when it is
// outside the subset. Arguments are checked by the caller either way so
// every problem in the expression is reported.
func callOperator(call *exprpb.Expr_Call, issues *[]CELDPIssue) (string, bool) {
	switch {
	case call.Function == "now":
		issue(issues, "now() is forbidden")
		return "", false
	case call.Function == "keys" || call.Function == "values":
		issue(issues, "Map iteration (keys/values) is forbidden due to non-determinism")
		return "", false
	case call.Target != nil:
		issue(issues, "Receiver-style call %s() is forbidden", call.Function)
		return "", false
	}

	if op, ok := allowedOperators[call.Function]; ok {
		return op, true
	}
	arity, isFunc := Functions[call.Function]
	if !isFunc {
		issue(issues, "Operator or function %q is not permitted", call.Function)
		return "", false
	}
	if len(call.Args) != arity {
		issue(issues, "%s expects %d argument(s), got %d", call.Function, arity, len(call.Args))
		return "", false
	}
	return call.Function, true
}
