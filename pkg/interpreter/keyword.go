package interpreter

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// statedPattern matches "name = 0.08", "name: 8%" or "name of 1,200".
var statedPattern = regexp.MustCompile(`(?i)\b([a-z][a-z0-9_]*)\s*(?:=|:|\bof\b|\bis\b)\s*(-?[0-9][0-9,]*(?:\.[0-9]+)?)\s*(%?)`)

// KeywordInterpreter is a deterministic offline interpreter. A variable is
// extracted when its name, or its name with underscores as spaces, appears
// in the question. Values are taken only from explicit assignments.
type KeywordInterpreter struct {
	vocab *Vocabulary
}

func NewKeywordInterpreter(vocab *Vocabulary) *KeywordInterpreter {
	return &KeywordInterpreter{vocab: vocab}
}

func (k *KeywordInterpreter) Interpret(ctx context.Context, question string) (*contracts.TaskPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, &contracts.InterpretationError{Question: question, Err: errEmptyQuestion}
	}
	lower := " " + strings.ToLower(q) + " "

	plan := &contracts.TaskPlan{Question: q}
	for _, t := range k.vocab.Terms {
		if containsWord(lower, t.Name) || containsWord(lower, strings.ReplaceAll(t.Name, "_", " ")) {
			plan.Variables = append(plan.Variables, t.Name)
		}
	}

	for _, m := range statedPattern.FindAllStringSubmatch(q, -1) {
		name := strings.ToLower(m[1])
		if !k.vocab.Knows(name) {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil {
			continue
		}
		if m[3] == "%" {
			v /= 100
		}
		if plan.Stated == nil {
			plan.Stated = make(map[string]float64)
		}
		plan.Stated[name] = v
	}
	return plan, nil
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		if !isWordByte(haystack[start-1]) && (end >= len(haystack) || !isWordByte(haystack[end])) {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
