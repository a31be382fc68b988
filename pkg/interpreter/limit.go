package interpreter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// Limited paces calls to a paid interpreter. Waiting respects the caller's
// context; a wait that cannot finish before the deadline fails fast.
type Limited struct {
	next    TaskInterpreter
	limiter *rate.Limiter
}

// NewLimited allows perSecond calls with the given burst.
func NewLimited(next TaskInterpreter, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) Interpret(ctx context.Context, question string) (*contracts.TaskPlan, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &contracts.InterpretationError{Question: question, Err: err}
	}
	return l.next.Interpret(ctx, question)
}
