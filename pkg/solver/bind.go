package solver

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/kernel/retry"
	"github.com/Mindburn-Labs/verifiquant/pkg/observability"
	"github.com/Mindburn-Labs/verifiquant/pkg/resolver"
)

// bind sources every required input of card. Values stated in the plan
// win; the rest go to the resolver. A name that neither supplies with a
// provenance is missing. Nothing is defaulted.
func (s *Solver) bind(ctx context.Context, r *run, card *contracts.FormulaCard, plan *contracts.TaskPlan) (map[string]contracts.Binding, error) {
	required := card.RequiredInputs()
	bound := make(map[string]contracts.Binding, len(required))

	var unresolved []string
	for _, name := range required {
		if v, ok := plan.Stated[name]; ok {
			bound[name] = contracts.Binding{Name: name, Value: v, Provenance: contracts.UserSupplied()}
			continue
		}
		unresolved = append(unresolved, name)
	}

	if len(unresolved) > 0 {
		res, err := s.resolve(ctx, r, unresolved)
		if err != nil {
			return nil, err
		}
		for _, name := range unresolved {
			if b, ok := res.Bound[name]; ok && !b.Provenance.IsZero() {
				b.Name = name
				bound[name] = b
			}
		}
	}

	var missing []string
	for _, name := range required {
		if _, ok := bound[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &contracts.MissingInputError{CardID: card.ID, Names: missing}
	}
	return bound, nil
}

// resolve calls the resolver under the per-attempt timeout and retries an
// UpstreamDataError exactly as often as the retry policy allows.
func (s *Solver) resolve(ctx context.Context, r *run, names []string) (contracts.Resolution, error) {
	bounded := resolver.Bounded{Next: s.d.Resolver, Timeout: s.d.ResolverTimeout}
	params := retry.BackoffParams{PolicyID: s.d.Retry.PolicyID, RequestID: r.requestID, Operation: "resolve"}

	rctx, done := s.d.Telemetry.TrackOperation(ctx, observability.OperationResolve, observability.AttrRequestID.String(r.requestID))
	var res contracts.Resolution
	attempts, err := retry.Do(rctx, params, s.d.Retry, isUpstream, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			s.logger.Warn("retrying data resolution", "request_id", r.requestID, "card_id", r.cardID, "attempt", attempt+1)
		}
		var err error
		res, err = bounded.Resolve(ctx, names)
		return err
	})
	done(err)
	if err != nil {
		var up *contracts.UpstreamDataError
		if errors.As(err, &up) {
			up.Attempts = attempts
		}
		return contracts.Resolution{}, err
	}
	return res, nil
}

func isUpstream(err error) bool {
	var up *contracts.UpstreamDataError
	return errors.As(err, &up)
}
