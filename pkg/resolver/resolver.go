// Package resolver binds card input names to values with provenance. A
// resolver reports names it cannot source as missing; it never invents a
// value.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// DataResolver sources values for variable names.
type DataResolver interface {
	Resolve(ctx context.Context, names []string) (contracts.Resolution, error)
}

// Func adapts a function to DataResolver.
type Func func(ctx context.Context, names []string) (contracts.Resolution, error)

func (f Func) Resolve(ctx context.Context, names []string) (contracts.Resolution, error) {
	return f(ctx, names)
}

// Static serves a fixed set of bindings.
type Static map[string]contracts.Binding

// StaticValues builds a Static whose bindings share one provenance.
func StaticValues(values map[string]float64, prov contracts.Provenance) Static {
	s := make(Static, len(values))
	for name, v := range values {
		s[name] = contracts.Binding{Name: name, Value: v, Provenance: prov}
	}
	return s
}

func (s Static) Resolve(ctx context.Context, names []string) (contracts.Resolution, error) {
	if err := ctx.Err(); err != nil {
		return contracts.Resolution{}, err
	}
	out := newResolution(len(names))
	for _, name := range names {
		if b, ok := s[name]; ok {
			out.Bound[name] = b
			continue
		}
		out.Missing = append(out.Missing, name)
	}
	return out, nil
}

// Chain asks each resolver in turn for the names still missing. Earlier
// resolvers win.
type Chain []DataResolver

func (c Chain) Resolve(ctx context.Context, names []string) (contracts.Resolution, error) {
	out := newResolution(len(names))
	pending := dedupe(names)
	for _, r := range c {
		if len(pending) == 0 {
			break
		}
		res, err := r.Resolve(ctx, pending)
		if err != nil {
			return contracts.Resolution{}, err
		}
		var still []string
		for _, name := range pending {
			if b, ok := res.Bound[name]; ok {
				out.Bound[name] = b
				continue
			}
			still = append(still, name)
		}
		pending = still
	}
	out.Missing = pending
	return out, nil
}

// Bounded limits every call to Timeout and reports any failure as an
// UpstreamDataError. Cancellation of the caller's context is returned as is.
type Bounded struct {
	Next    DataResolver
	Timeout time.Duration
}

func (b Bounded) Resolve(ctx context.Context, names []string) (contracts.Resolution, error) {
	callCtx := ctx
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	res, err := b.Next.Resolve(callCtx, names)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return contracts.Resolution{}, ctx.Err()
	}
	var up *contracts.UpstreamDataError
	if errors.As(err, &up) {
		return contracts.Resolution{}, err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("resolver timed out after %s: %w", b.Timeout, err)
	}
	return contracts.Resolution{}, &contracts.UpstreamDataError{Names: names, Err: err}
}

func newResolution(n int) contracts.Resolution {
	return contracts.Resolution{Bound: make(map[string]contracts.Binding, n)}
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// missingFrom returns the requested names absent from bound, in request order.
func missingFrom(names []string, bound map[string]contracts.Binding) []string {
	var missing []string
	for _, n := range dedupe(names) {
		if _, ok := bound[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// sortedKeys is used where a stable query order matters.
func sortedKeys(names []string) []string {
	out := dedupe(names)
	sort.Strings(out)
	return out
}
