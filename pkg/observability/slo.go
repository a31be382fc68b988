package observability

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultSolveSLO is the objective applied to whole solves. Refusals count
// as successes: refusing is the pipeline working.
func DefaultSolveSLO() *SLOTarget {
	return &SLOTarget{
		SLOID:       "solve-availability",
		Name:        "Solve availability",
		Operation:   OperationSolve,
		LatencyP99:  10 * time.Second,
		SuccessRate: 0.99,
		Window:      24 * time.Hour,
	}
}

// SLOTarget is the objective for one operation.
type SLOTarget struct {
	SLOID       string        `json:"slo_id"`
	Name        string        `json:"name"`
	Operation   string        `json:"operation"`
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"`
	Window      time.Duration `json:"window"`
}

// SLOObservation is one finished operation.
type SLOObservation struct {
	Operation string        `json:"operation"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

// SLOStatus is the compliance of one operation over its window.
type SLOStatus struct {
	SLOID            string  `json:"slo_id"`
	Operation        string  `json:"operation"`
	P99Millis        float64 `json:"p99_ms"`
	SuccessRate      float64 `json:"success_rate"`
	InCompliance     bool    `json:"in_compliance"`
	BurnRate         float64 `json:"burn_rate"`
	ErrorBudgetLeft  float64 `json:"error_budget_left"`
	ObservationCount int     `json:"observation_count"`
}

// SLOTracker keeps windowed observations for operations that have a
// target. Observations for other operations are dropped, and observations
// older than the window are pruned on write.
type SLOTracker struct {
	mu      sync.Mutex
	targets map[string]*SLOTarget
	windows map[string][]SLOObservation
	now     func() time.Time
}

func NewSLOTracker() *SLOTracker {
	return &SLOTracker{
		targets: make(map[string]*SLOTarget),
		windows: make(map[string][]SLOObservation),
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (t *SLOTracker) WithClock(now func() time.Time) *SLOTracker {
	t.now = now
	return t
}

func (t *SLOTracker) SetTarget(target *SLOTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Operation] = target
}

func (t *SLOTracker) Record(obs SLOObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[obs.Operation]
	if !ok {
		return
	}
	now := t.now()
	if obs.Timestamp.IsZero() {
		obs.Timestamp = now
	}
	t.windows[obs.Operation] = append(prune(t.windows[obs.Operation], now.Add(-target.Window)), obs)
}

// prune drops observations at or before cutoff. Observations arrive in
// timestamp order, so the kept ones are a suffix.
func prune(obs []SLOObservation, cutoff time.Time) []SLOObservation {
	i := sort.Search(len(obs), func(i int) bool { return obs[i].Timestamp.After(cutoff) })
	if i == 0 {
		return obs
	}
	return append(obs[:0], obs[i:]...)
}

// Status reports compliance for operation over its window.
func (t *SLOTracker) Status(operation string) (*SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[operation]
	if !ok {
		return nil, fmt.Errorf("no SLO target for operation %q", operation)
	}
	window := prune(t.windows[operation], t.now().Add(-target.Window))
	t.windows[operation] = window

	st := &SLOStatus{
		SLOID:            target.SLOID,
		Operation:        operation,
		SuccessRate:      1,
		InCompliance:     true,
		ErrorBudgetLeft:  100,
		ObservationCount: len(window),
	}
	if len(window) == 0 {
		return st, nil
	}

	ok200 := 0
	millis := make([]float64, len(window))
	for i, o := range window {
		if o.Success {
			ok200++
		}
		millis[i] = float64(o.Latency) / float64(time.Millisecond)
	}
	sort.Float64s(millis)
	// Nearest-rank percentile.
	rank := int(math.Ceil(0.99*float64(len(millis)))) - 1
	st.P99Millis = millis[rank]
	st.SuccessRate = float64(ok200) / float64(len(window))

	budget := 1 - target.SuccessRate
	spent := 1 - st.SuccessRate
	if budget > 0 {
		st.BurnRate = spent / budget
		st.ErrorBudgetLeft = math.Max(0, 100*(1-st.BurnRate))
	} else if spent > 0 {
		st.ErrorBudgetLeft = 0
	}
	st.InCompliance = st.SuccessRate >= target.SuccessRate &&
		st.P99Millis <= float64(target.LatencyP99)/float64(time.Millisecond)
	return st, nil
}
