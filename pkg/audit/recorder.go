package audit

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/store"
)

// Recorder writes the solve trail into the audit store: one transition
// entry per state change and one result entry per request. Entry subjects
// are request ids.
type Recorder struct {
	store *store.AuditStore
}

func NewRecorder(s *store.AuditStore) *Recorder {
	return &Recorder{store: s}
}

// Transition records a state change. cardID is empty before selection.
func (r *Recorder) Transition(_ context.Context, requestID, from, to, cardID string) error {
	payload := map[string]string{"from": from, "to": to}
	var meta map[string]string
	if cardID != "" {
		payload["card_id"] = cardID
		meta = map[string]string{"card_id": cardID}
	}
	if _, err := r.store.Append(store.EntryTypeTransition, requestID, to, payload, meta); err != nil {
		return fmt.Errorf("record transition %s->%s: %w", from, to, err)
	}
	return nil
}

// Result records the terminal result, receipt included.
func (r *Recorder) Result(_ context.Context, result contracts.SolveResult) error {
	_, err := r.store.Append(store.EntryTypeResult, contracts.RequestIDOf(result), string(result.Status()), result, nil)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

// Catalog records the card set a process serves, keyed id to version, so
// an evidence pack can show which catalog produced its results.
func (r *Recorder) Catalog(_ context.Context, source string, cards map[string]string) error {
	payload := map[string]any{"source": source, "cards": cards}
	if _, err := r.store.Append(store.EntryTypeCatalog, source, "loaded", payload, nil); err != nil {
		return fmt.Errorf("record catalog: %w", err)
	}
	return nil
}

// Trail returns the chained entries for one request in append order.
func (r *Recorder) Trail(requestID string) []*store.AuditEntry {
	return r.store.Query(store.QueryFilter{Subject: requestID})
}
