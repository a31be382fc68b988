// Package store implements append-only persistence for solve audit records
// and signed receipts, with hash chaining so tampering is detectable.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/verifiquant/pkg/canonicalize"
	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

var (
	ErrEntryNotFound = errors.New("audit entry not found")
	ErrChainBroken   = errors.New("audit chain broken")
	ErrNoEntries     = errors.New("no audit entries match")
)

type EntryType string

const (
	EntryTypeTransition EntryType = "transition" // subject: request id
	EntryTypeResult     EntryType = "result"     // subject: request id
	EntryTypeCatalog    EntryType = "catalog"    // subject: catalog version
	EntryTypeAccess     EntryType = "access"     // subject: actor:<id>
)

// AuditEntry is immutable once appended. EntryHash covers every field
// except EntryID and Metadata, and links to the previous entry.
type AuditEntry struct {
	EntryID      string            `json:"entry_id"`
	Sequence     uint64            `json:"sequence"`
	Timestamp    time.Time         `json:"timestamp"`
	EntryType    EntryType         `json:"entry_type"`
	Subject      string            `json:"subject"`
	Action       string            `json:"action"`
	Payload      json.RawMessage   `json:"payload"`
	PayloadHash  string            `json:"payload_hash"`
	PreviousHash string            `json:"previous_hash"`
	EntryHash    string            `json:"entry_hash"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (e *AuditEntry) digest() (string, error) {
	return canonicalize.CanonicalHash(map[string]any{
		"sequence":      e.Sequence,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"entry_type":    e.EntryType,
		"subject":       e.Subject,
		"action":        e.Action,
		"payload_hash":  e.PayloadHash,
		"previous_hash": e.PreviousHash,
	})
}

// check recomputes e's payload and entry hashes. prev is the expected
// PreviousHash, or "" to skip the link check.
func (e *AuditEntry) check(prev string) error {
	if prev != "" && e.PreviousHash != prev {
		return fmt.Errorf("%w: seq %d links to %s, want %s", ErrChainBroken, e.Sequence, e.PreviousHash, prev)
	}
	payload, err := canonicalize.Transform(e.Payload)
	if err != nil || canonicalize.HashBytes(payload) != e.PayloadHash {
		return fmt.Errorf("%w: seq %d payload altered", ErrChainBroken, e.Sequence)
	}
	h, err := e.digest()
	if err != nil {
		return fmt.Errorf("%w: seq %d: %w", ErrChainBroken, e.Sequence, err)
	}
	if h != e.EntryHash {
		return fmt.Errorf("%w: seq %d entry hash altered", ErrChainBroken, e.Sequence)
	}
	return nil
}

// AuditStore is the in-memory chained audit log shared by the solve
// recorder, the access log and the evidence exporter. With a retention cap
// the oldest entries are evicted; the chain stays verifiable from the
// first retained entry.
type AuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
	byID    map[string]*AuditEntry
	seq     uint64
	head    string
	// anchor is the PreviousHash of entries[0]: genesis until eviction.
	anchor  string
	evicted uint64
	retain  int
	now     func() time.Time
}

func NewAuditStore() *AuditStore {
	return &AuditStore{
		byID:   make(map[string]*AuditEntry),
		head:   contracts.GenesisHash,
		anchor: contracts.GenesisHash,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithRetention keeps at most limit entries. Zero or less keeps everything.
// Call it before the first Append.
func (s *AuditStore) WithRetention(limit int) *AuditStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retain = limit
	s.evict()
	return s
}

// Evicted returns how many entries the retention cap has dropped.
func (s *AuditStore) Evicted() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

func (s *AuditStore) evict() {
	for s.retain > 0 && len(s.entries) > s.retain {
		old := s.entries[0]
		delete(s.byID, old.EntryID)
		s.entries[0] = nil
		s.entries = s.entries[1:]
		s.anchor = old.EntryHash
		s.evicted++
	}
}

// Append canonicalizes payload and chains a new entry onto the head.
func (s *AuditStore) Append(typ EntryType, subject, action string, payload any, metadata map[string]string) (*AuditEntry, error) {
	body, err := canonicalize.JCS(payload)
	if err != nil {
		return nil, fmt.Errorf("audit payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &AuditEntry{
		EntryID:      uuid.NewString(),
		Sequence:     s.seq + 1,
		Timestamp:    s.now(),
		EntryType:    typ,
		Subject:      subject,
		Action:       action,
		Payload:      body,
		PayloadHash:  canonicalize.HashBytes(body),
		PreviousHash: s.head,
		Metadata:     metadata,
	}
	if e.EntryHash, err = e.digest(); err != nil {
		return nil, fmt.Errorf("audit entry hash: %w", err)
	}
	s.seq = e.Sequence
	s.byID[e.EntryID] = e
	s.entries = append(s.entries, e)
	s.head = e.EntryHash
	s.evict()
	return e, nil
}

// Lookup returns the entry with the given id.
func (s *AuditStore) Lookup(entryID string) (*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[entryID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return e, nil
}

// Head returns the last sequence number and its hash. An empty store
// reports 0 and the genesis hash.
func (s *AuditStore) Head() (uint64, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq, s.head
}

// QueryFilter selects entries. Zero fields match everything; time bounds
// are inclusive.
type QueryFilter struct {
	EntryType EntryType
	Subject   string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

func (f QueryFilter) match(e *AuditEntry) bool {
	switch {
	case f.EntryType != "" && e.EntryType != f.EntryType:
		return false
	case f.Subject != "" && e.Subject != f.Subject:
		return false
	case f.StartTime != nil && e.Timestamp.Before(*f.StartTime):
		return false
	case f.EndTime != nil && e.Timestamp.After(*f.EndTime):
		return false
	}
	return true
}

// Query returns matching entries in append order.
func (s *AuditStore) Query(f QueryFilter) []*AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*AuditEntry{}
	for _, e := range s.entries {
		if !f.match(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// VerifyChain walks the retained log from genesis, or from the last
// evicted entry's hash once the retention cap has dropped entries.
func (s *AuditStore) VerifyChain() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prev := s.anchor
	for _, e := range s.entries {
		if err := e.check(prev); err != nil {
			return err
		}
		prev = e.EntryHash
	}
	return nil
}

// AuditEvidenceBundle is a filtered slice of the log plus a hash over it.
type AuditEvidenceBundle struct {
	BundleID   string        `json:"bundle_id"`
	Version    string        `json:"version"`
	CreatedAt  time.Time     `json:"created_at"`
	StartSeq   uint64        `json:"start_sequence"`
	EndSeq     uint64        `json:"end_sequence"`
	EntryCount int           `json:"entry_count"`
	Entries    []*AuditEntry `json:"entries"`
	ChainHead  string        `json:"chain_head"`
	BundleHash string        `json:"bundle_hash"`
}

const bundleVersion = "1"

// Export bundles the entries matching f.
func (s *AuditStore) Export(f QueryFilter) (*AuditEvidenceBundle, error) {
	entries := s.Query(f)
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	hash, err := canonicalize.CanonicalHash(entries)
	if err != nil {
		return nil, fmt.Errorf("bundle hash: %w", err)
	}
	first, last := entries[0], entries[len(entries)-1]
	return &AuditEvidenceBundle{
		BundleID:   uuid.NewString(),
		Version:    bundleVersion,
		CreatedAt:  s.now(),
		StartSeq:   first.Sequence,
		EndSeq:     last.Sequence,
		EntryCount: len(entries),
		Entries:    entries,
		ChainHead:  last.EntryHash,
		BundleHash: hash,
	}, nil
}

// VerifyBundle checks the bundle hash and every entry. Filtered bundles
// have gaps, so links are only checked across consecutive sequences.
func VerifyBundle(b *AuditEvidenceBundle) error {
	if len(b.Entries) == 0 {
		return ErrNoEntries
	}
	if b.EntryCount != len(b.Entries) {
		return fmt.Errorf("%w: bundle claims %d entries, has %d", ErrChainBroken, b.EntryCount, len(b.Entries))
	}
	hash, err := canonicalize.CanonicalHash(b.Entries)
	if err != nil {
		return fmt.Errorf("bundle hash: %w", err)
	}
	if hash != b.BundleHash {
		return fmt.Errorf("%w: bundle hash mismatch", ErrChainBroken)
	}
	for i, e := range b.Entries {
		prev := ""
		if i > 0 && e.Sequence == b.Entries[i-1].Sequence+1 {
			prev = b.Entries[i-1].EntryHash
		}
		if err := e.check(prev); err != nil {
			return err
		}
	}
	return nil
}
