package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/verifiquant/pkg/canonicalize"
	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/store"
)

var (
	ErrNoReceipt         = errors.New("result carries no receipt")
	ErrResultHash        = errors.New("result does not match receipt hash")
	ErrInvalidSignature  = errors.New("receipt signature is invalid")
	ErrReceiptChainBreak = errors.New("receipt chain is broken")
)

// ReceiptSigner signs receipts in place. Satisfied by crypto.KeyRing and
// crypto.Ed25519Signer.
type ReceiptSigner interface {
	SignReceipt(r *contracts.Receipt) error
}

// ReceiptVerifier checks receipt signatures.
type ReceiptVerifier interface {
	VerifyReceipt(r *contracts.Receipt) (bool, error)
}

// Notary issues signed receipts chained in issue order.
type Notary struct {
	mu     sync.Mutex
	store  store.ReceiptStore
	signer ReceiptSigner
	logger *slog.Logger
	now    func() time.Time
}

func NewNotary(s store.ReceiptStore, signer ReceiptSigner, logger *slog.Logger) *Notary {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notary{
		store:  s,
		signer: signer,
		logger: logger.With("component", "notary"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ResultHash is the canonical digest of a result with its receipt removed.
func ResultHash(r contracts.SolveResult) (string, error) {
	return canonicalize.CanonicalHash(contracts.WithoutReceipt(r))
}

// ReceiptHash is the digest the next receipt links to.
func ReceiptHash(r *contracts.Receipt) (string, error) {
	return canonicalize.CanonicalHash(r)
}

func cardIDOf(r contracts.SolveResult) string {
	switch v := r.(type) {
	case *contracts.Success:
		return v.CardID
	case *contracts.Refused:
		return v.CardID
	}
	return ""
}

// Issue signs, stores and attaches a receipt for result.
func (n *Notary) Issue(ctx context.Context, result contracts.SolveResult) (*contracts.Receipt, error) {
	hash, err := ResultHash(result)
	if err != nil {
		return nil, fmt.Errorf("hash result: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	prev, seq := contracts.GenesisHash, uint64(1)
	last, err := n.store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chain head: %w", err)
	}
	if last != nil {
		if prev, err = ReceiptHash(last); err != nil {
			return nil, fmt.Errorf("hash chain head: %w", err)
		}
		seq = last.Sequence + 1
	}

	rc := &contracts.Receipt{
		ReceiptID:  uuid.New().String(),
		RequestID:  contracts.RequestIDOf(result),
		CardID:     cardIDOf(result),
		Status:     result.Status(),
		ResultHash: hash,
		PrevHash:   prev,
		Sequence:   seq,
		Timestamp:  n.now(),
	}
	if err := n.signer.SignReceipt(rc); err != nil {
		return nil, fmt.Errorf("sign receipt: %w", err)
	}
	if err := n.store.Store(ctx, rc); err != nil {
		return nil, fmt.Errorf("store receipt: %w", err)
	}
	contracts.AttachReceipt(result, rc)
	n.logger.Debug("receipt issued", "request_id", rc.RequestID, "sequence", rc.Sequence, "key_id", rc.KeyID)
	return rc, nil
}

func receiptOf(r contracts.SolveResult) *contracts.Receipt {
	switch v := r.(type) {
	case *contracts.Success:
		return v.Receipt
	case *contracts.Refused:
		return v.Receipt
	case *contracts.Errored:
		return v.Receipt
	}
	return nil
}

// VerifyResult checks that a result's receipt is signed and covers exactly
// this result.
func VerifyResult(result contracts.SolveResult, v ReceiptVerifier) error {
	rc := receiptOf(result)
	if rc == nil {
		return ErrNoReceipt
	}
	hash, err := ResultHash(result)
	if err != nil {
		return err
	}
	if hash != rc.ResultHash {
		return fmt.Errorf("%w: computed %s, receipt has %s", ErrResultHash, hash, rc.ResultHash)
	}
	if rc.RequestID != contracts.RequestIDOf(result) || rc.Status != result.Status() {
		return fmt.Errorf("%w: receipt names request %s/%s", ErrResultHash, rc.RequestID, rc.Status)
	}
	ok, err := v.VerifyReceipt(rc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyReceiptChain checks sequence continuity and hash links. Receipts
// may be given in any order; the first must either be genesis-linked or
// is trusted as the segment start.
func VerifyReceiptChain(receipts []*contracts.Receipt) error {
	sorted := append([]*contracts.Receipt(nil), receipts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Sequence != prev.Sequence+1 {
			return fmt.Errorf("%w: sequence %d follows %d", ErrReceiptChainBreak, cur.Sequence, prev.Sequence)
		}
		want, err := ReceiptHash(prev)
		if err != nil {
			return err
		}
		if cur.PrevHash != want {
			return fmt.Errorf("%w: receipt %d does not link to %d", ErrReceiptChainBreak, cur.Sequence, prev.Sequence)
		}
	}
	if len(sorted) > 0 && sorted[0].Sequence == 1 && sorted[0].PrevHash != contracts.GenesisHash {
		return fmt.Errorf("%w: first receipt is not genesis-linked", ErrReceiptChainBreak)
	}
	return nil
}
