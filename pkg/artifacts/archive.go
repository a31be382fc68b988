package artifacts

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/verifiquant/pkg/canonicalize"
	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
	"github.com/Mindburn-Labs/verifiquant/pkg/crypto"
)

// Envelope types.
const (
	TypeSolveResult  = "verifiquant/solve-result"
	TypeEvidencePack = "verifiquant/evidence-pack"
)

const schemaVersion = "v1"

// MaxPayloadSize bounds a single archived payload.
const MaxPayloadSize = 10 << 20

var ErrSignerNotConfigured = errors.New("artifacts: signer not configured (fail-closed)")

// Envelope is the signed wrapper stored for every archived artifact. The
// signature covers the canonical form of the envelope with Signature empty.
type Envelope struct {
	Type           string          `json:"type"`
	SchemaVersion  string          `json:"schema_version"`
	ProducerID     string          `json:"producer_id"`
	Subject        string          `json:"subject,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload"`
	SignatureKeyID string          `json:"signature_key_id,omitempty"`
	Signature      string          `json:"signature,omitempty"`
}

func (e *Envelope) signingBytes() ([]byte, error) {
	cp := *e
	cp.Signature = ""
	return canonicalize.JCS(cp)
}

// Archive signs envelopes and persists them in a Store.
type Archive struct {
	store    Store
	signer   crypto.Signer
	verifier crypto.Verifier
	producer string
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchive wires an archive. verifier may be nil when the archive is
// write-only; Verify then fails closed.
func NewArchive(s Store, signer crypto.Signer, verifier crypto.Verifier, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{
		store:    s,
		signer:   signer,
		verifier: verifier,
		producer: "verifiquant",
		logger:   logger.With("component", "archive"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PutResult archives a finished result, receipt included.
func (a *Archive) PutResult(ctx context.Context, result contracts.SolveResult) (string, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return a.put(ctx, TypeSolveResult, contracts.RequestIDOf(result), payload)
}

// PutPack archives a zip evidence pack. The payload is the pack bytes as a
// JSON string (base64).
func (a *Archive) PutPack(ctx context.Context, subject string, pack []byte) (string, error) {
	payload, err := json.Marshal(pack)
	if err != nil {
		return "", err
	}
	return a.put(ctx, TypeEvidencePack, subject, payload)
}

func (a *Archive) put(ctx context.Context, typ, subject string, payload []byte) (string, error) {
	if a.signer == nil {
		return "", ErrSignerNotConfigured
	}
	if len(payload) > MaxPayloadSize {
		return "", fmt.Errorf("artifact payload exceeds limit of %d bytes", MaxPayloadSize)
	}

	env := &Envelope{
		Type:           typ,
		SchemaVersion:  schemaVersion,
		ProducerID:     a.producer,
		Subject:        subject,
		Timestamp:      a.now(),
		Payload:        payload,
		SignatureKeyID: a.signer.ID(),
	}
	msg, err := env.signingBytes()
	if err != nil {
		return "", fmt.Errorf("canonicalize envelope: %w", err)
	}
	if env.Signature, err = a.signer.Sign(msg); err != nil {
		return "", fmt.Errorf("sign envelope: %w", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	hash, err := a.store.Store(ctx, data)
	if err != nil {
		return "", err
	}
	a.logger.Debug("archived", "type", typ, "subject", subject, "hash", hash)
	return hash, nil
}

// Get loads an envelope without checking its signature.
func (a *Archive) Get(ctx context.Context, hash string) (*Envelope, error) {
	data, err := a.store.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("corrupt artifact data: %w", err)
	}
	return &env, nil
}

// Verify loads an envelope and checks its signature. The reasons list
// explains a false result.
func (a *Archive) Verify(ctx context.Context, hash string) (bool, []string, error) {
	env, err := a.Get(ctx, hash)
	if err != nil {
		return false, nil, err
	}

	var reasons []string
	if env.Type == "" {
		reasons = append(reasons, "missing type")
	}
	if env.Signature == "" || env.SignatureKeyID == "" {
		return false, append(reasons, "missing signature or key_id"), nil
	}
	if a.verifier == nil {
		return false, append(reasons, "signature verifier not configured (fail-closed)"), nil
	}
	sig, err := hex.DecodeString(env.Signature)
	if err != nil {
		return false, append(reasons, "signature decode failed"), nil
	}
	msg, err := env.signingBytes()
	if err != nil {
		return false, nil, err
	}
	if !a.verifier.Verify(msg, sig) {
		reasons = append(reasons, "signature invalid")
	}
	return len(reasons) == 0, reasons, nil
}

// Result decodes an archived solve result.
func (e *Envelope) Result() (contracts.SolveResult, error) {
	if e.Type != TypeSolveResult {
		return nil, fmt.Errorf("artifact is %s, not a solve result", e.Type)
	}
	return contracts.DecodeSolveResult(e.Payload)
}
