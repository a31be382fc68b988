package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// kdfSalt scopes derived receipt keys so the same master seed used elsewhere
// yields unrelated keys here.
const kdfSalt = "verifiquant-receipt-kdf"

// Signer signs receipts.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	ID() string
	SignReceipt(r *contracts.Receipt) error
	VerifyReceipt(r *contracts.Receipt) (bool, error)
}

// Ed25519Signer implementation.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, KeyID: keyID}, nil
}

func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		KeyID:   keyID,
	}
}

// DeriveSigner derives a deterministic per-key Ed25519 signer from a master
// seed using HKDF-SHA256 with keyID as info. The same seed and keyID always
// give the same key, so a restarted service keeps verifying old receipts.
func DeriveSigner(masterSeedHex, keyID string) (*Ed25519Signer, error) {
	if keyID == "" {
		return nil, fmt.Errorf("key id must not be empty")
	}
	seed, err := hex.DecodeString(masterSeedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid master seed hex: %w", err)
	}
	if len(seed) < ed25519.SeedSize {
		return nil, fmt.Errorf("master seed must be at least %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	r := hkdf.New(sha256.New, seed, []byte(kdfSalt), []byte(keyID))
	derived := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, derived); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(derived), keyID), nil
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.privKey, data)), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pubKey
}

func (s *Ed25519Signer) ID() string {
	return s.KeyID
}

// Verify verifies a hex signature against a hex public key.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size")
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig), nil
}

func (s *Ed25519Signer) Verify(message []byte, signature []byte) bool {
	return ed25519.Verify(s.pubKey, message, signature)
}

// SignReceipt stamps the key id and signs the canonical payload.
func (s *Ed25519Signer) SignReceipt(r *contracts.Receipt) error {
	r.KeyID = s.KeyID
	payload, err := ReceiptPayload(r)
	if err != nil {
		return err
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}

func (s *Ed25519Signer) VerifyReceipt(r *contracts.Receipt) (bool, error) {
	if r.Signature == "" {
		return false, fmt.Errorf("missing signature")
	}
	payload, err := ReceiptPayload(r)
	if err != nil {
		return false, err
	}
	return Verify(s.PublicKey(), r.Signature, payload)
}
