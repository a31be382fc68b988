package crypto

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// KeyRing holds several receipt keys to support rotation. New receipts are
// signed with the active key, the lexicographically last id; old receipts
// stay verifiable until their key is revoked.
type KeyRing struct {
	mu      sync.RWMutex
	signers map[string]Signer
}

// NewKeyRing creates a new empty KeyRing.
func NewKeyRing(signers ...Signer) *KeyRing {
	k := &KeyRing{signers: make(map[string]Signer)}
	for _, s := range signers {
		k.AddKey(s)
	}
	return k
}

// AddKey adds a signer under its id.
func (k *KeyRing) AddKey(s Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.ID()] = s
}

// RevokeKey removes a key from the keyring by ID.
func (k *KeyRing) RevokeKey(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.signers, keyID)
}

func (k *KeyRing) active() (Signer, error) {
	ids := make([]string, 0, len(k.signers))
	for id := range k.signers {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no keyring keys available")
	}
	sort.Strings(ids)
	return k.signers[ids[len(ids)-1]], nil
}

// ActiveKeyID returns the id new receipts are signed with.
func (k *KeyRing) ActiveKeyID() (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, err := k.active()
	if err != nil {
		return "", err
	}
	return s.ID(), nil
}

// PublicKeys maps every key id to its hex public key.
func (k *KeyRing) PublicKeys() map[string]string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]string, len(k.signers))
	for id, s := range k.signers {
		out[id] = s.PublicKey()
	}
	return out
}

// SignReceipt signs with the active key.
func (k *KeyRing) SignReceipt(r *contracts.Receipt) error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, err := k.active()
	if err != nil {
		return err
	}
	return s.SignReceipt(r)
}

// VerifyReceipt verifies against the key named in the receipt.
func (k *KeyRing) VerifyReceipt(r *contracts.Receipt) (bool, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[r.KeyID]
	if !ok {
		return false, fmt.Errorf("unknown or revoked key: %q", r.KeyID)
	}
	//nolint:wrapcheck // internal delegation
	return s.VerifyReceipt(r)
}
