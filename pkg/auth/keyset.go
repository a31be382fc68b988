package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const tokenKDFSalt = "verifiquant-api-token-kdf"

// KeySet signs API tokens with the active key and verifies tokens signed
// by any retained key, so keys rotate without downtime.
type KeySet interface {
	Sign(claims jwt.Claims) (string, error)
	KeyFunc() jwt.Keyfunc
}

// InMemoryKeySet holds Ed25519 keys in memory.
type InMemoryKeySet struct {
	mu         sync.RWMutex
	currentKID string
	order      []string
	keys       map[string]ed25519.PrivateKey
	retain     int
}

// NewInMemoryKeySet starts with one random key.
func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{keys: make(map[string]ed25519.PrivateKey), retain: 10}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// NewDerivedKeySet derives a single key from a hex master seed, so tokens
// minted by the CLI verify against a running server with the same seed.
func NewDerivedKeySet(masterSeedHex, kid string) (*InMemoryKeySet, error) {
	seed, err := hex.DecodeString(masterSeedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid master seed hex: %w", err)
	}
	if len(seed) < ed25519.SeedSize {
		return nil, fmt.Errorf("master seed must be at least %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	derived := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, []byte(tokenKDFSalt), []byte(kid)), derived); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	ks := &InMemoryKeySet{keys: make(map[string]ed25519.PrivateKey), retain: 10}
	ks.add(kid, ed25519.NewKeyFromSeed(derived))
	return ks, nil
}

// Rotate makes a fresh random key active. The oldest key beyond the
// retention limit is dropped.
func (ks *InMemoryKeySet) Rotate() error {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	ks.add(fmt.Sprintf("key-%d", time.Now().UnixNano()), priv)
	return nil
}

func (ks *InMemoryKeySet) add(kid string, priv ed25519.PrivateKey) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.keys[kid] = priv
	ks.order = append(ks.order, kid)
	ks.currentKID = kid
	for len(ks.order) > ks.retain {
		delete(ks.keys, ks.order[0])
		ks.order = ks.order[1:]
	}
}

func (ks *InMemoryKeySet) Sign(claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	kid := ks.currentKID
	key := ks.keys[kid]
	ks.mu.RUnlock()

	if key == nil {
		return "", fmt.Errorf("no active key")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in header")
		}

		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.keys[kid]
		if !exists {
			return nil, fmt.Errorf("key not found: %s", kid)
		}
		return key.Public(), nil
	}
}
