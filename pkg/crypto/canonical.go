package crypto

import (
	"fmt"

	"github.com/Mindburn-Labs/verifiquant/pkg/canonicalize"
	"github.com/Mindburn-Labs/verifiquant/pkg/contracts"
)

// SigPrefixEd25519 is the only signature scheme receipts use.
const SigPrefixEd25519 = "ed25519"

// ReceiptPayload is the byte string a receipt signature covers: the RFC 8785
// form of the receipt with its signature cleared.
func ReceiptPayload(r *contracts.Receipt) ([]byte, error) {
	b, err := canonicalize.JCS(r.Unsigned())
	if err != nil {
		return nil, fmt.Errorf("canonicalize receipt: %w", err)
	}
	return b, nil
}
