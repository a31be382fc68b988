package contracts

import "time"

// GenesisHash is the PrevHash of the first receipt in a chain.
const GenesisHash = "genesis"

// Receipt is a signed, hash-chained attestation that a request produced a
// particular result. ResultHash covers the canonical JSON of the result
// with its receipt removed.
type Receipt struct {
	ReceiptID  string    `json:"receipt_id"`
	RequestID  string    `json:"request_id"`
	CardID     string    `json:"card_id,omitempty"`
	Status     Status    `json:"status"`
	ResultHash string    `json:"result_hash"`
	PrevHash   string    `json:"prev_hash"`
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	KeyID      string    `json:"key_id,omitempty"`
	Signature  string    `json:"signature,omitempty"`
}

// Unsigned returns a copy with the signature cleared, the form that is
// canonicalised for signing.
func (r Receipt) Unsigned() Receipt {
	r.Signature = ""
	return r
}
