package models

import (
	"time"
)

// Fixed tier prices in token base units.
const (
	TextSummaryCost  uint64 = 1000
	AudioSummaryCost uint64 = 2000
)

// ProofValidityWindow is how old a transaction may be, relative to
// verification time, before it is rejected as expired.
const ProofValidityWindow = 30 * time.Minute

// PaymentProof is a claimed on-chain transfer referenced by its
// transaction signature. The signature is globally unique on the ledger
// and may be consumed at most once.
type PaymentProof struct {
	Signature string    `json:"signature"`
	Sender    string    `json:"sender"`
	Amount    uint64    `json:"amount"`
	Mint      string    `json:"mint"`
	BlockTime time.Time `json:"block_time"`
}
