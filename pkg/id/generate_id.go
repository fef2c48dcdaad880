package id

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// NewID32 returns exactly 32 hex characters (no separators/prefixes).
func NewID32() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// LoanAddress derives the custody address a loan holds its assets under:
// the last 20 bytes of keccak256(borrower || loanID).
func LoanAddress(borrower common.Address, loanID string) common.Address {
	return common.BytesToAddress(crypto.Keccak256(borrower.Bytes(), []byte(loanID)))
}
