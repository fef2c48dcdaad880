package loan

import (
	"errors"
	"fmt"
)

// Categories. Every error returned by a Machine operation wraps exactly one.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidState = errors.New("invalid state")
	ErrInvariant    = errors.New("invariant violated")
	ErrArithmetic   = errors.New("arithmetic error")
	ErrTransfer     = errors.New("transfer failed")
)

var (
	ErrNotFound     = errors.New("loan not found")
	ErrInvalidTerms = errors.New("invalid loan terms")
)

var (
	ErrNotBorrower    = fmt.Errorf("%w: caller is not the borrower", ErrUnauthorized)
	ErrNotLender      = fmt.Errorf("%w: caller is not the lender", ErrUnauthorized)
	ErrNotParticipant = fmt.Errorf("%w: caller is neither borrower nor lender", ErrUnauthorized)
	ErrLoanCustody    = fmt.Errorf("%w: loan custody moves only through loan operations", ErrUnauthorized)
)

var (
	ErrAlreadyFunded  = fmt.Errorf("%w: loan already funded", ErrInvalidState)
	ErrNotActive      = fmt.Errorf("%w: loan is not active", ErrInvalidState)
	ErrNotInDefault   = fmt.Errorf("%w: payment is not past its grace period", ErrInvalidState)
	ErrNoCommitment   = fmt.Errorf("%w: no refinance commitment", ErrInvalidState)
	ErrCommitment     = fmt.Errorf("%w: refinance terms do not match commitment", ErrInvalidState)
	ErrUnknownVersion = fmt.Errorf("%w: unknown loan version", ErrInvalidState)
	ErrNoMigration    = fmt.Errorf("%w: no migration between versions", ErrInvalidState)
)

var (
	ErrUnderCollateralized = fmt.Errorf("%w: insufficient collateral for outstanding principal", ErrInvariant)
	ErrFundsNotMaintained  = fmt.Errorf("%w: held balance does not cover accounted funds", ErrInvariant)
)

var (
	ErrFundingMismatch        = fmt.Errorf("%w: funding amount does not match principal requested", ErrArithmetic)
	ErrInsufficientDrawable   = fmt.Errorf("%w: amount exceeds drawable funds", ErrArithmetic)
	ErrInsufficientClaimable  = fmt.Errorf("%w: amount exceeds claimable funds", ErrArithmetic)
	ErrInsufficientCollateral = fmt.Errorf("%w: amount exceeds posted collateral", ErrArithmetic)
	ErrInsufficientPayment    = fmt.Errorf("%w: insufficient funds to cover payment", ErrArithmetic)
	ErrPaymentCount           = fmt.Errorf("%w: invalid number of payments", ErrArithmetic)
	ErrOverflow               = fmt.Errorf("%w: overflow", ErrArithmetic)
	// ErrInsufficientBalance is returned by Custody implementations.
	ErrInsufficientBalance = fmt.Errorf("%w: insufficient balance", ErrArithmetic)
)
