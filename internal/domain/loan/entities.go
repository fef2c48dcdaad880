package loan

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"loan-engine/pkg/amortization"
)

type State string

const (
	StateUnfunded  State = "unfunded"
	StateActive    State = "active"
	StateMatured   State = "matured"
	StateDefaulted State = "defaulted"
)

// Terminal reports whether no further lifecycle transitions are possible.
func (s State) Terminal() bool { return s == StateMatured || s == StateDefaulted }

// Terms are fixed at creation; only an accepted refinance changes them.
// Lender is bound when the loan is funded.
type Terms struct {
	Borrower        common.Address
	Lender          common.Address
	CollateralAsset common.Address
	FundsAsset      common.Address
	EndingPrincipal uint256.Int
	GracePeriod     uint64
	InterestRate    uint256.Int
	LateFeeRate     uint256.Int
	PaymentInterval uint64
	Payments        uint64
}

// Request is consumed at funding time.
type Request struct {
	CollateralRequired uint256.Int
	PrincipalRequested uint256.Int
}

type Ledger struct {
	Drawable           uint256.Int
	Claimable          uint256.Int
	Collateral         uint256.Int
	Principal          uint256.Int
	PaymentsRemaining  uint64
	NextPaymentDueDate uint64
}

type Loan struct {
	ID             uint64
	LoanID         string
	Address        common.Address
	Version        uint64
	State          State
	Terms          Terms
	Request        Request
	Ledger         Ledger
	Commitment     common.Hash
	StateUpdatedAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MaxDuration bounds payment intervals and grace periods.
const MaxDuration = 100 * amortization.YearSeconds

// New validates the initialization arguments a factory deploys a loan with:
// assets = [collateralAsset, fundsAsset],
// params = [endingPrincipal, gracePeriod, interestRate, lateFeeRate, paymentInterval, paymentsRemaining],
// amounts = [collateralRequired, principalRequested].
func New(address, borrower common.Address, assets [2]common.Address, params [6]*uint256.Int, amounts [2]*uint256.Int) (*Loan, error) {
	if address == (common.Address{}) || borrower == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero loan or borrower address", ErrInvalidTerms)
	}
	if assets[0] == (common.Address{}) || assets[1] == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero asset address", ErrInvalidTerms)
	}
	for i, p := range params {
		if p == nil {
			return nil, fmt.Errorf("%w: missing parameter %d", ErrInvalidTerms, i)
		}
	}
	for i, a := range amounts {
		if a == nil {
			return nil, fmt.Errorf("%w: missing amount %d", ErrInvalidTerms, i)
		}
	}
	for _, i := range []int{1, 4, 5} {
		if !params[i].IsUint64() {
			return nil, fmt.Errorf("%w: parameter %d out of range", ErrInvalidTerms, i)
		}
	}

	l := &Loan{
		Address: address,
		State:   StateUnfunded,
		Terms: Terms{
			Borrower:        borrower,
			CollateralAsset: assets[0],
			FundsAsset:      assets[1],
			GracePeriod:     params[1].Uint64(),
			PaymentInterval: params[4].Uint64(),
			Payments:        params[5].Uint64(),
		},
	}
	l.Terms.EndingPrincipal.Set(params[0])
	l.Terms.InterestRate.Set(params[2])
	l.Terms.LateFeeRate.Set(params[3])
	l.Request.CollateralRequired.Set(amounts[0])
	l.Request.PrincipalRequested.Set(amounts[1])
	l.Ledger.PaymentsRemaining = l.Terms.Payments

	switch {
	case l.Terms.PaymentInterval == 0:
		return nil, fmt.Errorf("%w: payment interval must be positive", ErrInvalidTerms)
	case l.Terms.PaymentInterval > MaxDuration:
		return nil, fmt.Errorf("%w: payment interval exceeds %d seconds", ErrInvalidTerms, uint64(MaxDuration))
	case l.Terms.GracePeriod > MaxDuration:
		return nil, fmt.Errorf("%w: grace period exceeds %d seconds", ErrInvalidTerms, uint64(MaxDuration))
	case l.Terms.Payments == 0:
		return nil, fmt.Errorf("%w: payments remaining must be positive", ErrInvalidTerms)
	case l.Request.PrincipalRequested.IsZero():
		return nil, fmt.Errorf("%w: principal requested must be positive", ErrInvalidTerms)
	case l.Terms.EndingPrincipal.Gt(&l.Request.PrincipalRequested):
		return nil, fmt.Errorf("%w: ending principal exceeds principal requested", ErrInvalidTerms)
	}
	return l, nil
}

// Funded reports whether the loan has left the unfunded state.
func (l *Loan) Funded() bool { return l.Ledger.NextPaymentDueDate != 0 }

// Exposure is the outstanding principal not covered by undrawn funds.
func (l *Loan) Exposure() *uint256.Int {
	if !l.Ledger.Principal.Gt(&l.Ledger.Drawable) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(&l.Ledger.Principal, &l.Ledger.Drawable)
}

// CollateralMaintained checks
// collateral * principalRequested >= collateralRequired * exposure.
func (l *Loan) CollateralMaintained() (bool, error) {
	have, over := new(uint256.Int).MulOverflow(&l.Ledger.Collateral, &l.Request.PrincipalRequested)
	if over {
		return false, ErrOverflow
	}
	need, over := new(uint256.Int).MulOverflow(&l.Request.CollateralRequired, l.Exposure())
	if over {
		return false, ErrOverflow
	}
	return !have.Lt(need), nil
}

// accounted returns the part of the loan's asset balance the ledger already
// attributes to borrower, lender or collateral.
func (l *Loan) accounted(asset common.Address) (*uint256.Int, error) {
	sum := new(uint256.Int)
	var over bool
	if asset == l.Terms.FundsAsset {
		if _, over = sum.AddOverflow(&l.Ledger.Drawable, &l.Ledger.Claimable); over {
			return nil, ErrOverflow
		}
	}
	if asset == l.Terms.CollateralAsset {
		if _, over = sum.AddOverflow(sum, &l.Ledger.Collateral); over {
			return nil, ErrOverflow
		}
	}
	return sum, nil
}

func (l *Loan) clone() *Loan {
	c := *l
	return &c
}
