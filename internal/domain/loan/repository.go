package loan

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Repository interface {
	Create(ctx context.Context, l *Loan) error
	GetByLoanID(ctx context.Context, loanID string) (*Loan, error)
	// GetByLoanIDForUpdate locks the row for the rest of the transaction.
	GetByLoanIDForUpdate(ctx context.Context, loanID string) (*Loan, error)
	ListByBorrower(ctx context.Context, borrower common.Address) ([]*Loan, error)
	// IsLoanAddress reports whether address is the custody address of a loan.
	IsLoanAddress(ctx context.Context, address common.Address) (bool, error)
	Save(ctx context.Context, l *Loan) error
}

// GuardDebit rejects moving assets out of holder when holder is a loan's
// custody address. Only a Machine debits a loan.
func GuardDebit(ctx context.Context, loans Repository, holder common.Address) error {
	isLoan, err := loans.IsLoanAddress(ctx, holder)
	if err != nil {
		return err
	}
	if isLoan {
		return fmt.Errorf("%w: %s", ErrLoanCustody, holder.Hex())
	}
	return nil
}

// Custody moves assets between holders. Failures must be returned, never
// swallowed; a Machine aborts the operation on any error.
type Custody interface {
	BalanceOf(ctx context.Context, asset, holder common.Address) (*uint256.Int, error)
	// Transfer moves amount out of from's own balance.
	Transfer(ctx context.Context, asset, from, to common.Address, amount *uint256.Int) error
	// TransferFrom pulls amount from source on source's behalf.
	TransferFrom(ctx context.Context, asset, source, destination common.Address, amount *uint256.Int) error
}

// Vault is a Custody that also records inflows from outside the system.
type Vault interface {
	Custody
	Deposit(ctx context.Context, asset, holder common.Address, amount *uint256.Int) error
}
