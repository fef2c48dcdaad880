package uow

import (
	"context"

	"loan-engine/internal/domain/loan"
	"loan-engine/internal/domain/payment"
)

// Repos are bound to one transaction. Vault transfers roll back with it.
type Repos struct {
	Loans    loan.Repository
	Payments payment.Repository
	Vault    loan.Vault
}

type UnitOfWork interface {
	// plain tx
	WithinTx(ctx context.Context, fn func(r Repos) error) error
	// convenience: lock loan first, then pass it in
	WithinLoanTx(ctx context.Context, loanID string, fn func(r Repos, l *loan.Loan) error) error
}
