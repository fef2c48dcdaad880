package payment

import "context"

type Repository interface {
	Create(ctx context.Context, p *Payment) error

	// ListByLoanID returns a loan's payments, oldest first.
	ListByLoanID(ctx context.Context, loanID uint64) ([]*Payment, error)

	GetByPaymentID(ctx context.Context, paymentID string) (*Payment, error)
}
