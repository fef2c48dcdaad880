package paymentmock

import (
	"context"
	"fmt"
	"sync"

	"loan-engine/internal/domain/payment"
)

var _ payment.Repository = (*Repo)(nil)

// Repo is a function-backed mock that satisfies payment.Repository.
type Repo struct {
	CreateFn         func(ctx context.Context, p *payment.Payment) error
	ListByLoanIDFn   func(ctx context.Context, loanID uint64) ([]*payment.Payment, error)
	GetByPaymentIDFn func(ctx context.Context, paymentID string) (*payment.Payment, error)
}

func (m *Repo) Create(ctx context.Context, p *payment.Payment) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, p)
	}
	return nil
}

func (m *Repo) ListByLoanID(ctx context.Context, loanID uint64) ([]*payment.Payment, error) {
	if m.ListByLoanIDFn != nil {
		return m.ListByLoanIDFn(ctx, loanID)
	}
	return nil, context.Canceled
}

func (m *Repo) GetByPaymentID(ctx context.Context, paymentID string) (*payment.Payment, error) {
	if m.GetByPaymentIDFn != nil {
		return m.GetByPaymentIDFn(ctx, paymentID)
	}
	return nil, context.Canceled
}

// NewMemory returns a Repo that keeps payments in insertion order.
func NewMemory() *Repo {
	var (
		mu   sync.Mutex
		rows []payment.Payment
	)
	return &Repo{
		CreateFn: func(_ context.Context, p *payment.Payment) error {
			mu.Lock()
			defer mu.Unlock()
			p.ID = uint64(len(rows) + 1)
			rows = append(rows, *p)
			return nil
		},
		ListByLoanIDFn: func(_ context.Context, loanID uint64) ([]*payment.Payment, error) {
			mu.Lock()
			defer mu.Unlock()
			var out []*payment.Payment
			for _, p := range rows {
				if p.LoanID == loanID {
					p := p
					out = append(out, &p)
				}
			}
			return out, nil
		},
		GetByPaymentIDFn: func(_ context.Context, paymentID string) (*payment.Payment, error) {
			mu.Lock()
			defer mu.Unlock()
			for _, p := range rows {
				if p.PaymentID == paymentID {
					return &p, nil
				}
			}
			return nil, fmt.Errorf("%w: %s", payment.ErrNotFound, paymentID)
		},
	}
}
