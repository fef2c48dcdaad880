package loanmock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	domain "loan-engine/internal/domain/loan"
)

var _ domain.Repository = (*Repo)(nil)

// Repo is a function-backed mock that satisfies domain.Repository.
// Unset finders return context.Canceled; unset writers are no-ops.
type Repo struct {
	CreateFn               func(ctx context.Context, l *domain.Loan) error
	GetByLoanIDFn          func(ctx context.Context, loanID string) (*domain.Loan, error)
	GetByLoanIDForUpdateFn func(ctx context.Context, loanID string) (*domain.Loan, error)
	ListByBorrowerFn       func(ctx context.Context, borrower common.Address) ([]*domain.Loan, error)
	IsLoanAddressFn        func(ctx context.Context, address common.Address) (bool, error)
	SaveFn                 func(ctx context.Context, l *domain.Loan) error
}

func (m *Repo) Create(ctx context.Context, l *domain.Loan) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, l)
	}
	return nil
}

func (m *Repo) GetByLoanID(ctx context.Context, loanID string) (*domain.Loan, error) {
	if m.GetByLoanIDFn != nil {
		return m.GetByLoanIDFn(ctx, loanID)
	}
	return nil, context.Canceled
}

func (m *Repo) GetByLoanIDForUpdate(ctx context.Context, loanID string) (*domain.Loan, error) {
	if m.GetByLoanIDForUpdateFn != nil {
		return m.GetByLoanIDForUpdateFn(ctx, loanID)
	}
	return nil, context.Canceled
}

func (m *Repo) ListByBorrower(ctx context.Context, borrower common.Address) ([]*domain.Loan, error) {
	if m.ListByBorrowerFn != nil {
		return m.ListByBorrowerFn(ctx, borrower)
	}
	return nil, context.Canceled
}

func (m *Repo) IsLoanAddress(ctx context.Context, address common.Address) (bool, error) {
	if m.IsLoanAddressFn != nil {
		return m.IsLoanAddressFn(ctx, address)
	}
	return false, context.Canceled
}

func (m *Repo) Save(ctx context.Context, l *domain.Loan) error {
	if m.SaveFn != nil {
		return m.SaveFn(ctx, l)
	}
	return nil
}

// NewMemory returns a Repo backed by a map. Loans are stored and handed out
// by value, so callers only see writes they Save.
func NewMemory() *Repo {
	var (
		mu     sync.Mutex
		nextID uint64
		rows   = map[string]domain.Loan{}
	)
	get := func(_ context.Context, loanID string) (*domain.Loan, error) {
		mu.Lock()
		defer mu.Unlock()
		l, ok := rows[loanID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, loanID)
		}
		return &l, nil
	}
	return &Repo{
		CreateFn: func(_ context.Context, l *domain.Loan) error {
			mu.Lock()
			defer mu.Unlock()
			if _, dup := rows[l.LoanID]; dup {
				return fmt.Errorf("loanmock: duplicate loan %s", l.LoanID)
			}
			nextID++
			l.ID = nextID
			rows[l.LoanID] = *l
			return nil
		},
		GetByLoanIDFn:          get,
		GetByLoanIDForUpdateFn: get,
		ListByBorrowerFn: func(_ context.Context, borrower common.Address) ([]*domain.Loan, error) {
			mu.Lock()
			defer mu.Unlock()
			var out []*domain.Loan
			for _, l := range rows {
				if l.Terms.Borrower == borrower {
					l := l
					out = append(out, &l)
				}
			}
			sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
			return out, nil
		},
		IsLoanAddressFn: func(_ context.Context, address common.Address) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			for _, l := range rows {
				if l.Address == address {
					return true, nil
				}
			}
			return false, nil
		},
		SaveFn: func(_ context.Context, l *domain.Loan) error {
			mu.Lock()
			defer mu.Unlock()
			if _, ok := rows[l.LoanID]; !ok {
				return fmt.Errorf("%w: %s", domain.ErrNotFound, l.LoanID)
			}
			rows[l.LoanID] = *l
			return nil
		},
	}
}
