package loan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"loan-engine/internal/domain/loan"
	"loan-engine/internal/domain/payment"
	"loan-engine/internal/domain/uow"
	"loan-engine/pkg/id"
)

type Usecase struct {
	uow      uow.UnitOfWork
	registry *loan.Registry
	log      *slog.Logger
	now      func() time.Time
}

type Option func(*Usecase)

func WithClock(now func() time.Time) Option { return func(u *Usecase) { u.now = now } }

func WithLogger(l *slog.Logger) Option { return func(u *Usecase) { u.log = l } }

func NewUsecase(tx uow.UnitOfWork, registry *loan.Registry, opts ...Option) *Usecase {
	if registry == nil {
		registry = loan.NewRegistry()
	}
	u := &Usecase{uow: tx, registry: registry, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *Usecase) machine(r uow.Repos) *loan.Machine {
	return loan.NewMachine(r.Vault, u.registry, loan.WithClock(u.now))
}

// mutate runs op against the locked loan and persists it when op succeeds.
func (u *Usecase) mutate(ctx context.Context, loanID, op string, fn func(r uow.Repos, m *loan.Machine, l *loan.Loan) error) (*loan.Loan, error) {
	var out *loan.Loan
	err := u.uow.WithinLoanTx(ctx, loanID, func(r uow.Repos, l *loan.Loan) error {
		if err := fn(r, u.machine(r), l); err != nil {
			return err
		}
		if err := r.Loans.Save(ctx, l); err != nil {
			return err
		}
		out = l
		return nil
	})
	if err != nil {
		u.log.WarnContext(ctx, "loan operation failed", "op", op, "loan_id", loanID, "err", err)
		return nil, err
	}
	u.log.InfoContext(ctx, "loan operation", "op", op, "loan_id", loanID, "state", out.State,
		"principal", out.Ledger.Principal.Dec(), "drawable", out.Ledger.Drawable.Dec(), "claimable", out.Ledger.Claimable.Dec())
	return out, nil
}

func parseAddress(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s is not an address", loan.ErrInvalidTerms, field)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(field, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", loan.ErrInvalidTerms, field, err)
	}
	return v, nil
}

func (u *Usecase) Create(ctx context.Context, in CreateLoanInput) (*LoanDTO, error) {
	borrower, err := parseAddress("borrower", in.Borrower)
	if err != nil {
		return nil, err
	}
	collateralAsset, err := parseAddress("collateral_asset", in.CollateralAsset)
	if err != nil {
		return nil, err
	}
	fundsAsset, err := parseAddress("funds_asset", in.FundsAsset)
	if err != nil {
		return nil, err
	}
	var amounts [5]*uint256.Int
	for i, f := range []struct{ name, value string }{
		{"ending_principal", in.EndingPrincipal},
		{"interest_rate", in.InterestRate},
		{"late_fee_rate", in.LateFeeRate},
		{"collateral_required", in.CollateralRequired},
		{"principal_requested", in.PrincipalRequested},
	} {
		if amounts[i], err = parseAmount(f.name, f.value); err != nil {
			return nil, err
		}
	}

	loanID := id.NewID32()
	l, err := u.registry.New(id.LoanAddress(borrower, loanID), borrower,
		[2]common.Address{collateralAsset, fundsAsset},
		[6]*uint256.Int{amounts[0], uint256.NewInt(in.GracePeriod), amounts[1], amounts[2],
			uint256.NewInt(in.PaymentInterval), uint256.NewInt(in.Payments)},
		[2]*uint256.Int{amounts[3], amounts[4]},
	)
	if err != nil {
		return nil, err
	}
	l.LoanID = loanID
	l.StateUpdatedAt = u.now().UTC()

	if err := u.uow.WithinTx(ctx, func(r uow.Repos) error {
		return r.Loans.Create(ctx, l)
	}); err != nil {
		return nil, err
	}
	u.log.InfoContext(ctx, "loan created", "loan_id", l.LoanID, "borrower", borrower.Hex(), "address", l.Address.Hex(), "version", l.Version)
	return toDTO(l), nil
}

func (u *Usecase) Get(ctx context.Context, loanID string) (*LoanDTO, error) {
	var out *LoanDTO
	err := u.uow.WithinTx(ctx, func(r uow.Repos) error {
		l, err := r.Loans.GetByLoanID(ctx, loanID)
		if err != nil {
			return err
		}
		out = toDTO(l)
		return nil
	})
	return out, err
}

func (u *Usecase) ListByBorrower(ctx context.Context, borrower string) ([]*LoanDTO, error) {
	addr, err := parseAddress("borrower", borrower)
	if err != nil {
		return nil, err
	}
	var out []*LoanDTO
	err = u.uow.WithinTx(ctx, func(r uow.Repos) error {
		loans, err := r.Loans.ListByBorrower(ctx, addr)
		if err != nil {
			return err
		}
		out = make([]*LoanDTO, 0, len(loans))
		for _, l := range loans {
			out = append(out, toDTO(l))
		}
		return nil
	})
	return out, err
}

// Quote prices the next n installments as if paid now.
func (u *Usecase) Quote(ctx context.Context, loanID string, n uint64) (*QuoteDTO, error) {
	var out *QuoteDTO
	err := u.uow.WithinTx(ctx, func(r uow.Repos) error {
		l, err := r.Loans.GetByLoanID(ctx, loanID)
		if err != nil {
			return err
		}
		s, err := u.machine(r).Quote(l, n)
		if err != nil {
			return err
		}
		total, err := s.Total()
		if err != nil {
			return err
		}
		out = &QuoteDTO{
			LoanID:             l.LoanID,
			Installments:       s.Installments,
			Principal:          s.Principal.Dec(),
			Interest:           s.Interest.Dec(),
			LateFee:            s.LateFee.Dec(),
			Total:              total.Dec(),
			NextPaymentDueDate: s.NextPaymentDueDate,
			PaymentsRemaining:  s.PaymentsRemaining,
		}
		return nil
	})
	return out, err
}

func (u *Usecase) Fund(ctx context.Context, in FundInput) (*LoanDTO, error) {
	lender, err := parseAddress("lender", in.Lender)
	if err != nil {
		return nil, err
	}
	l, err := u.mutate(ctx, in.LoanID, "fund", func(r uow.Repos, m *loan.Machine, l *loan.Loan) error {
		if in.Pull {
			if err := pull(ctx, r, l.Terms.FundsAsset, lender, l.Address, &l.Request.PrincipalRequested); err != nil {
				return err
			}
		}
		return m.Fund(ctx, l, lender)
	})
	if err != nil {
		return nil, err
	}
	return toDTO(l), nil
}

func (u *Usecase) PostCollateral(ctx context.Context, in PostCollateralInput) (*MovementDTO, error) {
	var posted *uint256.Int
	l, err := u.mutate(ctx, in.LoanID, "post_collateral", func(r uow.Repos, m *loan.Machine, l *loan.Loan) error {
		if in.Amount != "" {
			caller, err := parseAddress("caller", in.Caller)
			if err != nil {
				return err
			}
			amount, err := parseAmount("amount", in.Amount)
			if err != nil {
				return err
			}
			if err := pull(ctx, r, l.Terms.CollateralAsset, caller, l.Address, amount); err != nil {
				return err
			}
		}
		var err error
		posted, err = m.PostCollateral(ctx, l)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &MovementDTO{Loan: toDTO(l), Amount: posted.Dec()}, nil
}

// pull moves amount from source into the loan on source's behalf. A loan's
// custody address is never a valid source.
func pull(ctx context.Context, r uow.Repos, asset, source, destination common.Address, amount *uint256.Int) error {
	if err := loan.GuardDebit(ctx, r.Loans, source); err != nil {
		return err
	}
	if err := r.Vault.TransferFrom(ctx, asset, source, destination, amount); err != nil {
		return fmt.Errorf("%w: %w", loan.ErrTransfer, err)
	}
	return nil
}

type withdrawal func(m *loan.Machine, ctx context.Context, l *loan.Loan, caller common.Address, amount *uint256.Int, destination common.Address) error

func (u *Usecase) withdraw(ctx context.Context, op string, in WithdrawInput, fn withdrawal) (*MovementDTO, error) {
	caller, err := parseAddress("caller", in.Caller)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", in.Amount)
	if err != nil {
		return nil, err
	}
	destination := caller
	if in.Destination != "" {
		if destination, err = parseAddress("destination", in.Destination); err != nil {
			return nil, err
		}
	}
	l, err := u.mutate(ctx, in.LoanID, op, func(r uow.Repos, m *loan.Machine, l *loan.Loan) error {
		return fn(m, ctx, l, caller, amount, destination)
	})
	if err != nil {
		return nil, err
	}
	return &MovementDTO{Loan: toDTO(l), Amount: amount.Dec()}, nil
}

func (u *Usecase) RemoveCollateral(ctx context.Context, in WithdrawInput) (*MovementDTO, error) {
	return u.withdraw(ctx, "remove_collateral", in, (*loan.Machine).RemoveCollateral)
}

func (u *Usecase) Drawdown(ctx context.Context, in WithdrawInput) (*MovementDTO, error) {
	return u.withdraw(ctx, "drawdown", in, (*loan.Machine).DrawdownFunds)
}

func (u *Usecase) ClaimFunds(ctx context.Context, in WithdrawInput) (*MovementDTO, error) {
	return u.withdraw(ctx, "claim", in, (*loan.Machine).ClaimFunds)
}

func (u *Usecase) ReturnFunds(ctx context.Context, loanID string) (*MovementDTO, error) {
	var returned *uint256.Int
	l, err := u.mutate(ctx, loanID, "return_funds", func(r uow.Repos, m *loan.Machine, l *loan.Loan) error {
		var err error
		returned, err = m.ReturnFunds(ctx, l)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &MovementDTO{Loan: toDTO(l), Amount: returned.Dec()}, nil
}

func (u *Usecase) MakePayments(ctx context.Context, in PaymentInput) (*PaymentDTO, error) {
	var rec *payment.Payment
	_, err := u.mutate(ctx, in.LoanID, "make_payments", func(r uow.Repos, m *loan.Machine, l *loan.Loan) error {
		if in.Pull {
			caller, err := parseAddress("caller", in.Caller)
			if err != nil {
				return err
			}
			q, err := m.Quote(l, in.Installments)
			if err != nil {
				return err
			}
			total, err := q.Total()
			if err != nil {
				return err
			}
			if err := pull(ctx, r, l.Terms.FundsAsset, caller, l.Address, total); err != nil {
				return err
			}
		}
		s, err := m.MakePayments(ctx, l, in.Installments)
		if err != nil {
			return err
		}
		rec = payment.FromSettlement(id.NewID32(), l.ID, s)
		return r.Payments.Create(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	dto := toPaymentDTO(in.LoanID, rec)
	return &dto, nil
}

func (u *Usecase) Repossess(ctx context.Context, in RepossessInput) (*RepossessDTO, error) {
	caller, err := parseAddress("caller", in.Caller)
	if err != nil {
		return nil, err
	}
	collateralDst, fundsDst := caller, caller
	if in.CollateralDestination != "" {
		if collateralDst, err = parseAddress("collateral_destination", in.CollateralDestination); err != nil {
			return nil, err
		}
	}
	if in.FundsDestination != "" {
		if fundsDst, err = parseAddress("funds_destination", in.FundsDestination); err != nil {
			return nil, err
		}
	}
	var collateral, funds *uint256.Int
	l, err := u.mutate(ctx, in.LoanID, "repossess", func(r uow.Repos, m *loan.Machine, l *loan.Loan) error {
		var err error
		collateral, funds, err = m.Repossess(ctx, l, caller, collateralDst, fundsDst)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &RepossessDTO{Loan: toDTO(l), Collateral: collateral.Dec(), Funds: funds.Dec()}, nil
}

func (u *Usecase) Skim(ctx context.Context, in SkimInput) (*MovementDTO, error) {
	caller, err := parseAddress("caller", in.Caller)
	if err != nil {
		return nil, err
	}
	asset, err := parseAddress("asset", in.Asset)
	if err != nil {
		return nil, err
	}
	destination := caller
	if in.Destination != "" {
		if destination, err = parseAddress("destination", in.Destination); err != nil {
			return nil, err
		}
	}
	var skimmed *uint256.Int
	l, err := u.mutate(ctx, in.LoanID, "skim", func(r uow.Repos, m *loan.Machine, l *loan.Loan) error {
		var err error
		skimmed, err = m.Skim(ctx, l, caller, asset, destination)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &MovementDTO{Loan: toDTO(l), Amount: skimmed.Dec()}, nil
}

func parseChanges(in []ChangeInput) ([]loan.Change, error) {
	out := make([]loan.Change, 0, len(in))
	for i, c := range in {
		f, ok := loan.ParseField(c.Field)
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", loan.ErrInvalidTerms, c.Field)
		}
		v, err := parseAmount(fmt.Sprintf("changes[%d]", i), c.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, loan.Change{Field: f, Value: *v})
	}
	return out, nil
}

func (u *Usecase) ProposeTerms(ctx context.Context, in TermsInput) (*CommitmentDTO, error) {
	caller, err := parseAddress("caller", in.Caller)
	if err != nil {
		return nil, err
	}
	changes, err := parseChanges(in.Changes)
	if err != nil {
		return nil, err
	}
	var hash common.Hash
	if _, err := u.mutate(ctx, in.LoanID, "propose_terms", func(r uow.Repos, m *loan.Machine, l *loan.Loan) error {
		var err error
		hash, err = m.ProposeNewTerms(l, caller, changes)
		return err
	}); err != nil {
		return nil, err
	}
	return &CommitmentDTO{LoanID: in.LoanID, Commitment: hash.Hex()}, nil
}

func (u *Usecase) AcceptTerms(ctx context.Context, in TermsInput) (*LoanDTO, error) {
	caller, err := parseAddress("caller", in.Caller)
	if err != nil {
		return nil, err
	}
	changes, err := parseChanges(in.Changes)
	if err != nil {
		return nil, err
	}
	l, err := u.mutate(ctx, in.LoanID, "accept_terms", func(r uow.Repos, m *loan.Machine, l *loan.Loan) error {
		return m.AcceptNewTerms(ctx, l, caller, changes)
	})
	if err != nil {
		return nil, err
	}
	return toDTO(l), nil
}

func (u *Usecase) Upgrade(ctx context.Context, in UpgradeInput) (*LoanDTO, error) {
	caller, err := parseAddress("caller", in.Caller)
	if err != nil {
		return nil, err
	}
	l, err := u.mutate(ctx, in.LoanID, "upgrade", func(r uow.Repos, m *loan.Machine, l *loan.Loan) error {
		return m.Upgrade(l, caller, in.Version)
	})
	if err != nil {
		return nil, err
	}
	return toDTO(l), nil
}

func (u *Usecase) ListPayments(ctx context.Context, loanID string) ([]PaymentDTO, error) {
	var out []PaymentDTO
	err := u.uow.WithinTx(ctx, func(r uow.Repos) error {
		l, err := r.Loans.GetByLoanID(ctx, loanID)
		if err != nil {
			return err
		}
		ps, err := r.Payments.ListByLoanID(ctx, l.ID)
		if err != nil {
			return err
		}
		out = make([]PaymentDTO, 0, len(ps))
		for _, p := range ps {
			out = append(out, toPaymentDTO(loanID, p))
		}
		return nil
	})
	return out, err
}
