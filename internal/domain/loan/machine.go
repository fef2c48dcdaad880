package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Machine runs lifecycle operations against a loan. Each operation works on
// a copy of the loan and writes it back only when every check and transfer
// has succeeded.
type Machine struct {
	custody  Custody
	registry *Registry
	now      func() time.Time
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option { return func(m *Machine) { m.now = now } }

func NewMachine(c Custody, r *Registry, opts ...Option) *Machine {
	if r == nil {
		r = NewRegistry()
	}
	m := &Machine{custody: c, registry: r, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) timestamp() uint64 { return uint64(m.now().Unix()) }

// deadline is base + step*n, or ErrOverflow when it does not fit in a uint64.
func deadline(base, step, n uint64) (uint64, error) {
	d := new(uint256.Int).Mul(uint256.NewInt(step), uint256.NewInt(n))
	d.Add(d, uint256.NewInt(base))
	if !d.IsUint64() {
		return 0, ErrOverflow
	}
	return d.Uint64(), nil
}

func (m *Machine) transfer(ctx context.Context, asset, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := m.custody.Transfer(ctx, asset, from, to, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	return nil
}

// unaccounted is the balance of asset held by the loan beyond what its
// ledger attributes.
func (m *Machine) unaccounted(ctx context.Context, l *Loan, asset common.Address) (*uint256.Int, error) {
	balance, err := m.custody.BalanceOf(ctx, asset, l.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	accounted, err := l.accounted(asset)
	if err != nil {
		return nil, err
	}
	if _, under := balance.SubOverflow(balance, accounted); under {
		return nil, ErrFundsNotMaintained
	}
	return balance, nil
}

// fundsMaintained checks drawable + claimable (+ collateral when shared)
// against the funds asset balance held.
func (m *Machine) fundsMaintained(ctx context.Context, l *Loan) error {
	_, err := m.unaccounted(ctx, l, l.Terms.FundsAsset)
	return err
}

func collateralMaintained(l *Loan) error {
	ok, err := l.CollateralMaintained()
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnderCollateralized
	}
	return nil
}

func (m *Machine) strategy(l *Loan) (Strategy, error) { return m.registry.Strategy(l.Version) }

// UnaccountedFunds reports funds asset held beyond the ledger.
func (m *Machine) UnaccountedFunds(ctx context.Context, l *Loan) (*uint256.Int, error) {
	return m.unaccounted(ctx, l, l.Terms.FundsAsset)
}

// UnaccountedCollateral reports collateral asset held beyond the ledger.
func (m *Machine) UnaccountedCollateral(ctx context.Context, l *Loan) (*uint256.Int, error) {
	return m.unaccounted(ctx, l, l.Terms.CollateralAsset)
}

// FundsMaintained reports whether the funds asset held covers the ledger.
func (m *Machine) FundsMaintained(ctx context.Context, l *Loan) (bool, error) {
	err := m.fundsMaintained(ctx, l)
	if errors.Is(err, ErrFundsNotMaintained) {
		return false, nil
	}
	return err == nil, err
}

// Quote prices the next n installments as if paid now.
func (m *Machine) Quote(l *Loan, n uint64) (Settlement, error) {
	if l.State != StateActive {
		return Settlement{}, ErrNotActive
	}
	s, err := m.strategy(l)
	if err != nil {
		return Settlement{}, err
	}
	return s.Settle(l, m.timestamp(), n)
}

// Fund binds lender and activates the loan. The loan must already hold
// exactly the requested principal beyond its accounted balances.
func (m *Machine) Fund(ctx context.Context, l *Loan, lender common.Address) error {
	if l.State != StateUnfunded || l.Funded() {
		return ErrAlreadyFunded
	}
	if lender == (common.Address{}) {
		return fmt.Errorf("%w: zero lender", ErrInvalidTerms)
	}
	unaccounted, err := m.UnaccountedFunds(ctx, l)
	if err != nil {
		return err
	}
	if !unaccounted.Eq(&l.Request.PrincipalRequested) {
		return ErrFundingMismatch
	}

	due, err := deadline(m.timestamp(), l.Terms.PaymentInterval, 1)
	if err != nil {
		return err
	}

	next := l.clone()
	next.Terms.Lender = lender
	next.Ledger.Principal = l.Request.PrincipalRequested
	next.Ledger.Drawable = l.Request.PrincipalRequested
	next.Ledger.NextPaymentDueDate = due
	next.State = StateActive
	next.StateUpdatedAt = m.now().UTC()
	*l = *next
	return nil
}

// PostCollateral credits any unaccounted collateral asset to the collateral
// balance. Anyone may call it in any state.
func (m *Machine) PostCollateral(ctx context.Context, l *Loan) (*uint256.Int, error) {
	posted, err := m.UnaccountedCollateral(ctx, l)
	if err != nil {
		return nil, err
	}
	next := l.clone()
	if _, over := next.Ledger.Collateral.AddOverflow(&next.Ledger.Collateral, posted); over {
		return nil, ErrOverflow
	}
	*l = *next
	return posted, nil
}

func (m *Machine) RemoveCollateral(ctx context.Context, l *Loan, caller common.Address, amount *uint256.Int, destination common.Address) error {
	if caller != l.Terms.Borrower {
		return ErrNotBorrower
	}
	next := l.clone()
	if _, under := next.Ledger.Collateral.SubOverflow(&next.Ledger.Collateral, amount); under {
		return ErrInsufficientCollateral
	}
	if err := collateralMaintained(next); err != nil {
		return err
	}
	if err := m.transfer(ctx, l.Terms.CollateralAsset, l.Address, destination, amount); err != nil {
		return err
	}
	*l = *next
	return nil
}

func (m *Machine) DrawdownFunds(ctx context.Context, l *Loan, caller common.Address, amount *uint256.Int, destination common.Address) error {
	if caller != l.Terms.Borrower {
		return ErrNotBorrower
	}
	next := l.clone()
	if _, under := next.Ledger.Drawable.SubOverflow(&next.Ledger.Drawable, amount); under {
		return ErrInsufficientDrawable
	}
	if err := collateralMaintained(next); err != nil {
		return err
	}
	if err := m.transfer(ctx, l.Terms.FundsAsset, l.Address, destination, amount); err != nil {
		return err
	}
	*l = *next
	return nil
}

// ReturnFunds credits unaccounted funds back to drawable.
func (m *Machine) ReturnFunds(ctx context.Context, l *Loan) (*uint256.Int, error) {
	if l.State != StateActive {
		return nil, ErrNotActive
	}
	returned, err := m.UnaccountedFunds(ctx, l)
	if err != nil {
		return nil, err
	}
	next := l.clone()
	if _, over := next.Ledger.Drawable.AddOverflow(&next.Ledger.Drawable, returned); over {
		return nil, ErrOverflow
	}
	*l = *next
	return returned, nil
}

// MakePayments settles n installments from unaccounted funds topped up by
// drawable funds.
func (m *Machine) MakePayments(ctx context.Context, l *Loan, n uint64) (Settlement, error) {
	if l.State != StateActive {
		return Settlement{}, ErrNotActive
	}
	s, err := m.strategy(l)
	if err != nil {
		return Settlement{}, err
	}
	settlement, err := s.Settle(l, m.timestamp(), n)
	if err != nil {
		return Settlement{}, err
	}
	total, err := settlement.Total()
	if err != nil {
		return Settlement{}, err
	}
	unaccounted, err := m.UnaccountedFunds(ctx, l)
	if err != nil {
		return Settlement{}, err
	}

	next := l.clone()
	led := &next.Ledger
	if _, over := led.Drawable.AddOverflow(&led.Drawable, unaccounted); over {
		return Settlement{}, ErrOverflow
	}
	if _, under := led.Drawable.SubOverflow(&led.Drawable, total); under {
		return Settlement{}, ErrInsufficientPayment
	}
	if _, over := led.Claimable.AddOverflow(&led.Claimable, total); over {
		return Settlement{}, ErrOverflow
	}
	led.Principal.Sub(&led.Principal, &settlement.Principal)
	led.PaymentsRemaining = settlement.PaymentsRemaining
	led.NextPaymentDueDate = settlement.NextPaymentDueDate
	if led.PaymentsRemaining == 0 {
		next.State = StateMatured
		next.StateUpdatedAt = m.now().UTC()
	}
	*l = *next
	return settlement, nil
}

func (m *Machine) ClaimFunds(ctx context.Context, l *Loan, caller common.Address, amount *uint256.Int, destination common.Address) error {
	if caller != l.Terms.Lender || caller == (common.Address{}) {
		return ErrNotLender
	}
	next := l.clone()
	if _, under := next.Ledger.Claimable.SubOverflow(&next.Ledger.Claimable, amount); under {
		return ErrInsufficientClaimable
	}
	if err := m.transfer(ctx, l.Terms.FundsAsset, l.Address, destination, amount); err != nil {
		return err
	}
	if err := m.fundsMaintained(ctx, next); err != nil {
		return err
	}
	*l = *next
	return nil
}

// Repossess sweeps every held collateral and funds asset balance to the
// lender's destinations once the current installment is past its grace
// period, zeroing the ledger.
func (m *Machine) Repossess(ctx context.Context, l *Loan, caller, collateralDestination, fundsDestination common.Address) (collateral, funds *uint256.Int, err error) {
	if caller != l.Terms.Lender || caller == (common.Address{}) {
		return nil, nil, ErrNotLender
	}
	if l.State != StateActive {
		return nil, nil, ErrNotActive
	}
	// A deadline past the uint64 range is never reached.
	cutoff, err := deadline(l.Ledger.NextPaymentDueDate, l.Terms.GracePeriod, 1)
	if err != nil || m.timestamp() <= cutoff {
		return nil, nil, ErrNotInDefault
	}

	collateral, err = m.sweep(ctx, l, l.Terms.CollateralAsset, collateralDestination)
	if err != nil {
		return nil, nil, err
	}
	funds, err = m.sweep(ctx, l, l.Terms.FundsAsset, fundsDestination)
	if err != nil {
		return nil, nil, err
	}

	next := l.clone()
	next.Ledger = Ledger{}
	next.State = StateDefaulted
	next.StateUpdatedAt = m.now().UTC()
	*l = *next
	return collateral, funds, nil
}

func (m *Machine) sweep(ctx context.Context, l *Loan, asset, destination common.Address) (*uint256.Int, error) {
	balance, err := m.custody.BalanceOf(ctx, asset, l.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	if err := m.transfer(ctx, asset, l.Address, destination, balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// Skim sends any balance of asset the ledger does not account for to
// destination. Assets foreign to the loan are skimmed in full.
func (m *Machine) Skim(ctx context.Context, l *Loan, caller, asset, destination common.Address) (*uint256.Int, error) {
	if caller != l.Terms.Borrower && (caller != l.Terms.Lender || caller == (common.Address{})) {
		return nil, ErrNotParticipant
	}
	amount, err := m.unaccounted(ctx, l, asset)
	if err != nil {
		return nil, err
	}
	if err := m.transfer(ctx, asset, l.Address, destination, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// ProposeNewTerms records the borrower's commitment to a change set. An empty
// set withdraws any standing proposal.
func (m *Machine) ProposeNewTerms(l *Loan, caller common.Address, changes []Change) (common.Hash, error) {
	if caller != l.Terms.Borrower {
		return common.Hash{}, ErrNotBorrower
	}
	if l.State != StateActive {
		return common.Hash{}, ErrNotActive
	}
	for _, c := range changes {
		if _, ok := fieldNames[c.Field]; !ok {
			return common.Hash{}, fmt.Errorf("%w: unknown field %s", ErrInvalidTerms, c.Field)
		}
	}
	l.Commitment = Commitment(changes)
	return l.Commitment, nil
}

// AcceptNewTerms applies changes if they hash to the standing commitment.
func (m *Machine) AcceptNewTerms(ctx context.Context, l *Loan, caller common.Address, changes []Change) error {
	if caller != l.Terms.Lender || caller == (common.Address{}) {
		return ErrNotLender
	}
	if l.State != StateActive {
		return ErrNotActive
	}
	if l.Commitment == (common.Hash{}) {
		return ErrNoCommitment
	}
	if Commitment(changes) != l.Commitment {
		return ErrCommitment
	}
	unaccounted, err := m.UnaccountedFunds(ctx, l)
	if err != nil {
		return err
	}

	next := l.clone()
	for _, c := range changes {
		if err := applyChange(next, c, unaccounted); err != nil {
			return err
		}
	}
	if err := validateRefinanced(next); err != nil {
		return err
	}
	next.Commitment = common.Hash{}
	*l = *next
	return nil
}

// Upgrade moves the loan to another strategy version. Borrower only.
func (m *Machine) Upgrade(l *Loan, caller common.Address, version uint64) error {
	if caller != l.Terms.Borrower {
		return ErrNotBorrower
	}
	return m.registry.Upgrade(l, version)
}
