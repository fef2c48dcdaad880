package loan

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"loan-engine/pkg/amortization"
)

// Settlement is the priced outcome of paying one or more installments.
type Settlement struct {
	Installments uint64
	Principal    uint256.Int
	Interest     uint256.Int
	LateFee      uint256.Int
	// Residue is principal retired on the final installment beyond what the
	// schedule amortized (the balloon plus rounding).
	Residue            uint256.Int
	PaidAt             uint64
	NextPaymentDueDate uint64
	PaymentsRemaining  uint64
}

func (s Settlement) Total() (*uint256.Int, error) {
	b := amortization.Breakdown{Principal: s.Principal, Interest: s.Interest, LateFee: s.LateFee}
	total, err := b.Total()
	if err != nil {
		return nil, ErrOverflow
	}
	return total, nil
}

// Strategy is the versioned behavior a loan's ledger is run with.
type Strategy interface {
	Version() uint64
	Settle(l *Loan, at, installments uint64) (Settlement, error)
}

// Migration rewrites or validates a loan when it moves between versions.
// It receives a copy; returning an error leaves the loan untouched.
type Migration func(l *Loan) error

type schedule struct {
	version uint64
	late    amortization.Lateness
}

// V1 charges late interest and fees per second late.
func V1() Strategy { return schedule{version: 1, late: amortization.SecondsLate} }

// V2 rounds lateness up to whole days.
func V2() Strategy { return schedule{version: 2, late: amortization.DaysLate} }

func (s schedule) Version() uint64 { return s.version }

func (s schedule) Settle(l *Loan, at, n uint64) (Settlement, error) {
	var out Settlement
	if n == 0 || n > l.Ledger.PaymentsRemaining {
		return out, ErrPaymentCount
	}
	sched := amortization.Schedule{
		DueDate:           l.Ledger.NextPaymentDueDate,
		Interval:          l.Terms.PaymentInterval,
		Principal:         l.Ledger.Principal,
		EndingPrincipal:   l.Terms.EndingPrincipal,
		InterestRate:      l.Terms.InterestRate,
		LateFeeRate:       l.Terms.LateFeeRate,
		PaymentsRemaining: l.Ledger.PaymentsRemaining,
	}
	b, err := amortization.MultiPaymentBreakdownWith(n, at, sched, s.late)
	if err != nil {
		return out, engineErr(err)
	}
	if b.Principal.Gt(&l.Ledger.Principal) {
		return out, fmt.Errorf("%w: schedule retires more than outstanding principal", ErrArithmetic)
	}

	out.Installments = n
	out.Principal = b.Principal
	out.Interest = b.Interest
	out.LateFee = b.LateFee
	out.PaidAt = at
	out.PaymentsRemaining = l.Ledger.PaymentsRemaining - n
	if out.NextPaymentDueDate, err = deadline(l.Ledger.NextPaymentDueDate, l.Terms.PaymentInterval, n); err != nil {
		return out, err
	}

	if out.PaymentsRemaining == 0 {
		// Final installment: retire whatever principal is left.
		out.Residue.Sub(&l.Ledger.Principal, &b.Principal)
		out.Principal = l.Ledger.Principal
	}
	return out, nil
}

func engineErr(err error) error {
	switch {
	case errors.Is(err, amortization.ErrOverflow):
		return fmt.Errorf("%w: %w", ErrOverflow, err)
	case errors.Is(err, amortization.ErrNoPayments):
		return fmt.Errorf("%w: %w", ErrPaymentCount, err)
	default:
		return fmt.Errorf("%w: %w", ErrArithmetic, err)
	}
}

type migrationKey struct{ from, to uint64 }

// Registry decides which strategy a loan runs and how it may move between
// versions.
type Registry struct {
	strategies     map[uint64]Strategy
	migrations     map[migrationKey]Migration
	defaultVersion uint64
}

// NewRegistry returns a registry with V1 and V2 registered, V1 as the
// default, and a validated 1 -> 2 upgrade path.
func NewRegistry() *Registry {
	r := &Registry{
		strategies: map[uint64]Strategy{},
		migrations: map[migrationKey]Migration{},
	}
	r.Register(V1())
	r.Register(V2())
	r.RegisterMigration(1, 2, ValidateLedger)
	r.defaultVersion = 1
	return r
}

func (r *Registry) Register(s Strategy) { r.strategies[s.Version()] = s }

func (r *Registry) RegisterMigration(from, to uint64, fn Migration) {
	r.migrations[migrationKey{from, to}] = fn
}

func (r *Registry) DefaultVersion() uint64 { return r.defaultVersion }

func (r *Registry) SetDefaultVersion(v uint64) error {
	if _, ok := r.strategies[v]; !ok {
		return ErrUnknownVersion
	}
	r.defaultVersion = v
	return nil
}

func (r *Registry) Strategy(v uint64) (Strategy, error) {
	s, ok := r.strategies[v]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, v)
	}
	return s, nil
}

// New deploys a loan on the default version.
func (r *Registry) New(address, borrower common.Address, assets [2]common.Address, params [6]*uint256.Int, amounts [2]*uint256.Int) (*Loan, error) {
	l, err := New(address, borrower, assets, params, amounts)
	if err != nil {
		return nil, err
	}
	l.Version = r.defaultVersion
	return l, nil
}

// Upgrade moves l to version to, running the registered migration on a copy
// and committing only if it succeeds.
func (r *Registry) Upgrade(l *Loan, to uint64) error {
	if _, err := r.Strategy(to); err != nil {
		return err
	}
	fn, ok := r.migrations[migrationKey{l.Version, to}]
	if !ok {
		return fmt.Errorf("%w: %d -> %d", ErrNoMigration, l.Version, to)
	}
	next := l.clone()
	if fn != nil {
		if err := fn(next); err != nil {
			return err
		}
	}
	next.Version = to
	*l = *next
	return nil
}

// ValidateLedger checks the internal consistency a ledger must have in any
// version.
func ValidateLedger(l *Loan) error {
	led := &l.Ledger
	switch {
	case l.State == StateUnfunded && (l.Funded() || !led.Principal.IsZero()):
		return fmt.Errorf("%w: unfunded loan carries principal", ErrInvariant)
	case l.State == StateActive && !l.Funded():
		return fmt.Errorf("%w: active loan has no due date", ErrInvariant)
	case led.PaymentsRemaining == 0 && !led.Principal.IsZero():
		return fmt.Errorf("%w: principal outstanding with no payments remaining", ErrInvariant)
	case l.Terms.EndingPrincipal.Gt(&led.Principal) && l.State == StateActive:
		return fmt.Errorf("%w: ending principal exceeds principal", ErrInvariant)
	}
	return nil
}
