// Package amortization computes installment breakdowns for fixed-point loan
// terms. Every function is pure: the same inputs always produce the same
// amounts, truncation included.
package amortization

import (
	"errors"

	"github.com/holiman/uint256"
)

const (
	// Scale is the fixed-point base for rates: 120_000 is 12%.
	Scale = 1_000_000
	// YearSeconds is the length of the year annual rates are quoted against.
	YearSeconds = 365 * 24 * 60 * 60
)

var (
	ErrOverflow   = errors.New("amortization: overflow")
	ErrUnderflow  = errors.New("amortization: underflow")
	ErrNoPayments = errors.New("amortization: no payments remaining")
)

var (
	scale = uint256.NewInt(Scale)
	year  = uint256.NewInt(YearSeconds)
)

// Schedule is the slice of loan state the breakdown depends on.
type Schedule struct {
	DueDate           uint64
	Interval          uint64
	Principal         uint256.Int
	EndingPrincipal   uint256.Int
	InterestRate      uint256.Int
	LateFeeRate       uint256.Int
	PaymentsRemaining uint64
}

// Breakdown splits what is owed for one or more installments.
type Breakdown struct {
	Principal uint256.Int
	Interest  uint256.Int
	LateFee   uint256.Int
}

// Total is principal + interest + late fee.
func (b Breakdown) Total() (*uint256.Int, error) {
	total, over := new(uint256.Int).AddOverflow(&b.Principal, &b.Interest)
	if over {
		return nil, ErrOverflow
	}
	if _, over = total.AddOverflow(total, &b.LateFee); over {
		return nil, ErrOverflow
	}
	return total, nil
}

func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, over := new(uint256.Int).MulOverflow(x, y)
	if over {
		return nil, ErrOverflow
	}
	return z.Div(z, d), nil
}

// PeriodicRate scales an annual rate down to one interval. The division
// truncates.
func PeriodicRate(annualRate *uint256.Int, interval uint64) (*uint256.Int, error) {
	return mulDiv(annualRate, uint256.NewInt(interval), year)
}

// Fee charges rate over interval seconds on amount.
func Fee(amount, rate *uint256.Int, interval uint64) (*uint256.Int, error) {
	periodic, err := PeriodicRate(rate, interval)
	if err != nil {
		return nil, err
	}
	return mulDiv(amount, periodic, scale)
}

// ScaledExponent returns base^exponent where base and the result are
// expressed in units of one.
func ScaledExponent(base *uint256.Int, exponent uint64, one *uint256.Int) (*uint256.Int, error) {
	if one.IsZero() {
		return nil, ErrUnderflow
	}
	acc := new(uint256.Int).Set(one)
	for i := uint64(0); i < exponent; i++ {
		if _, over := acc.MulOverflow(acc, base); over {
			return nil, ErrOverflow
		}
		acc.Div(acc, one)
	}
	return acc, nil
}

// SinglePayment returns the principal and interest portions of one on-time
// installment.
func SinglePayment(principal, endingPrincipal, annualRate *uint256.Int, interval, paymentsRemaining uint64) (principalPortion, interest *uint256.Int, err error) {
	if paymentsRemaining == 0 {
		return nil, nil, ErrNoPayments
	}
	periodic, err := PeriodicRate(annualRate, interval)
	if err != nil {
		return nil, nil, err
	}

	if periodic.IsZero() {
		// Zero-rate loans amortize on a straight line.
		owed, under := new(uint256.Int).SubOverflow(principal, endingPrincipal)
		if under {
			return nil, nil, ErrUnderflow
		}
		return owed.Div(owed, uint256.NewInt(paymentsRemaining)), new(uint256.Int), nil
	}

	base := new(uint256.Int).Add(scale, periodic)
	raised, err := ScaledExponent(base, paymentsRemaining, scale)
	if err != nil {
		return nil, nil, err
	}

	grown, err := mulDiv(principal, raised, scale)
	if err != nil {
		return nil, nil, err
	}
	net, under := new(uint256.Int).SubOverflow(grown, endingPrincipal)
	if under {
		return nil, nil, ErrUnderflow
	}
	// raised > scale whenever periodic > 0.
	growth := new(uint256.Int).Sub(raised, scale)
	total, err := mulDiv(net, periodic, growth)
	if err != nil {
		return nil, nil, err
	}

	interest, err = mulDiv(principal, periodic, scale)
	if err != nil {
		return nil, nil, err
	}
	// Truncation can leave total a unit short of interest on an
	// interest-only schedule. The shortfall is rounding, not principal.
	principalPortion, under = new(uint256.Int).SubOverflow(total, interest)
	if under {
		principalPortion.Clear()
	}
	return principalPortion, interest, nil
}

// Lateness turns a payment date into the number of seconds late charges
// accrue for.
type Lateness func(paymentDate, dueDate uint64) uint64

// SecondsLate charges for every second past the due date.
func SecondsLate(paymentDate, dueDate uint64) uint64 {
	if paymentDate <= dueDate {
		return 0
	}
	return paymentDate - dueDate
}

// DaysLate rounds lateness up to whole days.
func DaysLate(paymentDate, dueDate uint64) uint64 {
	const day = 24 * 60 * 60
	late := SecondsLate(paymentDate, dueDate)
	if late%day == 0 {
		return late
	}
	return (late/day + 1) * day
}

// PaymentBreakdown prices the next installment of s paid at paymentDate,
// late charges included.
func PaymentBreakdown(paymentDate uint64, s Schedule) (Breakdown, error) {
	return paymentBreakdown(paymentDate, s, SecondsLate)
}

// PaymentBreakdownWith is PaymentBreakdown with a custom lateness policy.
func PaymentBreakdownWith(paymentDate uint64, s Schedule, late Lateness) (Breakdown, error) {
	return paymentBreakdown(paymentDate, s, late)
}

func paymentBreakdown(paymentDate uint64, s Schedule, late Lateness) (Breakdown, error) {
	var b Breakdown
	principal, interest, err := SinglePayment(&s.Principal, &s.EndingPrincipal, &s.InterestRate, s.Interval, s.PaymentsRemaining)
	if err != nil {
		return b, err
	}
	b.Principal.Set(principal)
	b.Interest.Set(interest)

	secondsLate := late(paymentDate, s.DueDate)
	if secondsLate == 0 {
		return b, nil
	}

	lateFee, err := Fee(interest, &s.LateFeeRate, secondsLate)
	if err != nil {
		return b, err
	}
	lateInterest, err := Fee(&s.Principal, &s.InterestRate, secondsLate)
	if err != nil {
		return b, err
	}
	b.LateFee.Set(lateFee)
	if _, over := b.Interest.AddOverflow(&b.Interest, lateInterest); over {
		return b, ErrOverflow
	}
	return b, nil
}

// MultiPaymentBreakdown prices n consecutive installments settled together
// at paymentDate. Each installment is priced against its own due date.
func MultiPaymentBreakdown(n, paymentDate uint64, s Schedule) (Breakdown, error) {
	return multiPaymentBreakdown(n, paymentDate, s, SecondsLate)
}

// MultiPaymentBreakdownWith is MultiPaymentBreakdown with a custom lateness
// policy.
func MultiPaymentBreakdownWith(n, paymentDate uint64, s Schedule, late Lateness) (Breakdown, error) {
	return multiPaymentBreakdown(n, paymentDate, s, late)
}

func multiPaymentBreakdown(n, paymentDate uint64, s Schedule, late Lateness) (Breakdown, error) {
	var total Breakdown
	if n > s.PaymentsRemaining {
		return total, ErrNoPayments
	}
	for i := uint64(0); i < n; i++ {
		b, err := paymentBreakdown(paymentDate, s, late)
		if err != nil {
			return total, err
		}
		if _, over := total.Principal.AddOverflow(&total.Principal, &b.Principal); over {
			return total, ErrOverflow
		}
		if _, over := total.Interest.AddOverflow(&total.Interest, &b.Interest); over {
			return total, ErrOverflow
		}
		if _, over := total.LateFee.AddOverflow(&total.LateFee, &b.LateFee); over {
			return total, ErrOverflow
		}
		if _, under := s.Principal.SubOverflow(&s.Principal, &b.Principal); under {
			return total, ErrUnderflow
		}
		due, over := new(uint256.Int).AddOverflow(uint256.NewInt(s.DueDate), uint256.NewInt(s.Interval))
		if over || !due.IsUint64() {
			return total, ErrOverflow
		}
		s.DueDate = due.Uint64()
		s.PaymentsRemaining--
	}
	return total, nil
}
