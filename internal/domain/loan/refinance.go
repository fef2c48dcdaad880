package loan

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Field names a loan parameter a refinance may change.
type Field uint8

const (
	FieldEndingPrincipal Field = iota + 1
	FieldGracePeriod
	FieldInterestRate
	FieldLateFeeRate
	FieldPaymentInterval
	FieldPaymentsRemaining
	FieldCollateralRequired
	// FieldIncreasePrincipal lends Value more, paid out of unaccounted funds.
	FieldIncreasePrincipal
)

var fieldNames = map[Field]string{
	FieldEndingPrincipal:    "ending_principal",
	FieldGracePeriod:        "grace_period",
	FieldInterestRate:       "interest_rate",
	FieldLateFeeRate:        "late_fee_rate",
	FieldPaymentInterval:    "payment_interval",
	FieldPaymentsRemaining:  "payments_remaining",
	FieldCollateralRequired: "collateral_required",
	FieldIncreasePrincipal:  "increase_principal",
}

func (f Field) String() string {
	if s, ok := fieldNames[f]; ok {
		return s
	}
	return fmt.Sprintf("field(%d)", uint8(f))
}

// ParseField is the inverse of Field.String.
func ParseField(s string) (Field, bool) {
	for f, name := range fieldNames {
		if name == s {
			return f, true
		}
	}
	return 0, false
}

type Change struct {
	Field Field
	Value uint256.Int
}

// Commitment hashes an ordered change set. An empty set commits to the zero
// hash, which clears a proposal.
func Commitment(changes []Change) common.Hash {
	if len(changes) == 0 {
		return common.Hash{}
	}
	buf := make([]byte, 0, len(changes)*33)
	for _, c := range changes {
		v := c.Value.Bytes32()
		buf = append(buf, byte(c.Field))
		buf = append(buf, v[:]...)
	}
	return crypto.Keccak256Hash(buf)
}

func applyChange(l *Loan, c Change, unaccounted *uint256.Int) error {
	small := func() (uint64, error) {
		if !c.Value.IsUint64() {
			return 0, fmt.Errorf("%w: %s out of range", ErrInvalidTerms, c.Field)
		}
		return c.Value.Uint64(), nil
	}
	var err error
	switch c.Field {
	case FieldEndingPrincipal:
		l.Terms.EndingPrincipal = c.Value
	case FieldGracePeriod:
		l.Terms.GracePeriod, err = small()
	case FieldInterestRate:
		l.Terms.InterestRate = c.Value
	case FieldLateFeeRate:
		l.Terms.LateFeeRate = c.Value
	case FieldPaymentInterval:
		l.Terms.PaymentInterval, err = small()
	case FieldPaymentsRemaining:
		l.Ledger.PaymentsRemaining, err = small()
	case FieldCollateralRequired:
		l.Request.CollateralRequired = c.Value
	case FieldIncreasePrincipal:
		if _, under := unaccounted.SubOverflow(unaccounted, &c.Value); under {
			return fmt.Errorf("%w: principal increase exceeds unaccounted funds", ErrInsufficientPayment)
		}
		for _, a := range []*uint256.Int{&l.Ledger.Principal, &l.Ledger.Drawable, &l.Request.PrincipalRequested} {
			if _, over := a.AddOverflow(a, &c.Value); over {
				return ErrOverflow
			}
		}
	default:
		return fmt.Errorf("%w: unknown field %s", ErrInvalidTerms, c.Field)
	}
	return err
}

func validateRefinanced(l *Loan) error {
	switch {
	case l.Terms.PaymentInterval == 0:
		return fmt.Errorf("%w: payment interval must be positive", ErrInvalidTerms)
	case l.Terms.PaymentInterval > MaxDuration:
		return fmt.Errorf("%w: payment interval exceeds %d seconds", ErrInvalidTerms, uint64(MaxDuration))
	case l.Terms.GracePeriod > MaxDuration:
		return fmt.Errorf("%w: grace period exceeds %d seconds", ErrInvalidTerms, uint64(MaxDuration))
	case l.Ledger.PaymentsRemaining == 0:
		return fmt.Errorf("%w: payments remaining must be positive", ErrInvalidTerms)
	case l.Terms.EndingPrincipal.Gt(&l.Ledger.Principal):
		return fmt.Errorf("%w: ending principal exceeds principal", ErrInvalidTerms)
	}
	ok, err := l.CollateralMaintained()
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnderCollateralized
	}
	return nil
}
