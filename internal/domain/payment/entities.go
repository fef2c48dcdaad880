package payment

import (
	"errors"
	"time"

	"loan-engine/internal/domain/loan"
)

var (
	ErrNotFound = errors.New("payment not found")
)

// Table: payments. One row per settled MakePayments call.
type Payment struct {
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// Public identifier (32-char lowercase hex)
	PaymentID string `gorm:"column:payment_id;type:char(32);not null;uniqueIndex:ux_payments_payment_id"`
	// FK to loans.id (numeric)
	LoanID       uint64 `gorm:"column:loan_id;not null;index:idx_payments_loan_paid"`
	Installments uint64 `gorm:"column:installments;not null"`
	// Amounts are base-10 strings of 256-bit integers.
	Principal          string    `gorm:"column:principal;type:varchar(78);not null"`
	Interest           string    `gorm:"column:interest;type:varchar(78);not null"`
	LateFee            string    `gorm:"column:late_fee;type:varchar(78);not null"`
	Residue            string    `gorm:"column:residue;type:varchar(78);not null"`
	PaymentsRemaining  uint64    `gorm:"column:payments_remaining;not null"`
	NextPaymentDueDate uint64    `gorm:"column:next_payment_due_date;not null"`
	PaidAt             time.Time `gorm:"column:paid_at;not null;index:idx_payments_loan_paid"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Payment) TableName() string { return "payments" }

// FromSettlement records s against the loan with numeric id loanID.
func FromSettlement(paymentID string, loanID uint64, s loan.Settlement) *Payment {
	return &Payment{
		PaymentID:          paymentID,
		LoanID:             loanID,
		Installments:       s.Installments,
		Principal:          s.Principal.Dec(),
		Interest:           s.Interest.Dec(),
		LateFee:            s.LateFee.Dec(),
		Residue:            s.Residue.Dec(),
		PaymentsRemaining:  s.PaymentsRemaining,
		NextPaymentDueDate: s.NextPaymentDueDate,
		PaidAt:             time.Unix(int64(s.PaidAt), 0).UTC(),
	}
}
