package loan

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	domain "loan-engine/internal/domain/loan"
	"loan-engine/internal/domain/payment"
)

// Amounts cross this layer as base-10 strings; addresses as 0x hex.

type CreateLoanInput struct {
	Borrower           string
	CollateralAsset    string
	FundsAsset         string
	EndingPrincipal    string
	GracePeriod        uint64
	InterestRate       string
	LateFeeRate        string
	PaymentInterval    uint64
	Payments           uint64
	CollateralRequired string
	PrincipalRequested string
}

type FundInput struct {
	LoanID string
	Lender string
	// Pull moves the principal from the lender before funding.
	Pull bool
}

type PostCollateralInput struct {
	LoanID string
	Caller string
	// Amount, when set, is pulled from Caller before posting.
	Amount string
}

// WithdrawInput serves RemoveCollateral, Drawdown and ClaimFunds.
type WithdrawInput struct {
	LoanID      string
	Caller      string
	Amount      string
	Destination string
}

type PaymentInput struct {
	LoanID       string
	Caller       string
	Installments uint64
	// Pull moves the quoted total from Caller before paying.
	Pull bool
}

type RepossessInput struct {
	LoanID                string
	Caller                string
	CollateralDestination string
	FundsDestination      string
}

type SkimInput struct {
	LoanID      string
	Caller      string
	Asset       string
	Destination string
}

type ChangeInput struct {
	Field string
	Value string
}

type TermsInput struct {
	LoanID  string
	Caller  string
	Changes []ChangeInput
}

type UpgradeInput struct {
	LoanID  string
	Caller  string
	Version uint64
}

type LoanDTO struct {
	LoanID             string    `json:"loan_id"`
	Address            string    `json:"address"`
	Version            uint64    `json:"version"`
	State              string    `json:"state"`
	Borrower           string    `json:"borrower"`
	Lender             string    `json:"lender,omitempty"`
	CollateralAsset    string    `json:"collateral_asset"`
	FundsAsset         string    `json:"funds_asset"`
	EndingPrincipal    string    `json:"ending_principal"`
	GracePeriod        uint64    `json:"grace_period"`
	InterestRate       string    `json:"interest_rate"`
	LateFeeRate        string    `json:"late_fee_rate"`
	PaymentInterval    uint64    `json:"payment_interval"`
	CollateralRequired string    `json:"collateral_required"`
	PrincipalRequested string    `json:"principal_requested"`
	Drawable           string    `json:"drawable"`
	Claimable          string    `json:"claimable"`
	Collateral         string    `json:"collateral"`
	Principal          string    `json:"principal"`
	PaymentsRemaining  uint64    `json:"payments_remaining"`
	NextPaymentDueDate uint64    `json:"next_payment_due_date"`
	Commitment         string    `json:"commitment,omitempty"`
	StateUpdatedAt     time.Time `json:"state_updated_at"`
	CreatedAt          time.Time `json:"created_at"`
}

func toDTO(l *domain.Loan) *LoanDTO {
	d := &LoanDTO{
		LoanID:             l.LoanID,
		Address:            l.Address.Hex(),
		Version:            l.Version,
		State:              string(l.State),
		Borrower:           l.Terms.Borrower.Hex(),
		CollateralAsset:    l.Terms.CollateralAsset.Hex(),
		FundsAsset:         l.Terms.FundsAsset.Hex(),
		EndingPrincipal:    l.Terms.EndingPrincipal.Dec(),
		GracePeriod:        l.Terms.GracePeriod,
		InterestRate:       l.Terms.InterestRate.Dec(),
		LateFeeRate:        l.Terms.LateFeeRate.Dec(),
		PaymentInterval:    l.Terms.PaymentInterval,
		CollateralRequired: l.Request.CollateralRequired.Dec(),
		PrincipalRequested: l.Request.PrincipalRequested.Dec(),
		Drawable:           l.Ledger.Drawable.Dec(),
		Claimable:          l.Ledger.Claimable.Dec(),
		Collateral:         l.Ledger.Collateral.Dec(),
		Principal:          l.Ledger.Principal.Dec(),
		PaymentsRemaining:  l.Ledger.PaymentsRemaining,
		NextPaymentDueDate: l.Ledger.NextPaymentDueDate,
		StateUpdatedAt:     l.StateUpdatedAt,
		CreatedAt:          l.CreatedAt,
	}
	if l.Funded() {
		d.Lender = l.Terms.Lender.Hex()
	}
	if l.Commitment != (common.Hash{}) {
		d.Commitment = l.Commitment.Hex()
	}
	return d
}

// QuoteDTO prices installments as if paid now.
type QuoteDTO struct {
	LoanID             string `json:"loan_id"`
	Installments       uint64 `json:"installments"`
	Principal          string `json:"principal"`
	Interest           string `json:"interest"`
	LateFee            string `json:"late_fee"`
	Total              string `json:"total"`
	NextPaymentDueDate uint64 `json:"next_payment_due_date"`
	PaymentsRemaining  uint64 `json:"payments_remaining"`
}

type PaymentDTO struct {
	PaymentID          string    `json:"payment_id"`
	LoanID             string    `json:"loan_id"`
	Installments       uint64    `json:"installments"`
	Principal          string    `json:"principal"`
	Interest           string    `json:"interest"`
	LateFee            string    `json:"late_fee"`
	Residue            string    `json:"residue"`
	PaymentsRemaining  uint64    `json:"payments_remaining"`
	NextPaymentDueDate uint64    `json:"next_payment_due_date"`
	PaidAt             time.Time `json:"paid_at"`
}

func toPaymentDTO(loanID string, p *payment.Payment) PaymentDTO {
	return PaymentDTO{
		PaymentID:          p.PaymentID,
		LoanID:             loanID,
		Installments:       p.Installments,
		Principal:          p.Principal,
		Interest:           p.Interest,
		LateFee:            p.LateFee,
		Residue:            p.Residue,
		PaymentsRemaining:  p.PaymentsRemaining,
		NextPaymentDueDate: p.NextPaymentDueDate,
		PaidAt:             p.PaidAt,
	}
}

// MovementDTO reports an amount moved out of or credited to a loan.
type MovementDTO struct {
	Loan   *LoanDTO `json:"loan"`
	Amount string   `json:"amount"`
}

type RepossessDTO struct {
	Loan       *LoanDTO `json:"loan"`
	Collateral string   `json:"collateral"`
	Funds      string   `json:"funds"`
}

type CommitmentDTO struct {
	LoanID     string `json:"loan_id"`
	Commitment string `json:"commitment"`
}
