package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	loanDomain "loan-engine/internal/domain/loan"
)

// loanRow is the loans table. Amounts are base-10 strings since they do not
// fit any SQL integer type.
type loanRow struct {
	ID                 uint64         `gorm:"primaryKey;column:id"`
	LoanID             string         `gorm:"size:32;uniqueIndex:ux_loans_loan_id_active"`
	Address            string         `gorm:"size:42;uniqueIndex:ux_loans_address"`
	Version            uint64         `gorm:"not null"`
	State              string         `gorm:"type:enum('unfunded','active','matured','defaulted');default:'unfunded'"`
	Borrower           string         `gorm:"size:42;index:idx_loans_borrower_active"`
	Lender             string         `gorm:"size:42"`
	CollateralAsset    string         `gorm:"size:42"`
	FundsAsset         string         `gorm:"size:42"`
	EndingPrincipal    string         `gorm:"type:varchar(78)"`
	GracePeriod        uint64         `gorm:"not null"`
	InterestRate       string         `gorm:"type:varchar(78)"`
	LateFeeRate        string         `gorm:"type:varchar(78)"`
	PaymentInterval    uint64         `gorm:"not null"`
	Payments           uint64         `gorm:"not null"`
	CollateralRequired string         `gorm:"type:varchar(78)"`
	PrincipalRequested string         `gorm:"type:varchar(78)"`
	Drawable           string         `gorm:"type:varchar(78)"`
	Claimable          string         `gorm:"type:varchar(78)"`
	Collateral         string         `gorm:"type:varchar(78)"`
	Principal          string         `gorm:"type:varchar(78)"`
	PaymentsRemaining  uint64         `gorm:"not null"`
	NextPaymentDueDate uint64         `gorm:"not null"`
	Commitment         string         `gorm:"size:66"`
	StateUpdatedAt     time.Time      `gorm:"autoCreateTime"`
	CreatedAt          time.Time      `gorm:"autoCreateTime"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime"`
	DeletedAt          gorm.DeletedAt `gorm:"index"`
}

func (loanRow) TableName() string { return "loans" }

func toLoanRow(l *loanDomain.Loan) *loanRow {
	return &loanRow{
		ID:                 l.ID,
		LoanID:             l.LoanID,
		Address:            l.Address.Hex(),
		Version:            l.Version,
		State:              string(l.State),
		Borrower:           l.Terms.Borrower.Hex(),
		Lender:             l.Terms.Lender.Hex(),
		CollateralAsset:    l.Terms.CollateralAsset.Hex(),
		FundsAsset:         l.Terms.FundsAsset.Hex(),
		EndingPrincipal:    l.Terms.EndingPrincipal.Dec(),
		GracePeriod:        l.Terms.GracePeriod,
		InterestRate:       l.Terms.InterestRate.Dec(),
		LateFeeRate:        l.Terms.LateFeeRate.Dec(),
		PaymentInterval:    l.Terms.PaymentInterval,
		Payments:           l.Terms.Payments,
		CollateralRequired: l.Request.CollateralRequired.Dec(),
		PrincipalRequested: l.Request.PrincipalRequested.Dec(),
		Drawable:           l.Ledger.Drawable.Dec(),
		Claimable:          l.Ledger.Claimable.Dec(),
		Collateral:         l.Ledger.Collateral.Dec(),
		Principal:          l.Ledger.Principal.Dec(),
		PaymentsRemaining:  l.Ledger.PaymentsRemaining,
		NextPaymentDueDate: l.Ledger.NextPaymentDueDate,
		Commitment:         l.Commitment.Hex(),
		StateUpdatedAt:     l.StateUpdatedAt,
		CreatedAt:          l.CreatedAt,
		UpdatedAt:          l.UpdatedAt,
	}
}

func (r *loanRow) toDomain() (*loanDomain.Loan, error) {
	l := &loanDomain.Loan{
		ID:             r.ID,
		LoanID:         r.LoanID,
		Address:        common.HexToAddress(r.Address),
		Version:        r.Version,
		State:          loanDomain.State(r.State),
		Commitment:     common.HexToHash(r.Commitment),
		StateUpdatedAt: r.StateUpdatedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	l.Terms = loanDomain.Terms{
		Borrower:        common.HexToAddress(r.Borrower),
		Lender:          common.HexToAddress(r.Lender),
		CollateralAsset: common.HexToAddress(r.CollateralAsset),
		FundsAsset:      common.HexToAddress(r.FundsAsset),
		GracePeriod:     r.GracePeriod,
		PaymentInterval: r.PaymentInterval,
		Payments:        r.Payments,
	}
	l.Ledger.PaymentsRemaining = r.PaymentsRemaining
	l.Ledger.NextPaymentDueDate = r.NextPaymentDueDate

	amounts := []struct {
		dst *uint256.Int
		src string
	}{
		{&l.Terms.EndingPrincipal, r.EndingPrincipal},
		{&l.Terms.InterestRate, r.InterestRate},
		{&l.Terms.LateFeeRate, r.LateFeeRate},
		{&l.Request.CollateralRequired, r.CollateralRequired},
		{&l.Request.PrincipalRequested, r.PrincipalRequested},
		{&l.Ledger.Drawable, r.Drawable},
		{&l.Ledger.Claimable, r.Claimable},
		{&l.Ledger.Collateral, r.Collateral},
		{&l.Ledger.Principal, r.Principal},
	}
	for _, a := range amounts {
		if err := parseAmount(a.dst, a.src); err != nil {
			return nil, fmt.Errorf("loan %s: %w", r.LoanID, err)
		}
	}
	return l, nil
}

func parseAmount(dst *uint256.Int, s string) error {
	if s == "" {
		dst.Clear()
		return nil
	}
	return dst.SetFromDecimal(s)
}

type LoanRepository struct{ db *gorm.DB }

func NewLoanRepository(db *gorm.DB) *LoanRepository { return &LoanRepository{db: db} }

func (r *LoanRepository) Create(ctx context.Context, l *loanDomain.Loan) error {
	row := toLoanRow(l)
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	l.ID, l.CreatedAt, l.UpdatedAt, l.StateUpdatedAt = row.ID, row.CreatedAt, row.UpdatedAt, row.StateUpdatedAt
	return nil
}

func (r *LoanRepository) Save(ctx context.Context, l *loanDomain.Loan) error {
	row := toLoanRow(l)
	if err := r.db.WithContext(ctx).Save(row).Error; err != nil {
		return err
	}
	l.UpdatedAt = row.UpdatedAt
	return nil
}

func (r *LoanRepository) GetByLoanID(ctx context.Context, loanID string) (*loanDomain.Loan, error) {
	return r.first(r.db.WithContext(ctx), loanID)
}

// GetByLoanIDForUpdate takes a row lock (SELECT ... FOR UPDATE) held until
// the surrounding transaction ends.
func (r *LoanRepository) GetByLoanIDForUpdate(ctx context.Context, loanID string) (*loanDomain.Loan, error) {
	return r.first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), loanID)
}

func (r *LoanRepository) first(q *gorm.DB, loanID string) (*loanDomain.Loan, error) {
	var row loanRow
	if err := q.Where("loan_id = ?", loanID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %w", loanDomain.ErrNotFound, err)
		}
		return nil, err
	}
	return row.toDomain()
}

func (r *LoanRepository) IsLoanAddress(ctx context.Context, address common.Address) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&loanRow{}).Where("address = ?", address.Hex()).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *LoanRepository) ListByBorrower(ctx context.Context, borrower common.Address) ([]*loanDomain.Loan, error) {
	var rows []loanRow
	res := r.db.WithContext(ctx).
		Where("borrower = ?", borrower.Hex()).
		Order("created_at DESC, id DESC").
		Find(&rows)
	if res.Error != nil {
		return nil, res.Error
	}
	out := make([]*loanDomain.Loan, 0, len(rows))
	for i := range rows {
		l, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}
