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

var ErrInsufficientBalance = loanDomain.ErrInsufficientBalance

// balanceRow is one holder's balance of one asset.
type balanceRow struct {
	ID        uint64    `gorm:"primaryKey;column:id"`
	Asset     string    `gorm:"size:42;not null;uniqueIndex:ux_balances_asset_holder"`
	Holder    string    `gorm:"size:42;not null;uniqueIndex:ux_balances_asset_holder"`
	Amount    string    `gorm:"type:varchar(78);not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (balanceRow) TableName() string { return "balances" }

var _ loanDomain.Vault = (*BalanceRepository)(nil)

// BalanceRepository keeps asset custody in the balances table. Bound to a
// transaction, a failed operation rolls every transfer it made back.
type BalanceRepository struct{ db *gorm.DB }

func NewBalanceRepository(db *gorm.DB) *BalanceRepository { return &BalanceRepository{db: db} }

func (r *BalanceRepository) BalanceOf(ctx context.Context, asset, holder common.Address) (*uint256.Int, error) {
	row, err := loadBalance(r.db.WithContext(ctx), asset, holder)
	if err != nil {
		return nil, err
	}
	return amountOf(row)
}

func (r *BalanceRepository) Deposit(ctx context.Context, asset, holder common.Address, amount *uint256.Int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return credit(tx, asset, holder, amount)
	})
}

func (r *BalanceRepository) Transfer(ctx context.Context, asset, from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := debit(tx, asset, from, amount); err != nil {
			return err
		}
		return credit(tx, asset, to, amount)
	})
}

// TransferFrom carries no allowance model: callers authorize the pull before
// issuing it.
func (r *BalanceRepository) TransferFrom(ctx context.Context, asset, source, destination common.Address, amount *uint256.Int) error {
	return r.Transfer(ctx, asset, source, destination, amount)
}

// loadBalance returns the locked row, or a zero-amount row not yet stored.
func loadBalance(q *gorm.DB, asset, holder common.Address) (*balanceRow, error) {
	var row balanceRow
	err := q.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("asset = ? AND holder = ?", asset.Hex(), holder.Hex()).
		First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &balanceRow{Asset: asset.Hex(), Holder: holder.Hex(), Amount: "0"}, nil
	case err != nil:
		return nil, err
	}
	return &row, nil
}

func amountOf(row *balanceRow) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("balance %s/%s: %w", row.Asset, row.Holder, err)
	}
	return v, nil
}

func debit(tx *gorm.DB, asset, holder common.Address, amount *uint256.Int) error {
	row, err := loadBalance(tx, asset, holder)
	if err != nil {
		return err
	}
	have, err := amountOf(row)
	if err != nil {
		return err
	}
	if have.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s of %s", ErrInsufficientBalance, holder.Hex(), have.Dec(), asset.Hex())
	}
	row.Amount = have.Sub(have, amount).Dec()
	return tx.Save(row).Error
}

func credit(tx *gorm.DB, asset, holder common.Address, amount *uint256.Int) error {
	row, err := loadBalance(tx, asset, holder)
	if err != nil {
		return err
	}
	have, err := amountOf(row)
	if err != nil {
		return err
	}
	if _, over := have.AddOverflow(have, amount); over {
		return loanDomain.ErrOverflow
	}
	row.Amount = have.Dec()
	return tx.Save(row).Error
}
