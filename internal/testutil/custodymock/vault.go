package custodymock

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"loan-engine/internal/domain/loan"
)

var _ loan.Vault = (*Vault)(nil)

var ErrInsufficientBalance = loan.ErrInsufficientBalance

type key struct{ asset, holder common.Address }

// Vault is an in-memory custody. Set FailTransfer to make transfers of an
// asset fail.
type Vault struct {
	balances     map[key]*uint256.Int
	FailTransfer func(asset common.Address) error
	Transfers    int
}

func NewVault() *Vault { return &Vault{balances: map[key]*uint256.Int{}} }

// Mint credits holder out of thin air.
func (v *Vault) Mint(asset, holder common.Address, amount uint64) {
	b := v.balance(asset, holder)
	b.Add(b, uint256.NewInt(amount))
}

// Burn debits holder, simulating an asset that leaks from custody.
func (v *Vault) Burn(asset, holder common.Address, amount uint64) {
	b := v.balance(asset, holder)
	b.Sub(b, uint256.NewInt(amount))
}

func (v *Vault) Balance(asset, holder common.Address) uint64 {
	return v.balance(asset, holder).Uint64()
}

func (v *Vault) balance(asset, holder common.Address) *uint256.Int {
	k := key{asset, holder}
	b, ok := v.balances[k]
	if !ok {
		b = new(uint256.Int)
		v.balances[k] = b
	}
	return b
}

// Snapshot captures every balance and returns a func that restores them.
func (v *Vault) Snapshot() (restore func()) {
	saved := make(map[key]*uint256.Int, len(v.balances))
	for k, b := range v.balances {
		saved[k] = b.Clone()
	}
	transfers := v.Transfers
	return func() {
		v.balances = saved
		v.Transfers = transfers
	}
}

func (v *Vault) BalanceOf(_ context.Context, asset, holder common.Address) (*uint256.Int, error) {
	return v.balance(asset, holder).Clone(), nil
}

func (v *Vault) Transfer(_ context.Context, asset, from, to common.Address, amount *uint256.Int) error {
	if v.FailTransfer != nil {
		if err := v.FailTransfer(asset); err != nil {
			return err
		}
	}
	src := v.balance(asset, from)
	if src.Lt(amount) {
		return ErrInsufficientBalance
	}
	src.Sub(src, amount)
	dst := v.balance(asset, to)
	dst.Add(dst, amount)
	v.Transfers++
	return nil
}

func (v *Vault) TransferFrom(ctx context.Context, asset, source, destination common.Address, amount *uint256.Int) error {
	return v.Transfer(ctx, asset, source, destination, amount)
}

func (v *Vault) Deposit(_ context.Context, asset, holder common.Address, amount *uint256.Int) error {
	b := v.balance(asset, holder)
	b.Add(b, amount)
	return nil
}
