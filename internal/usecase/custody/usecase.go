package custody

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"loan-engine/internal/domain/loan"
	"loan-engine/internal/domain/uow"
)

var ErrInvalidInput = errors.New("invalid custody input")

// Usecase moves assets between holders outside of any loan. It is how
// lenders and borrowers come to hold the balances loans pull from.
type Usecase struct {
	uow uow.UnitOfWork
	log *slog.Logger
}

func NewUsecase(tx uow.UnitOfWork, log *slog.Logger) *Usecase {
	if log == nil {
		log = slog.Default()
	}
	return &Usecase{uow: tx, log: log}
}

func address(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s is not an address", ErrInvalidInput, field)
	}
	a := common.HexToAddress(s)
	if a == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s is the zero address", ErrInvalidInput, field)
	}
	return a, nil
}

func positive(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", ErrInvalidInput, err)
	}
	if v.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return v, nil
}

func (u *Usecase) Deposit(ctx context.Context, in DepositInput) (*BalanceDTO, error) {
	asset, err := address("asset", in.Asset)
	if err != nil {
		return nil, err
	}
	holder, err := address("holder", in.Holder)
	if err != nil {
		return nil, err
	}
	amount, err := positive(in.Amount)
	if err != nil {
		return nil, err
	}
	var out *BalanceDTO
	err = u.uow.WithinTx(ctx, func(r uow.Repos) error {
		if err := r.Vault.Deposit(ctx, asset, holder, amount); err != nil {
			return err
		}
		out, err = balance(ctx, r, asset, holder)
		return err
	})
	if err != nil {
		return nil, err
	}
	u.log.InfoContext(ctx, "deposit", "asset", asset.Hex(), "holder", holder.Hex(), "amount", amount.Dec())
	return out, nil
}

// Transfer moves amount of asset from From to To and returns the sender's
// new balance. From may not be a loan's custody address.
func (u *Usecase) Transfer(ctx context.Context, in TransferInput) (*BalanceDTO, error) {
	asset, err := address("asset", in.Asset)
	if err != nil {
		return nil, err
	}
	from, err := address("from", in.From)
	if err != nil {
		return nil, err
	}
	to, err := address("to", in.To)
	if err != nil {
		return nil, err
	}
	amount, err := positive(in.Amount)
	if err != nil {
		return nil, err
	}
	var out *BalanceDTO
	err = u.uow.WithinTx(ctx, func(r uow.Repos) error {
		if err := loan.GuardDebit(ctx, r.Loans, from); err != nil {
			return err
		}
		if err := r.Vault.Transfer(ctx, asset, from, to, amount); err != nil {
			return err
		}
		out, err = balance(ctx, r, asset, from)
		return err
	})
	if err != nil {
		u.log.WarnContext(ctx, "transfer failed", "asset", asset.Hex(), "from", from.Hex(), "to", to.Hex(), "err", err)
		return nil, err
	}
	u.log.InfoContext(ctx, "transfer", "asset", asset.Hex(), "from", from.Hex(), "to", to.Hex(), "amount", amount.Dec())
	return out, nil
}

func (u *Usecase) Balance(ctx context.Context, asset, holder string) (*BalanceDTO, error) {
	a, err := address("asset", asset)
	if err != nil {
		return nil, err
	}
	h, err := address("holder", holder)
	if err != nil {
		return nil, err
	}
	var out *BalanceDTO
	err = u.uow.WithinTx(ctx, func(r uow.Repos) error {
		out, err = balance(ctx, r, a, h)
		return err
	})
	return out, err
}

func balance(ctx context.Context, r uow.Repos, asset, holder common.Address) (*BalanceDTO, error) {
	b, err := r.Vault.BalanceOf(ctx, asset, holder)
	if err != nil {
		return nil, err
	}
	return &BalanceDTO{Asset: asset.Hex(), Holder: holder.Hex(), Balance: b.Dec()}, nil
}
