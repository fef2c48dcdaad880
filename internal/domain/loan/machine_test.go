package loan_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loan-engine/internal/domain/loan"
	"loan-engine/internal/testutil/custodymock"
)

const day = 24 * 60 * 60

var (
	borrower        = common.HexToAddress("0xb0")
	lender          = common.HexToAddress("0x1e")
	stranger        = common.HexToAddress("0x55")
	loanAddr        = common.HexToAddress("0xaa")
	collateralAsset = common.HexToAddress("0xc0")
	fundsAsset      = common.HexToAddress("0xf0")
	foreignAsset    = common.HexToAddress("0xee")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type fixture struct {
	t     *testing.T
	ctx   context.Context
	now   time.Time
	vault *custodymock.Vault
	m     *loan.Machine
	l     *loan.Loan
}

func newFixture(t *testing.T, sharedAsset bool) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), now: time.Unix(1_700_000_000, 0), vault: custodymock.NewVault()}
	f.m = loan.NewMachine(f.vault, loan.NewRegistry(), loan.WithClock(func() time.Time { return f.now }))

	collateral := collateralAsset
	if sharedAsset {
		collateral = fundsAsset
	}
	l, err := loan.NewRegistry().New(loanAddr, borrower,
		[2]common.Address{collateral, fundsAsset},
		[6]*uint256.Int{u(0), u(10 * day), u(120_000), u(100_000), u(365 * day / 6), u(6)},
		[2]*uint256.Int{u(300_000), u(1_000_000)},
	)
	require.NoError(t, err)
	f.l = l
	return f
}

func (f *fixture) mint(asset common.Address, amount uint64) {
	f.vault.Mint(asset, f.l.Address, amount)
}

func (f *fixture) fund() {
	f.t.Helper()
	f.mint(fundsAsset, 1_000_000)
	require.NoError(f.t, f.m.Fund(f.ctx, f.l, lender))
}

// activate funds the loan, posts the required collateral and draws down
// the full principal.
func (f *fixture) activate() {
	f.t.Helper()
	f.fund()
	f.mint(f.l.Terms.CollateralAsset, 300_000)
	_, err := f.m.PostCollateral(f.ctx, f.l)
	require.NoError(f.t, err)
	require.NoError(f.t, f.m.DrawdownFunds(f.ctx, f.l, borrower, u(1_000_000), borrower))
	f.assertFundsCovered()
}

func (f *fixture) payOnTime() loan.Settlement {
	f.t.Helper()
	f.now = time.Unix(int64(f.l.Ledger.NextPaymentDueDate), 0)
	q, err := f.m.Quote(f.l, 1)
	require.NoError(f.t, err)
	total, err := q.Total()
	require.NoError(f.t, err)
	f.mint(fundsAsset, total.Uint64())
	s, err := f.m.MakePayments(f.ctx, f.l, 1)
	require.NoError(f.t, err)
	f.assertFundsCovered()
	return s
}

func (f *fixture) assertFundsCovered() {
	f.t.Helper()
	l := f.l
	held := f.vault.Balance(l.Terms.FundsAsset, l.Address)
	accounted := l.Ledger.Drawable.Uint64() + l.Ledger.Claimable.Uint64()
	if l.Terms.CollateralAsset == l.Terms.FundsAsset {
		accounted += l.Ledger.Collateral.Uint64()
	}
	assert.LessOrEqual(f.t, accounted, held, "accounted funds exceed balance held")
}

func TestNew_Validation(t *testing.T) {
	assets := [2]common.Address{collateralAsset, fundsAsset}
	good := [6]*uint256.Int{u(0), u(day), u(1), u(1), u(day), u(3)}
	amounts := [2]*uint256.Int{u(1), u(100)}

	_, err := loan.New(loanAddr, borrower, assets, good, amounts)
	require.NoError(t, err)

	cases := map[string]func() error{
		"zero borrower": func() error {
			_, err := loan.New(loanAddr, common.Address{}, assets, good, amounts)
			return err
		},
		"zero interval": func() error {
			p := good
			p[4] = u(0)
			_, err := loan.New(loanAddr, borrower, assets, p, amounts)
			return err
		},
		"zero payments": func() error {
			p := good
			p[5] = u(0)
			_, err := loan.New(loanAddr, borrower, assets, p, amounts)
			return err
		},
		"balloon above principal": func() error {
			p := good
			p[0] = u(101)
			_, err := loan.New(loanAddr, borrower, assets, p, amounts)
			return err
		},
		"zero principal": func() error {
			_, err := loan.New(loanAddr, borrower, assets, good, [2]*uint256.Int{u(1), u(0)})
			return err
		},
		"interval beyond max": func() error {
			p := good
			p[4] = u(loan.MaxDuration + 1)
			_, err := loan.New(loanAddr, borrower, assets, p, amounts)
			return err
		},
		"grace beyond max": func() error {
			p := good
			p[1] = u(^uint64(0))
			_, err := loan.New(loanAddr, borrower, assets, p, amounts)
			return err
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, fn(), loan.ErrInvalidTerms)
		})
	}
}

func TestFund_RequiresExactAmount(t *testing.T) {
	f := newFixture(t, false)

	f.mint(fundsAsset, 999_999)
	assert.ErrorIs(t, f.m.Fund(f.ctx, f.l, lender), loan.ErrFundingMismatch)
	assert.Equal(t, loan.StateUnfunded, f.l.State)
	assert.False(t, f.l.Funded())

	f.mint(fundsAsset, 1)
	require.NoError(t, f.m.Fund(f.ctx, f.l, lender))
	assert.Equal(t, loan.StateActive, f.l.State)
	assert.Equal(t, lender, f.l.Terms.Lender)
	assert.Equal(t, uint64(1_000_000), f.l.Ledger.Principal.Uint64())
	assert.Equal(t, uint64(1_000_000), f.l.Ledger.Drawable.Uint64())
	assert.Equal(t, uint64(f.now.Unix())+365*day/6, f.l.Ledger.NextPaymentDueDate)

	f.mint(fundsAsset, 1_000_000)
	assert.ErrorIs(t, f.m.Fund(f.ctx, f.l, lender), loan.ErrAlreadyFunded)
}

func TestFund_RejectsOverfunding(t *testing.T) {
	f := newFixture(t, false)
	f.mint(fundsAsset, 1_000_001)
	err := f.m.Fund(f.ctx, f.l, lender)
	assert.ErrorIs(t, err, loan.ErrFundingMismatch)
	assert.ErrorIs(t, err, loan.ErrArithmetic)
}

func TestFund_SharedAssetIgnoresPostedCollateral(t *testing.T) {
	f := newFixture(t, true)
	f.mint(fundsAsset, 300_000)
	posted, err := f.m.PostCollateral(f.ctx, f.l)
	require.NoError(t, err)
	assert.Equal(t, uint64(300_000), posted.Uint64())

	f.fund()
	assert.Equal(t, uint64(300_000), f.l.Ledger.Collateral.Uint64())
	require.NoError(t, f.m.DrawdownFunds(f.ctx, f.l, borrower, u(1_000_000), borrower))
	f.assertFundsCovered()
	assert.Equal(t, uint64(300_000), f.vault.Balance(fundsAsset, loanAddr))
}

func TestDrawdown(t *testing.T) {
	f := newFixture(t, false)
	f.fund()

	assert.ErrorIs(t, f.m.DrawdownFunds(f.ctx, f.l, stranger, u(1), stranger), loan.ErrNotBorrower)
	assert.ErrorIs(t, f.m.DrawdownFunds(f.ctx, f.l, borrower, u(1), borrower), loan.ErrUnderCollateralized)

	f.mint(collateralAsset, 150_000)
	_, err := f.m.PostCollateral(f.ctx, f.l)
	require.NoError(t, err)

	require.NoError(t, f.m.DrawdownFunds(f.ctx, f.l, borrower, u(500_000), borrower))
	assert.ErrorIs(t, f.m.DrawdownFunds(f.ctx, f.l, borrower, u(1), borrower), loan.ErrUnderCollateralized)
	assert.ErrorIs(t, f.m.DrawdownFunds(f.ctx, f.l, borrower, u(500_001), borrower), loan.ErrInsufficientDrawable)
	assert.Equal(t, uint64(500_000), f.l.Ledger.Drawable.Uint64())
	assert.Equal(t, uint64(500_000), f.vault.Balance(fundsAsset, borrower))
	f.assertFundsCovered()
}

func TestDrawdown_TransferFailureLeavesLedger(t *testing.T) {
	f := newFixture(t, false)
	f.fund()
	f.mint(collateralAsset, 300_000)
	_, err := f.m.PostCollateral(f.ctx, f.l)
	require.NoError(t, err)

	f.vault.FailTransfer = func(common.Address) error { return errors.New("paused") }
	before := *f.l
	err = f.m.DrawdownFunds(f.ctx, f.l, borrower, u(10), borrower)
	assert.ErrorIs(t, err, loan.ErrTransfer)
	assert.Equal(t, before, *f.l)
}

func TestRemoveCollateral(t *testing.T) {
	f := newFixture(t, false)
	f.activate()

	assert.ErrorIs(t, f.m.RemoveCollateral(f.ctx, f.l, lender, u(1), lender), loan.ErrNotBorrower)
	assert.ErrorIs(t, f.m.RemoveCollateral(f.ctx, f.l, borrower, u(1), borrower), loan.ErrUnderCollateralized)
	assert.ErrorIs(t, f.m.RemoveCollateral(f.ctx, f.l, borrower, u(300_001), borrower), loan.ErrInsufficientCollateral)

	// Returning half the principal releases half the collateral.
	require.NoError(t, f.vault.Transfer(f.ctx, fundsAsset, borrower, loanAddr, u(500_000)))
	_, err := f.m.ReturnFunds(f.ctx, f.l)
	require.NoError(t, err)
	require.NoError(t, f.m.RemoveCollateral(f.ctx, f.l, borrower, u(150_000), borrower))
	assert.Equal(t, uint64(150_000), f.l.Ledger.Collateral.Uint64())
	assert.Equal(t, uint64(150_000), f.vault.Balance(collateralAsset, borrower))
}

func TestMakePayments_FirstInstallment(t *testing.T) {
	f := newFixture(t, false)
	f.activate()

	f.now = time.Unix(int64(f.l.Ledger.NextPaymentDueDate), 0)
	due := f.l.Ledger.NextPaymentDueDate

	// Nothing sent and nothing drawable: the payment cannot be covered.
	before := *f.l
	_, err := f.m.MakePayments(f.ctx, f.l, 1)
	assert.ErrorIs(t, err, loan.ErrInsufficientPayment)
	assert.Equal(t, before, *f.l)

	s := f.payOnTime()
	assert.InDelta(t, 158_525, float64(s.Principal.Uint64()), 1)
	assert.Equal(t, uint64(20_000), s.Interest.Uint64())
	assert.True(t, s.LateFee.IsZero())

	total, err := s.Total()
	require.NoError(t, err)
	assert.Equal(t, total.Uint64(), f.l.Ledger.Claimable.Uint64())
	assert.True(t, f.l.Ledger.Drawable.IsZero())
	assert.Equal(t, uint64(1_000_000)-s.Principal.Uint64(), f.l.Ledger.Principal.Uint64())
	assert.Equal(t, uint64(5), f.l.Ledger.PaymentsRemaining)
	assert.Equal(t, due+365*day/6, f.l.Ledger.NextPaymentDueDate)
}

func TestMakePayments_FromDrawable(t *testing.T) {
	f := newFixture(t, false)
	f.fund()
	f.now = time.Unix(int64(f.l.Ledger.NextPaymentDueDate), 0)

	s, err := f.m.MakePayments(f.ctx, f.l, 1)
	require.NoError(t, err)
	total, err := s.Total()
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000)-total.Uint64(), f.l.Ledger.Drawable.Uint64())
	f.assertFundsCovered()
}

func TestMakePayments_Count(t *testing.T) {
	f := newFixture(t, false)
	f.activate()
	_, err := f.m.MakePayments(f.ctx, f.l, 7)
	assert.ErrorIs(t, err, loan.ErrPaymentCount)
	_, err = f.m.MakePayments(f.ctx, f.l, 0)
	assert.ErrorIs(t, err, loan.ErrPaymentCount)
}

func TestMakePayments_CatchUp(t *testing.T) {
	f := newFixture(t, false)
	f.activate()

	f.now = time.Unix(int64(f.l.Ledger.NextPaymentDueDate+f.l.Terms.PaymentInterval), 0)
	q, err := f.m.Quote(f.l, 2)
	require.NoError(t, err)
	assert.False(t, q.LateFee.IsZero())
	total, err := q.Total()
	require.NoError(t, err)

	f.mint(fundsAsset, total.Uint64())
	_, err = f.m.MakePayments(f.ctx, f.l, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), f.l.Ledger.PaymentsRemaining)
	f.assertFundsCovered()
}

func TestFullAmortization_Matures(t *testing.T) {
	f := newFixture(t, false)
	f.activate()

	var retired uint64
	var last loan.Settlement
	for i := 0; i < 6; i++ {
		last = f.payOnTime()
		retired += last.Principal.Uint64()
	}
	assert.Equal(t, loan.StateMatured, f.l.State)
	assert.Equal(t, uint64(1_000_000), retired)
	assert.True(t, f.l.Ledger.Principal.IsZero())
	assert.Zero(t, f.l.Ledger.PaymentsRemaining)
	assert.LessOrEqual(t, last.Residue.Uint64(), uint64(6))

	_, err := f.m.MakePayments(f.ctx, f.l, 1)
	assert.ErrorIs(t, err, loan.ErrNotActive)

	// Residual withdrawals remain possible after maturity.
	require.NoError(t, f.m.RemoveCollateral(f.ctx, f.l, borrower, u(300_000), borrower))
	claimable := f.l.Ledger.Claimable.Clone()
	require.NoError(t, f.m.ClaimFunds(f.ctx, f.l, lender, claimable, lender))
	assert.True(t, f.l.Ledger.Claimable.IsZero())
	assert.Equal(t, claimable.Uint64(), f.vault.Balance(fundsAsset, lender))
	f.assertFundsCovered()
}

func TestBalloonLoan_FinalInstallmentRetiresBalloon(t *testing.T) {
	f := newFixture(t, false)
	l, err := loan.NewRegistry().New(loanAddr, borrower,
		[2]common.Address{collateralAsset, fundsAsset},
		[6]*uint256.Int{u(400_000), u(10 * day), u(120_000), u(100_000), u(365 * day / 6), u(6)},
		[2]*uint256.Int{u(300_000), u(1_000_000)},
	)
	require.NoError(t, err)
	f.l = l
	f.activate()

	var last loan.Settlement
	for i := 0; i < 6; i++ {
		last = f.payOnTime()
	}
	assert.InDelta(t, 400_000, float64(last.Residue.Uint64()), 1)
	assert.True(t, f.l.Ledger.Principal.IsZero())
	assert.Equal(t, loan.StateMatured, f.l.State)
}

func TestClaimFunds(t *testing.T) {
	f := newFixture(t, false)
	f.activate()
	f.payOnTime()
	claimable := f.l.Ledger.Claimable.Uint64()

	assert.ErrorIs(t, f.m.ClaimFunds(f.ctx, f.l, borrower, u(1), borrower), loan.ErrNotLender)
	assert.ErrorIs(t, f.m.ClaimFunds(f.ctx, f.l, lender, u(claimable+1), lender), loan.ErrInsufficientClaimable)

	require.NoError(t, f.m.ClaimFunds(f.ctx, f.l, lender, u(1_000), lender))
	assert.Equal(t, claimable-1_000, f.l.Ledger.Claimable.Uint64())
	f.assertFundsCovered()
}

func TestClaimFunds_DetectsLeakedBalance(t *testing.T) {
	f := newFixture(t, false)
	f.activate()
	f.payOnTime()

	f.vault.Burn(fundsAsset, loanAddr, 10)
	ok, err := f.m.FundsMaintained(f.ctx, f.l)
	require.NoError(t, err)
	assert.False(t, ok)

	before := *f.l
	err = f.m.ClaimFunds(f.ctx, f.l, lender, u(1), lender)
	assert.ErrorIs(t, err, loan.ErrFundsNotMaintained)
	assert.ErrorIs(t, err, loan.ErrInvariant)
	assert.Equal(t, before, *f.l)
}

func TestRepossess_Timing(t *testing.T) {
	f := newFixture(t, false)
	f.activate()
	f.mint(fundsAsset, 5_000)

	deadline := f.l.Ledger.NextPaymentDueDate + f.l.Terms.GracePeriod
	f.now = time.Unix(int64(deadline), 0)
	_, _, err := f.m.Repossess(f.ctx, f.l, lender, lender, lender)
	assert.ErrorIs(t, err, loan.ErrNotInDefault)

	f.now = time.Unix(int64(deadline)+1, 0)
	_, _, err = f.m.Repossess(f.ctx, f.l, borrower, borrower, borrower)
	assert.ErrorIs(t, err, loan.ErrNotLender)

	collateral, funds, err := f.m.Repossess(f.ctx, f.l, lender, stranger, lender)
	require.NoError(t, err)
	assert.Equal(t, uint64(300_000), collateral.Uint64())
	assert.Equal(t, uint64(5_000), funds.Uint64())
	assert.Equal(t, uint64(300_000), f.vault.Balance(collateralAsset, stranger))
	assert.Equal(t, uint64(5_000), f.vault.Balance(fundsAsset, lender))
	assert.Equal(t, loan.StateDefaulted, f.l.State)
	assert.Equal(t, loan.Ledger{}, f.l.Ledger)

	_, _, err = f.m.Repossess(f.ctx, f.l, lender, lender, lender)
	assert.ErrorIs(t, err, loan.ErrNotActive)
}

func TestReturnFunds(t *testing.T) {
	f := newFixture(t, false)
	_, err := f.m.ReturnFunds(f.ctx, f.l)
	assert.ErrorIs(t, err, loan.ErrNotActive)

	f.activate()
	f.mint(fundsAsset, 1_000)
	returned, err := f.m.ReturnFunds(f.ctx, f.l)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), returned.Uint64())
	assert.Equal(t, uint64(1_000), f.l.Ledger.Drawable.Uint64())
}

func TestSkim(t *testing.T) {
	f := newFixture(t, false)
	f.activate()
	f.mint(foreignAsset, 42)
	f.mint(fundsAsset, 7)

	_, err := f.m.Skim(f.ctx, f.l, stranger, foreignAsset, stranger)
	assert.ErrorIs(t, err, loan.ErrNotParticipant)

	got, err := f.m.Skim(f.ctx, f.l, borrower, foreignAsset, borrower)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.Uint64())

	got, err = f.m.Skim(f.ctx, f.l, lender, fundsAsset, lender)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Uint64())

	got, err = f.m.Skim(f.ctx, f.l, lender, collateralAsset, lender)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
	assert.Equal(t, uint64(300_000), f.vault.Balance(collateralAsset, loanAddr))
}

func TestRefinance(t *testing.T) {
	f := newFixture(t, false)
	f.activate()

	changes := []loan.Change{
		{Field: loan.FieldInterestRate, Value: *u(90_000)},
		{Field: loan.FieldPaymentsRemaining, Value: *u(12)},
	}
	assert.ErrorIs(t, f.m.AcceptNewTerms(f.ctx, f.l, lender, changes), loan.ErrNoCommitment)

	_, err := f.m.ProposeNewTerms(f.l, lender, changes)
	assert.ErrorIs(t, err, loan.ErrNotBorrower)
	hash, err := f.m.ProposeNewTerms(f.l, borrower, changes)
	require.NoError(t, err)
	assert.Equal(t, loan.Commitment(changes), hash)

	tampered := []loan.Change{changes[0], {Field: loan.FieldPaymentsRemaining, Value: *u(24)}}
	assert.ErrorIs(t, f.m.AcceptNewTerms(f.ctx, f.l, lender, tampered), loan.ErrCommitment)
	assert.ErrorIs(t, f.m.AcceptNewTerms(f.ctx, f.l, borrower, changes), loan.ErrNotLender)

	require.NoError(t, f.m.AcceptNewTerms(f.ctx, f.l, lender, changes))
	assert.Equal(t, uint64(90_000), f.l.Terms.InterestRate.Uint64())
	assert.Equal(t, uint64(12), f.l.Ledger.PaymentsRemaining)
	assert.Equal(t, common.Hash{}, f.l.Commitment)
}

func TestRefinance_IncreasePrincipal(t *testing.T) {
	f := newFixture(t, false)
	f.activate()

	changes := []loan.Change{{Field: loan.FieldIncreasePrincipal, Value: *u(100_000)}}
	_, err := f.m.ProposeNewTerms(f.l, borrower, changes)
	require.NoError(t, err)

	assert.ErrorIs(t, f.m.AcceptNewTerms(f.ctx, f.l, lender, changes), loan.ErrInsufficientPayment)

	f.mint(fundsAsset, 100_000)
	require.NoError(t, f.m.AcceptNewTerms(f.ctx, f.l, lender, changes))
	assert.Equal(t, uint64(1_100_000), f.l.Ledger.Principal.Uint64())
	assert.Equal(t, uint64(100_000), f.l.Ledger.Drawable.Uint64())
	assert.Equal(t, uint64(1_100_000), f.l.Request.PrincipalRequested.Uint64())
	f.assertFundsCovered()
}

func TestRefinance_RejectsUnderCollateralizedTerms(t *testing.T) {
	f := newFixture(t, false)
	f.activate()

	changes := []loan.Change{{Field: loan.FieldCollateralRequired, Value: *u(600_000)}}
	_, err := f.m.ProposeNewTerms(f.l, borrower, changes)
	require.NoError(t, err)
	before := *f.l
	assert.ErrorIs(t, f.m.AcceptNewTerms(f.ctx, f.l, lender, changes), loan.ErrUnderCollateralized)
	assert.Equal(t, before, *f.l)
}

func TestUpgrade(t *testing.T) {
	f := newFixture(t, false)
	f.activate()
	assert.Equal(t, uint64(1), f.l.Version)

	assert.ErrorIs(t, f.m.Upgrade(f.l, lender, 2), loan.ErrNotBorrower)
	assert.ErrorIs(t, f.m.Upgrade(f.l, borrower, 9), loan.ErrUnknownVersion)
	require.NoError(t, f.m.Upgrade(f.l, borrower, 2))
	assert.Equal(t, uint64(2), f.l.Version)
	assert.ErrorIs(t, f.m.Upgrade(f.l, borrower, 1), loan.ErrNoMigration)

	// V2 charges a whole day for a payment one second late.
	f.now = time.Unix(int64(f.l.Ledger.NextPaymentDueDate)+1, 0)
	q, err := f.m.Quote(f.l, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000+328), q.Interest.Uint64())
}

func TestRegistry_UpgradeRunsMigrationOnCopy(t *testing.T) {
	r := loan.NewRegistry()
	r.Register(stubStrategy{version: 3})
	boom := errors.New("migration failed")
	r.RegisterMigration(1, 3, func(l *loan.Loan) error {
		l.State = loan.StateDefaulted
		return boom
	})

	f := newFixture(t, false)
	f.activate()
	before := *f.l
	assert.ErrorIs(t, r.Upgrade(f.l, 3), boom)
	assert.Equal(t, before, *f.l)

	require.ErrorIs(t, r.SetDefaultVersion(7), loan.ErrUnknownVersion)
	require.NoError(t, r.SetDefaultVersion(3))
	assert.Equal(t, uint64(3), r.DefaultVersion())
}

type stubStrategy struct{ version uint64 }

func (s stubStrategy) Version() uint64 { return s.version }
func (s stubStrategy) Settle(*loan.Loan, uint64, uint64) (loan.Settlement, error) {
	return loan.Settlement{}, nil
}

func TestRepossess_GraceBeyondClockRangeNeverDefaults(t *testing.T) {
	f := newFixture(t, false)
	f.activate()
	// Rows written before durations were bounded may still carry huge values.
	f.l.Terms.GracePeriod = ^uint64(0)

	for _, at := range []uint64{f.l.Ledger.NextPaymentDueDate, f.l.Ledger.NextPaymentDueDate + 365*day} {
		f.now = time.Unix(int64(at), 0)
		_, _, err := f.m.Repossess(f.ctx, f.l, lender, lender, lender)
		assert.ErrorIs(t, err, loan.ErrNotInDefault)
	}
	assert.Equal(t, loan.StateActive, f.l.State)
	assert.Equal(t, uint64(300_000), f.vault.Balance(collateralAsset, loanAddr))
}

func TestQuote_DueDateOverflow(t *testing.T) {
	f := newFixture(t, false)
	f.activate()
	f.l.Ledger.NextPaymentDueDate = ^uint64(0) - f.l.Terms.PaymentInterval/2
	f.now = time.Unix(1_700_000_000, 0)

	_, err := f.m.Quote(f.l, 1)
	assert.ErrorIs(t, err, loan.ErrOverflow)
}

func TestRefinance_RejectsUnboundedDurations(t *testing.T) {
	for _, field := range []loan.Field{loan.FieldGracePeriod, loan.FieldPaymentInterval} {
		t.Run(field.String(), func(t *testing.T) {
			f := newFixture(t, false)
			f.activate()

			changes := []loan.Change{{Field: field, Value: *u(^uint64(0))}}
			_, err := f.m.ProposeNewTerms(f.l, borrower, changes)
			require.NoError(t, err)
			before := *f.l
			assert.ErrorIs(t, f.m.AcceptNewTerms(f.ctx, f.l, lender, changes), loan.ErrInvalidTerms)
			assert.Equal(t, before, *f.l)
		})
	}
}

func TestInterestOnlyLoan_PaysToMaturity(t *testing.T) {
	f := newFixture(t, false)
	l, err := loan.New(loanAddr, borrower,
		[2]common.Address{collateralAsset, fundsAsset},
		[6]*uint256.Int{u(1_000_050), u(10 * day), u(120_000), u(100_000), u(365 * day / 6), u(6)},
		[2]*uint256.Int{u(300_000), u(1_000_050)},
	)
	require.NoError(t, err)
	f.l = l
	f.mint(fundsAsset, 1_000_050)
	require.NoError(t, f.m.Fund(f.ctx, f.l, lender))
	f.mint(collateralAsset, 300_000)
	_, err = f.m.PostCollateral(f.ctx, f.l)
	require.NoError(t, err)
	require.NoError(t, f.m.DrawdownFunds(f.ctx, f.l, borrower, u(1_000_050), borrower))

	for i := 0; i < 5; i++ {
		s := f.payOnTime()
		assert.True(t, s.Principal.IsZero(), "installment %d", i+1)
		assert.Equal(t, uint64(20_001), s.Interest.Uint64(), "installment %d", i+1)
	}
	last := f.payOnTime()
	assert.Equal(t, uint64(1_000_050), last.Principal.Uint64())
	assert.Equal(t, uint64(1_000_050), last.Residue.Uint64())
	assert.Equal(t, loan.StateMatured, f.l.State)
	assert.True(t, f.l.Ledger.Principal.IsZero())
}

// TestRandomOperationSequences drives a loan through interleaved operations
// and checks after every step that the ledger never claims more than the loan
// holds, and that a rejected operation leaves the loan untouched.
func TestRandomOperationSequences(t *testing.T) {
	for _, shared := range []bool{false, true} {
		for seed := uint64(1); seed <= 8; seed++ {
			t.Run(fmt.Sprintf("shared=%v/seed=%d", shared, seed), func(t *testing.T) {
				runSequence(t, shared, seed)
			})
		}
	}
}

func runSequence(t *testing.T, shared bool, seed uint64) {
	f := newFixture(t, shared)
	f.activate()
	r := rand.New(rand.NewPCG(seed, seed*7919))
	amount := func(max uint64) *uint256.Int { return u(r.Uint64N(max + 1)) }

	ops := []struct {
		name string
		run  func() error
	}{
		{"inflow", func() error { f.mint(fundsAsset, r.Uint64N(50_000)); return nil }},
		{"return", func() error { _, err := f.m.ReturnFunds(f.ctx, f.l); return err }},
		{"post", func() error {
			f.mint(f.l.Terms.CollateralAsset, r.Uint64N(100_000))
			_, err := f.m.PostCollateral(f.ctx, f.l)
			return err
		}},
		{"remove", func() error {
			return f.m.RemoveCollateral(f.ctx, f.l, borrower, amount(120_000), borrower)
		}},
		{"drawdown", func() error {
			return f.m.DrawdownFunds(f.ctx, f.l, borrower, amount(200_000), borrower)
		}},
		{"pay", func() error {
			if f.l.State == loan.StateActive {
				f.now = time.Unix(int64(f.l.Ledger.NextPaymentDueDate-r.Uint64N(day)), 0)
				if q, err := f.m.Quote(f.l, 1); err == nil && r.IntN(2) == 0 {
					total, err := q.Total()
					require.NoError(t, err)
					f.mint(fundsAsset, total.Uint64())
				}
			}
			_, err := f.m.MakePayments(f.ctx, f.l, 1)
			return err
		}},
		{"claim", func() error {
			return f.m.ClaimFunds(f.ctx, f.l, lender, amount(f.l.Ledger.Claimable.Uint64()+1_000), lender)
		}},
		{"skim", func() error { _, err := f.m.Skim(f.ctx, f.l, lender, fundsAsset, lender); return err }},
	}

	for step := 0; step < 200; step++ {
		op := ops[r.IntN(len(ops))]
		before := *f.l
		err := op.run()
		if err != nil {
			if !errors.Is(err, loan.ErrArithmetic) && !errors.Is(err, loan.ErrInvariant) && !errors.Is(err, loan.ErrInvalidState) {
				t.Fatalf("step %d %s: unexpected error %v", step, op.name, err)
			}
			assert.Equal(t, before, *f.l, "step %d %s: rejected operation changed the loan", step, op.name)
		}
		f.assertFundsCovered()
		if !shared {
			held := f.vault.Balance(collateralAsset, loanAddr)
			require.LessOrEqual(t, f.l.Ledger.Collateral.Uint64(), held, "step %d %s: collateral exceeds balance held", step, op.name)
		}
	}
}
