package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"loan-engine/internal/usecase/loan"
)

type LoanHandler struct{ uc *loan.Usecase }

func NewLoanHandler(uc *loan.Usecase) *LoanHandler { return &LoanHandler{uc: uc} }

type loanPath struct {
	LoanID string `param:"loan_id" json:"-" validate:"required,hex32"`
}

type createLoanReq struct {
	Borrower           string `json:"borrower"            validate:"required,eth_addr"`
	CollateralAsset    string `json:"collateral_asset"    validate:"required,eth_addr"`
	FundsAsset         string `json:"funds_asset"         validate:"required,eth_addr"`
	EndingPrincipal    string `json:"ending_principal"    validate:"required,uint256"`
	GracePeriod        uint64 `json:"grace_period"`
	InterestRate       string `json:"interest_rate"       validate:"required,uint256"`
	LateFeeRate        string `json:"late_fee_rate"       validate:"required,uint256"`
	PaymentInterval    uint64 `json:"payment_interval"    validate:"gte=1"`
	Payments           uint64 `json:"payments"            validate:"gte=1"`
	CollateralRequired string `json:"collateral_required" validate:"required,uint256"`
	PrincipalRequested string `json:"principal_requested" validate:"required,uint256"`
}

func (h *LoanHandler) CreateLoan(c echo.Context) error {
	var req createLoanReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	dto, err := h.uc.Create(c.Request().Context(), loan.CreateLoanInput(req))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, dto)
}

func (h *LoanHandler) GetLoan(c echo.Context) error {
	var req loanPath
	if ok, err := bind(c, &req); !ok {
		return err
	}
	dto, err := h.uc.Get(c.Request().Context(), req.LoanID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

type borrowerPath struct {
	Address string `param:"address" validate:"required,eth_addr"`
}

func (h *LoanHandler) ListByBorrower(c echo.Context) error {
	var req borrowerPath
	if ok, err := bind(c, &req); !ok {
		return err
	}
	out, err := h.uc.ListByBorrower(c.Request().Context(), req.Address)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

type quoteReq struct {
	LoanID       string `param:"loan_id" json:"-" validate:"required,hex32"`
	Installments uint64 `query:"installments"`
}

func (h *LoanHandler) Quote(c echo.Context) error {
	var req quoteReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	if req.Installments == 0 {
		req.Installments = 1
	}
	dto, err := h.uc.Quote(c.Request().Context(), req.LoanID, req.Installments)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

type fundReq struct {
	LoanID string `param:"loan_id" json:"-" validate:"required,hex32"`
	Pull   bool   `json:"pull"`
}

// Fund binds the acting address as lender.
func (h *LoanHandler) Fund(c echo.Context) error {
	var req fundReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	who, ok, err := actor(c)
	if !ok {
		return err
	}
	dto, err := h.uc.Fund(c.Request().Context(), loan.FundInput{LoanID: req.LoanID, Lender: who, Pull: req.Pull})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

type postCollateralReq struct {
	LoanID string `param:"loan_id" json:"-" validate:"required,hex32"`
	Amount string `json:"amount" validate:"omitempty,uint256"`
}

func (h *LoanHandler) PostCollateral(c echo.Context) error {
	var req postCollateralReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	who, ok, err := actor(c)
	if !ok {
		return err
	}
	dto, err := h.uc.PostCollateral(c.Request().Context(), loan.PostCollateralInput{LoanID: req.LoanID, Caller: who, Amount: req.Amount})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

type withdrawReq struct {
	LoanID      string `param:"loan_id" json:"-" validate:"required,hex32"`
	Amount      string `json:"amount"      validate:"required,uint256"`
	Destination string `json:"destination" validate:"omitempty,eth_addr"`
}

func (h *LoanHandler) withdraw(c echo.Context, fn func(*loan.Usecase, loan.WithdrawInput) (*loan.MovementDTO, error)) error {
	var req withdrawReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	who, ok, err := actor(c)
	if !ok {
		return err
	}
	dto, err := fn(h.uc, loan.WithdrawInput{LoanID: req.LoanID, Caller: who, Amount: req.Amount, Destination: req.Destination})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *LoanHandler) RemoveCollateral(c echo.Context) error {
	return h.withdraw(c, func(uc *loan.Usecase, in loan.WithdrawInput) (*loan.MovementDTO, error) {
		return uc.RemoveCollateral(c.Request().Context(), in)
	})
}

func (h *LoanHandler) Drawdown(c echo.Context) error {
	return h.withdraw(c, func(uc *loan.Usecase, in loan.WithdrawInput) (*loan.MovementDTO, error) {
		return uc.Drawdown(c.Request().Context(), in)
	})
}

func (h *LoanHandler) ClaimFunds(c echo.Context) error {
	return h.withdraw(c, func(uc *loan.Usecase, in loan.WithdrawInput) (*loan.MovementDTO, error) {
		return uc.ClaimFunds(c.Request().Context(), in)
	})
}

func (h *LoanHandler) ReturnFunds(c echo.Context) error {
	var req loanPath
	if ok, err := bind(c, &req); !ok {
		return err
	}
	dto, err := h.uc.ReturnFunds(c.Request().Context(), req.LoanID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

type paymentReq struct {
	LoanID       string `param:"loan_id" json:"-" validate:"required,hex32"`
	Installments uint64 `json:"installments" validate:"gte=1"`
	Pull         bool   `json:"pull"`
}

func (h *LoanHandler) MakePayments(c echo.Context) error {
	var req paymentReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	who, ok, err := actor(c)
	if !ok {
		return err
	}
	dto, err := h.uc.MakePayments(c.Request().Context(), loan.PaymentInput{
		LoanID:       req.LoanID,
		Caller:       who,
		Installments: req.Installments,
		Pull:         req.Pull,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, dto)
}

func (h *LoanHandler) ListPayments(c echo.Context) error {
	var req loanPath
	if ok, err := bind(c, &req); !ok {
		return err
	}
	out, err := h.uc.ListPayments(c.Request().Context(), req.LoanID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

type repossessReq struct {
	LoanID                string `param:"loan_id" json:"-" validate:"required,hex32"`
	CollateralDestination string `json:"collateral_destination" validate:"omitempty,eth_addr"`
	FundsDestination      string `json:"funds_destination"      validate:"omitempty,eth_addr"`
}

func (h *LoanHandler) Repossess(c echo.Context) error {
	var req repossessReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	who, ok, err := actor(c)
	if !ok {
		return err
	}
	dto, err := h.uc.Repossess(c.Request().Context(), loan.RepossessInput{
		LoanID:                req.LoanID,
		Caller:                who,
		CollateralDestination: req.CollateralDestination,
		FundsDestination:      req.FundsDestination,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

type skimReq struct {
	LoanID      string `param:"loan_id" json:"-" validate:"required,hex32"`
	Asset       string `json:"asset"       validate:"required,eth_addr"`
	Destination string `json:"destination" validate:"omitempty,eth_addr"`
}

func (h *LoanHandler) Skim(c echo.Context) error {
	var req skimReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	who, ok, err := actor(c)
	if !ok {
		return err
	}
	dto, err := h.uc.Skim(c.Request().Context(), loan.SkimInput{LoanID: req.LoanID, Caller: who, Asset: req.Asset, Destination: req.Destination})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

type changeReq struct {
	Field string `json:"field" validate:"required,oneof=ending_principal grace_period interest_rate late_fee_rate payment_interval payments_remaining collateral_required increase_principal"`
	Value string `json:"value" validate:"required,uint256"`
}

type termsReq struct {
	LoanID  string      `param:"loan_id" json:"-" validate:"required,hex32"`
	Changes []changeReq `json:"changes" validate:"dive"`
}

func (r termsReq) input(caller string) loan.TermsInput {
	in := loan.TermsInput{LoanID: r.LoanID, Caller: caller, Changes: make([]loan.ChangeInput, 0, len(r.Changes))}
	for _, ch := range r.Changes {
		in.Changes = append(in.Changes, loan.ChangeInput(ch))
	}
	return in
}

// ProposeTerms commits the borrower to a change set. An empty set clears
// the standing proposal.
func (h *LoanHandler) ProposeTerms(c echo.Context) error {
	var req termsReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	who, ok, err := actor(c)
	if !ok {
		return err
	}
	dto, err := h.uc.ProposeTerms(c.Request().Context(), req.input(who))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

func (h *LoanHandler) AcceptTerms(c echo.Context) error {
	var req termsReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	who, ok, err := actor(c)
	if !ok {
		return err
	}
	dto, err := h.uc.AcceptTerms(c.Request().Context(), req.input(who))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

type upgradeReq struct {
	LoanID  string `param:"loan_id" json:"-" validate:"required,hex32"`
	Version uint64 `json:"version" validate:"gte=1"`
}

func (h *LoanHandler) Upgrade(c echo.Context) error {
	var req upgradeReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	who, ok, err := actor(c)
	if !ok {
		return err
	}
	dto, err := h.uc.Upgrade(c.Request().Context(), loan.UpgradeInput{LoanID: req.LoanID, Caller: who, Version: req.Version})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}
