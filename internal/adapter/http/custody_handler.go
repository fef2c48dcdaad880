package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"loan-engine/internal/usecase/custody"
)

type CustodyHandler struct{ uc *custody.Usecase }

func NewCustodyHandler(uc *custody.Usecase) *CustodyHandler { return &CustodyHandler{uc: uc} }

type depositReq struct {
	Asset  string `json:"asset"  validate:"required,eth_addr"`
	Holder string `json:"holder" validate:"required,eth_addr"`
	Amount string `json:"amount" validate:"required,uint256"`
}

// Deposit credits an inflow to holder. It stands in for the asset bridge.
func (h *CustodyHandler) Deposit(c echo.Context) error {
	var req depositReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	dto, err := h.uc.Deposit(c.Request().Context(), custody.DepositInput(req))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, dto)
}

type transferReq struct {
	Asset  string `json:"asset"  validate:"required,eth_addr"`
	To     string `json:"to"     validate:"required,eth_addr"`
	Amount string `json:"amount" validate:"required,uint256"`
}

// Transfer sends from the acting address.
func (h *CustodyHandler) Transfer(c echo.Context) error {
	var req transferReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	who, ok, err := actor(c)
	if !ok {
		return err
	}
	dto, err := h.uc.Transfer(c.Request().Context(), custody.TransferInput{Asset: req.Asset, From: who, To: req.To, Amount: req.Amount})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}

type balanceReq struct {
	Asset  string `param:"asset"  validate:"required,eth_addr"`
	Holder string `param:"holder" validate:"required,eth_addr"`
}

func (h *CustodyHandler) Balance(c echo.Context) error {
	var req balanceReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	dto, err := h.uc.Balance(c.Request().Context(), req.Asset, req.Holder)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, dto)
}
