package http

import "github.com/labstack/echo/v4"

// Register mounts every route. Mutating routes run behind mutating, which
// carries the idempotency middleware in production.
func Register(e *echo.Echo, h *Handler, loans *LoanHandler, vault *CustodyHandler, mutating ...echo.MiddlewareFunc) {
	e.GET("/health", h.Health)

	e.GET("/loans/:loan_id", loans.GetLoan)
	e.GET("/loans/:loan_id/quote", loans.Quote)
	e.GET("/loans/:loan_id/payments", loans.ListPayments)
	e.GET("/borrowers/:address/loans", loans.ListByBorrower)
	e.GET("/custody/balances/:asset/:holder", vault.Balance)

	w := e.Group("", mutating...)
	w.POST("/loans", loans.CreateLoan)
	w.POST("/loans/:loan_id/fund", loans.Fund)
	w.POST("/loans/:loan_id/collateral", loans.PostCollateral)
	w.POST("/loans/:loan_id/collateral/remove", loans.RemoveCollateral)
	w.POST("/loans/:loan_id/drawdown", loans.Drawdown)
	w.POST("/loans/:loan_id/return", loans.ReturnFunds)
	w.POST("/loans/:loan_id/payments", loans.MakePayments)
	w.POST("/loans/:loan_id/claim", loans.ClaimFunds)
	w.POST("/loans/:loan_id/repossess", loans.Repossess)
	w.POST("/loans/:loan_id/skim", loans.Skim)
	w.POST("/loans/:loan_id/terms/propose", loans.ProposeTerms)
	w.POST("/loans/:loan_id/terms/accept", loans.AcceptTerms)
	w.POST("/loans/:loan_id/upgrade", loans.Upgrade)
	w.POST("/custody/deposits", vault.Deposit)
	w.POST("/custody/transfers", vault.Transfer)
}
