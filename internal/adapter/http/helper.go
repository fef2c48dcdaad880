package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"loan-engine/internal/adapter/middleware"
	domain "loan-engine/internal/domain/loan"
	"loan-engine/internal/domain/payment"
	"loan-engine/internal/usecase/custody"
)

// errorStatus maps a use case error to its HTTP status. Arithmetic is
// checked before transfer so a pull that fails on balance reads as 422.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, payment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTerms), errors.Is(err, custody.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvariant), errors.Is(err, domain.ErrArithmetic):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransfer):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c echo.Context, err error) error {
	code := errorStatus(err)
	if code == http.StatusInternalServerError {
		slog.ErrorContext(c.Request().Context(), "request failed", "path", c.Path(), "err", err)
		return c.JSON(code, ErrorResponse{Error: "internal error"})
	}
	return c.JSON(code, ErrorResponse{Error: err.Error()})
}

// bind decodes and validates the body into req. It writes the error
// response itself and reports whether the handler should continue.
func bind(c echo.Context, req any) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if err := c.Validate(req); err != nil {
		return false, c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation failed",
			Details: ToFieldErrors(err),
		})
	}
	return true, nil
}

func actor(c echo.Context) (string, bool, error) {
	a, err := middleware.Actor(c)
	if err != nil {
		return "", false, c.JSON(http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
	}
	return a.Hex(), true, nil
}
