package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Handler serves process-level endpoints.
type Handler struct{ loanVersion uint64 }

// NewHandler reports loanVersion as the version new loans are created on.
func NewHandler(loanVersion uint64) *Handler { return &Handler{loanVersion: loanVersion} }

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":       "ok",
		"time":         time.Now().UTC().Format(time.RFC3339Nano),
		"loan_version": h.loanVersion,
	})
}
