package main

import (
	"log/slog"
	"os"

	"loan-engine/internal/adapter/repository/mysql"
	"loan-engine/internal/config"
	"loan-engine/internal/infrastructure/db"
)

// migrate creates or updates the loans, payments and balances tables.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}
	gdb, err := db.OpenGorm(cfg.MySQLDSN())
	if err != nil {
		slog.Error("open mysql", "err", err)
		os.Exit(1)
	}
	if err := mysql.Migrate(gdb); err != nil {
		slog.Error("migrate", "err", err)
		os.Exit(1)
	}
	slog.Info("schema up to date", "db", cfg.MySQLDB)
}
