package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	httpadp "loan-engine/internal/adapter/http"
	idemp "loan-engine/internal/adapter/middleware"
	"loan-engine/internal/adapter/repository/mysql"
	"loan-engine/internal/config"
	"loan-engine/internal/domain/loan"
	"loan-engine/internal/infrastructure/cache"
	"loan-engine/internal/infrastructure/db"
	"loan-engine/internal/usecase/custody"
	loanuc "loan-engine/internal/usecase/loan"
)

func main() {
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "err", err)
		os.Exit(1)
	}

	gdb, err := db.OpenGorm(cfg.MySQLDSN())
	if err != nil {
		log.Error("open mysql", "err", err)
		os.Exit(1)
	}
	if cfg.AutoMigrate {
		if err := mysql.Migrate(gdb); err != nil {
			log.Error("migrate", "err", err)
			os.Exit(1)
		}
	}
	rdb, err := cache.OpenRedis(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		log.Error("open redis", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	registry := loan.NewRegistry()
	if err := registry.SetDefaultVersion(cfg.LoanVersion); err != nil {
		log.Error("loan version", "version", cfg.LoanVersion, "err", err)
		os.Exit(1)
	}

	tx := mysql.NewGormUoW(gdb)
	loans := loanuc.NewUsecase(tx, registry, loanuc.WithLogger(log))
	vault := custody.NewUsecase(tx, log)

	e := echo.New()
	e.HideBanner = true
	e.Validator = httpadp.NewValidator()
	e.Use(middleware.Logger(), middleware.Recover())

	httpadp.Register(e, httpadp.NewHandler(registry.DefaultVersion()), httpadp.NewLoanHandler(loans), httpadp.NewCustodyHandler(vault),
		idemp.IdempotencyMiddleware(rdb, time.Duration(cfg.IdempTTLSecs)*time.Second))

	addr := ":" + cfg.AppPort
	log.Info("listening", "addr", addr, "loan_version", cfg.LoanVersion)
	if err := e.Start(addr); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
