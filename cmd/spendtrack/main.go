package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"spendtrack/internal/auth"
	"spendtrack/internal/backend"
	"spendtrack/internal/config"
	apphttp "spendtrack/internal/http"
	applog "spendtrack/internal/log"
	"spendtrack/internal/storage"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}

	factory := backend.NewFactory(logger.Logger)
	result, err := factory.CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", backendCfg.Type)
		os.Exit(1)
	}
	defer func() {
		if result.Cleanup != nil {
			if err := result.Cleanup(); err != nil {
				logger.Error("Backend cleanup error", "error", err)
			}
		}
	}()

	// Accounts always live in local sqlite; the rest and file backends
	// only replace expense persistence.
	users := result.Users
	if users == nil {
		userRepo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, nil)
		if err != nil {
			logger.Error("Failed to open user store", "error", err, "db_path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer userRepo.Close()
		users = userRepo
	}

	authSvc := auth.NewService(users, cfg.JWTSecret, cfg.JWTTTL, cfg.BcryptCost, cfg.GoogleClientID)

	srv := apphttp.NewServer(":"+cfg.Port, result.Repository, authSvc)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting spendtrack server",
		"port", cfg.Port,
		"backend", backendCfg.Type,
		slog.Bool("amqp_enabled", cfg.AMQPURL != ""))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
