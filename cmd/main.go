/**
 * @description
 * This is the main entry point for the transfer-service. It is responsible for
 * initializing all components of the service: configuration, logging, the Pi
 * Platform API client, the optional Redis trigger lock, the core workflow
 * service, and whichever run mode is configured (deadline monitor, HTTP
 * trigger endpoint, or cron-driven checks). It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log/slog, net/http, os/signal: Standard Go libraries.
 * - github.com/redis/go-redis/v9: Optional distributed trigger lock.
 * - internal/api, internal/app, internal/config, internal/domain: Internal packages.
 * - pkg/piclient: Client for the Pi Platform API.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/piflow/transfer-service/internal/api"
	"github.com/piflow/transfer-service/internal/app"
	"github.com/piflow/transfer-service/internal/config"
	"github.com/piflow/transfer-service/internal/domain"
	"github.com/piflow/transfer-service/pkg/piclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load and validate application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	targetTime, err := cfg.ParsedTargetTime()
	if err != nil {
		logger.Error("invalid target time", "error", err)
		os.Exit(1)
	}

	policy := domain.TransferPolicy{
		Amount:           cfg.TransferAmount,
		Fee:              cfg.TransactionFee,
		AllowedRecipient: cfg.AllowedRecipient,
		TargetTime:       targetTime,
	}

	if cfg.SandboxMode {
		logger.Info("running in sandbox mode")
	}
	logger.Info("transfer-service starting",
		"run_mode", cfg.RunMode,
		"transfer_amount", policy.Amount,
		"target_time", policy.TargetTime,
		"allowed_recipient", policy.AllowedRecipient,
	)

	client := piclient.NewClient(cfg.APIBaseURL, cfg.AccessToken, cfg.SandboxMode)
	service := app.NewService(client, policy, logger)

	// Prefer a distributed trigger lock when Redis is configured; fall back
	// to the in-process lock otherwise.
	var lock app.TriggerLock = app.NewLocalTriggerLock()
	if cfg.RedisURL != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Warn("redis url parse failed; using in-process trigger lock", "error", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				logger.Warn("redis ping failed; using in-process trigger lock", "error", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				logger.Info("redis connected")
				lock = app.NewRedisTriggerLock(redisClient, cfg.RedisLockPrefix, 45*time.Minute)
			}
		}
	}

	switch cfg.RunMode {
	case config.RunModeMonitor:
		runMonitor(service, policy, logger)
	case config.RunModeServe:
		runServer(cfg, policy, lock, logger)
	case config.RunModeCron:
		runCron(service, lock, cfg.CheckSchedule, logger)
	}
}

// runMonitor executes the deadline monitoring loop to completion.
func runMonitor(service *app.Service, policy domain.TransferPolicy, logger *slog.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := app.NewMonitor(service, policy, logger)
	if err := monitor.Run(ctx); err != nil {
		logger.Error("monitoring loop finished without a successful transfer", "error", err)
		os.Exit(1)
	}
	logger.Info("transfer goal reached, exiting")
}

// runServer starts the HTTP trigger endpoint with graceful shutdown.
func runServer(cfg config.Config, policy domain.TransferPolicy, lock app.TriggerLock, logger *slog.Logger) {
	// Each trigger request carries its own access token, so runners are
	// built per request around a client bound to that token.
	newRunner := func(accessToken string) app.CycleRunner {
		client := piclient.NewClient(cfg.APIBaseURL, accessToken, cfg.SandboxMode)
		return app.NewService(client, policy, logger)
	}

	handlers := api.NewTransferHandlers(newRunner, lock, logger)
	router := api.TransferRoutes(handlers)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// runCron starts the cron scheduler and blocks until a termination signal.
// The signal context is handed to the scheduler so an in-flight cycle is
// cancelled rather than left to run out its polling budget.
func runCron(service *app.Service, lock app.TriggerLock, schedule string, logger *slog.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := app.NewScheduler(service, lock, logger, schedule)
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}
	logger.Info("scheduler started")

	<-ctx.Done()

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("scheduler stopped gracefully")
}
