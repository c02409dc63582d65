package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"StatusBridge/config"
	"StatusBridge/internal/schedule"
	"StatusBridge/pkg/logger"
	"StatusBridge/pkg/snowflake"
	"StatusBridge/storage"
)

func main() {

	logger.Init()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Logger.Info("Sweeper received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage for sweeper", zap.Error(err))
	}
	defer storage.Close()

	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake for sweeper", zap.Error(err))
	}

	logger.Logger.Info("Sweeper service starting",
		zap.String("service", "statusbridge-sweeper"),
		zap.String("environment", config.Cfg.Environment),
	)

	runReconcileLoop(ctx)

	logger.Logger.Info("Sweeper service shutting down gracefully")
}

// runReconcileLoop 周期性跑对账：回放修复 + 卡死消息清扫
func runReconcileLoop(ctx context.Context) {
	s := schedule.GetScheduler()

	interval := time.Duration(config.Cfg.SweepIntervalMinutes) * time.Minute

	// 在 development 环境下，为了方便本地调试，将对账改为每 1 分钟执行一次
	if config.Cfg.Environment == "development" {
		interval = 1 * time.Minute
		logger.Logger.Info("Reconcile loop running in development mode with 1m interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
			if err := s.RunReconciliation(runCtx); err != nil {
				logger.Logger.Error("Reconcile run failed", zap.Error(err))
			}
			cancel()
		}
	}
}
