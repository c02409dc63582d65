package schedule

// 对账调度器：周期性跑一轮回放修复 + 卡死消息扫描

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"StatusBridge/config"
	"StatusBridge/internal/service"
	"StatusBridge/pkg/logger"
)

var (
	schedulerOnce sync.Once
	schedulerInst *ReconcileScheduler
)

type ReconcileScheduler struct {
	logger      *zap.Logger
	jobRunning  bool
	jobMu       sync.Mutex
	lastRunTime time.Time
}

func GetScheduler() *ReconcileScheduler {
	schedulerOnce.Do(func() {
		schedulerInst = &ReconcileScheduler{
			logger: logger.Logger,
		}
	})
	return schedulerInst
}

// RunReconciliation 跑一轮对账
// 上一轮还没结束时直接跳过，对账不需要堆积执行。
func (s *ReconcileScheduler) RunReconciliation(ctx context.Context) error {
	s.jobMu.Lock()
	if s.jobRunning {
		s.jobMu.Unlock()
		s.logger.Info("Reconciliation job already running, skipping")
		return nil
	}
	s.jobRunning = true
	s.jobMu.Unlock()

	defer func() {
		s.jobMu.Lock()
		s.jobRunning = false
		s.jobMu.Unlock()
	}()

	startTime := time.Now()
	s.lastRunTime = startTime

	s.logger.Info("Starting scheduled reconciliation",
		zap.Time("start_time", startTime),
		zap.Int("replay_days", config.Cfg.ReconcileReplayDays),
	)

	report, err := service.Reconcile().Run(ctx, config.Cfg.ReconcileReplayDays, false)
	if err != nil {
		s.logger.Error("Scheduled reconciliation failed", zap.Error(err))
		return err
	}

	s.logger.Info("Scheduled reconciliation finished",
		zap.Duration("elapsed", time.Since(startTime)),
		zap.Int("events_scanned", report.EventsScanned),
		zap.Int("messages_correlated", report.MessagesCorrelated),
		zap.Int("messages_updated", report.MessagesUpdated),
		zap.Int("messages_swept", report.MessagesSwept),
	)

	return nil
}
