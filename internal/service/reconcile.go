package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"StatusBridge/config"
	"StatusBridge/internal/model"
	"StatusBridge/internal/repo"
	"StatusBridge/internal/webhook"
	"StatusBridge/pkg/logger"
	"StatusBridge/storage/database"
)

// ReconcileReport 对账任务的汇总计数
type ReconcileReport struct {
	DryRun             bool `json:"dry_run"`
	Days               int  `json:"days"`
	EventsScanned      int  `json:"events_scanned"`
	MessagesCorrelated int  `json:"messages_correlated"`
	MessagesUpdated    int  `json:"messages_updated"`
	MessagesSwept      int  `json:"messages_swept"`
	Errors             int  `json:"errors"`
}

// ReconcileService 离线对账：回放修复 + 卡死消息清扫
// 两个任务都幂等可重跑，逐条提交，随时可以取消而不留下半成品。
type ReconcileService struct {
	events      *EventService
	correlation *CorrelationService
	lifecycle   *LifecycleService
	messages    repo.MessageStore
	threshold   time.Duration
	log         *zap.Logger

	runMu   sync.Mutex
	running bool
}

var (
	reconcileService *ReconcileService
	reconcileOnce    sync.Once
)

func Reconcile() *ReconcileService {
	reconcileOnce.Do(func() {
		reconcileService = NewReconcileService(
			Events(),
			Correlation(),
			Lifecycle(),
			repo.NewPostgresMessageStore(database.DB()),
			config.Cfg.StuckMessageThreshold(),
			logger.Logger,
		)
	})
	return reconcileService
}

func NewReconcileService(events *EventService, correlation *CorrelationService, lifecycle *LifecycleService, messages repo.MessageStore, threshold time.Duration, log *zap.Logger) *ReconcileService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconcileService{
		events:      events,
		correlation: correlation,
		lifecycle:   lifecycle,
		messages:    messages,
		threshold:   threshold,
		log:         log,
	}
}

// Run 依次执行回放修复和卡死清扫，返回合并的报告
// 同一时刻只允许一个对账实例在跑，重入直接返回空报告。
func (s *ReconcileService) Run(ctx context.Context, days int, dryRun bool) (*ReconcileReport, error) {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		s.log.Info("Reconciliation already running, skipping")
		return &ReconcileReport{DryRun: dryRun, Days: days}, nil
	}
	s.running = true
	s.runMu.Unlock()

	defer func() {
		s.runMu.Lock()
		s.running = false
		s.runMu.Unlock()
	}()

	if days <= 0 {
		days = config.Cfg.ReconcileReplayDays
	}

	report := &ReconcileReport{DryRun: dryRun, Days: days}

	start := time.Now()
	s.log.Info("Starting reconciliation",
		zap.Int("days", days),
		zap.Bool("dry_run", dryRun),
	)

	if err := s.replayRepair(ctx, days, dryRun, report); err != nil {
		// ctx 取消时带着已完成的部分计数返回
		s.log.Warn("Replay repair interrupted", zap.Error(err))
		return report, err
	}

	if err := s.sweepStuck(ctx, dryRun, report); err != nil {
		s.log.Warn("Stuck sweep interrupted", zap.Error(err))
		return report, err
	}

	s.log.Info("Reconciliation finished",
		zap.Duration("took", time.Since(start)),
		zap.Int("events_scanned", report.EventsScanned),
		zap.Int("messages_correlated", report.MessagesCorrelated),
		zap.Int("messages_updated", report.MessagesUpdated),
		zap.Int("messages_swept", report.MessagesSwept),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

// replayRepair 按时间升序重放历史状态事件
// 已关联的消息会被 provider_id IS NULL 谓词自然跳过，重复跑无副作用。
func (s *ReconcileService) replayRepair(ctx context.Context, days int, dryRun bool, report *ReconcileReport) error {
	now := time.Now()
	from := now.AddDate(0, 0, -days)

	scanned, err := s.events.Replay(ctx, model.EventKindStatusUpdate, from, now, func(ev *model.RawWebhookEvent) error {
		if err := s.replayOne(ctx, ev, dryRun, report); err != nil {
			report.Errors++
			return err
		}
		return nil
	})

	report.EventsScanned += scanned
	return err
}

// replayOne 重放单条事件：重建信封，逐条走关联 + 状态机
func (s *ReconcileService) replayOne(ctx context.Context, ev *model.RawWebhookEvent, dryRun bool, report *ReconcileReport) error {
	raw, err := json.Marshal(map[string]interface{}(ev.Payload))
	if err != nil {
		return err
	}

	env, err := webhook.ParseEnvelope(raw)
	if err != nil {
		return err
	}

	for _, status := range env.AllStatuses() {
		if err := ctx.Err(); err != nil {
			return err
		}

		eventTime := status.Time()
		if eventTime.IsZero() {
			eventTime = ev.ReceivedAt
		}

		result, err := s.correlation.Correlate(ctx, status.ID, eventTime, status.BizOpaqueCallbackData, dryRun)
		if err != nil {
			return err
		}

		if result.Outcome == OutcomeMatched {
			report.MessagesCorrelated++
		}

		if dryRun {
			continue
		}

		newStatus, ok := ParseProviderStatus(status.Status)
		if !ok {
			continue
		}

		// 命中但没推进（重放幂等、过期转移）不计入 updated
		_, applied, err := s.lifecycle.ApplyStatus(ctx, status.ID, status.ID, newStatus, eventTime, status.FailureDetail())
		if err != nil {
			return err
		}
		if applied {
			report.MessagesUpdated++
		}
	}

	return nil
}

const sweepBatchSize = 200

// sweepStuck 把超过阈值仍无 provider 确认的消息统一置为 failed
// 保证每条消息最终都会到达终态，"永远 pending" 的集合是有界的。
func (s *ReconcileService) sweepStuck(ctx context.Context, dryRun bool, report *ReconcileReport) error {
	now := time.Now()
	cutoff := now.Add(-s.threshold)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := s.messages.FindStuck(ctx, cutoff, sweepBatchSize)
		if err != nil {
			report.Errors++
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		for _, msg := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}

			if dryRun {
				report.MessagesSwept++
				continue
			}

			applied, err := s.lifecycle.FailStuck(ctx, msg, now)
			if err != nil {
				report.Errors++
				s.log.Warn("Failed to sweep stuck message",
					zap.Int64("message_id", msg.ID),
					zap.Error(err),
				)
				continue
			}
			if applied {
				report.MessagesSwept++
				s.log.Info("Stuck message swept to failed",
					zap.Int64("message_id", msg.ID),
					zap.String("temp_id", msg.TempID),
					zap.Time("created_at", msg.CreatedAt),
				)
			}
		}

		if dryRun {
			// 试跑不改状态，同一批会永远命中，统计一轮就够了
			return nil
		}
		if len(batch) < sweepBatchSize {
			return nil
		}
	}
}
