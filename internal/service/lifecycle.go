package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"StatusBridge/internal/model"
	"StatusBridge/internal/repo"
	"StatusBridge/pkg/logger"
	"StatusBridge/pkg/metrics"
	"StatusBridge/storage/database"
)

// StuckFailureReason 兜底清扫写入的失败原因
const StuckFailureReason = "no delivery confirmation received"

// LifecycleService 消息生命周期状态机
// 双策略查找 + 条件更新，保证同一事件重复投递、乱序投递都收敛到同一结果。
type LifecycleService struct {
	messages repo.MessageStore
	orders   repo.OrderStore
	log      *zap.Logger
}

var (
	lifecycleService *LifecycleService
	lifecycleOnce    sync.Once
)

func Lifecycle() *LifecycleService {
	lifecycleOnce.Do(func() {
		lifecycleService = NewLifecycleService(
			repo.NewPostgresMessageStore(database.DB()),
			repo.NewPostgresOrderStore(database.DB()),
			logger.Logger,
		)
	})
	return lifecycleService
}

func NewLifecycleService(messages repo.MessageStore, orders repo.OrderStore, log *zap.Logger) *LifecycleService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LifecycleService{
		messages: messages,
		orders:   orders,
		log:      log,
	}
}

// ParseProviderStatus 把 provider 的状态字符串映射到生命周期状态
// warning 不属于生命周期，返回 ok=false 由调用方跳过。
func ParseProviderStatus(s string) (model.MessageStatus, bool) {
	switch s {
	case "sent":
		return model.MessageStatusSent, true
	case "delivered":
		return model.MessageStatusDelivered, true
	case "read":
		return model.MessageStatusRead, true
	case "failed":
		return model.MessageStatusFailed, true
	default:
		return "", false
	}
}

// ApplyStatus 应用一次状态转移
// 查找顺序：先按 provider ID（已关联的常规路径），再按临时 ID 兜底
// （状态事件先于关联落库到达的竞态：此时 provider 报的 ID 在途中仍是 temp ID）。
// 返回命中的消息 ID 和本次是否真的推进了状态；没有命中返回 0，不算错误。
// 幂等重放、过期转移和并发抢先都算命中但未推进。
func (s *LifecycleService) ApplyStatus(ctx context.Context, providerID, tempIDHint string, newStatus model.MessageStatus, ts time.Time, failureDetail string) (int64, bool, error) {
	msg, err := s.messages.FindByProviderID(ctx, providerID)
	if err != nil {
		return 0, false, err
	}

	if msg == nil && tempIDHint != "" {
		msg, err = s.messages.FindByTempID(ctx, tempIDHint)
		if err != nil {
			return 0, false, err
		}
	}

	if msg == nil {
		s.log.Info("No tracked message for status event",
			zap.String("provider_id", providerID),
			zap.String("temp_id_hint", tempIDHint),
			zap.String("status", string(newStatus)),
		)
		return 0, false, nil
	}

	if msg.Status == newStatus {
		// 同状态重放：幂等无操作，时间戳不会二次写入
		return msg.ID, false, nil
	}

	if !model.CanTransition(msg.Status, newStatus) {
		metrics.Add(ctx, metrics.TransitionsRejected)
		s.log.Info("Status transition rejected as stale",
			zap.Int64("message_id", msg.ID),
			zap.String("current", string(msg.Status)),
			zap.String("incoming", string(newStatus)),
		)
		return msg.ID, false, nil
	}

	updates := s.buildUpdates(msg, newStatus, ts, failureDetail)

	// 只允许从 rank 更低的状态推进，条件更新兜住并发的重复投递
	applied, err := s.messages.TransitionStatus(ctx, msg.ID, priorStatuses(newStatus), updates)
	if err != nil {
		return msg.ID, false, err
	}

	if !applied {
		// 并发投递已经推进过了，按无操作收敛
		s.log.Debug("Status transition already applied concurrently",
			zap.Int64("message_id", msg.ID),
			zap.String("status", string(newStatus)),
		)
		return msg.ID, false, nil
	}

	metrics.Add(ctx, metrics.TransitionsApplied)
	s.log.Info("Status transition applied",
		zap.Int64("message_id", msg.ID),
		zap.String("from", string(msg.Status)),
		zap.String("to", string(newStatus)),
	)

	s.propagateToOrder(ctx, msg, newStatus, ts, failureDetail)

	return msg.ID, true, nil
}

// buildUpdates 构造转移写入的字段，时间戳只在首次到达该状态时写
func (s *LifecycleService) buildUpdates(msg *model.TrackedMessage, newStatus model.MessageStatus, ts time.Time, failureDetail string) map[string]interface{} {
	updates := map[string]interface{}{
		"status":     newStatus,
		"updated_at": time.Now(),
	}

	switch newStatus {
	case model.MessageStatusDelivered:
		if msg.DeliveredAt == nil {
			updates["delivered_at"] = ts
		}
	case model.MessageStatusRead:
		if msg.ReadAt == nil {
			updates["read_at"] = ts
		}
		// read 隐含 delivered：乱序时补上送达时间
		if msg.DeliveredAt == nil {
			updates["delivered_at"] = ts
		}
	case model.MessageStatusFailed:
		if msg.FailedAt == nil {
			updates["failed_at"] = ts
		}
		if msg.FailureReason == nil {
			reason := failureDetail
			if reason == "" {
				reason = "provider reported failure"
			}
			updates["failure_reason"] = reason
		}
	}

	return updates
}

// priorStatuses 返回 rank 低于 target 的所有状态，作为条件更新的谓词
func priorStatuses(target model.MessageStatus) []model.MessageStatus {
	all := []model.MessageStatus{
		model.MessageStatusPending,
		model.MessageStatusQueued,
		model.MessageStatusSent,
		model.MessageStatusDelivered,
		model.MessageStatusRead,
	}

	targetRank := model.StatusRank(target)
	var prior []model.MessageStatus
	for _, st := range all {
		if model.CanTransition(st, target) && model.StatusRank(st) < targetRank {
			prior = append(prior, st)
		}
	}
	return prior
}

// propagateToOrder 把送达信息反规范化到订单行
// best-effort：失败只记日志，绝不影响 webhook 响应和消息状态本身
func (s *LifecycleService) propagateToOrder(ctx context.Context, msg *model.TrackedMessage, newStatus model.MessageStatus, ts time.Time, failureDetail string) {
	if msg.OrderID == nil {
		return
	}

	var updates map[string]interface{}
	switch newStatus {
	case model.MessageStatusDelivered:
		updates = map[string]interface{}{"whatsapp_delivered_at": ts}
	case model.MessageStatusRead:
		updates = map[string]interface{}{"whatsapp_read_at": ts}
	case model.MessageStatusFailed:
		reason := failureDetail
		if reason == "" {
			reason = "provider reported failure"
		}
		updates = map[string]interface{}{"whatsapp_failure_reason": reason}
	default:
		return
	}

	if err := s.orders.Propagate(ctx, *msg.OrderID, updates); err != nil {
		s.log.Warn("Downstream order propagation failed",
			zap.Int64("message_id", msg.ID),
			zap.Int64("order_id", *msg.OrderID),
			zap.Error(err),
		)
	}
}

// FailStuck 把一条超龄未确认的消息置为 failed，清扫任务使用
func (s *LifecycleService) FailStuck(ctx context.Context, msg *model.TrackedMessage, now time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     model.MessageStatusFailed,
		"updated_at": now,
	}
	if msg.FailedAt == nil {
		updates["failed_at"] = now
	}
	if msg.FailureReason == nil {
		updates["failure_reason"] = StuckFailureReason
	}

	applied, err := s.messages.TransitionStatus(ctx, msg.ID, []model.MessageStatus{
		model.MessageStatusPending,
		model.MessageStatusQueued,
		model.MessageStatusSent,
	}, updates)
	if err != nil {
		return false, err
	}

	if applied {
		metrics.Add(ctx, metrics.MessagesSwept)
		s.propagateToOrder(ctx, msg, model.MessageStatusFailed, now, StuckFailureReason)
	}
	return applied, nil
}
