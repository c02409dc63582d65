package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"StatusBridge/internal/model"
	"StatusBridge/internal/repo"
	pkgerrors "StatusBridge/pkg/errors"
	"StatusBridge/pkg/logger"
	"StatusBridge/pkg/metrics"
	"StatusBridge/pkg/snowflake"
	"StatusBridge/storage/database"
)

// EventService 原始事件的落库与回放入口
// 落库先于任何解析：丢失 provider 的原始事件是不可接受的，
// 这里失败是整条链路里唯一允许把请求打回去的内部错误。
type EventService struct {
	store repo.EventStore
	log   *zap.Logger
}

var (
	eventService *EventService
	eventOnce    sync.Once
)

func Events() *EventService {
	eventOnce.Do(func() {
		eventService = NewEventService(
			repo.NewPostgresEventStore(database.DB()),
			logger.Logger,
		)
	})
	return eventService
}

func NewEventService(store repo.EventStore, log *zap.Logger) *EventService {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventService{store: store, log: log}
}

// Append 持久化一条原始事件并返回事件行
func (s *EventService) Append(ctx context.Context, kind model.EventKind, payload model.JSONB, receivedAt time.Time) (*model.RawWebhookEvent, error) {
	eventID, err := snowflake.NextID()
	if err != nil {
		s.log.Error("Failed to generate event ID", zap.Error(err))
		return nil, pkgerrors.EventPersistFailed
	}

	ev := &model.RawWebhookEvent{
		EventID:          eventID,
		EventType:        kind,
		Payload:          payload,
		ReceivedAt:       receivedAt,
		ProcessingStatus: model.ProcessingStatusReceived,
	}

	if err := s.store.Insert(ctx, ev); err != nil {
		s.log.Error("Failed to persist raw webhook event",
			zap.Int64("event_id", eventID),
			zap.String("event_type", string(kind)),
			zap.Error(err),
		)
		return nil, pkgerrors.EventPersistFailed
	}

	metrics.Add(ctx, metrics.EventsReceived)
	return ev, nil
}

// MarkProcessed 幂等更新处理结果
func (s *EventService) MarkProcessed(ctx context.Context, eventID int64, outcome model.ProcessingStatus, detail string) {
	var detailPtr *string
	if detail != "" {
		detailPtr = &detail
	}

	if err := s.store.UpdateProcessing(ctx, eventID, outcome, detailPtr); err != nil {
		// 状态标记失败不影响主链路，对账时会按 received 重放
		s.log.Warn("Failed to mark event processing status",
			zap.Int64("event_id", eventID),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
	}

	if outcome == model.ProcessingStatusFailed {
		metrics.Add(ctx, metrics.EventsFailed)
	}
}

// MarkForwarded 记录事件已转发下游
func (s *EventService) MarkForwarded(ctx context.Context, eventID int64) {
	if err := s.store.MarkForwarded(ctx, eventID); err != nil {
		s.log.Warn("Failed to mark event as forwarded",
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)
	}
}

const replayBatchSize = 200

// Replay 按时间升序遍历指定类别的事件，逐条调用 fn
// fn 返回错误只记录不中断；ctx 取消时在当前条目后停下。
func (s *EventService) Replay(ctx context.Context, kind model.EventKind, from, to time.Time, fn func(*model.RawWebhookEvent) error) (int, error) {
	var (
		cursor  int64
		scanned int
	)

	for {
		if err := ctx.Err(); err != nil {
			return scanned, err
		}

		batch, err := s.store.ListByKind(ctx, kind, from, to, cursor, replayBatchSize)
		if err != nil {
			return scanned, err
		}
		if len(batch) == 0 {
			return scanned, nil
		}

		for _, ev := range batch {
			if err := ctx.Err(); err != nil {
				return scanned, err
			}

			scanned++
			if err := fn(ev); err != nil {
				s.log.Warn("Replay handler failed for event",
					zap.Int64("event_id", ev.EventID),
					zap.Error(err),
				)
			}
			cursor = ev.ID
		}
	}
}
