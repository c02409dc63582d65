package repo

import (
	"context"
	"time"

	"StatusBridge/internal/model"
)

// EventStore 原始 webhook 事件的追加与回放
// payload 入库后只读，只有 processing_status / forwarded_downstream 可更新。
type EventStore interface {
	// Insert 追加一行原始事件
	Insert(ctx context.Context, ev *model.RawWebhookEvent) error

	// UpdateProcessing 幂等更新处理状态，detail 在失败时携带上下文
	UpdateProcessing(ctx context.Context, eventID int64, status model.ProcessingStatus, detail *string) error

	// MarkForwarded 标记事件已转发下游
	MarkForwarded(ctx context.Context, eventID int64) error

	// ListByKind 按类别和时间范围取事件，received_at 升序保证回放确定性
	// afterID 是游标（上一批最后一行的自增 ID），limit 限制批量大小
	ListByKind(ctx context.Context, kind model.EventKind, from, to time.Time, afterID int64, limit int) ([]*model.RawWebhookEvent, error)
}
