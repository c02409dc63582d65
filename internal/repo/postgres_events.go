package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"StatusBridge/internal/model"
)

type postgresEventStore struct {
	db *gorm.DB
}

// NewPostgresEventStore 基于 GORM 的 EventStore 实现
func NewPostgresEventStore(db *gorm.DB) EventStore {
	return &postgresEventStore{db: db}
}

func (s *postgresEventStore) Insert(ctx context.Context, ev *model.RawWebhookEvent) error {
	return s.db.WithContext(ctx).Create(ev).Error
}

func (s *postgresEventStore) UpdateProcessing(ctx context.Context, eventID int64, status model.ProcessingStatus, detail *string) error {
	updates := map[string]interface{}{
		"processing_status": status,
		"updated_at":        time.Now(),
	}
	if detail != nil {
		updates["processing_detail"] = *detail
	}
	return s.db.WithContext(ctx).
		Model(&model.RawWebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(updates).Error
}

func (s *postgresEventStore) MarkForwarded(ctx context.Context, eventID int64) error {
	return s.db.WithContext(ctx).
		Model(&model.RawWebhookEvent{}).
		Where("event_id = ?", eventID).
		Update("forwarded_downstream", true).Error
}

func (s *postgresEventStore) ListByKind(ctx context.Context, kind model.EventKind, from, to time.Time, afterID int64, limit int) ([]*model.RawWebhookEvent, error) {
	var events []*model.RawWebhookEvent
	// 追加式表里自增 ID 即到达顺序，用 id 做游标可以和排序保持一致
	err := s.db.WithContext(ctx).
		Where("event_type = ?", kind).
		Where("received_at BETWEEN ? AND ?", from, to).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
