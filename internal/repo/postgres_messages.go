package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"StatusBridge/internal/model"
)

type postgresMessageStore struct {
	db *gorm.DB
}

// NewPostgresMessageStore 基于 GORM 的 MessageStore 实现
func NewPostgresMessageStore(db *gorm.DB) MessageStore {
	return &postgresMessageStore{db: db}
}

func (s *postgresMessageStore) FindByProviderID(ctx context.Context, providerID string) (*model.TrackedMessage, error) {
	var msg model.TrackedMessage
	err := s.db.WithContext(ctx).
		Where("provider_id = ?", providerID).
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (s *postgresMessageStore) FindByTempID(ctx context.Context, tempID string) (*model.TrackedMessage, error) {
	var msg model.TrackedMessage
	err := s.db.WithContext(ctx).
		Where("temp_id = ?", tempID).
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (s *postgresMessageStore) FindCandidate(ctx context.Context, phone string, from, to time.Time) (*model.TrackedMessage, error) {
	var msg model.TrackedMessage
	// 同号码短时间内可能连发多条，最新一条是最可能的匹配；
	// id DESC 兜底同毫秒的并列，保证选取确定性
	err := s.db.WithContext(ctx).
		Where("phone = ?", phone).
		Where("provider_id IS NULL").
		Where("created_at BETWEEN ? AND ?", from, to).
		Order("created_at DESC, id DESC").
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

func (s *postgresMessageStore) ClaimProviderID(ctx context.Context, messageID int64, providerID string) (bool, error) {
	// 条件更新兜住并发认领：两条并发状态事件只有一条能写成功
	res := s.db.WithContext(ctx).
		Model(&model.TrackedMessage{}).
		Where("id = ? AND provider_id IS NULL", messageID).
		Update("provider_id", providerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *postgresMessageStore) TransitionStatus(ctx context.Context, messageID int64, prior []model.MessageStatus, updates map[string]interface{}) (bool, error) {
	if len(prior) == 0 {
		return false, nil
	}
	res := s.db.WithContext(ctx).
		Model(&model.TrackedMessage{}).
		Where("id = ? AND status IN ?", messageID, prior).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *postgresMessageStore) FindStuck(ctx context.Context, cutoff time.Time, limit int) ([]*model.TrackedMessage, error) {
	var msgs []*model.TrackedMessage
	err := s.db.WithContext(ctx).
		Where("status IN ?", []model.MessageStatus{
			model.MessageStatusPending,
			model.MessageStatusQueued,
			model.MessageStatusSent,
		}).
		Where("provider_id IS NULL").
		Where("created_at < ?", cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

type postgresOrderStore struct {
	db *gorm.DB
}

// NewPostgresOrderStore 基于 GORM 的 OrderStore 实现
func NewPostgresOrderStore(db *gorm.DB) OrderStore {
	return &postgresOrderStore{db: db}
}

func (s *postgresOrderStore) Propagate(ctx context.Context, orderID int64, updates map[string]interface{}) error {
	return s.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}
