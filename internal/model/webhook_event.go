package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// EventKind webhook 事件类别枚举，按 change.field 判别
type EventKind string

const (
	EventKindStatusUpdate   EventKind = "status-update"
	EventKindAccountUpdate  EventKind = "account-update"
	EventKindTemplateUpdate EventKind = "template-update"
	EventKindInboundMessage EventKind = "inbound-message"
	EventKindUnknown        EventKind = "unknown"
)

// ProcessingStatus 原始事件的处理状态枚举
type ProcessingStatus string

const (
	ProcessingStatusReceived   ProcessingStatus = "received"
	ProcessingStatusProcessing ProcessingStatus = "processing"
	ProcessingStatusProcessed  ProcessingStatus = "processed"
	ProcessingStatusFailed     ProcessingStatus = "failed"
)

// RawWebhookEvent 每一次通过鉴权的 webhook 投递对应一行，payload 入库后不再修改
// 这是对账兜底的依据：处理失败不影响该行存在。
type RawWebhookEvent struct {
	BaseModel
	EventID             int64            `gorm:"uniqueIndex;not null" json:"event_id"`
	EventType           EventKind        `gorm:"type:varchar(32);not null;index:idx_raw_events_type_received" json:"event_type"`
	Payload             JSONB            `gorm:"type:jsonb;not null" json:"payload"`
	ReceivedAt          time.Time        `gorm:"type:timestamptz;not null;index:idx_raw_events_type_received" json:"received_at"`
	ProcessingStatus    ProcessingStatus `gorm:"type:varchar(16);not null;default:'received'" json:"processing_status"`
	ProcessingDetail    *string          `gorm:"type:text" json:"processing_detail,omitempty"`
	ForwardedDownstream bool             `gorm:"not null;default:false" json:"forwarded_downstream"`
}

// TableName 指定表名
func (RawWebhookEvent) TableName() string {
	return "raw_webhook_events"
}

// JSONB 自定义 JSONB 类型
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("failed to unmarshal JSONB value")
	}
	return json.Unmarshal(bytes, j)
}
