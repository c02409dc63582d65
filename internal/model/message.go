package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageStatus 消息生命周期状态枚举
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"   // 已创建，未进队
	MessageStatusQueued    MessageStatus = "queued"    // 已进发送队列
	MessageStatusSent      MessageStatus = "sent"      // 中转商确认已发送
	MessageStatusDelivered MessageStatus = "delivered" // 送达终端
	MessageStatusRead      MessageStatus = "read"      // 已读，终态
	MessageStatusFailed    MessageStatus = "failed"    // 失败，终态
)

// statusRank 定义生命周期的前进顺序，状态只能沿 rank 上升
// pending -> queued -> sent -> {delivered -> read | failed}
var statusRank = map[MessageStatus]int{
	MessageStatusPending:   0,
	MessageStatusQueued:    1,
	MessageStatusSent:      2,
	MessageStatusDelivered: 3,
	MessageStatusRead:      4,
	MessageStatusFailed:    5,
}

// ValidStatus 判断字符串是否为合法的生命周期状态
func ValidStatus(s string) bool {
	_, ok := statusRank[MessageStatus(s)]
	return ok
}

// StatusRank 返回状态在生命周期中的序号，未知状态返回 -1
func StatusRank(s MessageStatus) int {
	rank, ok := statusRank[s]
	if !ok {
		return -1
	}
	return rank
}

// CanTransition 判断 from -> to 是否是合法的前进转移
// 相同状态不算转移（幂等重放在上层处理），failed 与 delivered/read 互斥
func CanTransition(from, to MessageStatus) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}

	if toRank <= fromRank {
		return false
	}

	// 终态之间不互转：read 之后不能 failed，failed 之后不能 delivered/read
	if from == MessageStatusFailed {
		return false
	}
	if from == MessageStatusRead {
		return false
	}
	if to == MessageStatusFailed && from == MessageStatusDelivered {
		// 已送达的消息不再标记失败
		return false
	}

	return true
}

// IsTerminal 判断状态是否为终态
func IsTerminal(s MessageStatus) bool {
	return s == MessageStatusRead || s == MessageStatusFailed
}

// TempIDPrefix 临时消息 ID 前缀，发送侧在拿到 provider ID 之前使用
const TempIDPrefix = "temp_"

// NewTempID 生成带前缀的临时消息 ID
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID 判断一个消息 ID 是否仍是临时 ID
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// TrackedMessage 出站消息的生命周期记录
// 发送链路创建该行并赋 temp_id，此后只有生命周期追踪器可以改写它。
// provider_id 一旦写入就不再覆盖，时间戳字段各自最多写一次。
type TrackedMessage struct {
	BaseModel
	TempID        string        `gorm:"type:varchar(64);uniqueIndex;not null" json:"temp_id"`
	ProviderID    *string       `gorm:"type:varchar(128);uniqueIndex" json:"provider_id,omitempty"`
	Phone         string        `gorm:"type:varchar(32);not null;index:idx_tracked_messages_phone" json:"phone"`
	Status        MessageStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_tracked_messages_status" json:"status"`
	DeliveredAt   *time.Time    `gorm:"type:timestamptz" json:"delivered_at,omitempty"`
	ReadAt        *time.Time    `gorm:"type:timestamptz" json:"read_at,omitempty"`
	FailedAt      *time.Time    `gorm:"type:timestamptz" json:"failed_at,omitempty"`
	FailureReason *string       `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	OrderID       *int64        `gorm:"index" json:"order_id,omitempty"`
}

// TableName 指定表名
func (TrackedMessage) TableName() string {
	return "tracked_messages"
}

// Matched 判断消息是否已绑定 provider ID
func (m *TrackedMessage) Matched() bool {
	return m.ProviderID != nil && *m.ProviderID != ""
}
