package model

import "time"

// Order 上层业务单据，消息送达信息会反规范化写到这里
// 业务规则不在本服务内，只承接生命周期追踪器的 best-effort 回写。
type Order struct {
	BaseModel
	Reference             string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"reference"`
	WhatsappDeliveredAt   *time.Time `gorm:"type:timestamptz" json:"whatsapp_delivered_at,omitempty"`
	WhatsappReadAt        *time.Time `gorm:"type:timestamptz" json:"whatsapp_read_at,omitempty"`
	WhatsappFailureReason *string    `gorm:"type:varchar(255)" json:"whatsapp_failure_reason,omitempty"`
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}
