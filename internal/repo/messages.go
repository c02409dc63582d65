package repo

import (
	"context"
	"time"

	"StatusBridge/internal/model"
)

// MessageStore 封装 tracked_messages 的查询与条件更新
// 关键点：ClaimProviderID 和 TransitionStatus 都是带谓词的条件更新，
// 并发的 webhook 投递靠它们在存储层收敛，而不是靠互斥锁。
type MessageStore interface {
	// FindByProviderID 按 provider ID 查找，未命中返回 (nil, nil)
	FindByProviderID(ctx context.Context, providerID string) (*model.TrackedMessage, error)

	// FindByTempID 按临时 ID 查找，未命中返回 (nil, nil)
	FindByTempID(ctx context.Context, tempID string) (*model.TrackedMessage, error)

	// FindCandidate 在 [from, to]（含边界）内查找同号码且未绑定 provider ID 的
	// 候选消息，按 created_at 降序取最新一条；无候选返回 (nil, nil)
	FindCandidate(ctx context.Context, phone string, from, to time.Time) (*model.TrackedMessage, error)

	// ClaimProviderID 原子认领：仅当该行 provider_id 仍为空时写入
	// 返回是否认领成功；false 表示已被并发事件抢先
	ClaimProviderID(ctx context.Context, messageID int64, providerID string) (bool, error)

	// TransitionStatus 条件状态更新：仅当当前状态仍在 prior 集合内时应用 updates
	// 返回是否实际写入；false 表示重复投递或已被并发转移超越，按无操作处理
	TransitionStatus(ctx context.Context, messageID int64, prior []model.MessageStatus, updates map[string]interface{}) (bool, error)

	// FindStuck 查找created_at 早于 cutoff、仍未绑定 provider ID
	// 且未到终态的消息，limit 限制批量大小
	FindStuck(ctx context.Context, cutoff time.Time, limit int) ([]*model.TrackedMessage, error)
}

// OrderStore 上层业务单据的反规范化回写
type OrderStore interface {
	// Propagate best-effort 地把送达信息写到订单行
	Propagate(ctx context.Context, orderID int64, updates map[string]interface{}) error
}
