package alert

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"StatusBridge/internal/cache"
	"StatusBridge/internal/queue"
	"StatusBridge/pkg/logger"
	"StatusBridge/pkg/metrics"
)

// Notifier 运维告警出口
// 每次通知先过限流器；限流器故障 fail-open，发布失败只记日志，
// 告警链路上的任何问题都不允许影响 webhook 主链路。
type Notifier struct {
	limiter *cache.AlertLimiter
	publish func(queue.AlertMessage) error
	log     *zap.Logger
}

var (
	notifier     *Notifier
	notifierOnce sync.Once
)

func Get() *Notifier {
	notifierOnce.Do(func() {
		notifier = NewNotifier(cache.Limiter(), queue.PublishAlert, logger.Logger)
	})
	return notifier
}

func NewNotifier(limiter *cache.AlertLimiter, publish func(queue.AlertMessage) error, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		limiter: limiter,
		publish: publish,
		log:     log,
	}
}

// Notify 发出一条限流后的告警
// key 用于区分同类别下的不同告警源（如不同的错误文案哈希）。
func (n *Notifier) Notify(ctx context.Context, category cache.AlertCategory, key, message string, details map[string]interface{}) {
	if !n.limiter.ShouldNotify(ctx, category, key) {
		metrics.Add(ctx, metrics.AlertsSuppressed)
		n.log.Debug("Alert suppressed by rate limiter",
			zap.String("category", string(category)),
			zap.String("key", key),
		)
		return
	}

	msg := queue.AlertMessage{
		Category:   string(category),
		Key:        key,
		Message:    message,
		Details:    details,
		OccurredAt: time.Now().Format(time.RFC3339),
	}

	if err := n.publish(msg); err != nil {
		n.log.Error("Failed to publish operator alert",
			zap.String("category", string(category)),
			zap.Error(err),
		)
		return
	}

	n.limiter.RecordSent(ctx, category, key)
	metrics.Add(ctx, metrics.AlertsSent)
}
