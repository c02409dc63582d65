package cache

import (
	"context"
	"sync"
	"time"

	ri "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"StatusBridge/config"
	"StatusBridge/pkg/logger"
	"StatusBridge/storage/redis"
)

// AlertCategory 告警类别
type AlertCategory string

const (
	CategoryWebhookFailure AlertCategory = "webhook-processing-failure"
	CategoryAccountBanned  AlertCategory = "account-banned"
	CategorySendFailure    AlertCategory = "message-send-failure"
)

// AlertPolicy 每类别的限流策略：窗口内最多通知次数
type AlertPolicy struct {
	Max    int
	Window time.Duration
}

// 计数 key：sbr:alert:{category}:{key}，TTL 即窗口
const alertPrefix = "alert"

// AlertLimiter 告警限流器
// Redis 故障时 fail-open：宁可多发告警，也不能因为缓存故障吞掉真实告警。
type AlertLimiter struct {
	client   *ri.Client
	policies map[AlertCategory]AlertPolicy
	log      *zap.Logger
	keyFn    func(parts ...string) string
}

var (
	alertLimiter *AlertLimiter
	limiterOnce  sync.Once
)

func Limiter() *AlertLimiter {
	limiterOnce.Do(func() {
		alertLimiter = NewAlertLimiter(redis.Client(), PoliciesFromConfig(), logger.Logger)
	})
	return alertLimiter
}

// PoliciesFromConfig 从配置读出类别策略表
// account-banned 的额度故意给得很高：封号告警是最高优先级，不能被实际限掉。
func PoliciesFromConfig() map[AlertCategory]AlertPolicy {
	cfg := config.Cfg
	return map[AlertCategory]AlertPolicy{
		CategoryWebhookFailure: {
			Max:    cfg.AlertWebhookFailureMax,
			Window: time.Duration(cfg.AlertWebhookFailureWindow) * time.Second,
		},
		CategoryAccountBanned: {
			Max:    cfg.AlertAccountBannedMax,
			Window: time.Duration(cfg.AlertAccountBannedWindow) * time.Second,
		},
		CategorySendFailure: {
			Max:    cfg.AlertSendFailureMax,
			Window: time.Duration(cfg.AlertSendFailureWindow) * time.Second,
		},
	}
}

func NewAlertLimiter(client *ri.Client, policies map[AlertCategory]AlertPolicy, log *zap.Logger) *AlertLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &AlertLimiter{
		client:   client,
		policies: policies,
		log:      log,
		keyFn:    redis.Key,
	}
}

// ShouldNotify 判断该 (category, key) 是否还在额度内
func (l *AlertLimiter) ShouldNotify(ctx context.Context, category AlertCategory, key string) bool {
	policy, ok := l.policies[category]
	if !ok {
		// 没有策略的类别不限流
		return true
	}

	count, err := l.client.Get(ctx, l.counterKey(category, key)).Int()
	if err == ri.Nil {
		return true
	}
	if err != nil {
		// fail-open：限流器故障按放行处理
		l.log.Warn("Alert rate limiter store unavailable, failing open",
			zap.String("category", string(category)),
			zap.Error(err),
		)
		return true
	}

	return count < policy.Max
}

// RecordSent 记录一次已发出的通知
// 首次计数时设置窗口 TTL，窗口过期后计数自动消失。
func (l *AlertLimiter) RecordSent(ctx context.Context, category AlertCategory, key string) {
	policy, ok := l.policies[category]
	if !ok {
		return
	}

	fullKey := l.counterKey(category, key)
	count, err := l.client.Incr(ctx, fullKey).Result()
	if err != nil {
		l.log.Warn("Failed to record alert counter",
			zap.String("category", string(category)),
			zap.Error(err),
		)
		return
	}

	if count == 1 {
		if err := l.client.Expire(ctx, fullKey, policy.Window).Err(); err != nil {
			l.log.Warn("Failed to set alert counter TTL",
				zap.String("category", string(category)),
				zap.Error(err),
			)
		}
	}
}

func (l *AlertLimiter) counterKey(category AlertCategory, key string) string {
	return l.keyFn(alertPrefix, string(category), key)
}
