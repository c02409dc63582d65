package cache

import (
	"context"
	"time"

	"StatusBridge/storage/redis"
)

// 用 SetNX 做投递去重的快速短路：provider 的同一条状态事件重投时，
// 第一个到达的投递拿到 key，后来者直接跳过重活。
// 这只是优化，Redis 不可用时并发投递依然靠存储层的条件更新收敛。

const dedupePrefix = "dedupe"

// TryClaimDelivery 尝试认领一次状态事件的处理权
// key 形如 {wamid}:{status}，ttl 覆盖 provider 的重试窗口即可
func TryClaimDelivery(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fullKey := redis.Key(dedupePrefix, key)

	result, err := redis.Client().SetNX(ctx, fullKey, 1, ttl).Result()

	if err != nil {
		return false, err
	}

	return result, nil
}

// ReleaseDelivery 释放认领，处理失败时调用，让重投能重新处理
func ReleaseDelivery(ctx context.Context, key string) error {
	fullKey := redis.Key(dedupePrefix, key)

	return redis.Client().Del(ctx, fullKey).Err()
}
