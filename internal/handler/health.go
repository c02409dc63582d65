package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"StatusBridge/config"
	"StatusBridge/pkg/response"
	"StatusBridge/storage/database"
	"StatusBridge/storage/redis"
)

// Healthz 健康检查
// GET /v1/healthz
// postgres 不可用算不健康（事件没地方落库），redis 只影响限流和去重，降级报告。
func Healthz(ctx context.Context, c *app.RequestContext) {
	checks := map[string]string{
		"postgres": "ok",
		"redis":    "ok",
	}
	healthy := true

	if sqlDB, err := database.DB().DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["postgres"] = "unavailable"
		healthy = false
	}

	if err := redis.Client().Ping(ctx).Err(); err != nil {
		checks["redis"] = "degraded"
	}

	body := map[string]interface{}{
		"status":  "ok",
		"service": config.Cfg.ServiceName,
		"checks":  checks,
	}

	if !healthy {
		body["status"] = "unhealthy"
		c.JSON(503, body)
		return
	}

	response.Success(ctx, c, body)
}
