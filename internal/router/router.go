package router

import (
	"github.com/cloudwego/hertz/pkg/app/server"

	"StatusBridge/internal/handler"
	"StatusBridge/internal/middleware"
)

func Register(h *server.Hertz) {

	h.Use(middleware.RecoverMiddleware())
	h.Use(middleware.CORSMiddleware())
	h.Use(middleware.OpenTelemetryMiddleware())

	v1 := h.Group("/v1")

	// webhook 入口：provider 的鉴权走 verify token + 签名，不走中间件
	webhooks := v1.Group("/webhooks")
	{
		webhooks.GET("/whatsapp", handler.VerifyWebhook)
		webhooks.POST("/whatsapp", handler.ReceiveWebhook)
	}

	// 运维接口：部署时由网关/内网隔离做访问控制
	admin := v1.Group("/admin")
	{
		admin.POST("/reconcile", handler.TriggerReconcile)
	}

	v1.GET("/healthz", handler.Healthz)
}
