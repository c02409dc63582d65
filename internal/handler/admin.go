package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"go.uber.org/zap"

	"StatusBridge/config"
	"StatusBridge/internal/service"
	"StatusBridge/pkg/logger"
	"StatusBridge/pkg/response"
)

// ReconcileRequest 对账触发参数
// days 为 0 时用配置的回放天数，dry_run 只出报告不落库。
type ReconcileRequest struct {
	DryRun bool `json:"dry_run"`
	Days   int  `json:"days"`
}

// TriggerReconcile 手动触发一轮对账
// POST /v1/admin/reconcile
func TriggerReconcile(ctx context.Context, c *app.RequestContext) {
	var req ReconcileRequest
	if err := c.Bind(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	days := req.Days
	if days <= 0 {
		days = config.Cfg.ReconcileReplayDays
	}

	logger.Logger.Info("Manual reconciliation triggered",
		zap.Int("days", days),
		zap.Bool("dry_run", req.DryRun),
		zap.String("client_ip", c.ClientIP()),
	)

	report, err := service.Reconcile().Run(ctx, days, req.DryRun)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, report)
}
