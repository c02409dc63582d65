package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"go.uber.org/zap"

	"StatusBridge/config"
	"StatusBridge/internal/alert"
	"StatusBridge/internal/cache"
	"StatusBridge/internal/model"
	"StatusBridge/internal/queue"
	"StatusBridge/internal/service"
	"StatusBridge/internal/webhook"
	pkgerrors "StatusBridge/pkg/errors"
	"StatusBridge/pkg/logger"
	"StatusBridge/pkg/response"
	"StatusBridge/utils"
)

// 同一条 (wamid, status) 的重复投递在这个窗口内直接跳过处理
// 只是省一次数据库往返，幂等性由条件更新兜底，Redis 不可用时照常处理。
const dedupeTTL = 24 * time.Hour

// VerifyWebhook 订阅握手
// GET /v1/webhooks/whatsapp
func VerifyWebhook(ctx context.Context, c *app.RequestContext) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	echo, err := webhook.VerifyChallenge(mode, token, challenge, config.Cfg.WebhookVerifyToken)
	if err != nil {
		logger.Logger.Warn("Webhook challenge rejected",
			zap.String("mode", mode),
			zap.String("client_ip", c.ClientIP()),
		)
		response.Error(ctx, c, err)
		return
	}

	// provider 要求原样回显 challenge 明文，不能套 JSON 信封
	c.String(200, echo)
}

// ReceiveWebhook 接收一次事件投递
// POST /v1/webhooks/whatsapp
//
// 处理顺序是固定的：验签 -> 原始事件落库 -> 分类路由 -> 转发。
// 落库成功后无论业务处理结果如何都回 200，否则 provider 的重投只会制造重复；
// 只有落库失败才回 5xx，让 provider 把这次投递再送一遍。
func ReceiveWebhook(ctx context.Context, c *app.RequestContext) {
	rawBody := c.Request.Body()

	valid, err := webhook.VerifySignature(rawBody, string(c.GetHeader(webhook.SignatureHeader)), config.Cfg.WebhookSigningSecret)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	if !valid {
		if config.Cfg.StrictSignature() {
			logger.Logger.Warn("Webhook signature rejected",
				zap.String("client_ip", c.ClientIP()),
			)
			response.Error(ctx, c, pkgerrors.SignatureInvalid)
			return
		}
		// permissive：记下来放行，迁移期用
		logger.Logger.Warn("Webhook signature invalid, accepted in permissive mode",
			zap.String("client_ip", c.ClientIP()),
		)
	}

	env, parseErr := webhook.ParseEnvelope(rawBody)
	if parseErr != nil {
		// body 不是合法 JSON 也要把原文落库再回 200，留给对账排查
		logger.Logger.Warn("Webhook payload is not valid JSON", zap.Error(parseErr))
	}

	var payload model.JSONB
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		payload = model.JSONB{"raw": string(rawBody)}
	}

	kind := webhook.Classify(env)

	eventService := service.Events()
	ev, err := eventService.Append(ctx, kind, payload, time.Now())
	if err != nil {
		alert.Get().Notify(ctx, cache.CategoryWebhookFailure, "event-persist",
			"failed to persist raw webhook event", map[string]interface{}{
				"error": err.Error(),
			})
		response.Error(ctx, c, err)
		return
	}

	processed, failures := dispatchEvent(ctx, env, kind)

	outcome := model.ProcessingStatusProcessed
	detail := ""
	if failures > 0 {
		outcome = model.ProcessingStatusFailed
		detail = "some status entries failed to process"
		alert.Get().Notify(ctx, cache.CategoryWebhookFailure, "status-dispatch",
			"webhook status processing encountered errors", map[string]interface{}{
				"event_id": ev.EventID,
				"failures": failures,
			})
	}
	eventService.MarkProcessed(ctx, ev.EventID, outcome, detail)

	// 下游转发尽力而为，失败不影响 ack，对账时按 forwarded_downstream 补投
	if err := queue.PublishRawEvent(ev); err != nil {
		logger.Logger.Warn("Failed to forward raw event downstream",
			zap.Int64("event_id", ev.EventID),
			zap.Error(err),
		)
	} else {
		eventService.MarkForwarded(ctx, ev.EventID)
	}

	response.Success(ctx, c, map[string]interface{}{
		"event_id":  ev.EventID,
		"kind":      string(kind),
		"processed": processed,
	})
}

// dispatchEvent 按事件类别路由，返回处理条数和失败条数
func dispatchEvent(ctx context.Context, env *webhook.Envelope, kind model.EventKind) (int, int) {
	if env == nil {
		return 0, 0
	}

	switch kind {
	case model.EventKindStatusUpdate:
		return processStatuses(ctx, env.AllStatuses())
	case model.EventKindAccountUpdate:
		processAccountUpdate(ctx, env)
		return 1, 0
	default:
		// inbound-message / template-update / unknown：只落库，不路由
		return 0, 0
	}
}

// processStatuses 逐条处理状态事件，单条失败不拖垮整次投递
func processStatuses(ctx context.Context, statuses []webhook.Status) (int, int) {
	var processed, failures int

	for _, st := range statuses {
		if err := processOneStatus(ctx, st); err != nil {
			failures++
			logger.Logger.Error("Failed to process status event",
				zap.String("provider_id", st.ID),
				zap.String("status", st.Status),
				zap.Error(err),
			)
			continue
		}
		processed++
	}

	return processed, failures
}

func processOneStatus(ctx context.Context, st webhook.Status) error {
	newStatus, ok := service.ParseProviderStatus(st.Status)
	if !ok {
		// warning 等非生命周期状态：已落库，不做转移
		logger.Logger.Info("Ignoring non-lifecycle provider status",
			zap.String("provider_id", st.ID),
			zap.String("status", st.Status),
		)
		return nil
	}

	// 短时重投快速跳过
	dedupeKey := st.ID + ":" + st.Status
	if claimed, err := cache.TryClaimDelivery(ctx, dedupeKey, dedupeTTL); err == nil && !claimed {
		logger.Logger.Debug("Duplicate status delivery skipped",
			zap.String("provider_id", st.ID),
			zap.String("status", st.Status),
		)
		return nil
	}

	ts := st.Time()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	result, err := service.Correlation().Correlate(ctx, st.ID, ts, st.BizOpaqueCallbackData, false)
	if err != nil {
		// 处理失败要释放认领，否则重投会被去重短路掉
		releaseClaim(ctx, dedupeKey)
		return err
	}

	// 关联失败不拦状态应用：provider 报的 ID 可能仍是在途的 temp ID，
	// 默认拿它做兜底查找；关联命中时换成已绑定消息的 temp ID
	tempIDHint := st.ID
	if result.Outcome == service.OutcomeMatched || result.Outcome == service.OutcomeAlreadyMatched {
		tempIDHint = result.TempID
	}

	failureDetail := ""
	if newStatus == model.MessageStatusFailed {
		failureDetail = st.FailureDetail()
		alert.Get().Notify(ctx, cache.CategorySendFailure, utils.HashPhone(st.RecipientID),
			"message delivery failed", map[string]interface{}{
				"provider_id": st.ID,
				"detail":      failureDetail,
			})
	}

	if _, _, err := service.Lifecycle().ApplyStatus(ctx, st.ID, tempIDHint, newStatus, ts, failureDetail); err != nil {
		releaseClaim(ctx, dedupeKey)
		return err
	}
	return nil
}

func releaseClaim(ctx context.Context, key string) {
	if err := cache.ReleaseDelivery(ctx, key); err != nil {
		logger.Logger.Debug("Failed to release dedupe claim", zap.Error(err))
	}
}

// processAccountUpdate 账号事件：封禁时发运维告警
func processAccountUpdate(ctx context.Context, env *webhook.Envelope) {
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			if v.BanInfo == nil && v.Event == "" {
				continue
			}

			details := map[string]interface{}{
				"waba_id": entry.ID,
				"event":   v.Event,
			}
			if v.BanInfo != nil {
				details["ban_state"] = v.BanInfo.WabaBanState
				details["ban_date"] = v.BanInfo.WabaBanDate
			}

			if v.BanInfo != nil || v.Event == "DISABLED_UPDATE" {
				logger.Logger.Error("WhatsApp business account ban event received",
					zap.String("waba_id", entry.ID),
					zap.String("event", v.Event),
				)
				alert.Get().Notify(ctx, cache.CategoryAccountBanned, entry.ID,
					"whatsapp business account banned or disabled", details)
			}
		}
	}
}
