package queue

import (
	"time"

	"StatusBridge/config"
	"StatusBridge/internal/model"
	"StatusBridge/storage/mq"
)

// PublishRawEvent 把已落库的原始事件转发到下游交换机
func PublishRawEvent(ev *model.RawWebhookEvent) error {
	msg := ForwardedEventMessage{
		EventID:    ev.EventID,
		EventType:  string(ev.EventType),
		ReceivedAt: ev.ReceivedAt.Format(time.RFC3339),
		Payload:    map[string]interface{}(ev.Payload),
	}

	return mq.PublishMessage(config.Cfg.EventExchange, config.Cfg.EventRoutingKey, msg)
}

// PublishAlert 把告警消息推给运维通道的消费方
func PublishAlert(msg AlertMessage) error {
	return mq.PublishMessage(config.Cfg.AlertExchange, config.Cfg.AlertRoutingKey, msg)
}
