package queue

// ForwardedEventMessage 转发给下游消费方的原始事件
type ForwardedEventMessage struct {
	Payload    map[string]interface{} `json:"payload"`
	EventType  string                 `json:"event_type"`
	ReceivedAt string                 `json:"received_at"`
	EventID    int64                  `json:"event_id"`
}

// AlertMessage 运维告警消息（限流后发出）
type AlertMessage struct {
	Details    map[string]interface{} `json:"details,omitempty"`
	Category   string                 `json:"category"`
	Key        string                 `json:"key"`
	Message    string                 `json:"message"`
	OccurredAt string                 `json:"occurred_at"`
}
