package errors

func (d Definition) Error() string {
	return d.Message
}

// Definition 表示业务错误码及默认信息。
type Definition struct {
	Code    string
	Message string
}

// 鉴权相关错误：请求直接拒绝，不落库。
var (
	ChallengeRejected = Definition{Code: "AUTH_CHALLENGE_REJECTED", Message: "Webhook challenge rejected"}
	SignatureInvalid  = Definition{Code: "AUTH_SIGNATURE_INVALID", Message: "Webhook signature invalid"}
)

// 持久化错误：唯一允许让 webhook 返回非 2xx 的内部错误类。
var (
	EventPersistFailed = Definition{Code: "EVENT_PERSIST_FAILED", Message: "Failed to persist raw webhook event"}
)

// 处理过程中的非致命结果：内部吸收，留给对账兜底。
var (
	EventUncorrelatable    = Definition{Code: "EVENT_UNCORRELATABLE", Message: "Status event carries no usable correlation token"}
	MessageUnmatched       = Definition{Code: "MESSAGE_UNMATCHED", Message: "No tracked message matched within correlation window"}
	TransitionRejected     = Definition{Code: "TRANSITION_REJECTED", Message: "Status transition rejected as stale"}
	PropagationFailed      = Definition{Code: "PROPAGATION_FAILED", Message: "Downstream record propagation failed"}
	RateLimiterUnavailable = Definition{Code: "RATE_LIMITER_UNAVAILABLE", Message: "Alert rate limiter store unavailable"}
)

// 请求参数错误。
var (
	InvalidRequest = Definition{Code: "INVALID_REQUEST", Message: "Invalid request"}
	InvalidPayload = Definition{Code: "INVALID_PAYLOAD", Message: "Invalid payload"}
)

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{
	ChallengeRejected.Code:      ChallengeRejected,
	SignatureInvalid.Code:       SignatureInvalid,
	EventPersistFailed.Code:     EventPersistFailed,
	EventUncorrelatable.Code:    EventUncorrelatable,
	MessageUnmatched.Code:       MessageUnmatched,
	TransitionRejected.Code:     TransitionRejected,
	PropagationFailed.Code:      PropagationFailed,
	RateLimiterUnavailable.Code: RateLimiterUnavailable,
	InvalidRequest.Code:         InvalidRequest,
	InvalidPayload.Code:         InvalidPayload,
}

// Get 根据错误码返回 Definition，若不存在则返回空 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error"}
}

// FailsRequest 判断错误类是否允许让 webhook 请求整体失败。
// 只有鉴权错误和原始事件落库失败会向 provider 暴露非 2xx，
// 其余错误类一律内部吸收，避免触发 provider 的重试退避。
func FailsRequest(d Definition) bool {
	switch d.Code {
	case ChallengeRejected.Code, SignatureInvalid.Code, EventPersistFailed.Code:
		return true
	default:
		return false
	}
}

// FailsOpen 判断错误类在内部故障时是否按放行处理。
// 限流器的存储故障宁可多发告警，也不能吞掉真实的运维告警。
func FailsOpen(d Definition) bool {
	return d.Code == RateLimiterUnavailable.Code
}
