package webhook

import (
	"encoding/json"
	"strconv"
	"time"

	"StatusBridge/internal/model"
	"StatusBridge/utils"
)

// WhatsApp Business Cloud API 的事件信封结构
// 一次投递包含多个 entry，每个 entry 包含多个 change，
// change.field 是事件类别的判别字段。

type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string           `json:"messaging_product,omitempty"`
	Metadata         *Metadata        `json:"metadata,omitempty"`
	Statuses         []Status         `json:"statuses,omitempty"`
	Messages         []InboundMessage `json:"messages,omitempty"`
	Event            string           `json:"event,omitempty"`
	BanInfo          *BanInfo         `json:"ban_info,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number,omitempty"`
	PhoneNumberID      string `json:"phone_number_id,omitempty"`
}

// Status 单条送达状态，id 是 provider 的 wamid，
// biz_opaque_callback_data 是发送侧塞入的关联 token（JSON 字符串）。
type Status struct {
	ID                    string        `json:"id"`
	Status                string        `json:"status"`
	Timestamp             string        `json:"timestamp"`
	RecipientID           string        `json:"recipient_id"`
	BizOpaqueCallbackData string        `json:"biz_opaque_callback_data,omitempty"`
	Errors                []StatusError `json:"errors,omitempty"`
}

type StatusError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message,omitempty"`
}

type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
}

type BanInfo struct {
	WabaBanState string `json:"waba_ban_state,omitempty"`
	WabaBanDate  string `json:"waba_ban_date,omitempty"`
}

// ParseEnvelope 解析原始投递 body
func ParseEnvelope(rawBody []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// ClassifyField 按 change.field 判别事件类别
// 新类别必须在这里显式接入，未知的归入 unknown：只落库，不再路由。
func ClassifyField(field string) model.EventKind {
	switch field {
	case "messages":
		return model.EventKindStatusUpdate
	case "message_template_status_update":
		return model.EventKindTemplateUpdate
	case "account_update":
		return model.EventKindAccountUpdate
	case "business_capability_update":
		return model.EventKindAccountUpdate
	default:
		return model.EventKindUnknown
	}
}

// Classify 判别整个信封的主类别
// messages 下有 statuses 是状态事件，只有 messages 数组则是入站消息。
func Classify(env *Envelope) model.EventKind {
	if env == nil {
		return model.EventKindUnknown
	}
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				return ClassifyField(change.Field)
			}
			if len(change.Value.Statuses) > 0 {
				return model.EventKindStatusUpdate
			}
			if len(change.Value.Messages) > 0 {
				return model.EventKindInboundMessage
			}
		}
	}
	return model.EventKindUnknown
}

// Statuses 抽取信封里的所有状态条目
func (e *Envelope) AllStatuses() []Status {
	var out []Status
	for _, entry := range e.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			out = append(out, change.Value.Statuses...)
		}
	}
	return out
}

// Time 解析 provider 的 unix 秒时间戳，解析失败返回零值
func (s Status) Time() time.Time {
	sec, err := strconv.ParseInt(s.Timestamp, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// FailureDetail 拼出失败事件的可读原因
func (s Status) FailureDetail() string {
	if len(s.Errors) == 0 {
		return ""
	}
	e := s.Errors[0]
	detail := e.Title
	if e.Message != "" && e.Message != e.Title {
		detail += ": " + e.Message
	}
	return detail
}

// callbackData 关联 token 的线上格式：{"c": "<phone>"}
type callbackData struct {
	C string `json:"c"`
}

// DecodeCallbackData 防御式解码关联 token
// 格式错误或缺 c 字段都按不可关联处理，绝不让单条 token 毁掉整次投递。
func DecodeCallbackData(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}

	var cd callbackData
	if err := json.Unmarshal([]byte(raw), &cd); err != nil {
		return "", false
	}

	phone := utils.NormalizePhone(cd.C)
	if !utils.ValidatePhone(phone) {
		return "", false
	}
	return phone, true
}
