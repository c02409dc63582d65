package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"StatusBridge/internal/model"
)

// fakeMessageStore 内存版 MessageStore，复刻条件更新语义
type fakeMessageStore struct {
	mu       sync.Mutex
	messages map[int64]*model.TrackedMessage
	nextID   int64

	// 注入点：FindCandidate 返回前执行，用于模拟并发认领
	beforeClaim func()
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{
		messages: make(map[int64]*model.TrackedMessage),
		nextID:   1,
	}
}

func (f *fakeMessageStore) add(msg *model.TrackedMessage) *model.TrackedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg.ID = f.nextID
	f.nextID++
	if msg.Status == "" {
		msg.Status = model.MessageStatusPending
	}
	f.messages[msg.ID] = msg
	return msg
}

func (f *fakeMessageStore) get(id int64) *model.TrackedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[id]
}

func (f *fakeMessageStore) FindByProviderID(ctx context.Context, providerID string) (*model.TrackedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.messages {
		if m.ProviderID != nil && *m.ProviderID == providerID {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMessageStore) FindByTempID(ctx context.Context, tempID string) (*model.TrackedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, m := range f.messages {
		if m.TempID == tempID {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMessageStore) FindCandidate(ctx context.Context, phone string, from, to time.Time) (*model.TrackedMessage, error) {
	f.mu.Lock()
	var candidates []*model.TrackedMessage
	for _, m := range f.messages {
		if m.Phone != phone || m.ProviderID != nil {
			continue
		}
		if m.CreatedAt.Before(from) || m.CreatedAt.After(to) {
			continue
		}
		candidates = append(candidates, m)
	}
	f.mu.Unlock()

	if f.beforeClaim != nil {
		hook := f.beforeClaim
		f.beforeClaim = nil
		hook()
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
		}
		return candidates[i].ID > candidates[j].ID
	})
	return candidates[0], nil
}

func (f *fakeMessageStore) ClaimProviderID(ctx context.Context, messageID int64, providerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.messages[messageID]
	if !ok || m.ProviderID != nil {
		return false, nil
	}
	m.ProviderID = &providerID
	return true, nil
}

func (f *fakeMessageStore) TransitionStatus(ctx context.Context, messageID int64, prior []model.MessageStatus, updates map[string]interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.messages[messageID]
	if !ok {
		return false, nil
	}

	allowed := false
	for _, st := range prior {
		if m.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	applyMessageUpdates(m, updates)
	return true, nil
}

func (f *fakeMessageStore) FindStuck(ctx context.Context, cutoff time.Time, limit int) ([]*model.TrackedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.TrackedMessage
	for _, m := range f.messages {
		if m.ProviderID != nil || model.IsTerminal(m.Status) {
			continue
		}
		if !m.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// applyMessageUpdates 按 GORM updates map 的字段名回写到结构体
func applyMessageUpdates(m *model.TrackedMessage, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			m.Status = v.(model.MessageStatus)
		case "updated_at":
			m.UpdatedAt = v.(time.Time)
		case "delivered_at":
			t := v.(time.Time)
			m.DeliveredAt = &t
		case "read_at":
			t := v.(time.Time)
			m.ReadAt = &t
		case "failed_at":
			t := v.(time.Time)
			m.FailedAt = &t
		case "failure_reason":
			r := v.(string)
			m.FailureReason = &r
		}
	}
}

// fakeOrderStore 记录反规范化回写
type fakeOrderStore struct {
	mu    sync.Mutex
	calls []orderPropagation
}

type orderPropagation struct {
	orderID int64
	updates map[string]interface{}
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{}
}

func (f *fakeOrderStore) Propagate(ctx context.Context, orderID int64, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, orderPropagation{orderID: orderID, updates: updates})
	return nil
}

// fakeEventStore 内存版 EventStore，ListByKind 按 ID 升序分页
type fakeEventStore struct {
	mu     sync.Mutex
	events []*model.RawWebhookEvent
	nextID int64
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{nextID: 1}
}

func (f *fakeEventStore) Insert(ctx context.Context, ev *model.RawWebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ev.ID = f.nextID
	f.nextID++
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEventStore) UpdateProcessing(ctx context.Context, eventID int64, status model.ProcessingStatus, detail *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ev := range f.events {
		if ev.EventID == eventID {
			ev.ProcessingStatus = status
			if detail != nil {
				ev.ProcessingDetail = detail
			}
		}
	}
	return nil
}

func (f *fakeEventStore) MarkForwarded(ctx context.Context, eventID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ev := range f.events {
		if ev.EventID == eventID {
			ev.ForwardedDownstream = true
		}
	}
	return nil
}

func (f *fakeEventStore) ListByKind(ctx context.Context, kind model.EventKind, from, to time.Time, afterID int64, limit int) ([]*model.RawWebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.RawWebhookEvent
	for _, ev := range f.events {
		if ev.ID <= afterID || ev.EventType != kind {
			continue
		}
		if ev.ReceivedAt.Before(from) || ev.ReceivedAt.After(to) {
			continue
		}
		out = append(out, ev)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
