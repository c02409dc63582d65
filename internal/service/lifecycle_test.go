package service

import (
	"context"
	"testing"
	"time"

	"StatusBridge/internal/model"
)

func newLifecycleFixture() (*LifecycleService, *fakeMessageStore, *fakeOrderStore) {
	store := newFakeMessageStore()
	orders := newFakeOrderStore()
	return NewLifecycleService(store, orders, nil), store, orders
}

func boundMessage(store *fakeMessageStore, providerID string, status model.MessageStatus) *model.TrackedMessage {
	msg := store.add(&model.TrackedMessage{
		BaseModel: model.BaseModel{CreatedAt: time.Now().UTC()},
		TempID:    model.NewTempID(),
		Phone:     "15551234567",
		Status:    status,
	})
	msg.ProviderID = &providerID
	return msg
}

func TestApplyStatusByProviderID(t *testing.T) {
	svc, store, _ := newLifecycleFixture()
	msg := boundMessage(store, "wamid.100", model.MessageStatusSent)

	ts := time.Now().UTC().Truncate(time.Second)
	id, applied, err := svc.ApplyStatus(context.Background(), "wamid.100", "", model.MessageStatusDelivered, ts, "")
	if err != nil {
		t.Fatalf("ApplyStatus returned error: %v", err)
	}
	if id != msg.ID {
		t.Fatalf("expected message %d, got %d", msg.ID, id)
	}
	if !applied {
		t.Error("expected transition to be applied")
	}

	stored := store.get(msg.ID)
	if stored.Status != model.MessageStatusDelivered {
		t.Errorf("expected status delivered, got %q", stored.Status)
	}
	if stored.DeliveredAt == nil || !stored.DeliveredAt.Equal(ts) {
		t.Errorf("expected delivered_at %v, got %v", ts, stored.DeliveredAt)
	}
}

func TestApplyStatusFallsBackToTempID(t *testing.T) {
	svc, store, _ := newLifecycleFixture()

	// 状态事件先于关联到达：provider ID 还没绑定，只能按临时 ID 命中
	msg := store.add(&model.TrackedMessage{
		BaseModel: model.BaseModel{CreatedAt: time.Now().UTC()},
		TempID:    "temp_abc123",
		Phone:     "15551234567",
		Status:    model.MessageStatusQueued,
	})

	ts := time.Now().UTC()
	id, applied, err := svc.ApplyStatus(context.Background(), "wamid.101", "temp_abc123", model.MessageStatusSent, ts, "")
	if err != nil {
		t.Fatalf("ApplyStatus returned error: %v", err)
	}
	if id != msg.ID {
		t.Fatalf("expected message %d via temp ID, got %d", msg.ID, id)
	}
	if !applied {
		t.Error("expected transition to be applied")
	}
	if store.get(msg.ID).Status != model.MessageStatusSent {
		t.Errorf("expected status sent, got %q", store.get(msg.ID).Status)
	}
}

func TestApplyStatusProviderReportsTempID(t *testing.T) {
	svc, store, _ := newLifecycleFixture()

	// 关联没成（token 缺失或损坏），但 provider 报的 ID 就是在途的 temp ID；
	// 入口把同一个 ID 同时当 provider ID 和兜底 hint 传进来也必须命中
	msg := store.add(&model.TrackedMessage{
		BaseModel: model.BaseModel{CreatedAt: time.Now().UTC()},
		TempID:    "temp_inflight9",
		Phone:     "15551234567",
		Status:    model.MessageStatusQueued,
	})

	id, applied, err := svc.ApplyStatus(context.Background(), "temp_inflight9", "temp_inflight9", model.MessageStatusSent, time.Now().UTC(), "")
	if err != nil {
		t.Fatalf("ApplyStatus returned error: %v", err)
	}
	if id != msg.ID || !applied {
		t.Fatalf("expected message %d applied via temp ID, got id=%d applied=%v", msg.ID, id, applied)
	}
	if store.get(msg.ID).Status != model.MessageStatusSent {
		t.Errorf("expected status sent, got %q", store.get(msg.ID).Status)
	}
}

func TestApplyStatusNoMatchIsNotAnError(t *testing.T) {
	svc, _, _ := newLifecycleFixture()

	id, _, err := svc.ApplyStatus(context.Background(), "wamid.102", "temp_missing", model.MessageStatusDelivered, time.Now(), "")
	if err != nil {
		t.Fatalf("ApplyStatus returned error: %v", err)
	}
	if id != 0 {
		t.Errorf("expected 0 for unmatched event, got %d", id)
	}
}

func TestApplyStatusIdempotentRedelivery(t *testing.T) {
	svc, store, _ := newLifecycleFixture()
	msg := boundMessage(store, "wamid.103", model.MessageStatusSent)

	first := time.Now().UTC().Add(-time.Minute)
	if _, applied, err := svc.ApplyStatus(context.Background(), "wamid.103", "", model.MessageStatusDelivered, first, ""); err != nil || !applied {
		t.Fatalf("first ApplyStatus: applied=%v err=%v", applied, err)
	}

	// 同一事件重投：无操作，时间戳不被覆盖
	second := time.Now().UTC()
	_, applied, err := svc.ApplyStatus(context.Background(), "wamid.103", "", model.MessageStatusDelivered, second, "")
	if err != nil {
		t.Fatalf("second ApplyStatus: %v", err)
	}
	if applied {
		t.Error("redelivery of an applied status must be a no-op")
	}

	stored := store.get(msg.ID)
	if stored.DeliveredAt == nil || !stored.DeliveredAt.Equal(first) {
		t.Errorf("delivered_at rewritten on redelivery: got %v, want %v", stored.DeliveredAt, first)
	}
}

func TestApplyStatusRejectsStaleTransition(t *testing.T) {
	svc, store, _ := newLifecycleFixture()
	msg := boundMessage(store, "wamid.104", model.MessageStatusRead)

	// 乱序投递：read 之后才到的 delivered 不回退
	id, applied, err := svc.ApplyStatus(context.Background(), "wamid.104", "", model.MessageStatusDelivered, time.Now(), "")
	if err != nil {
		t.Fatalf("ApplyStatus returned error: %v", err)
	}
	if id != msg.ID {
		t.Fatalf("expected message %d, got %d", msg.ID, id)
	}
	if applied {
		t.Error("stale transition must not count as applied")
	}
	if store.get(msg.ID).Status != model.MessageStatusRead {
		t.Errorf("stale transition must not regress status, got %q", store.get(msg.ID).Status)
	}
}

func TestApplyStatusDeliveredNeverFails(t *testing.T) {
	svc, store, _ := newLifecycleFixture()
	msg := boundMessage(store, "wamid.105", model.MessageStatusDelivered)

	if _, _, err := svc.ApplyStatus(context.Background(), "wamid.105", "", model.MessageStatusFailed, time.Now(), "network error"); err != nil {
		t.Fatalf("ApplyStatus returned error: %v", err)
	}

	// 已送达的消息不再标记失败
	if got := store.get(msg.ID).Status; got != model.MessageStatusDelivered {
		t.Errorf("delivered message must not become %q", got)
	}
}

func TestApplyStatusReadBackfillsDelivered(t *testing.T) {
	svc, store, _ := newLifecycleFixture()
	msg := boundMessage(store, "wamid.106", model.MessageStatusSent)

	ts := time.Now().UTC().Truncate(time.Second)
	if _, _, err := svc.ApplyStatus(context.Background(), "wamid.106", "", model.MessageStatusRead, ts, ""); err != nil {
		t.Fatalf("ApplyStatus returned error: %v", err)
	}

	stored := store.get(msg.ID)
	if stored.Status != model.MessageStatusRead {
		t.Fatalf("expected status read, got %q", stored.Status)
	}
	if stored.ReadAt == nil || !stored.ReadAt.Equal(ts) {
		t.Errorf("expected read_at %v, got %v", ts, stored.ReadAt)
	}
	if stored.DeliveredAt == nil || !stored.DeliveredAt.Equal(ts) {
		t.Errorf("read must backfill delivered_at, got %v", stored.DeliveredAt)
	}
}

func TestApplyStatusFailureReason(t *testing.T) {
	svc, store, _ := newLifecycleFixture()
	msg := boundMessage(store, "wamid.107", model.MessageStatusSent)

	if _, _, err := svc.ApplyStatus(context.Background(), "wamid.107", "", model.MessageStatusFailed, time.Now(), "Message undeliverable"); err != nil {
		t.Fatalf("ApplyStatus returned error: %v", err)
	}

	stored := store.get(msg.ID)
	if stored.FailureReason == nil || *stored.FailureReason != "Message undeliverable" {
		t.Errorf("expected failure reason from event, got %v", stored.FailureReason)
	}
	if stored.FailedAt == nil {
		t.Error("failed_at not set")
	}
}

func TestApplyStatusPropagatesToOrder(t *testing.T) {
	svc, store, orders := newLifecycleFixture()
	msg := boundMessage(store, "wamid.108", model.MessageStatusSent)
	orderID := int64(42)
	msg.OrderID = &orderID

	ts := time.Now().UTC()
	if _, _, err := svc.ApplyStatus(context.Background(), "wamid.108", "", model.MessageStatusDelivered, ts, ""); err != nil {
		t.Fatalf("ApplyStatus returned error: %v", err)
	}

	if len(orders.calls) != 1 {
		t.Fatalf("expected 1 order propagation, got %d", len(orders.calls))
	}
	if orders.calls[0].orderID != orderID {
		t.Errorf("expected order %d, got %d", orderID, orders.calls[0].orderID)
	}
	if _, ok := orders.calls[0].updates["whatsapp_delivered_at"]; !ok {
		t.Error("expected whatsapp_delivered_at in propagated updates")
	}
}

func TestFailStuck(t *testing.T) {
	svc, store, _ := newLifecycleFixture()

	stuck := store.add(&model.TrackedMessage{
		BaseModel: model.BaseModel{CreatedAt: time.Now().UTC().Add(-13 * time.Hour)},
		TempID:    model.NewTempID(),
		Phone:     "15551234567",
		Status:    model.MessageStatusSent,
	})

	now := time.Now().UTC()
	applied, err := svc.FailStuck(context.Background(), stuck, now)
	if err != nil {
		t.Fatalf("FailStuck returned error: %v", err)
	}
	if !applied {
		t.Fatal("expected FailStuck to apply")
	}

	stored := store.get(stuck.ID)
	if stored.Status != model.MessageStatusFailed {
		t.Errorf("expected status failed, got %q", stored.Status)
	}
	if stored.FailureReason == nil || *stored.FailureReason != StuckFailureReason {
		t.Errorf("expected failure reason %q, got %v", StuckFailureReason, stored.FailureReason)
	}
}

func TestFailStuckSkipsDelivered(t *testing.T) {
	svc, store, _ := newLifecycleFixture()
	msg := boundMessage(store, "wamid.109", model.MessageStatusDelivered)

	applied, err := svc.FailStuck(context.Background(), msg, time.Now())
	if err != nil {
		t.Fatalf("FailStuck returned error: %v", err)
	}
	if applied {
		t.Error("FailStuck must not touch delivered messages")
	}
	if store.get(msg.ID).Status != model.MessageStatusDelivered {
		t.Errorf("delivered message regressed to %q", store.get(msg.ID).Status)
	}
}

func TestParseProviderStatus(t *testing.T) {
	cases := []struct {
		in   string
		want model.MessageStatus
		ok   bool
	}{
		{"sent", model.MessageStatusSent, true},
		{"delivered", model.MessageStatusDelivered, true},
		{"read", model.MessageStatusRead, true},
		{"failed", model.MessageStatusFailed, true},
		{"warning", "", false},
		{"deleted", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, ok := ParseProviderStatus(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseProviderStatus(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
