package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"StatusBridge/internal/model"
)

func newReconcileFixture(threshold time.Duration) (*ReconcileService, *fakeMessageStore, *fakeEventStore) {
	messages := newFakeMessageStore()
	events := newFakeEventStore()

	svc := NewReconcileService(
		NewEventService(events, nil),
		NewCorrelationService(messages, testWindow, nil),
		NewLifecycleService(messages, newFakeOrderStore(), nil),
		messages,
		threshold,
		nil,
	)
	return svc, messages, events
}

// statusEvent 构造一条已落库的状态事件
func statusEvent(t *testing.T, eventID int64, providerID, phone, status string, eventTime time.Time) *model.RawWebhookEvent {
	t.Helper()

	raw := fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "waba-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"statuses": [{
						"id": %q,
						"status": %q,
						"timestamp": "%d",
						"recipient_id": %q,
						"biz_opaque_callback_data": "{\"c\":\"%s\"}"
					}]
				}
			}]
		}]
	}`, providerID, status, eventTime.Unix(), phone, phone)

	var payload model.JSONB
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("bad test envelope: %v", err)
	}

	return &model.RawWebhookEvent{
		EventID:          eventID,
		EventType:        model.EventKindStatusUpdate,
		Payload:          payload,
		ReceivedAt:       eventTime,
		ProcessingStatus: model.ProcessingStatusProcessed,
	}
}

func TestReconcileReplayRepairsUnmatched(t *testing.T) {
	svc, messages, events := newReconcileFixture(12 * time.Hour)

	now := time.Now().UTC()
	eventTime := now.Add(-time.Hour)

	// 收事件那会儿消息行还没写进来，当时没关联上
	msg := messages.add(&model.TrackedMessage{
		BaseModel: model.BaseModel{CreatedAt: eventTime.Add(-time.Minute)},
		TempID:    model.NewTempID(),
		Phone:     "15551234567",
		Status:    model.MessageStatusSent,
	})

	ev := statusEvent(t, 1001, "wamid.200", "15551234567", "delivered", eventTime)
	if err := events.Insert(context.Background(), ev); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	report, err := svc.Run(context.Background(), 60, false)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.EventsScanned != 1 {
		t.Errorf("expected 1 event scanned, got %d", report.EventsScanned)
	}
	if report.MessagesCorrelated != 1 {
		t.Errorf("expected 1 message correlated, got %d", report.MessagesCorrelated)
	}
	if report.MessagesUpdated != 1 {
		t.Errorf("expected 1 message updated, got %d", report.MessagesUpdated)
	}

	stored := messages.get(msg.ID)
	if stored.ProviderID == nil || *stored.ProviderID != "wamid.200" {
		t.Errorf("replay did not bind provider ID: %v", stored.ProviderID)
	}
	if stored.Status != model.MessageStatusDelivered {
		t.Errorf("expected status delivered after replay, got %q", stored.Status)
	}
}

func TestReconcileReplayIsIdempotent(t *testing.T) {
	svc, messages, events := newReconcileFixture(12 * time.Hour)

	now := time.Now().UTC()
	eventTime := now.Add(-time.Hour)

	msg := messages.add(&model.TrackedMessage{
		BaseModel: model.BaseModel{CreatedAt: eventTime.Add(-time.Minute)},
		TempID:    model.NewTempID(),
		Phone:     "15551234567",
		Status:    model.MessageStatusSent,
	})

	ev := statusEvent(t, 1002, "wamid.201", "15551234567", "delivered", eventTime)
	if err := events.Insert(context.Background(), ev); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := svc.Run(context.Background(), 60, false); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	firstDelivered := *messages.get(msg.ID).DeliveredAt

	report, err := svc.Run(context.Background(), 60, false)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if report.MessagesCorrelated != 0 {
		t.Errorf("second run correlated %d messages, want 0", report.MessagesCorrelated)
	}
	// 第二轮只会撞上幂等无操作，报告里不能记成 updated
	if report.MessagesUpdated != 0 {
		t.Errorf("second run updated %d messages, want 0", report.MessagesUpdated)
	}
	if !messages.get(msg.ID).DeliveredAt.Equal(firstDelivered) {
		t.Error("second run rewrote delivered_at")
	}
}

func TestReconcileDryRunWritesNothing(t *testing.T) {
	svc, messages, events := newReconcileFixture(12 * time.Hour)

	now := time.Now().UTC()

	var tracked []*model.TrackedMessage
	for i := 0; i < 6; i++ {
		eventTime := now.Add(-time.Duration(i+1) * time.Hour)
		phone := fmt.Sprintf("1555123%04d", i)

		tracked = append(tracked, messages.add(&model.TrackedMessage{
			BaseModel: model.BaseModel{CreatedAt: eventTime.Add(-time.Minute)},
			TempID:    model.NewTempID(),
			Phone:     phone,
			Status:    model.MessageStatusSent,
		}))

		ev := statusEvent(t, int64(2000+i), fmt.Sprintf("wamid.3%02d", i), phone, "delivered", eventTime)
		if err := events.Insert(context.Background(), ev); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	// 4 条没有本地候选的事件
	for i := 0; i < 4; i++ {
		eventTime := now.Add(-time.Duration(i+1) * time.Minute)
		ev := statusEvent(t, int64(3000+i), fmt.Sprintf("wamid.4%02d", i), fmt.Sprintf("1555999%04d", i), "delivered", eventTime)
		if err := events.Insert(context.Background(), ev); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	report, err := svc.Run(context.Background(), 60, true)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !report.DryRun {
		t.Error("report must carry dry_run flag")
	}
	if report.EventsScanned != 10 {
		t.Errorf("expected 10 events scanned, got %d", report.EventsScanned)
	}
	if report.MessagesCorrelated != 6 {
		t.Errorf("expected 6 correlatable messages, got %d", report.MessagesCorrelated)
	}

	for _, msg := range tracked {
		stored := messages.get(msg.ID)
		if stored.ProviderID != nil {
			t.Errorf("dry run claimed provider ID on message %d", msg.ID)
		}
		if stored.Status != model.MessageStatusSent {
			t.Errorf("dry run changed status of message %d to %q", msg.ID, stored.Status)
		}
	}
}

func TestReconcileSweepsStuckMessages(t *testing.T) {
	svc, messages, _ := newReconcileFixture(12 * time.Hour)

	now := time.Now().UTC()
	stuck := messages.add(&model.TrackedMessage{
		BaseModel: model.BaseModel{CreatedAt: now.Add(-13 * time.Hour)},
		TempID:    model.NewTempID(),
		Phone:     "15551234567",
		Status:    model.MessageStatusSent,
	})
	fresh := messages.add(&model.TrackedMessage{
		BaseModel: model.BaseModel{CreatedAt: now.Add(-11 * time.Hour)},
		TempID:    model.NewTempID(),
		Phone:     "15551234568",
		Status:    model.MessageStatusSent,
	})

	report, err := svc.Run(context.Background(), 60, false)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.MessagesSwept != 1 {
		t.Errorf("expected 1 message swept, got %d", report.MessagesSwept)
	}

	sweptMsg := messages.get(stuck.ID)
	if sweptMsg.Status != model.MessageStatusFailed {
		t.Errorf("expected stuck message failed, got %q", sweptMsg.Status)
	}
	if sweptMsg.FailureReason == nil || *sweptMsg.FailureReason != StuckFailureReason {
		t.Errorf("expected reason %q, got %v", StuckFailureReason, sweptMsg.FailureReason)
	}

	if messages.get(fresh.ID).Status != model.MessageStatusSent {
		t.Errorf("message under threshold must not be swept")
	}
}

func TestReconcileSweepDryRunCountsOnly(t *testing.T) {
	svc, messages, _ := newReconcileFixture(12 * time.Hour)

	now := time.Now().UTC()
	stuck := messages.add(&model.TrackedMessage{
		BaseModel: model.BaseModel{CreatedAt: now.Add(-14 * time.Hour)},
		TempID:    model.NewTempID(),
		Phone:     "15551234567",
		Status:    model.MessageStatusQueued,
	})

	report, err := svc.Run(context.Background(), 60, true)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if report.MessagesSwept != 1 {
		t.Errorf("expected 1 message counted, got %d", report.MessagesSwept)
	}
	if messages.get(stuck.ID).Status != model.MessageStatusQueued {
		t.Errorf("dry run changed status to %q", messages.get(stuck.ID).Status)
	}
}
