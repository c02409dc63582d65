package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics 核心链路的指标集合
type OTelMetrics struct {
	// webhook 摄入
	EventsReceivedTotal metric.Int64Counter
	EventsFailedTotal   metric.Int64Counter

	// 关联引擎
	EventsCorrelatedTotal     metric.Int64Counter
	EventsUnmatchedTotal      metric.Int64Counter
	EventsUncorrelatableTotal metric.Int64Counter

	// 状态机
	TransitionsAppliedTotal  metric.Int64Counter
	TransitionsRejectedTotal metric.Int64Counter

	// 对账
	MessagesSweptTotal metric.Int64Counter

	// 告警
	AlertsSentTotal       metric.Int64Counter
	AlertsSuppressedTotal metric.Int64Counter
}

var (
	metrics *OTelMetrics
	meter   = otel.Meter("statusbridge")
)

// InitMetrics 初始化 OpenTelemetry 指标
func InitMetrics() error {
	m := &OTelMetrics{}
	var err error

	if m.EventsReceivedTotal, err = meter.Int64Counter(
		"webhook_events_received_total",
		metric.WithDescription("Raw webhook events persisted"),
		metric.WithUnit("{event}"),
	); err != nil {
		return err
	}

	if m.EventsFailedTotal, err = meter.Int64Counter(
		"webhook_events_failed_total",
		metric.WithDescription("Webhook events whose processing failed"),
		metric.WithUnit("{event}"),
	); err != nil {
		return err
	}

	if m.EventsCorrelatedTotal, err = meter.Int64Counter(
		"status_events_correlated_total",
		metric.WithDescription("Status events bound to a tracked message"),
		metric.WithUnit("{event}"),
	); err != nil {
		return err
	}

	if m.EventsUnmatchedTotal, err = meter.Int64Counter(
		"status_events_unmatched_total",
		metric.WithDescription("Status events with no candidate in the correlation window"),
		metric.WithUnit("{event}"),
	); err != nil {
		return err
	}

	if m.EventsUncorrelatableTotal, err = meter.Int64Counter(
		"status_events_uncorrelatable_total",
		metric.WithDescription("Status events without a usable correlation token"),
		metric.WithUnit("{event}"),
	); err != nil {
		return err
	}

	if m.TransitionsAppliedTotal, err = meter.Int64Counter(
		"lifecycle_transitions_applied_total",
		metric.WithDescription("Lifecycle transitions applied to tracked messages"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return err
	}

	if m.TransitionsRejectedTotal, err = meter.Int64Counter(
		"lifecycle_transitions_rejected_total",
		metric.WithDescription("Stale or downgrade transitions rejected"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return err
	}

	if m.MessagesSweptTotal, err = meter.Int64Counter(
		"messages_swept_to_failed_total",
		metric.WithDescription("Stuck messages transitioned to failed by the sweeper"),
		metric.WithUnit("{message}"),
	); err != nil {
		return err
	}

	if m.AlertsSentTotal, err = meter.Int64Counter(
		"operator_alerts_sent_total",
		metric.WithDescription("Operator alerts dispatched"),
		metric.WithUnit("{alert}"),
	); err != nil {
		return err
	}

	if m.AlertsSuppressedTotal, err = meter.Int64Counter(
		"operator_alerts_suppressed_total",
		metric.WithDescription("Operator alerts suppressed by the rate limiter"),
		metric.WithUnit("{alert}"),
	); err != nil {
		return err
	}

	metrics = m
	return nil
}

// Add 对指定计数器加一；未初始化时静默跳过，避免指标成为主链路的故障点
func Add(ctx context.Context, counter func(*OTelMetrics) metric.Int64Counter, attrs ...attribute.KeyValue) {
	if metrics == nil {
		return
	}
	c := counter(metrics)
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// 常用计数器选择函数
var (
	EventsReceived       = func(m *OTelMetrics) metric.Int64Counter { return m.EventsReceivedTotal }
	EventsFailed         = func(m *OTelMetrics) metric.Int64Counter { return m.EventsFailedTotal }
	EventsCorrelated     = func(m *OTelMetrics) metric.Int64Counter { return m.EventsCorrelatedTotal }
	EventsUnmatched      = func(m *OTelMetrics) metric.Int64Counter { return m.EventsUnmatchedTotal }
	EventsUncorrelatable = func(m *OTelMetrics) metric.Int64Counter { return m.EventsUncorrelatableTotal }
	TransitionsApplied   = func(m *OTelMetrics) metric.Int64Counter { return m.TransitionsAppliedTotal }
	TransitionsRejected  = func(m *OTelMetrics) metric.Int64Counter { return m.TransitionsRejectedTotal }
	MessagesSwept        = func(m *OTelMetrics) metric.Int64Counter { return m.MessagesSweptTotal }
	AlertsSent           = func(m *OTelMetrics) metric.Int64Counter { return m.AlertsSentTotal }
	AlertsSuppressed     = func(m *OTelMetrics) metric.Int64Counter { return m.AlertsSuppressedTotal }
)
