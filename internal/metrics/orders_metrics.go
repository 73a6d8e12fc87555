package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики жизненного цикла заказов.
// Методы безопасны для nil-получателя: сервис без метрик просто ничего не пишет.
type OrderMetrics struct {
	ordersCreated   prometheus.Counter
	statusChanges   *prometheus.CounterVec
	operationErrors *prometheus.CounterVec

	// Время ответа сервиса продуктов по результату вызова.
	lookupDuration *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
	paymentEvents  *prometheus.CounterVec
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном реестре;
// повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders created",
		})),
		statusChanges: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_status_changes_total",
			Help: "Total number of order status transitions grouped by target status",
		}, []string{"status"})),
		operationErrors: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_operation_errors_total",
			Help: "Total number of failed lifecycle operations grouped by operation and status code",
		}, []string{"operation", "status_code"})),
		lookupDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orders_product_lookup_duration_seconds",
			Help:    "Duration of product lookups against the products service",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"result"})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_timeline_events_total",
			Help: "Total number of timeline events recorded",
		})),
		outboxEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_outbox_events_total",
			Help: "Total number of events enqueued into the outbox",
		})),
		paymentEvents: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_payment_events_total",
			Help: "Total number of consumed payment events grouped by result",
		}, []string{"result"})),
	}
}

// register регистрирует коллектор или возвращает ранее зарегистрированный того же типа.
func register[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}

	var alreadyRegistered prometheus.AlreadyRegisteredError
	if errors.As(err, &alreadyRegistered) {
		existing, ok := alreadyRegistered.ExistingCollector.(T)
		if !ok {
			panic(fmt.Sprintf("collector already registered with unexpected type %T", alreadyRegistered.ExistingCollector))
		}
		return existing
	}
	panic(fmt.Sprintf("register collector: %v", err))
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordStatusChanged учитывает смену статуса.
func (m *OrderMetrics) RecordStatusChanged(status string) {
	if m == nil {
		return
	}
	m.statusChanges.WithLabelValues(status).Inc()
}

// RecordOperationError учитывает ошибку операции с её HTTP-подобным кодом.
func (m *OrderMetrics) RecordOperationError(operation string, statusCode int) {
	if m == nil {
		return
	}
	m.operationErrors.WithLabelValues(operation, fmt.Sprint(statusCode)).Inc()
}

// RecordLookup записывает длительность обращения к сервису продуктов.
func (m *OrderMetrics) RecordLookup(ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.lookupDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

func (m *OrderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordPaymentEvent учитывает обработанное событие платежа ("applied", "skipped", "error").
func (m *OrderMetrics) RecordPaymentEvent(result string) {
	if m == nil {
		return
	}
	m.paymentEvents.WithLabelValues(result).Inc()
}
