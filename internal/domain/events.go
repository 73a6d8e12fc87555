package domain

import "time"

const (
	// AggregateTypeOrder: тип агрегата в outbox-сообщениях заказов.
	AggregateTypeOrder = "order"

	// EventTypeOrderCreated публикуется после сохранения нового заказа.
	EventTypeOrderCreated = "order.created"
	// EventTypeOrderStatusChanged публикуется после смены статуса.
	EventTypeOrderStatusChanged = "order.status_changed"
	// EventTypePaymentSucceeded приходит от платёжного сервиса.
	EventTypePaymentSucceeded = "payment.succeeded"
)

// OrderCreatedEvent: полезная нагрузка order.created.
type OrderCreatedEvent struct {
	OrderID     string    `json:"orderId"`
	Status      string    `json:"status"`
	TotalAmount int64     `json:"totalAmount"`
	TotalItems  int32     `json:"totalItems"`
	CreatedAt   time.Time `json:"createdAt"`
}

// OrderStatusChangedEvent: полезная нагрузка order.status_changed.
type OrderStatusChangedEvent struct {
	OrderID   string    `json:"orderId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Paid      bool      `json:"paid"`
	ChangedAt time.Time `json:"changedAt"`
}

// PaymentSucceededEvent: подтверждение оплаты заказа.
type PaymentSucceededEvent struct {
	OrderID   string    `json:"orderId"`
	PaymentID string    `json:"paymentId,omitempty"`
	PaidAt    time.Time `json:"paidAt"`
}
