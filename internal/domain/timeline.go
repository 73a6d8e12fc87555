package domain

import "time"

// TimelineEventStatusChanged: тип события смены статуса.
const TimelineEventStatusChanged = "OrderStatusChanged"

// TimelineEvent описывает событие в жизненном цикле заказа.
// Reason хранит статус, в который перешёл заказ.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   OrderStatus
	Occurred time.Time
}
