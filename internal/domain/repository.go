package domain

import (
	"context"
	"time"
)

// OrderFilter задаёт окно выборки и фильтр по статусу.
type OrderFilter struct {
	// Status == nil означает «все статусы».
	Status *OrderStatus
	Offset int
	Limit  int
}

// StatusUpdate описывает смену статуса заказа.
type StatusUpdate struct {
	ID        string
	Status    OrderStatus
	Paid      bool
	PaidAt    *time.Time
	UpdatedAt time.Time
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create атомарно сохраняет заказ вместе со всеми позициями.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// List возвращает заказы без позиций, от новых к старым.
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// Count считает заказы, подходящие под фильтр статуса.
	Count(ctx context.Context, status *OrderStatus) (int, error)
	// UpdateStatus безусловно перезаписывает статус (last-write-wins).
	UpdateStatus(ctx context.Context, update StatusUpdate) (Order, error)
}
