// Package ordersv1 описывает gRPC-контракт orders.v1.OrderService.
package ordersv1

import "time"

// OrderItemInput: позиция во входящем запросе на создание заказа.
type OrderItemInput struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int32  `json:"quantity" validate:"gt=0"`
}

// CreateOrderRequest: вход CreateOrder.
type CreateOrderRequest struct {
	Items []*OrderItemInput `json:"items" validate:"required,min=1,dive,required"`
}

// FindAllOrdersRequest: вход FindAllOrders; нулевые page/limit заменяются значениями по умолчанию.
type FindAllOrdersRequest struct {
	Page   int32  `json:"page,omitempty" validate:"gte=1"`
	Limit  int32  `json:"limit,omitempty" validate:"gte=1"`
	Status string `json:"status,omitempty" validate:"omitempty,orderstatus"`
}

// FindOneOrderRequest: вход FindOneOrder.
type FindOneOrderRequest struct {
	ID string `json:"id" validate:"required,uuid4"`
}

// ChangeOrderStatusRequest: вход ChangeOrderStatus.
type ChangeOrderStatusRequest struct {
	ID     string `json:"id" validate:"required,uuid4"`
	Status string `json:"status" validate:"required,orderstatus"`
}

type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
	Price     int64  `json:"price"`
	Name      string `json:"name,omitempty"`
}

type TimelineEvent struct {
	Type     string    `json:"type"`
	Reason   string    `json:"reason"`
	Occurred time.Time `json:"occurred"`
}

// Order: представление заказа в ответах сервиса.
type Order struct {
	ID          string           `json:"id"`
	TotalAmount int64            `json:"totalAmount"`
	TotalItems  int32            `json:"totalItems"`
	Status      string           `json:"status"`
	Paid        bool             `json:"paid"`
	PaidAt      *time.Time       `json:"paidAt,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	Items       []*OrderItem     `json:"items,omitempty"`
	Timeline    []*TimelineEvent `json:"timeline,omitempty"`
}

type PageMeta struct {
	Page     int32 `json:"page"`
	Total    int64 `json:"total"`
	LastPage int64 `json:"lastPage"`
}

// FindAllOrdersResponse: страница заказов и метаданные пагинации.
type FindAllOrdersResponse struct {
	Data []*Order  `json:"data"`
	Meta *PageMeta `json:"meta"`
}
