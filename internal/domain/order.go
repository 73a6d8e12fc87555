package domain

import (
	"math"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан и ожидает оплаты.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid: платёжный сервис подтвердил оплату.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusDelivered: заказ доставлен клиенту.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled: заказ отменён.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderStatuses перечисляет все допустимые статусы в стабильном порядке.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID string
	// ProductID ссылается на товар сервиса продуктов; внешний ключ локально не проверяется.
	ProductID string
	Quantity  int32
	// Price: снимок цены товара (в минимальных единицах) на момент создания заказа.
	Price int64
	// Name заполняется только при обогащении ответа и не хранится.
	Name      string
	CreatedAt time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID          string
	Status      OrderStatus
	TotalAmount int64
	TotalItems  int32
	Paid        bool
	PaidAt      *time.Time
	Items       []OrderItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProductIDs возвращает уникальные идентификаторы товаров в порядке первого появления.
func (o *Order) ProductIDs() []string {
	ids := make([]string, 0, len(o.Items))
	seen := make(map[string]struct{}, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrStatusInvalid)
	}
	if o.TotalAmount < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	// Итоги должны совпадать с суммами по позициям.
	amount, qty, err := ComputeTotals(o.Items)
	if err != nil {
		return append(errs, err)
	}
	if amount != o.TotalAmount {
		errs = append(errs, ErrAmountMismatch)
	}
	if qty != o.TotalItems {
		errs = append(errs, ErrTotalItemsMismatch)
	}

	return errs
}

// ComputeTotals считает сумму price×quantity и общее количество по позициям.
// Если сумма не помещается в int64 или количество в int32, возвращает ErrTotalsOverflow.
func ComputeTotals(items []OrderItem) (int64, int32, error) {
	var amount, qty int64
	for _, item := range items {
		line, ok := mulInt64(item.Price, int64(item.Quantity))
		if !ok {
			return 0, 0, ErrTotalsOverflow
		}
		if amount, ok = addInt64(amount, line); !ok {
			return 0, 0, ErrTotalsOverflow
		}
		qty += int64(item.Quantity)
		if qty > math.MaxInt32 || qty < math.MinInt32 {
			return 0, 0, ErrTotalsOverflow
		}
	}
	return amount, int32(qty), nil
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	c := a * b
	return c, c/b == a
}

func addInt64(a, b int64) (int64, bool) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, false
	}
	return c, true
}
