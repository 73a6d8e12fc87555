package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// orderRepositoryInMemory: in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		orders: make(map[string]domain.Order),
	}
}

// Create сохраняет заказ вместе с позициями одной операцией под блокировкой.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	r.orders[order.ID] = cloneOrder(order, true)
	return nil
}

// Get возвращает копию заказа или ErrOrderNotFound.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order, true), nil
}

// List возвращает окно заказов без позиций, от новых к старым.
func (r *orderRepositoryInMemory) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := r.matching(filter.Status)
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []domain.Order{}, nil
	}
	matched = matched[offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	result := make([]domain.Order, 0, len(matched))
	for _, order := range matched {
		result = append(result, cloneOrder(order, false))
	}
	return result, nil
}

// Count считает заказы по фильтру статуса.
func (r *orderRepositoryInMemory) Count(_ context.Context, status *domain.OrderStatus) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.matching(status)), nil
}

// UpdateStatus перезаписывает статус без проверки версии.
func (r *orderRepositoryInMemory) UpdateStatus(_ context.Context, update domain.StatusUpdate) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[update.ID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	order.Status = update.Status
	if update.Paid {
		order.Paid = true
		order.PaidAt = copyTime(update.PaidAt)
	}
	order.UpdatedAt = update.UpdatedAt
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = time.Now().UTC()
	}
	r.orders[order.ID] = order

	return cloneOrder(order, true), nil
}

func (r *orderRepositoryInMemory) matching(status *domain.OrderStatus) []domain.Order {
	result := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if status != nil && order.Status != *status {
			continue
		}
		result = append(result, order)
	}
	return result
}

// cloneOrder отдаёт копию, чтобы вызывающий код не мутировал хранилище.
func cloneOrder(src domain.Order, withItems bool) domain.Order {
	dst := src
	dst.PaidAt = copyTime(src.PaidAt)
	dst.Items = nil
	if withItems {
		dst.Items = make([]domain.OrderItem, len(src.Items))
		copy(dst.Items, src.Items)
		for i := range dst.Items {
			dst.Items[i].Name = ""
		}
	}
	return dst
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
