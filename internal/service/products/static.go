package products

import (
	"context"
	"net/http"
	"sync"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// msgSomeProductsNotFound: сообщение сервиса продуктов, когда часть id не найдена.
const msgSomeProductsNotFound = "Some products were not found"

// StaticCatalog: in-memory каталог с тем же контрактом, что и сервис продуктов:
// если хотя бы один id неизвестен, вызов отклоняется целиком с кодом 400.
type StaticCatalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

// NewStaticCatalog создаёт каталог из списка товаров.
func NewStaticCatalog(products ...domain.Product) *StaticCatalog {
	c := &StaticCatalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

// Put добавляет или заменяет товар.
func (c *StaticCatalog) Put(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *StaticCatalog) Validate(ctx context.Context, ids []string) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.LookupError{StatusCode: http.StatusBadRequest, Message: err.Error(), Err: err}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{}, len(ids))
	result := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		p, ok := c.products[id]
		if !ok {
			return nil, &domain.LookupError{StatusCode: http.StatusBadRequest, Message: msgSomeProductsNotFound}
		}
		result = append(result, p)
	}
	return result, nil
}

// DemoProducts: товары для локального запуска без сервиса продуктов.
func DemoProducts() []domain.Product {
	return []domain.Product{
		{ID: "1", Name: "Mouse", Price: 1500},
		{ID: "2", Name: "Keyboard", Price: 4500},
		{ID: "3", Name: "Monitor", Price: 25000},
	}
}

var _ domain.ProductCatalog = (*StaticCatalog)(nil)
