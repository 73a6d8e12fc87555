package domain

// Product: товар, принадлежащий сервису продуктов.
type Product struct {
	ID    string
	Name  string
	Price int64
}

// ProductSet индексирует товары по идентификатору.
type ProductSet map[string]Product

// NewProductSet строит индекс по списку товаров.
func NewProductSet(products []Product) ProductSet {
	set := make(ProductSet, len(products))
	for _, p := range products {
		set[p.ID] = p
	}
	return set
}

// Lookup возвращает товар или ErrProductNotFound.
func (s ProductSet) Lookup(id string) (Product, error) {
	p, ok := s[id]
	if !ok {
		return Product{}, &ProductNotFoundError{ProductID: id}
	}
	return p, nil
}
