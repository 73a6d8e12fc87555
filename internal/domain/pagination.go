package domain

const (
	// DefaultPage: страница по умолчанию.
	DefaultPage = 1
	// DefaultLimit: размер страницы по умолчанию.
	DefaultLimit = 10
)

// PageMeta описывает окно выборки в ответе списка.
type PageMeta struct {
	Page     int
	Total    int
	LastPage int
}

// OrderPage: результат постраничного запроса заказов.
type OrderPage struct {
	Data []Order
	Meta PageMeta
}

// Offset возвращает смещение для страницы page при размере limit.
func Offset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

// LastPage считает ceil(total/limit); при пустой выборке, 0.
func LastPage(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
