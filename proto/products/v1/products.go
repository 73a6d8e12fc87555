// Package productsv1 описывает gRPC-контракт products.v1.ProductService.
package productsv1

// ValidateProductsRequest: список идентификаторов товаров для проверки.
type ValidateProductsRequest struct {
	IDs []string `json:"ids"`
}

type Product struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// ValidateProductsResponse содержит найденные товары.
type ValidateProductsResponse struct {
	Products []*Product `json:"products"`
}
