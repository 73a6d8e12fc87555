package products

import (
	"context"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/rpcerror"
	productsv1 "github.com/vladislavdragonenkov/orders/proto/products/v1"
)

// CatalogServer публикует любой domain.ProductCatalog как products.v1.ProductService.
// Используется для локального стенда и в тестах клиента.
type CatalogServer struct {
	productsv1.UnimplementedProductServiceServer

	catalog domain.ProductCatalog
}

func NewCatalogServer(catalog domain.ProductCatalog) *CatalogServer {
	return &CatalogServer{catalog: catalog}
}

func (s *CatalogServer) ValidateProducts(ctx context.Context, req *productsv1.ValidateProductsRequest) (*productsv1.ValidateProductsResponse, error) {
	found, err := s.catalog.Validate(ctx, req.IDs)
	if err != nil {
		return nil, rpcerror.ToStatus(rpcerror.FromError(err)).Err()
	}

	resp := &productsv1.ValidateProductsResponse{Products: make([]*productsv1.Product, 0, len(found))}
	for _, p := range found {
		resp.Products = append(resp.Products, &productsv1.Product{ID: p.ID, Name: p.Name, Price: p.Price})
	}
	return resp, nil
}
