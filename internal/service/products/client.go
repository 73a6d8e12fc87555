// Package products реализует domain.ProductCatalog: gRPC-клиент сервиса продуктов
// и статический каталог для локального запуска.
package products

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/rpcerror"
	productsv1 "github.com/vladislavdragonenkov/orders/proto/products/v1"
)

// DefaultTimeout ограничивает один вызов ValidateProducts.
const DefaultTimeout = 3 * time.Second

// GRPCClient ходит в products.v1.ProductService.
type GRPCClient struct {
	client  productsv1.ProductServiceClient
	timeout time.Duration
	logger  *log.Entry
}

// Dial открывает соединение к сервису продуктов без TLS (внутренняя сеть).
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial products service %s: %w", target, err)
	}
	return conn, nil
}

// NewGRPCClient строит клиента поверх готового соединения.
func NewGRPCClient(conn grpc.ClientConnInterface, timeout time.Duration, logger *log.Entry) *GRPCClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New().WithField("component", "products-client")
	}
	return &GRPCClient{
		client:  productsv1.NewProductServiceClient(conn),
		timeout: timeout,
		logger:  logger,
	}
}

// Validate запрашивает товары по идентификаторам одним вызовом.
func (c *GRPCClient) Validate(ctx context.Context, ids []string) ([]domain.Product, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.ValidateProducts(callCtx, &productsv1.ValidateProductsRequest{IDs: ids})
	if err != nil {
		lookupErr := toLookupError(err)
		c.logger.WithError(err).WithFields(log.Fields{
			"product_ids": ids,
			"status_code": lookupErr.StatusCode,
		}).Warn("product lookup failed")
		return nil, lookupErr
	}

	products := make([]domain.Product, 0, len(resp.Products))
	for _, p := range resp.Products {
		if p == nil {
			continue
		}
		products = append(products, domain.Product{ID: p.ID, Name: p.Name, Price: p.Price})
	}
	return products, nil
}

// toLookupError сохраняет payload удалённой стороны как есть; без payload код 400.
func toLookupError(err error) *domain.LookupError {
	st := status.Convert(err)
	lookupErr := &domain.LookupError{
		StatusCode: http.StatusBadRequest,
		Message:    st.Message(),
		Err:        err,
	}
	if payload, ok := rpcerror.PayloadFromStatus(st); ok {
		lookupErr.StatusCode = payload.StatusCode
		lookupErr.Message = payload.Text()
		lookupErr.RemoteMessage = payload.Message
		lookupErr.RemoteError = payload.Error
	}
	return lookupErr
}

var _ domain.ProductCatalog = (*GRPCClient)(nil)
