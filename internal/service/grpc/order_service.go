package grpcsvc

import (
	"context"
	"errors"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/validation"
	ordersv1 "github.com/vladislavdragonenkov/orders/proto/orders/v1"
)

// OrderService реализует gRPC API поверх сервиса жизненного цикла заказов.
// Ошибки возвращаются доменными; в статус gRPC их переводит rpcerror.UnaryServerInterceptor.
type OrderService struct {
	ordersv1.UnimplementedOrderServiceServer

	orders    *orders.Service
	validator *validation.Validator
	idemRepo  domain.IdempotencyRepository
	logger    *log.Entry
}

// NewOrderService конструирует сервис; idemRepo может быть nil, тогда ключ идемпотентности игнорируется.
func NewOrderService(svc *orders.Service, idemRepo domain.IdempotencyRepository, logger *log.Entry) *OrderService {
	if logger == nil {
		logger = log.New().WithField("component", "grpc-order-service")
	}
	return &OrderService{
		orders:    svc,
		validator: validation.New(),
		idemRepo:  idemRepo,
		logger:    logger,
	}
}

var errRequestRequired = errors.New("request is required")

// CreateOrder создаёт заказ; при наличии idempotency-key повтор возвращает сохранённый результат.
func (s *OrderService) CreateOrder(ctx context.Context, req *ordersv1.CreateOrderRequest) (*ordersv1.Order, error) {
	if req == nil {
		return nil, domain.NewValidationError(errRequestRequired)
	}

	return withIdempotency(s, ctx, ordersv1.OrderService_CreateOrder_FullMethodName, req,
		func(ctx context.Context) (*ordersv1.Order, error) {
			if err := s.validator.Struct(req); err != nil {
				return nil, err
			}

			items := make([]orders.ItemInput, 0, len(req.Items))
			for _, item := range req.Items {
				items = append(items, orders.ItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
			}

			order, err := s.orders.Create(ctx, items)
			if err != nil {
				return nil, err
			}
			return toOrderDTO(order, nil), nil
		},
	)
}

// FindAllOrders возвращает страницу заказов; page и limit по умолчанию 1 и 10.
func (s *OrderService) FindAllOrders(ctx context.Context, req *ordersv1.FindAllOrdersRequest) (*ordersv1.FindAllOrdersResponse, error) {
	query := ordersv1.FindAllOrdersRequest{Page: domain.DefaultPage, Limit: domain.DefaultLimit}
	if req != nil {
		query.Status = req.Status
		if req.Page != 0 {
			query.Page = req.Page
		}
		if req.Limit != 0 {
			query.Limit = req.Limit
		}
	}
	if err := s.validator.Struct(&query); err != nil {
		return nil, err
	}

	listQuery := orders.ListQuery{Page: int(query.Page), Limit: int(query.Limit)}
	if query.Status != "" {
		status := domain.OrderStatus(query.Status)
		listQuery.Status = &status
	}

	page, err := s.orders.FindAll(ctx, listQuery)
	if err != nil {
		return nil, err
	}

	data := make([]*ordersv1.Order, 0, len(page.Data))
	for _, order := range page.Data {
		data = append(data, toOrderDTO(order, nil))
	}
	return &ordersv1.FindAllOrdersResponse{
		Data: data,
		Meta: &ordersv1.PageMeta{
			Page:     clampInt32(page.Meta.Page),
			Total:    int64(page.Meta.Total),
			LastPage: int64(page.Meta.LastPage),
		},
	}, nil
}

// FindOneOrder возвращает заказ с названиями товаров и историей статусов.
func (s *OrderService) FindOneOrder(ctx context.Context, req *ordersv1.FindOneOrderRequest) (*ordersv1.Order, error) {
	if req == nil {
		return nil, domain.NewValidationError(errRequestRequired)
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	view, err := s.orders.FindOne(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return toOrderDTO(view.Order, view.Timeline), nil
}

// ChangeOrderStatus меняет статус заказа.
func (s *OrderService) ChangeOrderStatus(ctx context.Context, req *ordersv1.ChangeOrderStatusRequest) (*ordersv1.Order, error) {
	if req == nil {
		return nil, domain.NewValidationError(errRequestRequired)
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	order, err := s.orders.ChangeStatus(ctx, req.ID, domain.OrderStatus(req.Status))
	if err != nil {
		return nil, err
	}
	return toOrderDTO(order, nil), nil
}

func toOrderDTO(order domain.Order, timeline []domain.TimelineEvent) *ordersv1.Order {
	dto := &ordersv1.Order{
		ID:          order.ID,
		TotalAmount: order.TotalAmount,
		TotalItems:  order.TotalItems,
		Status:      string(order.Status),
		Paid:        order.Paid,
		PaidAt:      order.PaidAt,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
	for _, item := range order.Items {
		dto.Items = append(dto.Items, &ordersv1.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Name:      item.Name,
		})
	}
	for _, event := range timeline {
		dto.Timeline = append(dto.Timeline, &ordersv1.TimelineEvent{
			Type:     event.Type,
			Reason:   string(event.Reason),
			Occurred: event.Occurred,
		})
	}
	return dto
}

func clampInt32(v int) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v) //nolint:gosec // ограничено выше.
}
