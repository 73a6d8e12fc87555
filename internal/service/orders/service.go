// Package orders реализует жизненный цикл заказа: создание с обогащением
// товарами, постраничный список, чтение одного заказа и смену статуса.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/rpcerror"
)

const tracerName = "github.com/vladislavdragonenkov/orders/internal/service/orders"

// ItemInput: позиция запроса на создание заказа.
type ItemInput struct {
	ProductID string
	Quantity  int32
}

// ListQuery задаёт страницу и необязательный фильтр статуса.
type ListQuery struct {
	Page   int
	Limit  int
	Status *domain.OrderStatus
}

// OrderView: заказ с названиями товаров и историей статусов.
type OrderView struct {
	domain.Order
	Timeline []domain.TimelineEvent
}

// Service управляет заказами поверх хранилища и сервиса продуктов.
type Service struct {
	repo    domain.OrderRepository
	catalog domain.ProductCatalog

	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository

	metrics *metrics.OrderMetrics
	tracer  trace.Tracer
	logger  *log.Entry
	now     func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithTimeline включает запись истории статусов.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(s *Service) { s.timeline = repo }
}

// WithOutbox включает постановку событий заказа в outbox.
func WithOutbox(repo domain.OutboxRepository) Option {
	return func(s *Service) { s.outbox = repo }
}

func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(tr trace.Tracer) Option {
	return func(s *Service) { s.tracer = tr }
}

func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock подменяет источник времени (используется в тестах).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService конструирует сервис; timeline, outbox и метрики необязательны.
func NewService(repo domain.OrderRepository, catalog domain.ProductCatalog, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		catalog: catalog,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tracer == nil {
		s.tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}
	if s.logger == nil {
		s.logger = log.New().WithField("component", "orders-service")
	}
	return s
}

// Create проверяет товары одним вызовом сервиса продуктов, считает итоги
// и атомарно сохраняет заказ с позициями. Возвращает заказ с названиями товаров.
func (s *Service) Create(ctx context.Context, items []ItemInput) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.Create", trace.WithAttributes(attribute.Int("order.items", len(items))))
	defer span.End()

	order, err := s.create(ctx, items)
	if err != nil {
		return domain.Order{}, s.fail(span, "Create", "", err)
	}
	span.SetAttributes(attribute.String("order.id", order.ID))
	return order, nil
}

func (s *Service) create(ctx context.Context, items []ItemInput) (domain.Order, error) {
	if err := validateItems(items); err != nil {
		return domain.Order{}, err
	}

	ids := distinctProductIDs(items)
	products, err := s.lookup(ctx, ids)
	if err != nil {
		return domain.Order{}, err
	}
	set := domain.NewProductSet(products)

	now := s.now()
	order := domain.Order{
		ID:        uuid.NewString(),
		Status:    domain.OrderStatusPending,
		Items:     make([]domain.OrderItem, 0, len(items)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, in := range items {
		product, err := set.Lookup(in.ProductID)
		if err != nil {
			return domain.Order{}, err
		}
		order.Items = append(order.Items, domain.OrderItem{
			ID:        uuid.NewString(),
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			Price:     product.Price,
			CreatedAt: now,
		})
	}
	if order.TotalAmount, order.TotalItems, err = domain.ComputeTotals(order.Items); err != nil {
		return domain.Order{}, domain.NewValidationError(err)
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, domain.NewValidationError(errs...)
	}

	if err := s.repo.Create(ctx, order); err != nil {
		return domain.Order{}, storeError("create order", err)
	}

	// Названия берём из того же ответа, повторный вызов не нужен.
	for i := range order.Items {
		order.Items[i].Name = set[order.Items[i].ProductID].Name
	}

	s.appendTimeline(ctx, order.ID, order.Status, order.CreatedAt)
	s.enqueue(ctx, order.ID, domain.EventTypeOrderCreated, domain.OrderCreatedEvent{
		OrderID:     order.ID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		TotalItems:  order.TotalItems,
		CreatedAt:   order.CreatedAt,
	})
	s.metrics.RecordOrderCreated()

	s.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"total_amount": order.TotalAmount,
		"total_items":  order.TotalItems,
	}).Info("order created")

	return order, nil
}

// FindOne возвращает заказ с названиями товаров и историей статусов.
func (s *Service) FindOne(ctx context.Context, id string) (OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.FindOne", trace.WithAttributes(attribute.String("order.id", id)))
	defer span.End()

	view, err := s.findOne(ctx, id)
	if err != nil {
		return OrderView{}, s.fail(span, "FindOne", id, err)
	}
	return view, nil
}

func (s *Service) findOne(ctx context.Context, id string) (OrderView, error) {
	order, err := s.load(ctx, id)
	if err != nil {
		return OrderView{}, err
	}

	ids := order.ProductIDs()
	if len(ids) > 0 {
		products, err := s.lookup(ctx, ids)
		if err != nil {
			return OrderView{}, err
		}
		set := domain.NewProductSet(products)
		for i := range order.Items {
			product, err := set.Lookup(order.Items[i].ProductID)
			if err != nil {
				return OrderView{}, err
			}
			order.Items[i].Name = product.Name
		}
	}

	return OrderView{Order: order, Timeline: s.listTimeline(ctx, order.ID)}, nil
}

// FindAll возвращает страницу заказов без обогащения.
// Total не зависит от окна выборки, LastPage = ceil(Total/Limit).
func (s *Service) FindAll(ctx context.Context, query ListQuery) (domain.OrderPage, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.FindAll")
	defer span.End()

	page, err := s.findAll(ctx, query)
	if err != nil {
		return domain.OrderPage{}, s.fail(span, "FindAll", "", err)
	}
	span.SetAttributes(attribute.Int("orders.total", page.Meta.Total))
	return page, nil
}

func (s *Service) findAll(ctx context.Context, query ListQuery) (domain.OrderPage, error) {
	if query.Page <= 0 {
		query.Page = domain.DefaultPage
	}
	if query.Limit <= 0 {
		query.Limit = domain.DefaultLimit
	}
	if query.Status != nil && !query.Status.Valid() {
		return domain.OrderPage{}, domain.NewValidationError(domain.ErrStatusInvalid)
	}

	total, err := s.repo.Count(ctx, query.Status)
	if err != nil {
		return domain.OrderPage{}, storeError("count orders", err)
	}

	orders, err := s.repo.List(ctx, domain.OrderFilter{
		Status: query.Status,
		Offset: domain.Offset(query.Page, query.Limit),
		Limit:  query.Limit,
	})
	if err != nil {
		return domain.OrderPage{}, storeError("list orders", err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}

	return domain.OrderPage{
		Data: orders,
		Meta: domain.PageMeta{
			Page:     query.Page,
			Total:    total,
			LastPage: domain.LastPage(total, query.Limit),
		},
	}, nil
}

// ChangeStatus переводит заказ в новый статус. Тот же статус возвращается
// без записи в хранилище; товары при этом не запрашиваются.
func (s *Service) ChangeStatus(ctx context.Context, id string, status domain.OrderStatus) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ChangeStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status", string(status)),
	))
	defer span.End()

	order, _, err := s.changeStatus(ctx, id, status, time.Time{})
	if err != nil {
		return domain.Order{}, s.fail(span, "ChangeStatus", id, err)
	}
	return order, nil
}

// MarkPaid применяет событие успешной оплаты. Возвращает false, если заказ уже оплачен.
func (s *Service) MarkPaid(ctx context.Context, event domain.PaymentSucceededEvent) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.MarkPaid", trace.WithAttributes(attribute.String("order.id", event.OrderID)))
	defer span.End()

	if event.OrderID == "" {
		return false, s.fail(span, "MarkPaid", "", domain.NewValidationError(errors.New("orderId should not be empty")))
	}

	_, changed, err := s.changeStatus(ctx, event.OrderID, domain.OrderStatusPaid, event.PaidAt)
	if err != nil {
		return false, s.fail(span, "MarkPaid", event.OrderID, err)
	}
	return changed, nil
}

func (s *Service) changeStatus(ctx context.Context, id string, status domain.OrderStatus, at time.Time) (domain.Order, bool, error) {
	if !status.Valid() {
		return domain.Order{}, false, domain.NewValidationError(domain.ErrStatusInvalid)
	}

	current, err := s.load(ctx, id)
	if err != nil {
		return domain.Order{}, false, err
	}
	if current.Status == status {
		return current, false, nil
	}

	if at.IsZero() {
		at = s.now()
	}
	update := domain.StatusUpdate{ID: id, Status: status, UpdatedAt: s.now()}
	if status == domain.OrderStatusPaid {
		paidAt := at.UTC()
		update.Paid = true
		update.PaidAt = &paidAt
	}

	updated, err := s.repo.UpdateStatus(ctx, update)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, false, &domain.OrderNotFoundError{OrderID: id}
		}
		return domain.Order{}, false, storeError("update order status", err)
	}

	s.appendTimeline(ctx, id, status, update.UpdatedAt)
	s.enqueue(ctx, id, domain.EventTypeOrderStatusChanged, domain.OrderStatusChangedEvent{
		OrderID:   id,
		From:      string(current.Status),
		To:        string(updated.Status),
		Paid:      updated.Paid,
		ChangedAt: update.UpdatedAt,
	})
	s.metrics.RecordStatusChanged(string(status))

	s.logger.WithFields(log.Fields{
		"order_id": id,
		"from":     current.Status,
		"to":       updated.Status,
	}).Info("order status changed")

	return updated, true, nil
}

func (s *Service) load(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.repo.Get(ctx, id)
	if err == nil {
		return order, nil
	}
	if errors.Is(err, domain.ErrOrderNotFound) {
		return domain.Order{}, &domain.OrderNotFoundError{OrderID: id}
	}
	return domain.Order{}, storeError("load order", err)
}

// lookup вызывает сервис продуктов; любой отказ приводится к *domain.LookupError.
func (s *Service) lookup(ctx context.Context, ids []string) ([]domain.Product, error) {
	started := time.Now()
	products, err := s.catalog.Validate(ctx, ids)
	s.metrics.RecordLookup(err == nil, time.Since(started))
	if err == nil {
		return products, nil
	}

	var lookupErr *domain.LookupError
	if errors.As(err, &lookupErr) {
		return nil, err
	}
	return nil, &domain.LookupError{StatusCode: http.StatusBadRequest, Err: err}
}

func (s *Service) appendTimeline(ctx context.Context, orderID string, status domain.OrderStatus, occurred time.Time) {
	if s.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  orderID,
		Type:     domain.TimelineEventStatusChanged,
		Reason:   status,
		Occurred: occurred,
	}
	if err := s.timeline.Append(ctx, event); err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append status timeline")
		return
	}
	s.metrics.RecordTimelineEvent()
}

func (s *Service) listTimeline(ctx context.Context, orderID string) []domain.TimelineEvent {
	if s.timeline == nil {
		return nil
	}
	events, err := s.timeline.List(ctx, orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to list timeline events")
		return nil
	}
	return events
}

func (s *Service) enqueue(ctx context.Context, orderID, eventType string, payload any) {
	if s.outbox == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to encode outbox payload")
		return
	}
	msg := domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       body,
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Warn("failed to enqueue outbox message")
		return
	}
	s.metrics.RecordOutboxEvent()
}

// fail отмечает ошибку в span, метриках и логе и возвращает её без изменений.
func (s *Service) fail(span trace.Span, operation, orderID string, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())

	code := rpcerror.FromError(err).StatusCode
	s.metrics.RecordOperationError(operation, code)

	entry := s.logger.WithError(err).WithFields(log.Fields{
		"operation":   operation,
		"status_code": code,
	})
	if orderID != "" {
		entry = entry.WithField("order_id", orderID)
	}
	if code >= http.StatusInternalServerError {
		entry.Error("order operation failed")
	} else {
		entry.Debug("order operation rejected")
	}
	return err
}

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistence, err)
}

func validateItems(items []ItemInput) error {
	if len(items) == 0 {
		return domain.NewValidationError(domain.ErrItemsRequired)
	}
	var errs []error
	for i, item := range items {
		if item.ProductID == "" {
			errs = append(errs, fmt.Errorf("items.%d: %w", i, domain.ErrProductIDRequired))
		}
		if item.Quantity <= 0 {
			errs = append(errs, fmt.Errorf("items.%d: %w", i, domain.ErrItemQtyInvalid))
		}
	}
	if len(errs) > 0 {
		return domain.NewValidationError(errs...)
	}
	return nil
}

func distinctProductIDs(items []ItemInput) []string {
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}
