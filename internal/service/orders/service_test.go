package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/rpcerror"
	"github.com/vladislavdragonenkov/orders/internal/service/products"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

func loggerForTests() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "orders-test")
}

// countingRepo считает обращения к хранилищу.
type countingRepo struct {
	domain.OrderRepository

	mu      sync.Mutex
	updates int
	creates int
}

func (r *countingRepo) Create(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	r.creates++
	r.mu.Unlock()
	return r.OrderRepository.Create(ctx, order)
}

func (r *countingRepo) UpdateStatus(ctx context.Context, update domain.StatusUpdate) (domain.Order, error) {
	r.mu.Lock()
	r.updates++
	r.mu.Unlock()
	return r.OrderRepository.UpdateStatus(ctx, update)
}

// catalogFunc позволяет подставить произвольный ответ сервиса продуктов.
type catalogFunc func(ctx context.Context, ids []string) ([]domain.Product, error)

func (f catalogFunc) Validate(ctx context.Context, ids []string) ([]domain.Product, error) {
	return f(ctx, ids)
}

type fixture struct {
	svc      *Service
	repo     *countingRepo
	catalog  *products.StaticCatalog
	timeline domain.TimelineRepository
	outbox   *memory.OutboxRepository
}

// steppingClock возвращает возрастающее время, чтобы порядок заказов был детерминированным.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()

	f := fixture{
		repo:     &countingRepo{OrderRepository: memory.NewOrderRepository()},
		catalog:  products.NewStaticCatalog(domain.Product{ID: "P1", Name: "A", Price: 10}, domain.Product{ID: "P2", Name: "B", Price: 5}),
		timeline: memory.NewTimelineRepository(),
		outbox:   memory.NewOutboxRepository(),
	}
	base := []Option{
		WithTimeline(f.timeline),
		WithOutbox(f.outbox),
		WithLogger(loggerForTests()),
		WithMetrics(metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry())),
		WithClock(steppingClock()),
	}
	f.svc = NewService(f.repo, f.catalog, append(base, opts...)...)
	return f
}

func TestCreate_ComputesTotalsAndEnriches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.svc.Create(ctx, []ItemInput{
		{ProductID: "P1", Quantity: 2},
		{ProductID: "P2", Quantity: 1},
	})
	require.NoError(t, err)
	require.NotEmpty(t, order.ID)
	require.Equal(t, int64(25), order.TotalAmount)
	require.Equal(t, int32(3), order.TotalItems)
	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.False(t, order.Paid)
	require.Len(t, order.Items, 2)
	require.Equal(t, "A", order.Items[0].Name)
	require.Equal(t, int64(10), order.Items[0].Price)
	require.Equal(t, "B", order.Items[1].Name)

	view, err := f.svc.FindOne(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, int64(25), view.TotalAmount)
	require.Equal(t, int32(3), view.TotalItems)
	names := map[string]string{}
	for _, item := range view.Items {
		names[item.ProductID] = item.Name
	}
	require.Equal(t, map[string]string{"P1": "A", "P2": "B"}, names)
	require.Len(t, view.Timeline, 1)
	require.Equal(t, domain.OrderStatusPending, view.Timeline[0].Reason)

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventTypeOrderCreated, pending[0].EventType)
	require.Equal(t, order.ID, pending[0].AggregateID)

	var event domain.OrderCreatedEvent
	require.NoError(t, json.Unmarshal(pending[0].Payload, &event))
	require.Equal(t, int64(25), event.TotalAmount)
}

func TestCreate_TotalsOverManyItems(t *testing.T) {
	f := newFixture(t)
	f.catalog.Put(domain.Product{ID: "P3", Name: "C", Price: 1999})

	order, err := f.svc.Create(context.Background(), []ItemInput{
		{ProductID: "P3", Quantity: 3},
		{ProductID: "P1", Quantity: 4},
		{ProductID: "P3", Quantity: 1},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3*1999+4*10+1999), order.TotalAmount)
	require.Equal(t, int32(8), order.TotalItems)
	require.Len(t, order.Items, 3)
}

func TestCreate_DeduplicatesProductLookup(t *testing.T) {
	var calls [][]string
	catalog := catalogFunc(func(_ context.Context, ids []string) ([]domain.Product, error) {
		calls = append(calls, append([]string(nil), ids...))
		return []domain.Product{{ID: "P1", Name: "A", Price: 10}}, nil
	})
	svc := NewService(memory.NewOrderRepository(), catalog, WithLogger(loggerForTests()))

	_, err := svc.Create(context.Background(), []ItemInput{
		{ProductID: "P1", Quantity: 1},
		{ProductID: "P1", Quantity: 2},
	})
	require.NoError(t, err)
	require.Equal(t, [][]string{{"P1"}}, calls)
}

func TestCreate_UnresolvableProductPersistsNothing(t *testing.T) {
	t.Run("lookup rejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.svc.Create(context.Background(), []ItemInput{
			{ProductID: "P1", Quantity: 1},
			{ProductID: "missing", Quantity: 1},
		})
		require.Error(t, err)
		require.ErrorIs(t, err, domain.ErrProductLookupFailed)
		require.Equal(t, 400, rpcerror.FromError(err).StatusCode)
		require.Zero(t, f.repo.creates)
		require.Empty(t, f.outbox.AllPending())
	})

	t.Run("product absent from response", func(t *testing.T) {
		repo := &countingRepo{OrderRepository: memory.NewOrderRepository()}
		catalog := catalogFunc(func(_ context.Context, _ []string) ([]domain.Product, error) {
			return []domain.Product{{ID: "P1", Name: "A", Price: 10}}, nil
		})
		svc := NewService(repo, catalog, WithLogger(loggerForTests()))

		_, err := svc.Create(context.Background(), []ItemInput{
			{ProductID: "P1", Quantity: 1},
			{ProductID: "P2", Quantity: 1},
		})
		require.ErrorIs(t, err, domain.ErrProductNotFound)
		require.Zero(t, repo.creates)

		total, err := repo.Count(context.Background(), nil)
		require.NoError(t, err)
		require.Zero(t, total)
	})
}

func TestCreate_TotalsOverflowIsRejected(t *testing.T) {
	repo := &countingRepo{OrderRepository: memory.NewOrderRepository()}
	catalog := products.NewStaticCatalog(
		domain.Product{ID: "A", Name: "a", Price: 1},
		domain.Product{ID: "B", Name: "b", Price: 1},
		domain.Product{ID: "X", Name: "x", Price: math.MaxInt64},
	)
	svc := NewService(repo, catalog, WithLogger(loggerForTests()))

	cases := map[string][]ItemInput{
		"total items": {{ProductID: "A", Quantity: math.MaxInt32}, {ProductID: "B", Quantity: math.MaxInt32}},
		"amount":      {{ProductID: "X", Quantity: 2}},
	}
	for name, items := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), items)
			require.ErrorIs(t, err, domain.ErrTotalsOverflow)
			require.ErrorIs(t, err, domain.ErrValidation)
			require.Equal(t, 400, rpcerror.FromError(err).StatusCode)
		})
	}

	require.Zero(t, repo.creates)
	total, err := repo.Count(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestCreate_RemoteStatusCodeIsPreserved(t *testing.T) {
	catalog := catalogFunc(func(_ context.Context, _ []string) ([]domain.Product, error) {
		return nil, &domain.LookupError{StatusCode: 404, Message: "Product not found"}
	})
	svc := NewService(memory.NewOrderRepository(), catalog, WithLogger(loggerForTests()))

	_, err := svc.Create(context.Background(), []ItemInput{{ProductID: "P1", Quantity: 1}})
	require.Equal(t, 404, rpcerror.FromError(err).StatusCode)
}

func TestCreate_UntypedCatalogErrorBecomesLookupError(t *testing.T) {
	catalog := catalogFunc(func(_ context.Context, _ []string) ([]domain.Product, error) {
		return nil, errors.New("connection refused")
	})
	svc := NewService(memory.NewOrderRepository(), catalog, WithLogger(loggerForTests()))

	_, err := svc.Create(context.Background(), []ItemInput{{ProductID: "P1", Quantity: 1}})
	var lookupErr *domain.LookupError
	require.ErrorAs(t, err, &lookupErr)
	require.Equal(t, 400, lookupErr.StatusCode)
}

func TestCreate_RejectsInvalidItems(t *testing.T) {
	cases := []struct {
		name  string
		items []ItemInput
		want  error
	}{
		{"no items", nil, domain.ErrItemsRequired},
		{"zero quantity", []ItemInput{{ProductID: "P1", Quantity: 0}}, domain.ErrItemQtyInvalid},
		{"empty product", []ItemInput{{Quantity: 1}}, domain.ErrProductIDRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), tc.items)
			require.ErrorIs(t, err, domain.ErrValidation)

			var validationErr *domain.ValidationError
			require.ErrorAs(t, err, &validationErr)
			require.Contains(t, validationErr.Error(), tc.want.Error())
			require.Zero(t, f.repo.creates)
		})
	}
}

func TestFindOne_MissingOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.FindOne(context.Background(), "3f1c9a9e-1111-4a4a-8b8b-000000000000")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	p := rpcerror.FromError(err)
	require.Equal(t, 404, p.StatusCode)
	require.Equal(t, "Order with id 3f1c9a9e-1111-4a4a-8b8b-000000000000 not found", p.Text())
}

func TestFindOne_LookupFailure(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.Create(context.Background(), []ItemInput{{ProductID: "P1", Quantity: 1}})
	require.NoError(t, err)

	failing := NewService(f.repo, catalogFunc(func(_ context.Context, _ []string) ([]domain.Product, error) {
		return nil, &domain.LookupError{StatusCode: 503, Message: "unavailable"}
	}), WithLogger(loggerForTests()))

	_, err = failing.FindOne(context.Background(), order.ID)
	require.ErrorIs(t, err, domain.ErrProductLookupFailed)
	require.Equal(t, 503, rpcerror.FromError(err).StatusCode)
}

func TestFindOne_ProductRemovedAfterCreate(t *testing.T) {
	f := newFixture(t)
	order, err := f.svc.Create(context.Background(), []ItemInput{{ProductID: "P1", Quantity: 1}})
	require.NoError(t, err)

	empty := NewService(f.repo, catalogFunc(func(_ context.Context, _ []string) ([]domain.Product, error) {
		return nil, nil
	}), WithLogger(loggerForTests()))

	_, err = empty.FindOne(context.Background(), order.ID)
	require.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestChangeStatus_SameStatusSkipsStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.svc.Create(ctx, []ItemInput{{ProductID: "P1", Quantity: 1}})
	require.NoError(t, err)

	got, err := f.svc.ChangeStatus(ctx, order.ID, domain.OrderStatusPending)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, got.Status)
	require.Zero(t, f.repo.updates)
	require.Len(t, f.outbox.AllPending(), 1)
}

func TestChangeStatus_UpdatesWithoutLookup(t *testing.T) {
	repo := &countingRepo{OrderRepository: memory.NewOrderRepository()}
	var lookups int
	catalog := catalogFunc(func(_ context.Context, _ []string) ([]domain.Product, error) {
		lookups++
		return []domain.Product{{ID: "P1", Name: "A", Price: 10}}, nil
	})
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()
	svc := NewService(repo, catalog,
		WithLogger(loggerForTests()),
		WithOutbox(outbox),
		WithTimeline(timeline),
		WithClock(steppingClock()),
	)
	ctx := context.Background()

	order, err := svc.Create(ctx, []ItemInput{{ProductID: "P1", Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, 1, lookups)

	delivered, err := svc.ChangeStatus(ctx, order.ID, domain.OrderStatusDelivered)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusDelivered, delivered.Status)
	require.Equal(t, 1, repo.updates)
	require.Equal(t, 1, lookups)

	// Переход назад разрешён: машины состояний нет.
	back, err := svc.ChangeStatus(ctx, order.ID, domain.OrderStatusPending)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, back.Status)

	events, err := timeline.List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, domain.OrderStatusDelivered, events[1].Reason)

	pending := outbox.AllPending()
	require.Len(t, pending, 3)
	require.Equal(t, domain.EventTypeOrderStatusChanged, pending[1].EventType)

	var changed domain.OrderStatusChangedEvent
	require.NoError(t, json.Unmarshal(pending[1].Payload, &changed))
	require.Equal(t, "PENDING", changed.From)
	require.Equal(t, "DELIVERED", changed.To)
}

func TestChangeStatus_PaidSetsPaymentFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.svc.Create(ctx, []ItemInput{{ProductID: "P2", Quantity: 2}})
	require.NoError(t, err)

	paid, err := f.svc.ChangeStatus(ctx, order.ID, domain.OrderStatusPaid)
	require.NoError(t, err)
	require.True(t, paid.Paid)
	require.NotNil(t, paid.PaidAt)

	cancelled, err := f.svc.ChangeStatus(ctx, order.ID, domain.OrderStatusCancelled)
	require.NoError(t, err)
	require.True(t, cancelled.Paid)
}

func TestChangeStatus_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ChangeStatus(context.Background(), "missing", domain.OrderStatusPaid)
	require.Equal(t, 404, rpcerror.FromError(err).StatusCode)

	_, err = f.svc.ChangeStatus(context.Background(), "missing", domain.OrderStatus("SHIPPED"))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestMarkPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.svc.Create(ctx, []ItemInput{{ProductID: "P1", Quantity: 1}})
	require.NoError(t, err)

	paidAt := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	changed, err := f.svc.MarkPaid(ctx, domain.PaymentSucceededEvent{OrderID: order.ID, PaidAt: paidAt})
	require.NoError(t, err)
	require.True(t, changed)

	view, err := f.svc.FindOne(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, view.Status)
	require.NotNil(t, view.PaidAt)
	require.True(t, view.PaidAt.Equal(paidAt))

	changed, err = f.svc.MarkPaid(ctx, domain.PaymentSucceededEvent{OrderID: order.ID})
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, 1, f.repo.updates)

	_, err = f.svc.MarkPaid(ctx, domain.PaymentSucceededEvent{})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestFindAll_Pagination(t *testing.T) {
	for _, total := range []int{0, 5, 6, 11} {
		t.Run(fmt.Sprintf("total=%d", total), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			for i := 0; i < total; i++ {
				_, err := f.svc.Create(ctx, []ItemInput{{ProductID: "P1", Quantity: 1}})
				require.NoError(t, err)
			}

			page, err := f.svc.FindAll(ctx, ListQuery{Page: 2, Limit: 5})
			require.NoError(t, err)
			require.LessOrEqual(t, len(page.Data), 5)
			require.Equal(t, 2, page.Meta.Page)
			require.Equal(t, total, page.Meta.Total)
			require.Equal(t, (total+4)/5, page.Meta.LastPage)

			wantLen := total - 5
			if wantLen < 0 {
				wantLen = 0
			}
			if wantLen > 5 {
				wantLen = 5
			}
			require.Len(t, page.Data, wantLen)
			require.NotNil(t, page.Data)
		})
	}
}

func TestFindAll_DefaultsOrderingAndFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 12; i++ {
		order, err := f.svc.Create(ctx, []ItemInput{{ProductID: "P1", Quantity: 1}})
		require.NoError(t, err)
		ids = append(ids, order.ID)
	}
	_, err := f.svc.ChangeStatus(ctx, ids[0], domain.OrderStatusDelivered)
	require.NoError(t, err)
	_, err = f.svc.ChangeStatus(ctx, ids[1], domain.OrderStatusDelivered)
	require.NoError(t, err)

	page, err := f.svc.FindAll(ctx, ListQuery{})
	require.NoError(t, err)
	require.Len(t, page.Data, domain.DefaultLimit)
	require.Equal(t, 1, page.Meta.Page)
	require.Equal(t, 12, page.Meta.Total)
	require.Equal(t, 2, page.Meta.LastPage)
	require.Equal(t, ids[11], page.Data[0].ID)

	delivered := domain.OrderStatusDelivered
	filtered, err := f.svc.FindAll(ctx, ListQuery{Page: 1, Limit: 10, Status: &delivered})
	require.NoError(t, err)
	require.Equal(t, 2, filtered.Meta.Total)
	require.Equal(t, 1, filtered.Meta.LastPage)
	require.Equal(t, []string{ids[1], ids[0]}, []string{filtered.Data[0].ID, filtered.Data[1].ID})

	bogus := domain.OrderStatus("LOST")
	_, err = f.svc.FindAll(ctx, ListQuery{Status: &bogus})
	require.ErrorIs(t, err, domain.ErrValidation)
}

type failingRepo struct {
	domain.OrderRepository
}

func (failingRepo) Create(context.Context, domain.Order) error { return errors.New("disk full") }
func (failingRepo) Count(context.Context, *domain.OrderStatus) (int, error) {
	return 0, errors.New("connection reset")
}

func TestStoreFailuresBecomePersistenceErrors(t *testing.T) {
	catalog := products.NewStaticCatalog(domain.Product{ID: "P1", Name: "A", Price: 10})
	svc := NewService(failingRepo{OrderRepository: memory.NewOrderRepository()}, catalog, WithLogger(loggerForTests()))

	_, err := svc.Create(context.Background(), []ItemInput{{ProductID: "P1", Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrPersistence)
	require.Equal(t, 500, rpcerror.FromError(err).StatusCode)

	_, err = svc.FindAll(context.Background(), ListQuery{})
	require.ErrorIs(t, err, domain.ErrPersistence)
}

func TestSpansAreRecorded(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	f := newFixture(t, WithTracer(provider.Tracer("test")))

	_, err := f.svc.FindOne(context.Background(), "nope")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "OrderService.FindOne", spans[0].Name())
	require.Len(t, spans[0].Events(), 1)
}
