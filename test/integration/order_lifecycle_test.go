package integration

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/rpcerror"
	grpcsvc "github.com/vladislavdragonenkov/orders/internal/service/grpc"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/service/outbox"
	"github.com/vladislavdragonenkov/orders/internal/service/products"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
	ordersv1 "github.com/vladislavdragonenkov/orders/proto/orders/v1"
	productsv1 "github.com/vladislavdragonenkov/orders/proto/products/v1"
)

const bufSize = 1024 * 1024

// OrderLifecycleTestSuite прогоняет заказ через gRPC сервер, удалённый каталог,
// outbox с публикацией в Kafka и приём события оплаты.
type OrderLifecycleTestSuite struct {
	suite.Suite

	client  ordersv1.OrderServiceClient
	service *orders.Service
	outbox  *memory.OutboxRepository
	catalog *products.StaticCatalog
	metrics *metrics.OrderMetrics

	closers []func()
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	s.catalog = products.NewStaticCatalog(
		domain.Product{ID: "P1", Name: "A", Price: 10},
		domain.Product{ID: "P2", Name: "B", Price: 5},
	)
	productsServer := grpc.NewServer(grpc.ChainUnaryInterceptor(rpcerror.UnaryServerInterceptor(logger)))
	productsv1.RegisterProductServiceServer(productsServer, products.NewCatalogServer(s.catalog))
	productsConn := s.serve(productsServer)

	s.outbox = memory.NewOutboxRepository()
	s.metrics = metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry())
	s.service = orders.NewService(
		memory.NewOrderRepository(),
		products.NewGRPCClient(productsConn, time.Second, logger),
		orders.WithTimeline(memory.NewTimelineRepository()),
		orders.WithOutbox(s.outbox),
		orders.WithMetrics(s.metrics),
		orders.WithLogger(logger),
	)

	ordersServer := grpc.NewServer(grpc.ChainUnaryInterceptor(rpcerror.UnaryServerInterceptor(logger)))
	ordersv1.RegisterOrderServiceServer(ordersServer, grpcsvc.NewOrderService(s.service, memory.NewIdempotencyRepository(), logger))
	s.client = ordersv1.NewOrderServiceClient(s.serve(ordersServer))
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

func (s *OrderLifecycleTestSuite) serve(server *grpc.Server) *grpc.ClientConn {
	listener := bufconn.Listen(bufSize)
	go func() { _ = server.Serve(listener) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	s.Require().NoError(err)

	s.closers = append(s.closers, func() {
		_ = conn.Close()
		server.Stop()
	})
	return conn
}

func (s *OrderLifecycleTestSuite) createDefaultOrder(ctx context.Context) *ordersv1.Order {
	order, err := s.client.CreateOrder(ctx, &ordersv1.CreateOrderRequest{
		Items: []*ordersv1.OrderItemInput{
			{ProductID: "P1", Quantity: 2},
			{ProductID: "P2", Quantity: 1},
		},
	})
	s.Require().NoError(err)
	return order
}

// recordingProducer: Kafka producer на sarama mocks, запоминающий отправленные конверты.
func (s *OrderLifecycleTestSuite) recordingProducer(expected int) (*kafka.Producer, func() []kafka.Envelope) {
	var (
		mu        sync.Mutex
		envelopes []kafka.Envelope
	)
	mockProducer := mocks.NewSyncProducer(s.T(), nil)
	for i := 0; i < expected; i++ {
		mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			var env kafka.Envelope
			if err := json.Unmarshal(val, &env); err != nil {
				return err
			}
			mu.Lock()
			envelopes = append(envelopes, env)
			mu.Unlock()
			return nil
		})
	}
	producer := kafka.NewProducerFromSync(mockProducer, nil)
	s.closers = append(s.closers, func() { _ = producer.Close() })

	return producer, func() []kafka.Envelope {
		mu.Lock()
		defer mu.Unlock()
		return append([]kafka.Envelope(nil), envelopes...)
	}
}

func paymentMessage(t *testing.T, orderID string, paidAt time.Time) *sarama.ConsumerMessage {
	t.Helper()

	payload, err := json.Marshal(domain.PaymentSucceededEvent{OrderID: orderID, PaymentID: "pay-1", PaidAt: paidAt})
	require.NoError(t, err)
	value, err := json.Marshal(kafka.Envelope{
		ID:            "payment-evt-1",
		AggregateType: "payment",
		AggregateID:   orderID,
		EventType:     domain.EventTypePaymentSucceeded,
		Payload:       payload,
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: kafka.TopicPaymentEvents, Key: []byte(orderID), Value: value}
}

func (s *OrderLifecycleTestSuite) TestCreateEnrichAndPay() {
	ctx := context.Background()

	created := s.createDefaultOrder(ctx)
	s.Require().Equal(int64(25), created.TotalAmount)
	s.Require().Equal(int32(3), created.TotalItems)
	s.Require().Equal(string(domain.OrderStatusPending), created.Status)
	s.Require().False(created.Paid)

	found, err := s.client.FindOneOrder(ctx, &ordersv1.FindOneOrderRequest{ID: created.ID})
	s.Require().NoError(err)
	s.Require().Len(found.Items, 2)
	names := map[string]string{}
	for _, item := range found.Items {
		names[item.ProductID] = item.Name
	}
	s.Require().Equal(map[string]string{"P1": "A", "P2": "B"}, names)

	// order.created уходит в Kafka через outbox
	producer, published := s.recordingProducer(2)
	worker := outbox.NewWorker(s.outbox, kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents))
	s.Require().Equal(1, worker.ProcessOnce(ctx))

	// оплата приходит из топика платежей
	paidAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	handler := kafka.NewPaymentHandler(s.service, s.metrics, nil)
	s.Require().NoError(handler(ctx, paymentMessage(s.T(), created.ID, paidAt)))
	s.Require().NoError(handler(ctx, paymentMessage(s.T(), created.ID, paidAt)), "redelivery must be a no-op")

	paid, err := s.client.FindOneOrder(ctx, &ordersv1.FindOneOrderRequest{ID: created.ID})
	s.Require().NoError(err)
	s.Require().Equal(string(domain.OrderStatusPaid), paid.Status)
	s.Require().True(paid.Paid)
	s.Require().NotNil(paid.PaidAt)
	s.Require().True(paid.PaidAt.Equal(paidAt))

	reasons := make([]string, 0, len(paid.Timeline))
	for _, event := range paid.Timeline {
		reasons = append(reasons, event.Reason)
	}
	s.Require().Equal([]string{string(domain.OrderStatusPending), string(domain.OrderStatusPaid)}, reasons)

	s.Require().Equal(1, worker.ProcessOnce(ctx))
	envelopes := published()
	s.Require().Len(envelopes, 2)
	s.Require().Equal(domain.EventTypeOrderCreated, envelopes[0].EventType)
	s.Require().Equal(domain.EventTypeOrderStatusChanged, envelopes[1].EventType)
	for _, env := range envelopes {
		s.Require().Equal(created.ID, env.AggregateID)
	}
}

func (s *OrderLifecycleTestSuite) TestUnknownProductPersistsNothing() {
	ctx := context.Background()

	_, err := s.client.CreateOrder(ctx, &ordersv1.CreateOrderRequest{
		Items: []*ordersv1.OrderItemInput{{ProductID: "P1", Quantity: 1}, {ProductID: "missing", Quantity: 1}},
	})
	s.Require().Error(err)
	s.Require().Equal(codes.InvalidArgument, status.Code(err))
	payload, ok := rpcerror.PayloadFromStatus(status.Convert(err))
	s.Require().True(ok)
	s.Require().Equal(rpcerror.Payload{StatusCode: 400, Message: "Some products were not found"}, payload)

	page, err := s.client.FindAllOrders(ctx, &ordersv1.FindAllOrdersRequest{})
	s.Require().NoError(err)
	s.Require().Zero(page.Meta.Total)
	s.Require().Empty(page.Data)

	stats, err := s.outbox.Stats(ctx)
	s.Require().NoError(err)
	s.Require().Zero(stats.PendingCount)
}

func (s *OrderLifecycleTestSuite) TestPaginationAndFilter() {
	ctx := context.Background()

	ids := make([]string, 0, 11)
	for i := 0; i < 11; i++ {
		ids = append(ids, s.createDefaultOrder(ctx).ID)
	}
	_, err := s.client.ChangeOrderStatus(ctx, &ordersv1.ChangeOrderStatusRequest{ID: ids[0], Status: string(domain.OrderStatusCancelled)})
	s.Require().NoError(err)

	page, err := s.client.FindAllOrders(ctx, &ordersv1.FindAllOrdersRequest{Page: 2, Limit: 5})
	s.Require().NoError(err)
	s.Require().Len(page.Data, 5)
	s.Require().Equal(int32(2), page.Meta.Page)
	s.Require().Equal(int64(11), page.Meta.Total)
	s.Require().Equal(int64(3), page.Meta.LastPage)

	cancelled, err := s.client.FindAllOrders(ctx, &ordersv1.FindAllOrdersRequest{Status: string(domain.OrderStatusCancelled)})
	s.Require().NoError(err)
	s.Require().Len(cancelled.Data, 1)
	s.Require().Equal(ids[0], cancelled.Data[0].ID)
	s.Require().Equal(int64(1), cancelled.Meta.LastPage)
}

func (s *OrderLifecycleTestSuite) TestProductsServiceDown() {
	ctx := context.Background()
	created := s.createDefaultOrder(ctx)

	// закрываем products-сервер; заказы читаются, но без обогащения
	s.closers[0]()
	s.closers[0] = func() {}

	callCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := s.client.FindOneOrder(callCtx, &ordersv1.FindOneOrderRequest{ID: created.ID})
	s.Require().Error(err)
	payload, ok := rpcerror.PayloadFromStatus(status.Convert(err))
	s.Require().True(ok)
	s.Require().Equal(http.StatusBadRequest, payload.StatusCode)
	s.Require().Equal(codes.InvalidArgument, status.Code(err))

	// смена статуса от каталога не зависит
	changed, err := s.client.ChangeOrderStatus(callCtx, &ordersv1.ChangeOrderStatusRequest{ID: created.ID, Status: string(domain.OrderStatusDelivered)})
	s.Require().NoError(err)
	s.Require().Equal(string(domain.OrderStatusDelivered), changed.Status)
}

func (s *OrderLifecycleTestSuite) TestIdempotentCreate() {
	ctx := metadata.AppendToOutgoingContext(context.Background(), "idempotency-key", "lifecycle-key")

	first := s.createDefaultOrder(ctx)
	second := s.createDefaultOrder(ctx)
	s.Require().Equal(first.ID, second.ID)

	page, err := s.client.FindAllOrders(context.Background(), &ordersv1.FindAllOrdersRequest{})
	s.Require().NoError(err)
	s.Require().Equal(int64(1), page.Meta.Total)
}

func TestOrderLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
