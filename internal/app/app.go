package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
	"github.com/vladislavdragonenkov/orders/internal/observability"
	"github.com/vladislavdragonenkov/orders/internal/rpcerror"
	grpcsvc "github.com/vladislavdragonenkov/orders/internal/service/grpc"
	"github.com/vladislavdragonenkov/orders/internal/service/idempotency"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
	"github.com/vladislavdragonenkov/orders/internal/service/outbox"
	"github.com/vladislavdragonenkov/orders/internal/service/products"
	"github.com/vladislavdragonenkov/orders/internal/version"
	ordersv1 "github.com/vladislavdragonenkov/orders/proto/orders/v1"
	productsv1 "github.com/vladislavdragonenkov/orders/proto/products/v1"
)

// Run поднимает gRPC сервер заказов, HTTP сервер метрик и health, фоновые воркеры
// и блокируется до отмены ctx или падения gRPC сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithFields(version.Fields()).WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage(deps, logger)

	catalog, err := initProductCatalog(cfg, logger)
	if err != nil {
		return err
	}
	defer closeCatalog(catalog, logger)

	tracerProvider, shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    version.ServiceName,
		ServiceVersion: version.GetVersion(),
		Environment:    cfg.Environment,
		Exporter:       cfg.TracingExporter,
		Endpoint:       cfg.TracingEndpoint,
		Insecure:       cfg.TracingInsecure,
		SampleRatio:    cfg.TracingSampleRatio,
	}, logger.WithField("component", "tracing"))
	if err != nil {
		return err
	}
	defer shutdownTracingProvider(shutdownTracing, logger)

	orderMetrics := metrics.NewOrderMetrics()
	serviceOpts := []orders.Option{
		orders.WithTimeline(deps.timelineRepo),
		orders.WithMetrics(orderMetrics),
		orders.WithTracer(tracerProvider.Tracer(version.ServiceName)),
		orders.WithLogger(logger.WithField("component", "orders-service")),
	}

	kafkaRT, err := initKafkaProducer(cfg, logger)
	if err != nil {
		logger.WithError(err).Warn("continuing without kafka")
	}
	if kafkaRT != nil {
		// Без Kafka события некому публиковать, outbox не пишется.
		serviceOpts = append(serviceOpts, orders.WithOutbox(deps.outboxRepo))
	}
	svc := orders.NewService(deps.repo, catalog.catalog, serviceOpts...)
	if kafkaRT != nil {
		if err := attachPaymentConsumer(kafkaRT, cfg, svc, orderMetrics, logger); err != nil {
			logger.WithError(err).Warn("payment consumer is disabled")
		}
	}

	orderService := grpcsvc.NewOrderService(svc, deps.idempotencyRepo, logger.WithField("layer", "grpc"))
	grpcServer, grpcMetrics := newGRPCServer(cfg, logger)
	ordersv1.RegisterOrderServiceServer(grpcServer, orderService)
	if catalog.static != nil {
		productsv1.RegisterProductServiceServer(grpcServer, products.NewCatalogServer(catalog.static))
	}
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ordersv1.OrderService_ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	if catalog.checker != nil {
		healthHandler.RegisterChecker("products", catalog.checker)
	}

	workersCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	startWorkers(workersCtx, &workers, cfg, deps, kafkaRT, logger)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		stopWorkers()
		workers.Wait()
		closeKafka(kafkaRT, logger)
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		healthServer.Shutdown()
		stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
		serveErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			serveErr = err
		}
	}

	stopWorkers()
	workers.Wait()
	closeKafka(kafkaRT, logger)
	shutdownHTTP(metricsSrv, logger)
	return serveErr
}

func newGRPCServer(cfg Config, logger *log.Entry) (*grpc.Server, *promgrpc.ServerMetrics) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	interceptors := []grpc.UnaryServerInterceptor{
		grpcMetrics.UnaryServerInterceptor(),
		rpcerror.UnaryServerInterceptor(logger.WithField("component", "rpc-errors")),
	}
	if cfg.RateLimitRPS > 0 {
		limiter := grpcsvc.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		interceptors = append(interceptors, limiter.UnaryServerInterceptor())
	}

	return grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...)), grpcMetrics
}

// startWorkers запускает outbox и очистку idempotency-ключей, а при наличии Kafka, consumer платежей.
func startWorkers(ctx context.Context, wg *sync.WaitGroup, cfg Config, deps *runtimeDependencies, kafkaRT *kafkaRuntime, logger *log.Entry) {
	cleanup := idempotency.NewCleanupWorker(
		deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(metrics.NewCleanupMetrics(prometheus.DefaultRegisterer)),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Run(ctx)
	}()

	if kafkaRT == nil {
		return
	}

	worker := outbox.NewWorker(
		deps.outboxRepo,
		kafkaRT.publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithMetrics(metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)),
		outbox.WithDLQPublisher(kafkaRT.dlq),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	if kafkaRT.consumer != nil {
		if err := kafkaRT.consumer.Start(ctx); err != nil {
			logger.WithError(err).Warn("failed to start payment consumer")
		}
	}
}

// stopGRPC ждёт завершения активных RPC не дольше timeout, затем рвёт соединения.
func stopGRPC(server *grpc.Server, timeout time.Duration, logger *log.Entry) {
	stoppedCh := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stoppedCh)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-stoppedCh:
	case <-timer.C:
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчики /metrics и health-проб.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}

func closeStorage(deps *runtimeDependencies, logger *log.Entry) {
	if deps == nil || deps.closeFn == nil {
		return
	}
	if err := deps.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

func closeCatalog(catalog *productCatalog, logger *log.Entry) {
	if catalog == nil || catalog.closeFn == nil {
		return
	}
	if err := catalog.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close products connection")
	}
}

func shutdownTracingProvider(shutdown observability.ShutdownFunc, logger *log.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.WithError(err).Warn("failed to flush traces")
	}
}
