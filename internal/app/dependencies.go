package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/orders/internal/health"
	"github.com/vladislavdragonenkov/orders/internal/service/products"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
	"github.com/vladislavdragonenkov/orders/internal/storage/postgres"
)

var (
	errPostgresDSNRequired = errors.New("postgres dsn is required for postgres storage driver")
	errProductsUnavailable = errors.New("products service connection is not ready")
)

// runtimeDependencies: хранилища выбранного драйвера и их health-проверка.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			repo:            memory.NewOrderRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			timelineRepo:    memory.NewTimelineRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
		}, nil
	case StorageDriverPostgres:
		return initPostgresDependencies(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	dsn := strings.TrimSpace(cfg.PostgresDSN)
	if dsn == "" {
		return nil, errPostgresDSNRequired
	}

	store, err := postgres.OpenWithPool(ctx, dsn, postgres.PoolConfig{
		MaxOpenConns:    cfg.PostgresMaxOpenConns,
		MaxIdleConns:    cfg.PostgresMaxIdleConns,
		ConnMaxLifetime: cfg.PostgresConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	logger.Info("using postgres storage")
	return &runtimeDependencies{
		repo:            postgres.NewOrderRepository(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewPingChecker("postgres", store),
		closeFn:         store.Close,
	}, nil
}

// productCatalog: источник товаров и, для удалённого сервиса, его соединение.
type productCatalog struct {
	catalog domain.ProductCatalog
	// static задан, когда каталог встроенный; он же обслуживает products.v1 на нашем сервере.
	static  *products.StaticCatalog
	checker healthcheck.Checker
	closeFn func() error
}

func initProductCatalog(cfg Config, logger *log.Entry) (*productCatalog, error) {
	addr := strings.TrimSpace(cfg.ProductsAddr)
	if addr == "" {
		static := products.NewStaticCatalog(products.DemoProducts()...)
		logger.Warn("products_addr is empty, serving built-in demo catalog")
		return &productCatalog{catalog: static, static: static}, nil
	}

	conn, err := products.Dial(addr)
	if err != nil {
		return nil, err
	}
	logger.WithField("addr", addr).Info("products client initialized")
	return &productCatalog{
		catalog: products.NewGRPCClient(conn, cfg.ProductsTimeout, logger.WithField("component", "products-client")),
		checker: healthcheck.NewOptionalChecker("products", func(context.Context) error {
			return connReady(conn)
		}),
		closeFn: conn.Close,
	}, nil
}

// connReady считает соединение неготовым только в состояниях сбоя и закрытия;
// Idle означает, что вызовов ещё не было.
func connReady(conn *grpc.ClientConn) error {
	state := conn.GetState()
	if state == connectivity.TransientFailure || state == connectivity.Shutdown {
		return fmt.Errorf("%w: %s", errProductsUnavailable, state)
	}
	return nil
}
