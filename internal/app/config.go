package app

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	envPrefix = "ORDERS"
)

// Config описывает настройки запуска сервиса заказов.
// Ключи совпадают с тегами mapstructure; переменные окружения, ORDERS_<КЛЮЧ>.
type Config struct {
	Environment string `mapstructure:"environment"`

	GRPCAddr        string        `mapstructure:"grpc_addr"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	StorageDriver           string        `mapstructure:"storage_driver"`
	PostgresDSN             string        `mapstructure:"postgres_dsn"`
	PostgresAutoMigrate     bool          `mapstructure:"postgres_auto_migrate"`
	PostgresMaxOpenConns    int           `mapstructure:"postgres_max_open_conns"`
	PostgresMaxIdleConns    int           `mapstructure:"postgres_max_idle_conns"`
	PostgresConnMaxLifetime time.Duration `mapstructure:"postgres_conn_max_lifetime"`

	// ProductsAddr: адрес products.v1.ProductService; пустой включает встроенный демо-каталог.
	ProductsAddr    string        `mapstructure:"products_addr"`
	ProductsTimeout time.Duration `mapstructure:"products_timeout"`

	// KafkaBrokers: список через запятую; пустой отключает публикацию и приём событий.
	KafkaBrokers            string        `mapstructure:"kafka_brokers"`
	KafkaClientID           string        `mapstructure:"kafka_client_id"`
	KafkaOrderTopic         string        `mapstructure:"kafka_order_topic"`
	KafkaPaymentTopic       string        `mapstructure:"kafka_payment_topic"`
	KafkaConsumerGroup      string        `mapstructure:"kafka_consumer_group"`
	KafkaConsumerMaxRetries int           `mapstructure:"kafka_consumer_max_retries"`
	KafkaConsumerRetryDelay time.Duration `mapstructure:"kafka_consumer_retry_delay"`

	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxBatchSize    int           `mapstructure:"outbox_batch_size"`
	OutboxMaxAttempts  int           `mapstructure:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `mapstructure:"outbox_retry_delay"`

	IdempotencyCleanupInterval  time.Duration `mapstructure:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatchSize int           `mapstructure:"idempotency_cleanup_batch_size"`

	// RateLimitRPS <= 0 отключает ограничение.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	TracingExporter    string  `mapstructure:"tracing_exporter"`
	TracingEndpoint    string  `mapstructure:"tracing_endpoint"`
	TracingInsecure    bool    `mapstructure:"tracing_insecure"`
	TracingSampleRatio float64 `mapstructure:"tracing_sample_ratio"`
}

// DefaultConfig возвращает настройки локального запуска: память, демо-каталог, без Kafka.
func DefaultConfig() Config {
	return Config{
		Environment: "local",

		GRPCAddr:        ":50051",
		MetricsAddr:     ":9090",
		ShutdownTimeout: 5 * time.Second,

		LogLevel:  "info",
		LogFormat: "text",

		StorageDriver:           StorageDriverMemory,
		PostgresAutoMigrate:     true,
		PostgresMaxOpenConns:    25,
		PostgresMaxIdleConns:    25,
		PostgresConnMaxLifetime: 30 * time.Minute,

		ProductsTimeout: 3 * time.Second,

		KafkaClientID:           "order-service",
		KafkaOrderTopic:         "orders.events",
		KafkaPaymentTopic:       "payments.events",
		KafkaConsumerGroup:      "order-service",
		KafkaConsumerMaxRetries: 3,
		KafkaConsumerRetryDelay: 200 * time.Millisecond,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		RateLimitRPS:   100,
		RateLimitBurst: 200,

		TracingExporter:    "none",
		TracingInsecure:    true,
		TracingSampleRatio: 1,
	}
}

// LoadConfig читает конфигурацию: значения по умолчанию, затем YAML-файл (если задан,
// отсутствующий файл, ошибка), затем переменные окружения ORDERS_*. Некорректные значения заменяются на умолчания
// с предупреждением в лог.
func LoadConfig(path string, logger *log.Entry) (Config, error) {
	if logger == nil {
		logger = log.WithField("component", "config")
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		logger.WithField("path", v.ConfigFileUsed()).Debug("config file loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg, warnings := cfg.Normalize()
	for _, warning := range warnings {
		logger.Warn(warning)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("environment", cfg.Environment)
	v.SetDefault("grpc_addr", cfg.GRPCAddr)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)

	v.SetDefault("storage_driver", cfg.StorageDriver)
	v.SetDefault("postgres_dsn", cfg.PostgresDSN)
	v.SetDefault("postgres_auto_migrate", cfg.PostgresAutoMigrate)
	v.SetDefault("postgres_max_open_conns", cfg.PostgresMaxOpenConns)
	v.SetDefault("postgres_max_idle_conns", cfg.PostgresMaxIdleConns)
	v.SetDefault("postgres_conn_max_lifetime", cfg.PostgresConnMaxLifetime)

	v.SetDefault("products_addr", cfg.ProductsAddr)
	v.SetDefault("products_timeout", cfg.ProductsTimeout)

	v.SetDefault("kafka_brokers", cfg.KafkaBrokers)
	v.SetDefault("kafka_client_id", cfg.KafkaClientID)
	v.SetDefault("kafka_order_topic", cfg.KafkaOrderTopic)
	v.SetDefault("kafka_payment_topic", cfg.KafkaPaymentTopic)
	v.SetDefault("kafka_consumer_group", cfg.KafkaConsumerGroup)
	v.SetDefault("kafka_consumer_max_retries", cfg.KafkaConsumerMaxRetries)
	v.SetDefault("kafka_consumer_retry_delay", cfg.KafkaConsumerRetryDelay)

	v.SetDefault("outbox_poll_interval", cfg.OutboxPollInterval)
	v.SetDefault("outbox_batch_size", cfg.OutboxBatchSize)
	v.SetDefault("outbox_max_attempts", cfg.OutboxMaxAttempts)
	v.SetDefault("outbox_retry_delay", cfg.OutboxRetryDelay)

	v.SetDefault("idempotency_cleanup_interval", cfg.IdempotencyCleanupInterval)
	v.SetDefault("idempotency_cleanup_batch_size", cfg.IdempotencyCleanupBatchSize)

	v.SetDefault("rate_limit_rps", cfg.RateLimitRPS)
	v.SetDefault("rate_limit_burst", cfg.RateLimitBurst)

	v.SetDefault("tracing_exporter", cfg.TracingExporter)
	v.SetDefault("tracing_endpoint", cfg.TracingEndpoint)
	v.SetDefault("tracing_insecure", cfg.TracingInsecure)
	v.SetDefault("tracing_sample_ratio", cfg.TracingSampleRatio)
}

// Normalize заменяет недопустимые значения умолчаниями и возвращает предупреждения.
// Выбор драйвера хранилища не исправляется: неизвестный драйвер, ошибка запуска.
func (c Config) Normalize() (Config, []string) {
	def := DefaultConfig()
	var warnings []string

	fixDuration := func(name string, value *time.Duration, fallback time.Duration) {
		if *value <= 0 {
			warnings = append(warnings, fmt.Sprintf("%s must be positive, got %s; using %s", name, *value, fallback))
			*value = fallback
		}
	}
	fixInt := func(name string, value *int, fallback int) {
		if *value <= 0 {
			warnings = append(warnings, fmt.Sprintf("%s must be positive, got %d; using %d", name, *value, fallback))
			*value = fallback
		}
	}

	if strings.TrimSpace(c.GRPCAddr) == "" {
		warnings = append(warnings, fmt.Sprintf("grpc_addr is empty; using %s", def.GRPCAddr))
		c.GRPCAddr = def.GRPCAddr
	}
	fixDuration("shutdown_timeout", &c.ShutdownTimeout, def.ShutdownTimeout)
	fixDuration("products_timeout", &c.ProductsTimeout, def.ProductsTimeout)
	fixDuration("outbox_poll_interval", &c.OutboxPollInterval, def.OutboxPollInterval)
	fixDuration("idempotency_cleanup_interval", &c.IdempotencyCleanupInterval, def.IdempotencyCleanupInterval)
	fixInt("outbox_batch_size", &c.OutboxBatchSize, def.OutboxBatchSize)
	fixInt("outbox_max_attempts", &c.OutboxMaxAttempts, def.OutboxMaxAttempts)
	fixInt("idempotency_cleanup_batch_size", &c.IdempotencyCleanupBatchSize, def.IdempotencyCleanupBatchSize)

	if c.OutboxRetryDelay < 0 {
		warnings = append(warnings, fmt.Sprintf("outbox_retry_delay must be >= 0, got %s; using %s", c.OutboxRetryDelay, def.OutboxRetryDelay))
		c.OutboxRetryDelay = def.OutboxRetryDelay
	}
	if c.KafkaConsumerMaxRetries < 0 {
		warnings = append(warnings, fmt.Sprintf("kafka_consumer_max_retries must be >= 0, got %d; using %d", c.KafkaConsumerMaxRetries, def.KafkaConsumerMaxRetries))
		c.KafkaConsumerMaxRetries = def.KafkaConsumerMaxRetries
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		warnings = append(warnings, fmt.Sprintf("rate_limit_burst must be positive when rate limiting is on, got %d; using %d", c.RateLimitBurst, def.RateLimitBurst))
		c.RateLimitBurst = def.RateLimitBurst
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing_sample_ratio must be within [0,1], got %g; using %g", c.TracingSampleRatio, def.TracingSampleRatio))
		c.TracingSampleRatio = def.TracingSampleRatio
	}

	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	if c.StorageDriver == "" {
		c.StorageDriver = def.StorageDriver
	}
	return c, warnings
}

// KafkaEnabled сообщает, заданы ли брокеры Kafka.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokerList()) > 0
}

// KafkaBrokerList разбирает KafkaBrokers, отбрасывая пустые элементы.
func (c Config) KafkaBrokerList() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// ConfigureLogger настраивает глобальный logrus по уровню и формату из конфигурации.
func ConfigureLogger(cfg Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	return nil
}
