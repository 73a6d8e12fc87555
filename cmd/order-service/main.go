package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/app"
	"github.com/vladislavdragonenkov/orders/internal/version"
)

// loadConfig читает конфигурацию из файла (-config) и переменных окружения ORDERS_*
// и настраивает логгер по ней.
func loadConfig(args []string) (app.Config, error) {
	fs := flag.NewFlagSet("order-service", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("ORDERS_CONFIG"), "path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return app.Config{}, err
	}

	cfg, err := app.LoadConfig(*configPath, log.WithField("component", "config"))
	if err != nil {
		return app.Config{}, err
	}
	if err := app.ConfigureLogger(cfg); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Fields()).WithFields(log.Fields{
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"kafka_enabled":  cfg.KafkaEnabled(),
	}).Info("запускаем OrderService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("OrderService остановлен")
}
