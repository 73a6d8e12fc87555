package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

// kafkaRuntime объединяет producer событий заказов и consumer платежей.
type kafkaRuntime struct {
	producer  *kafka.Producer
	publisher *kafka.OutboxTopicPublisher
	dlq       *kafka.OutboxTopicPublisher
	consumer  *kafka.Consumer
}

// initKafkaProducer создаёт producer и паблишеры событий. Пустой список брокеров, nil, nil.
func initKafkaProducer(cfg Config, logger *log.Entry) (*kafkaRuntime, error) {
	brokers := cfg.KafkaBrokerList()
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, cfg.KafkaClientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return &kafkaRuntime{
		producer:  producer,
		publisher: kafka.NewOutboxPublisher(producer, cfg.KafkaOrderTopic),
		dlq:       kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
	}, nil
}

// attachPaymentConsumer подписывает applier на topic платежей; DLQ, через общий producer.
func attachPaymentConsumer(rt *kafkaRuntime, cfg Config, applier kafka.PaymentApplier, orderMetrics *metrics.OrderMetrics, logger *log.Entry) error {
	consumer, err := kafka.NewConsumer(
		cfg.KafkaBrokerList(),
		cfg.KafkaConsumerGroup,
		[]string{cfg.KafkaPaymentTopic},
		kafka.NewPaymentHandler(applier, orderMetrics, logger.WithField("component", "payment-consumer")),
		kafka.WithDLQ(rt.producer),
		kafka.WithMaxRetries(cfg.KafkaConsumerMaxRetries),
		kafka.WithRetryDelay(cfg.KafkaConsumerRetryDelay),
		kafka.WithConsumerLogger(logger.WithField("component", "kafka-consumer")),
	)
	if err != nil {
		return err
	}
	rt.consumer = consumer
	return nil
}

// closeKafka останавливает consumer и закрывает producer; nil допустим.
func closeKafka(rt *kafkaRuntime, logger *log.Entry) {
	if rt == nil {
		return
	}
	if rt.consumer != nil {
		if err := rt.consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
	if rt.producer != nil {
		if err := rt.producer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			logger.Info("kafka producer closed")
		}
	}
}
