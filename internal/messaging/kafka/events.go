package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// Topics для Kafka.
const (
	TopicOrderEvents     = "orders.events"
	TopicPaymentEvents   = "payments.events"
	TopicDeadLetterQueue = "orders.dlq"
)

// Kafka headers.
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// ErrUnprocessableMessage: сообщение нельзя обработать ни с какой попытки, оно сразу уходит в DLQ.
var ErrUnprocessableMessage = errors.New("unprocessable kafka message")

// Envelope: конверт события в топиках сервиса.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope заворачивает outbox-сообщение в конверт.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	env := Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		PublishedAt:   publishedAt.UTC(),
	}
	if len(msg.Payload) > 0 {
		env.Payload = json.RawMessage(msg.Payload)
	}
	return env
}

// ParseEnvelope разбирает конверт из сообщения Kafka.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrUnprocessableMessage, err)
	}
	if env.EventType == "" {
		env.EventType = headerValue(message, HeaderEventType)
	}
	return env, nil
}

// DecodePaymentSucceeded извлекает событие оплаты из конверта.
func DecodePaymentSucceeded(env Envelope) (domain.PaymentSucceededEvent, error) {
	var event domain.PaymentSucceededEvent
	if len(env.Payload) == 0 {
		return event, fmt.Errorf("%w: empty payment payload", ErrUnprocessableMessage)
	}
	if err := json.Unmarshal(env.Payload, &event); err != nil {
		return event, fmt.Errorf("%w: %w", ErrUnprocessableMessage, err)
	}
	if event.OrderID == "" {
		event.OrderID = env.AggregateID
	}
	if event.OrderID == "" {
		return event, fmt.Errorf("%w: payment event without order id", ErrUnprocessableMessage)
	}
	return event, nil
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
