package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/metrics"
)

// PaymentApplier отмечает заказ оплаченным.
type PaymentApplier interface {
	MarkPaid(ctx context.Context, event domain.PaymentSucceededEvent) (bool, error)
}

// Результаты обработки payment.succeeded для метрик.
const (
	paymentResultApplied = "applied"
	paymentResultSkipped = "skipped"
	paymentResultError   = "error"
)

// NewPaymentHandler возвращает обработчик topic платежей. События других типов
// пропускаются, неизвестный заказ и невалидные данные считаются неисправимыми.
func NewPaymentHandler(applier PaymentApplier, m *metrics.OrderMetrics, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-consumer")
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		env, err := ParseEnvelope(message)
		if err != nil {
			m.RecordPaymentEvent(paymentResultError)
			return err
		}
		if env.EventType != domain.EventTypePaymentSucceeded {
			logger.WithField("event_type", env.EventType).Debug("skip unrelated payment event")
			return nil
		}

		event, err := DecodePaymentSucceeded(env)
		if err != nil {
			m.RecordPaymentEvent(paymentResultError)
			return err
		}

		changed, err := applier.MarkPaid(ctx, event)
		switch {
		case err == nil:
		case domain.IsNotFound(err), errors.Is(err, domain.ErrValidation):
			m.RecordPaymentEvent(paymentResultError)
			return errors.Join(ErrUnprocessableMessage, err)
		default:
			m.RecordPaymentEvent(paymentResultError)
			return err
		}

		result := paymentResultSkipped
		if changed {
			result = paymentResultApplied
		}
		m.RecordPaymentEvent(result)
		logger.WithFields(log.Fields{
			"order_id":   event.OrderID,
			"payment_id": event.PaymentID,
			"result":     result,
		}).Info("payment event processed")
		return nil
	}
}
