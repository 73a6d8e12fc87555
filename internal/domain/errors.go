package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrItemsRequired: в заказе нет ни одной позиции.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// ErrItemQtyInvalid: количество товара в позиции <= 0.
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// ErrItemPriceInvalid: отрицательная цена позиции.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// ErrProductIDRequired: у позиции не указан товар.
	ErrProductIDRequired = errors.New("item productId is required")
	// ErrAmountNegative: отрицательная сумма заказа.
	ErrAmountNegative = errors.New("totalAmount must be non-negative")
	// ErrAmountMismatch: сумма заказа не сходится с позициями.
	ErrAmountMismatch = errors.New("order totalAmount does not match items sum")
	// ErrTotalItemsMismatch: количество товаров не сходится с позициями.
	ErrTotalItemsMismatch = errors.New("order totalItems does not match items quantity")
	// ErrTotalsOverflow: сумма или количество по позициям не помещаются в поля заказа.
	ErrTotalsOverflow = errors.New("order totals overflow")
	// ErrStatusInvalid: статус вне перечисления OrderStatus.
	ErrStatusInvalid = errors.New("order status is invalid")
	// ErrValidation: входные данные не прошли проверку формы.
	ErrValidation = errors.New("validation failed")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists: заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrPersistence: хранилище не смогло выполнить операцию.
	ErrPersistence = errors.New("order store failure")

	// ErrProductNotFound: товар позиции отсутствует в ответе сервиса продуктов.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductLookupFailed: вызов сервиса продуктов завершился ошибкой.
	ErrProductLookupFailed = errors.New("product lookup failed")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// OrderNotFoundError уточняет ErrOrderNotFound идентификатором заказа.
type OrderNotFoundError struct {
	OrderID string
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("Order with id %s not found", e.OrderID)
}

// Is позволяет сравнивать через errors.Is(err, ErrOrderNotFound).
func (e *OrderNotFoundError) Is(target error) bool {
	return target == ErrOrderNotFound
}

// ProductNotFoundError уточняет ErrProductNotFound идентификатором товара.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product with id %s not found", e.ProductID)
}

// Is позволяет сравнивать через errors.Is(err, ErrProductNotFound).
func (e *ProductNotFoundError) Is(target error) bool {
	return target == ErrProductNotFound
}

// LookupError описывает отказ сервиса продуктов.
// StatusCode: код из нормализованной ошибки удалённой стороны, 0 если неизвестен.
// RemoteMessage и RemoteError хранят поля ответа удалённой стороны в исходной форме.
type LookupError struct {
	StatusCode int
	Message    string
	Err        error

	RemoteMessage any
	RemoteError   any
}

func (e *LookupError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return ErrProductLookupFailed.Error()
	}
	return ErrProductLookupFailed.Error() + ": " + msg
}

func (e *LookupError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProductLookupFailed}
	}
	return []error{ErrProductLookupFailed, e.Err}
}

// ValidationError собирает все замечания к входным данным.
type ValidationError struct {
	Messages []string

	causes []error
}

// NewValidationError строит ValidationError из списка ошибок.
func NewValidationError(errs ...error) *ValidationError {
	messages := make([]string, 0, len(errs))
	causes := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			messages = append(messages, err.Error())
			causes = append(causes, err)
		}
	}
	return &ValidationError{Messages: messages, causes: causes}
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return ErrValidation.Error()
	}
	return strings.Join(e.Messages, "; ")
}

// Is позволяет сравнивать через errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Unwrap отдаёт исходные ошибки, из которых собраны сообщения.
func (e *ValidationError) Unwrap() []error {
	return e.causes
}

// IsNotFound проверяет, что ошибка означает отсутствие заказа.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}
