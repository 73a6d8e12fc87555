// Package validation проверяет входящие RPC-запросы по struct-тегам `validate`.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

const orderStatusTag = "orderstatus"

// Validator оборачивает validator.Validate и переводит нарушения в domain.ValidationError.
// Безопасен для конкурентного использования.
type Validator struct {
	validate *validator.Validate
}

// New создаёт валидатор с правилами сервиса заказов.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(jsonFieldName)
	// Ошибка регистрации возможна только при пустом теге или nil-функции.
	_ = v.RegisterValidation(orderStatusTag, func(fl validator.FieldLevel) bool {
		return domain.OrderStatus(fl.Field().String()).Valid()
	})
	return &Validator{validate: v}
}

// Struct возвращает nil или *domain.ValidationError со списком сообщений.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &domain.ValidationError{Messages: []string{err.Error()}}
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, message(fe))
	}
	return &domain.ValidationError{Messages: messages}
}

func message(fe validator.FieldError) string {
	field := fieldPath(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s should not be empty", field)
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s elements", field, fe.Param())
		}
		return fmt.Sprintf("%s must not be less than %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must not be less than %s", field, fe.Param())
	case "uuid4":
		return fmt.Sprintf("%s must be a UUID", field)
	case orderStatusTag:
		return fmt.Sprintf("%s must be one of the following values: %s", field, statusList())
	default:
		return fmt.Sprintf("%s failed on the '%s' rule", field, fe.Tag())
	}
}

// fieldPath отрезает имя корневой структуры: "CreateOrderRequest.items[0].quantity" → "items[0].quantity".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return field.Name
	default:
		return name
	}
}

func statusList() string {
	names := make([]string, 0, len(domain.OrderStatuses))
	for _, s := range domain.OrderStatuses {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}
