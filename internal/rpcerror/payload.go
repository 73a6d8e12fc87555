// Package rpcerror приводит любые ошибки обработчиков к единому виду
// {statusCode, message|error} и переносит его в gRPC status.
package rpcerror

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/codec"
	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// ErrRateLimited возвращается перехватчиком ограничения частоты запросов.
var ErrRateLimited = errors.New("rate limit exceeded")

// Payload: нормализованное описание ошибки для вызывающей стороны.
type Payload struct {
	StatusCode int `json:"statusCode"`
	Message    any `json:"message,omitempty"`
	Error      any `json:"error,omitempty"`
}

// Text возвращает человекочитаемое сообщение payload.
func (p Payload) Text() string {
	for _, v := range []any{p.Message, p.Error} {
		switch value := v.(type) {
		case nil:
			continue
		case string:
			if value != "" {
				return value
			}
		case []string:
			return strings.Join(value, "; ")
		case []any:
			parts := make([]string, 0, len(value))
			for _, item := range value {
				parts = append(parts, fmt.Sprint(item))
			}
			return strings.Join(parts, "; ")
		default:
			if data, err := json.Marshal(value); err == nil {
				return string(data)
			}
			return fmt.Sprint(value)
		}
	}
	return http.StatusText(p.StatusCode)
}

// Normalize приводит произвольное значение ошибки к Payload.
// Уже оформленные значения (есть statusCode и message) сохраняют содержимое и код,
// нечисловой statusCode заменяется на 400; всё остальное заворачивается в {400, error: raw}.
func Normalize(raw any) Payload {
	switch v := raw.(type) {
	case Payload:
		return v
	case *Payload:
		if v == nil {
			return wrapRaw(nil)
		}
		return Normalize(*v)
	case map[string]any:
		return normalizeMap(v)
	case error:
		return FromError(v)
	default:
		return wrapRaw(raw)
	}
}

func normalizeMap(m map[string]any) Payload {
	rawCode, hasCode := m["statusCode"]
	message, hasMessage := m["message"]
	if !hasCode || !hasMessage {
		return wrapRaw(m)
	}

	code, ok := numericCode(rawCode)
	if !ok {
		code = http.StatusBadRequest
	}
	return Payload{StatusCode: code, Message: message, Error: m["error"]}
}

// FromError переводит ошибку доменного слоя в Payload.
func FromError(err error) Payload {
	if err == nil {
		return Payload{StatusCode: http.StatusOK}
	}

	var (
		validationErr *domain.ValidationError
		lookupErr     *domain.LookupError
	)

	switch {
	case errors.As(err, &validationErr):
		return Payload{StatusCode: http.StatusBadRequest, Message: append([]string(nil), validationErr.Messages...)}
	case errors.Is(err, codec.ErrMalformedRequest):
		return Payload{StatusCode: http.StatusBadRequest, Message: []string{err.Error()}}
	case errors.Is(err, domain.ErrOrderNotFound):
		return Payload{StatusCode: http.StatusNotFound, Message: notFoundMessage(err)}
	case errors.As(err, &lookupErr):
		return lookupPayload(lookupErr)
	case errors.Is(err, domain.ErrProductNotFound):
		return Payload{StatusCode: http.StatusBadRequest, Message: err.Error()}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return Payload{StatusCode: http.StatusConflict, Message: "idempotency key is already used with different request payload"}
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		return Payload{StatusCode: http.StatusConflict, Message: "request with the same idempotency key is already processing"}
	case errors.Is(err, ErrRateLimited):
		return Payload{StatusCode: http.StatusTooManyRequests, Message: ErrRateLimited.Error()}
	case errors.Is(err, domain.ErrPersistence):
		return Payload{StatusCode: http.StatusInternalServerError, Message: domain.ErrPersistence.Error()}
	}

	if st, ok := status.FromError(err); ok {
		if p, found := PayloadFromStatus(st); found {
			return p
		}
		return Payload{StatusCode: HTTPStatusFromCode(st.Code()), Message: st.Message()}
	}

	return wrapRaw(err.Error())
}

// lookupPayload отдаёт ответ сервиса продуктов без изменений; код 0 означает «неизвестен» и становится 400.
func lookupPayload(err *domain.LookupError) Payload {
	code := err.StatusCode
	if code == 0 {
		code = http.StatusBadRequest
	}
	switch {
	case err.RemoteMessage != nil || err.RemoteError != nil:
		return Payload{StatusCode: code, Message: err.RemoteMessage, Error: err.RemoteError}
	case err.Message != "":
		return Payload{StatusCode: code, Message: err.Message}
	default:
		return Payload{StatusCode: code, Message: err.Error()}
	}
}

func notFoundMessage(err error) string {
	var typed *domain.OrderNotFoundError
	if errors.As(err, &typed) {
		return typed.Error()
	}
	return err.Error()
}

func wrapRaw(raw any) Payload {
	return Payload{StatusCode: http.StatusBadRequest, Error: raw}
}

// numericCode принимает числа и строки с числом; всё остальное считается невалидным.
func numericCode(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}
