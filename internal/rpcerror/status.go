package rpcerror

import (
	"encoding/json"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStatus строит gRPC status: код по statusCode, сообщение из payload, сам payload в details.
// statusCode в details передаётся как есть, даже вне диапазона HTTP.
func ToStatus(p Payload) *status.Status {
	st := status.New(CodeFromHTTPStatus(p.StatusCode), p.Text())

	details, err := toStruct(p)
	if err != nil {
		return st
	}
	withDetails, err := st.WithDetails(details)
	if err != nil {
		return st
	}
	return withDetails
}

// PayloadFromStatus достаёт payload из details, если удалённая сторона его приложила.
func PayloadFromStatus(st *status.Status) (Payload, bool) {
	if st == nil {
		return Payload{}, false
	}
	for _, detail := range st.Details() {
		s, ok := detail.(*structpb.Struct)
		if !ok {
			continue
		}
		fields := s.AsMap()
		if _, hasCode := fields["statusCode"]; !hasCode {
			continue
		}
		if _, hasMessage := fields["message"]; !hasMessage {
			code, ok := numericCode(fields["statusCode"])
			if !ok {
				code = http.StatusBadRequest
			}
			return Payload{StatusCode: code, Error: fields["error"]}, true
		}
		return normalizeMap(fields), true
	}
	return Payload{}, false
}

// toStruct проходит через JSON, чтобы привести значения к типам, которые понимает structpb.
func toStruct(p Payload) (*structpb.Struct, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// CodeFromHTTPStatus сопоставляет HTTP-подобный statusCode коду gRPC.
// Коды вне 100..599 дают codes.Unknown.
func CodeFromHTTPStatus(code int) codes.Code {
	if code < 100 || code > 599 {
		return codes.Unknown
	}
	switch code {
	case http.StatusOK:
		return codes.OK
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.AlreadyExists
	case http.StatusPreconditionFailed:
		return codes.FailedPrecondition
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case 499:
		return codes.Canceled
	case http.StatusNotImplemented:
		return codes.Unimplemented
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	}
	switch {
	case code >= 500:
		return codes.Internal
	case code >= 400:
		return codes.InvalidArgument
	default:
		return codes.Unknown
	}
}

// HTTPStatusFromCode: обратное сопоставление для ошибок без payload.
func HTTPStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Canceled:
		return 499
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
