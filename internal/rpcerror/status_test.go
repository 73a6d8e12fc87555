package rpcerror

import (
	"context"
	"errors"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

func TestToStatus_RoundTrip(t *testing.T) {
	original := Payload{StatusCode: 404, Message: "Order with id 1 not found"}

	st := ToStatus(original)
	require.Equal(t, codes.NotFound, st.Code())
	require.Equal(t, "Order with id 1 not found", st.Message())

	decoded, ok := PayloadFromStatus(st)
	require.True(t, ok)
	require.Equal(t, original, decoded)
}

func TestToStatus_ListMessageAndErrorField(t *testing.T) {
	st := ToStatus(Payload{StatusCode: 400, Message: []string{"a", "b"}})
	require.Equal(t, codes.InvalidArgument, st.Code())
	require.Equal(t, "a; b", st.Message())

	decoded, ok := PayloadFromStatus(st)
	require.True(t, ok)
	require.Equal(t, []any{"a", "b"}, decoded.Message)

	wrapped := ToStatus(Payload{StatusCode: 400, Error: "raw"})
	decoded, ok = PayloadFromStatus(wrapped)
	require.True(t, ok)
	require.Equal(t, Payload{StatusCode: 400, Error: "raw"}, decoded)
}

func TestToStatus_CodeOutsideHTTPRange(t *testing.T) {
	st := ToStatus(Payload{StatusCode: 600, Message: "x"})
	require.Equal(t, codes.Unknown, st.Code())

	decoded, ok := PayloadFromStatus(st)
	require.True(t, ok)
	require.Equal(t, 600, decoded.StatusCode)
}

func TestPayloadFromStatus_NoDetails(t *testing.T) {
	_, ok := PayloadFromStatus(status.New(codes.Internal, "boom"))
	require.False(t, ok)

	_, ok = PayloadFromStatus(nil)
	require.False(t, ok)
}

func TestCodeMappings(t *testing.T) {
	pairs := map[int]codes.Code{
		400: codes.InvalidArgument,
		404: codes.NotFound,
		409: codes.AlreadyExists,
		429: codes.ResourceExhausted,
		500: codes.Internal,
		503: codes.Unavailable,
		418: codes.InvalidArgument,
		507: codes.Internal,
		0:   codes.Unknown,
		600: codes.Unknown,
	}
	for httpCode, grpcCode := range pairs {
		require.Equal(t, grpcCode, CodeFromHTTPStatus(httpCode), "http %d", httpCode)
	}

	require.Equal(t, 404, HTTPStatusFromCode(codes.NotFound))
	require.Equal(t, 409, HTTPStatusFromCode(codes.Aborted))
	require.Equal(t, 500, HTTPStatusFromCode(codes.DataLoss))
}

func TestUnaryServerInterceptor(t *testing.T) {
	interceptor := UnaryServerInterceptor(log.New().WithField("component", "test"))
	info := &grpc.UnaryServerInfo{FullMethod: "/orders.v1.OrderService/FindOneOrder"}

	resp, err := interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", resp)

	_, err = interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, &domain.OrderNotFoundError{OrderID: "x"}
	})
	st := status.Convert(err)
	require.Equal(t, codes.NotFound, st.Code())
	payload, ok := PayloadFromStatus(st)
	require.True(t, ok)
	require.Equal(t, 404, payload.StatusCode)

	_, err = interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, errors.New("something odd")
	})
	st = status.Convert(err)
	require.Equal(t, codes.InvalidArgument, st.Code())
	payload, ok = PayloadFromStatus(st)
	require.True(t, ok)
	require.Equal(t, Payload{StatusCode: 400, Error: "something odd"}, payload)
}
