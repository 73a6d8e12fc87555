package rpcerror

import (
	"context"
	"net/http"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

// UnaryServerInterceptor пропускает каждую ошибку обработчика через Normalize/ToStatus.
func UnaryServerInterceptor(logger *log.Entry) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = log.New().WithField("component", "rpc-errors")
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}

		payload := Normalize(err)
		entry := logger.WithError(err).WithFields(log.Fields{
			"method":      info.FullMethod,
			"status_code": payload.StatusCode,
		})
		switch {
		case payload.StatusCode >= http.StatusInternalServerError:
			entry.Error("rpc failed")
		case domain.IsIdempotencyConflict(err):
			entry.Info("rpc rejected: idempotency conflict")
		default:
			entry.Debug("rpc rejected")
		}

		return nil, ToStatus(payload).Err()
	}
}
