package codec

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/status"
)

// ErrMalformedRequest: тело запроса не удалось разобрать.
var ErrMalformedRequest = errors.New("malformed request body")

// grpc оборачивает ошибку кодека в codes.Internal с этим префиксом.
const grpcUnmarshalPrefix = "grpc: error unmarshalling request: "

// DecodeRequest разбирает тело запроса через dec. Ошибка разбора возвращается
// как ErrMalformedRequest, чтобы обработчик отдал её в цепочку перехватчиков.
func DecodeRequest(dec func(any) error, in any) error {
	err := dec(in)
	if err == nil {
		return nil
	}
	msg := strings.TrimPrefix(status.Convert(err).Message(), grpcUnmarshalPrefix)
	return fmt.Errorf("%w: %s", ErrMalformedRequest, msg)
}
