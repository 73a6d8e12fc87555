// Package codec регистрирует JSON-кодек для gRPC.
//
// Сообщения контрактов orders.v1 и products.v1 описаны обычными Go-структурами
// и передаются в теле gRPC-кадра как JSON (content-subtype "json").
package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Name: content-subtype, под которым кодек зарегистрирован в gRPC.
const Name = "json"

// JSON сериализует protobuf-сообщения через protojson, остальные значения через encoding/json.
type JSON struct{}

// Marshal реализует encoding.Codec.
func (JSON) Marshal(v any) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		return protojson.Marshal(msg)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec marshal %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal реализует encoding.Codec. Пустое тело оставляет v нулевым.
func (JSON) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if msg, ok := v.(proto.Message); ok {
		return protojson.Unmarshal(data, msg)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json codec unmarshal %T: %w", v, err)
	}
	return nil
}

// Name реализует encoding.Codec.
func (JSON) Name() string {
	return Name
}

func init() {
	encoding.RegisterCodec(JSON{})
}
