package ordersv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/codec"
)

const (
	OrderService_ServiceName                      = "orders.v1.OrderService"
	OrderService_CreateOrder_FullMethodName       = "/orders.v1.OrderService/CreateOrder"
	OrderService_FindAllOrders_FullMethodName     = "/orders.v1.OrderService/FindAllOrders"
	OrderService_FindOneOrder_FullMethodName      = "/orders.v1.OrderService/FindOneOrder"
	OrderService_ChangeOrderStatus_FullMethodName = "/orders.v1.OrderService/ChangeOrderStatus"
)

// OrderServiceClient: клиентская сторона orders.v1.OrderService.
type OrderServiceClient interface {
	CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*Order, error)
	FindAllOrders(ctx context.Context, in *FindAllOrdersRequest, opts ...grpc.CallOption) (*FindAllOrdersResponse, error)
	FindOneOrder(ctx context.Context, in *FindOneOrderRequest, opts ...grpc.CallOption) (*Order, error)
	ChangeOrderStatus(ctx context.Context, in *ChangeOrderStatusRequest, opts ...grpc.CallOption) (*Order, error)
}

type orderServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderServiceClient строит клиента; JSON content-subtype выставляется на каждый вызов.
func NewOrderServiceClient(cc grpc.ClientConnInterface) OrderServiceClient {
	return &orderServiceClient{cc: cc}
}

func (c *orderServiceClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*Order, error) {
	out := new(Order)
	if err := c.cc.Invoke(ctx, OrderService_CreateOrder_FullMethodName, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *orderServiceClient) FindAllOrders(ctx context.Context, in *FindAllOrdersRequest, opts ...grpc.CallOption) (*FindAllOrdersResponse, error) {
	out := new(FindAllOrdersResponse)
	if err := c.cc.Invoke(ctx, OrderService_FindAllOrders_FullMethodName, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *orderServiceClient) FindOneOrder(ctx context.Context, in *FindOneOrderRequest, opts ...grpc.CallOption) (*Order, error) {
	out := new(Order)
	if err := c.cc.Invoke(ctx, OrderService_FindOneOrder_FullMethodName, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *orderServiceClient) ChangeOrderStatus(ctx context.Context, in *ChangeOrderStatusRequest, opts ...grpc.CallOption) (*Order, error) {
	out := new(Order)
	if err := c.cc.Invoke(ctx, OrderService_ChangeOrderStatus_FullMethodName, in, out, withJSON(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withJSON(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codec.Name)}, opts...)
}

// OrderServiceServer: серверная сторона orders.v1.OrderService.
// Реализации должны встраивать UnimplementedOrderServiceServer.
type OrderServiceServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*Order, error)
	FindAllOrders(context.Context, *FindAllOrdersRequest) (*FindAllOrdersResponse, error)
	FindOneOrder(context.Context, *FindOneOrderRequest) (*Order, error)
	ChangeOrderStatus(context.Context, *ChangeOrderStatusRequest) (*Order, error)
	mustEmbedUnimplementedOrderServiceServer()
}

// UnimplementedOrderServiceServer отвечает codes.Unimplemented на все методы.
type UnimplementedOrderServiceServer struct{}

func (UnimplementedOrderServiceServer) CreateOrder(context.Context, *CreateOrderRequest) (*Order, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateOrder not implemented")
}

func (UnimplementedOrderServiceServer) FindAllOrders(context.Context, *FindAllOrdersRequest) (*FindAllOrdersResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method FindAllOrders not implemented")
}

func (UnimplementedOrderServiceServer) FindOneOrder(context.Context, *FindOneOrderRequest) (*Order, error) {
	return nil, status.Error(codes.Unimplemented, "method FindOneOrder not implemented")
}

func (UnimplementedOrderServiceServer) ChangeOrderStatus(context.Context, *ChangeOrderStatusRequest) (*Order, error) {
	return nil, status.Error(codes.Unimplemented, "method ChangeOrderStatus not implemented")
}

func (UnimplementedOrderServiceServer) mustEmbedUnimplementedOrderServiceServer() {}

// RegisterOrderServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&OrderService_ServiceDesc, srv)
}

// Ошибка разбора тела отдаётся перехватчикам так же, как ошибка обработчика.
func _OrderService_CreateOrder_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateOrderRequest)
	decErr := codec.DecodeRequest(dec, in)
	if interceptor == nil {
		if decErr != nil {
			return nil, status.Error(codes.InvalidArgument, decErr.Error())
		}
		return srv.(OrderServiceServer).CreateOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: OrderService_CreateOrder_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		if decErr != nil {
			return nil, decErr
		}
		return srv.(OrderServiceServer).CreateOrder(ctx, req.(*CreateOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _OrderService_FindAllOrders_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FindAllOrdersRequest)
	decErr := codec.DecodeRequest(dec, in)
	if interceptor == nil {
		if decErr != nil {
			return nil, status.Error(codes.InvalidArgument, decErr.Error())
		}
		return srv.(OrderServiceServer).FindAllOrders(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: OrderService_FindAllOrders_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		if decErr != nil {
			return nil, decErr
		}
		return srv.(OrderServiceServer).FindAllOrders(ctx, req.(*FindAllOrdersRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _OrderService_FindOneOrder_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(FindOneOrderRequest)
	decErr := codec.DecodeRequest(dec, in)
	if interceptor == nil {
		if decErr != nil {
			return nil, status.Error(codes.InvalidArgument, decErr.Error())
		}
		return srv.(OrderServiceServer).FindOneOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: OrderService_FindOneOrder_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		if decErr != nil {
			return nil, decErr
		}
		return srv.(OrderServiceServer).FindOneOrder(ctx, req.(*FindOneOrderRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _OrderService_ChangeOrderStatus_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ChangeOrderStatusRequest)
	decErr := codec.DecodeRequest(dec, in)
	if interceptor == nil {
		if decErr != nil {
			return nil, status.Error(codes.InvalidArgument, decErr.Error())
		}
		return srv.(OrderServiceServer).ChangeOrderStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: OrderService_ChangeOrderStatus_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		if decErr != nil {
			return nil, decErr
		}
		return srv.(OrderServiceServer).ChangeOrderStatus(ctx, req.(*ChangeOrderStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// OrderService_ServiceDesc: описание сервиса для grpc.ServiceRegistrar.
var OrderService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: OrderService_ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: _OrderService_CreateOrder_Handler},
		{MethodName: "FindAllOrders", Handler: _OrderService_FindAllOrders_Handler},
		{MethodName: "FindOneOrder", Handler: _OrderService_FindOneOrder_Handler},
		{MethodName: "ChangeOrderStatus", Handler: _OrderService_ChangeOrderStatus_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orders/v1/orders.proto",
}
