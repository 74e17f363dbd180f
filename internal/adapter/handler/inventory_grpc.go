package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const InventoryQueryServiceName = "inventory.v1.InventoryQuery"

// InventoryQueryServer is served with well-known protobuf types so that no
// generated code is needed: items travel as a ListValue of structs with the
// keys id, name and stock.
type InventoryQueryServer interface {
	ListInventory(ctx context.Context, req *emptypb.Empty) (*structpb.ListValue, error)
}

func RegisterInventoryQueryServer(s grpc.ServiceRegistrar, srv InventoryQueryServer) {
	s.RegisterService(&inventoryQueryServiceDesc, srv)
}

var inventoryQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: InventoryQueryServiceName,
	HandlerType: (*InventoryQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListInventory",
			Handler:    listInventoryHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inventory/v1/inventory.proto",
}

func listInventoryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InventoryQueryServer).ListInventory(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + InventoryQueryServiceName + "/ListInventory",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(InventoryQueryServer).ListInventory(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// InventoryQueryClient calls the service from the other side of the wire.
type InventoryQueryClient struct {
	cc grpc.ClientConnInterface
}

func NewInventoryQueryClient(cc grpc.ClientConnInterface) *InventoryQueryClient {
	return &InventoryQueryClient{cc: cc}
}

func (c *InventoryQueryClient) ListInventory(ctx context.Context, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	err := c.cc.Invoke(ctx, "/"+InventoryQueryServiceName+"/ListInventory", &emptypb.Empty{}, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}
