package handler

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type GRPCHandler struct {
	inventory InventoryLister
	log       *zap.Logger
}

var _ InventoryQueryServer = (*GRPCHandler)(nil)

func NewGRPCHandler(inventory InventoryLister, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{inventory: inventory, log: logger.With(zap.String("component", "grpc_handler"))}
}

func (h *GRPCHandler) ListInventory(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	items, err := h.inventory.ListAll(ctx)
	if err != nil {
		h.log.Error("list_inventory_failed", zap.Error(err))
		return nil, status.Error(codes.Internal, "internal error")
	}

	values := make([]*structpb.Value, 0, len(items))
	for _, it := range items {
		values = append(values, structpb.NewStructValue(&structpb.Struct{
			Fields: map[string]*structpb.Value{
				"id":    structpb.NewNumberValue(float64(it.ID)),
				"name":  structpb.NewStringValue(it.Name),
				"stock": structpb.NewNumberValue(float64(it.Stock)),
			},
		}))
	}
	return &structpb.ListValue{Values: values}, nil
}
