package service

import (
	"context"
	"fmt"

	"github.com/rl1809/inventory-sync/internal/core/domain"
	"github.com/rl1809/inventory-sync/internal/port"
)

type InventoryQueryService struct {
	store port.InventoryStore
}

func NewInventoryQueryService(store port.InventoryStore) *InventoryQueryService {
	return &InventoryQueryService{store: store}
}

func (s *InventoryQueryService) ListAll(ctx context.Context) ([]domain.InventoryItem, error) {
	items, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	if items == nil {
		items = []domain.InventoryItem{}
	}
	return items, nil
}
