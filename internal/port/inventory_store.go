package port

import (
	"context"

	"github.com/rl1809/inventory-sync/internal/core/domain"
)

type InventoryStore interface {
	// ListAll returns a snapshot of every item ordered by ID
	ListAll(ctx context.Context) ([]domain.InventoryItem, error)

	// GetItem returns domain.ErrNotFound when the item does not exist
	GetItem(ctx context.Context, id int64) (*domain.InventoryItem, error)

	// ApplyStockChange adds quantityChange to the item's stock as one atomic step.
	// A non-empty messageID is recorded in the same step; a change whose ID was
	// already recorded is skipped with domain.ErrAlreadyApplied.
	ApplyStockChange(ctx context.Context, id int64, quantityChange int, messageID string) (*domain.InventoryItem, error)

	// UpsertItem creates or replaces an item, used for seeding
	UpsertItem(ctx context.Context, item domain.InventoryItem) error
}
