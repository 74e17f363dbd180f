package domain

import "errors"

var (
	ErrNotFound         = errors.New("inventory item not found")
	ErrInvalidQuantity  = errors.New("stock change would make quantity negative")
	ErrMalformedMessage = errors.New("malformed stock message")
	ErrAlreadyApplied   = errors.New("stock message already applied")
)

type InventoryItem struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

// StockUpdate is built from a single queue message and discarded once applied.
// Quantity is a signed delta added to the current stock.
type StockUpdate struct {
	ItemID          int64
	Quantity        int
	SourceMessageID string
}

// Apply returns the stock that results from adding delta, or ErrInvalidQuantity
// if it would drop below zero.
func (i InventoryItem) Apply(delta int) (int, error) {
	next := i.Stock + delta
	if next < 0 {
		return i.Stock, ErrInvalidQuantity
	}
	return next, nil
}
