package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/rl1809/inventory-sync/internal/core/domain"
)

type memoryEntry struct {
	mu   sync.Mutex
	item domain.InventoryItem
}

// MemoryAdapter keeps items in process memory. The map lock only guards the
// set of items; stock changes lock the single entry they touch. Applied
// message IDs are recorded while that entry is locked.
type MemoryAdapter struct {
	mu    sync.RWMutex
	items map[int64]*memoryEntry

	appliedMu sync.Mutex
	applied   map[string]struct{}
}

func NewMemoryAdapter(items ...domain.InventoryItem) *MemoryAdapter {
	m := &MemoryAdapter{
		items:   make(map[int64]*memoryEntry, len(items)),
		applied: make(map[string]struct{}),
	}
	for _, it := range items {
		m.items[it.ID] = &memoryEntry{item: it}
	}
	return m
}

func (m *MemoryAdapter) ListAll(ctx context.Context) ([]domain.InventoryItem, error) {
	m.mu.RLock()
	entries := make([]*memoryEntry, 0, len(m.items))
	for _, e := range m.items {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]domain.InventoryItem, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.item)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryAdapter) GetItem(ctx context.Context, id int64) (*domain.InventoryItem, error) {
	e, ok := m.entry(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	e.mu.Lock()
	item := e.item
	e.mu.Unlock()
	return &item, nil
}

func (m *MemoryAdapter) ApplyStockChange(ctx context.Context, id int64, quantityChange int, messageID string) (*domain.InventoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, ok := m.entry(id)
	if !ok {
		return nil, domain.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !m.reserve(messageID) {
		return nil, domain.ErrAlreadyApplied
	}

	next, err := e.item.Apply(quantityChange)
	if err != nil {
		m.unreserve(messageID)
		return nil, err
	}
	e.item.Stock = next
	item := e.item
	return &item, nil
}

// reserve records messageID, false if it was recorded before. An empty ID is
// never recorded.
func (m *MemoryAdapter) reserve(messageID string) bool {
	if messageID == "" {
		return true
	}
	m.appliedMu.Lock()
	defer m.appliedMu.Unlock()
	if _, ok := m.applied[messageID]; ok {
		return false
	}
	m.applied[messageID] = struct{}{}
	return true
}

func (m *MemoryAdapter) unreserve(messageID string) {
	if messageID == "" {
		return
	}
	m.appliedMu.Lock()
	delete(m.applied, messageID)
	m.appliedMu.Unlock()
}

func (m *MemoryAdapter) UpsertItem(ctx context.Context, item domain.InventoryItem) error {
	if item.Stock < 0 {
		return domain.ErrInvalidQuantity
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.items[item.ID]; ok {
		e.mu.Lock()
		e.item = item
		e.mu.Unlock()
		return nil
	}
	m.items[item.ID] = &memoryEntry{item: item}
	return nil
}

func (m *MemoryAdapter) entry(id int64) (*memoryEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.items[id]
	return e, ok
}
