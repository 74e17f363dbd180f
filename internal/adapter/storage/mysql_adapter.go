package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/inventory-sync/internal/core/domain"
)

const errDuplicateEntry = 1062

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) ListAll(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, name, stock FROM inventory ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		var it domain.InventoryItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Stock); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory: %w", err)
	}
	return items, nil
}

func (m *MySQLAdapter) GetItem(ctx context.Context, id int64) (*domain.InventoryItem, error) {
	var it domain.InventoryItem
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, stock FROM inventory WHERE id = ?`, id,
	).Scan(&it.ID, &it.Name, &it.Stock)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return &it, nil
}

// ApplyStockChange locks the row for the duration of the transaction so
// concurrent changes to the same item are serialized by MySQL. The message ID
// goes into processed_messages in the same transaction, so the stock change
// and its record commit or roll back together.
func (m *MySQLAdapter) ApplyStockChange(ctx context.Context, id int64, quantityChange int, messageID string) (*domain.InventoryItem, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var it domain.InventoryItem
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, stock FROM inventory WHERE id = ? FOR UPDATE`, id,
	).Scan(&it.ID, &it.Name, &it.Stock)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock inventory: %w", err)
	}

	if messageID != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO processed_messages (message_id, item_id, quantity_change, applied_at)
			VALUES (?, ?, ?, NOW())`,
			messageID, id, quantityChange,
		)
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == errDuplicateEntry {
			return nil, domain.ErrAlreadyApplied
		}
		if err != nil {
			return nil, fmt.Errorf("record message: %w", err)
		}
	}

	next, err := it.Apply(quantityChange)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE inventory
		SET stock = ?, version = version + 1, updated_at = NOW()
		WHERE id = ?`,
		next, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update inventory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	it.Stock = next
	return &it, nil
}

func (m *MySQLAdapter) UpsertItem(ctx context.Context, item domain.InventoryItem) error {
	if item.Stock < 0 {
		return domain.ErrInvalidQuantity
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO inventory (id, name, stock, version, created_at, updated_at)
		VALUES (?, ?, ?, 0, NOW(), NOW())
		ON DUPLICATE KEY UPDATE name = VALUES(name), stock = VALUES(stock),
			version = version + 1, updated_at = NOW()`,
		item.ID, item.Name, item.Stock,
	)
	if err != nil {
		return fmt.Errorf("upsert inventory: %w", err)
	}
	return nil
}
