package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/inventory-sync/internal/core/domain"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		itemID   int64
		quantity int
	}{
		{"negative delta", "42 -5", 42, -5},
		{"positive delta", "7 3", 7, 3},
		{"extra whitespace", "  7\t 12\n", 7, 12},
		{"zero", "1 0", 1, 0},
		{"large id", "9223372036854775807 1", 9223372036854775807, 1},
	}

	var p StockMessageParser
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update, err := p.Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.itemID, update.ItemID)
			assert.Equal(t, tt.quantity, update.Quantity)
			assert.Empty(t, update.SourceMessageID)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", []byte("")},
		{"blank", []byte("   ")},
		{"one token", []byte("42")},
		{"three tokens", []byte("42 1 2")},
		{"non numeric quantity", []byte("42 abc")},
		{"non numeric id", []byte("abc 1")},
		{"decimal quantity", []byte("42 1.5")},
		{"id overflow", []byte("99999999999999999999 1")},
		{"invalid utf8", []byte{0xff, 0xfe, ' ', '1'}},
	}

	var p StockMessageParser
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrMalformedMessage)
			assert.False(t, IsRetryable(err))
		})
	}
}
