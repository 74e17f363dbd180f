package service

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rl1809/inventory-sync/internal/core/domain"
)

// StockMessageParser decodes the "<itemId> <quantity>" wire format.
type StockMessageParser struct{}

func (StockMessageParser) Parse(raw []byte) (domain.StockUpdate, error) {
	if !utf8.Valid(raw) {
		return domain.StockUpdate{}, fmt.Errorf("%w: payload is not valid UTF-8", domain.ErrMalformedMessage)
	}

	tokens := strings.Fields(string(raw))
	if len(tokens) != 2 {
		return domain.StockUpdate{}, fmt.Errorf("%w: expected 2 tokens, got %d", domain.ErrMalformedMessage, len(tokens))
	}

	itemID, err := strconv.ParseInt(tokens[0], 10, 64)
	if err != nil {
		return domain.StockUpdate{}, fmt.Errorf("%w: item id %q is not an integer", domain.ErrMalformedMessage, tokens[0])
	}

	quantity, err := strconv.Atoi(tokens[1])
	if err != nil {
		return domain.StockUpdate{}, fmt.Errorf("%w: quantity %q is not an integer", domain.ErrMalformedMessage, tokens[1])
	}

	return domain.StockUpdate{ItemID: itemID, Quantity: quantity}, nil
}
