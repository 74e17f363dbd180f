package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/inventory-sync/internal/core/domain"
)

const (
	itemKeyPrefix    = "inventory:item:"
	itemIndexKey     = "inventory:items"
	appliedKeyPrefix = "inventory:applied:"
	appliedKeyTTL    = 24 * time.Hour
)

const (
	applyOK             = 1
	applyNotFound       = -1
	applyNegative       = -2
	applyAlreadyApplied = -3
)

// applyStockScript runs the whole read-modify-write on the server, so no
// other client can interleave between the read and the write. The message ID
// key is set NX in the same script, so the change and its record land together.
var applyStockScript = redis.NewScript(`
local key = KEYS[1]
local appliedKey = KEYS[2]
local delta = tonumber(ARGV[1])
local messageID = ARGV[2]
local ttl = tonumber(ARGV[3])

if messageID ~= '' and redis.call('EXISTS', appliedKey) == 1 then
	return {-3, 0, ''}
end

local current = redis.call('HGET', key, 'stock')
if not current then
	return {-1, 0, ''}
end

current = tonumber(current)
local name = redis.call('HGET', key, 'name') or ''
local next = current + delta
if next < 0 then
	return {-2, current, name}
end

redis.call('HSET', key, 'stock', next)
if messageID ~= '' then
	redis.call('SET', appliedKey, key, 'NX', 'EX', ttl)
end
return {1, next, name}
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func itemKey(id int64) string {
	return itemKeyPrefix + strconv.FormatInt(id, 10)
}

func (r *RedisAdapter) ListAll(ctx context.Context) ([]domain.InventoryItem, error) {
	members, err := r.client.SMembers(ctx, itemIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list item index: %w", err)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, itemKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load items: %w", err)
	}

	items := make([]domain.InventoryItem, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		item, err := itemFromHash(id, fields)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *RedisAdapter) GetItem(ctx context.Context, id int64) (*domain.InventoryItem, error) {
	fields, err := r.client.HGetAll(ctx, itemKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	item, err := itemFromHash(id, fields)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func appliedKey(messageID string) string {
	return appliedKeyPrefix + messageID
}

// ApplyStockChange remembers messageID for appliedKeyTTL. A redelivery that
// arrives later than that is applied again.
func (r *RedisAdapter) ApplyStockChange(ctx context.Context, id int64, quantityChange int, messageID string) (*domain.InventoryItem, error) {
	keys := []string{itemKey(id), appliedKey(messageID)}
	ttl := int64(appliedKeyTTL / time.Second)
	res, err := applyStockScript.Run(ctx, r.client, keys, quantityChange, messageID, ttl).Slice()
	if err != nil {
		return nil, fmt.Errorf("apply stock script: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("apply stock script: unexpected reply %v", res)
	}

	status, _ := res[0].(int64)
	stock, _ := res[1].(int64)
	name, _ := res[2].(string)

	switch status {
	case applyOK:
		return &domain.InventoryItem{ID: id, Name: name, Stock: int(stock)}, nil
	case applyNotFound:
		return nil, domain.ErrNotFound
	case applyNegative:
		return nil, domain.ErrInvalidQuantity
	case applyAlreadyApplied:
		return nil, domain.ErrAlreadyApplied
	default:
		return nil, fmt.Errorf("apply stock script: unknown status %d", status)
	}
}

func (r *RedisAdapter) UpsertItem(ctx context.Context, item domain.InventoryItem) error {
	if item.Stock < 0 {
		return domain.ErrInvalidQuantity
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, itemKey(item.ID), "name", item.Name, "stock", item.Stock)
		pipe.SAdd(ctx, itemIndexKey, strconv.FormatInt(item.ID, 10))
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

func itemFromHash(id int64, fields map[string]string) (domain.InventoryItem, error) {
	stock, err := strconv.Atoi(fields["stock"])
	if err != nil {
		return domain.InventoryItem{}, fmt.Errorf("item %d: bad stock %q: %w", id, fields["stock"], err)
	}
	return domain.InventoryItem{ID: id, Name: fields["name"], Stock: stock}, nil
}
