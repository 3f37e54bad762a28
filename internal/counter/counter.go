// Package counter issues the shared receipt sequence used for every income.
package counter

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"retail-ledger/internal/core"
)

const ReceiptSequence = "receipt"

// StoreCounter draws receipt numbers from the store's own atomic sequence.
type StoreCounter struct {
	seq  core.Sequencer
	name string
}

func NewStoreCounter(seq core.Sequencer) *StoreCounter {
	return &StoreCounter{seq: seq, name: ReceiptSequence}
}

func (c *StoreCounter) Next(ctx context.Context) (int64, error) {
	n, err := c.seq.NextSequence(ctx, c.name)
	if err != nil {
		return 0, fmt.Errorf("failed to issue receipt number: %w", err)
	}
	return n, nil
}

// RedisCounter issues receipt numbers with INCR so that several ledger
// processes share one sequence.
type RedisCounter struct {
	client redis.UniversalClient
	key    string
}

func NewRedisCounter(client redis.UniversalClient, key string) *RedisCounter {
	if key == "" {
		key = "retail-ledger:" + ReceiptSequence
	}
	return &RedisCounter{client: client, key: key}
}

func (c *RedisCounter) Next(ctx context.Context) (int64, error) {
	n, err := c.client.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, core.WrapInternal("redis incr "+c.key, err)
	}
	return n, nil
}

// SeedAtLeast raises the counter to floor when it is below it, so that a
// switch from the store sequence never reissues a number.
func (c *RedisCounter) SeedAtLeast(ctx context.Context, floor int64) error {
	cur, err := c.client.Get(ctx, c.key).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return core.WrapInternal("redis get "+c.key, err)
	}
	if cur >= floor {
		return nil
	}
	if err := c.client.IncrBy(ctx, c.key, floor-cur).Err(); err != nil {
		return core.WrapInternal("redis incrby "+c.key, err)
	}
	return nil
}

// SeedFrom raises the counter past the store's receipt sequence. The store
// number drawn here is skipped.
func (c *RedisCounter) SeedFrom(ctx context.Context, seq core.Sequencer) error {
	n, err := seq.NextSequence(ctx, ReceiptSequence)
	if err != nil {
		return fmt.Errorf("failed to read receipt sequence: %w", err)
	}
	return c.SeedAtLeast(ctx, n)
}

var (
	_ core.ReceiptCounter = (*StoreCounter)(nil)
	_ core.ReceiptCounter = (*RedisCounter)(nil)
)
