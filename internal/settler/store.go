package settler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/0g-vault/internal/order"
)

// ErrNoStatus is returned by Status when no terminal record exists yet.
var ErrNoStatus = errors.New("settler: no status recorded")

// Enqueue pushes sub onto its queue's Redis list.
func Enqueue(ctx context.Context, rdb *redis.Client, sub order.Submission) error {
	raw, err := json.Marshal(Envelope{Submission: sub})
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	return rdb.RPush(ctx, fmt.Sprintf(order.QueueKeyFmt, sub.Order.Queue.Hex()), string(raw)).Err()
}

// Status reads the terminal record for one order.
func Status(ctx context.Context, rdb *redis.Client, queue, caller common.Address, orderID *big.Int) (*order.Record, error) {
	raw, err := rdb.Get(ctx, order.StatusKey(queue, caller, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoStatus
	}
	if err != nil {
		return nil, err
	}
	var rec order.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &rec, nil
}

// Pending returns the number of submissions waiting on queue.
func Pending(ctx context.Context, rdb *redis.Client, queue common.Address) (int64, error) {
	return rdb.LLen(ctx, fmt.Sprintf(order.QueueKeyFmt, queue.Hex())).Result()
}
