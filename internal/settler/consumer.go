package settler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/order"
)

type Config struct {
	Queue        common.Address
	PollTimeout  time.Duration
	RetryBackoff time.Duration
}

// Run is the main settler loop for one queue: BLPOP → settle → record.
func Run(ctx context.Context, cfg Config, rdb *redis.Client, s Settler, log *zap.Logger) {
	queueKey := fmt.Sprintf(order.QueueKeyFmt, cfg.Queue.Hex())
	dlqKey := fmt.Sprintf(order.DLQKeyFmt, cfg.Queue.Hex())
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}

	log.Info("settler started", zap.String("queue", queueKey))

	for {
		if ctx.Err() != nil {
			log.Info("settler stopped", zap.String("queue", queueKey))
			return
		}

		// BLPOP blocks until an item appears or timeout
		results, err := rdb.BLPop(ctx, cfg.PollTimeout, queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("settler: BLPOP error", zap.Error(err))
			sleep(ctx, cfg.RetryBackoff)
			continue
		}

		// results[0] = key, results[1] = value
		if ProcessOne(ctx, rdb, queueKey, dlqKey, results[1], s, log) == OutcomeRequeued {
			sleep(ctx, cfg.RetryBackoff)
		}
	}
}

// ProcessOne decodes and settles a single popped item.
func ProcessOne(ctx context.Context, rdb *redis.Client, queueKey, dlqKey, raw string, s Settler, log *zap.Logger) Outcome {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.Order.OrderID == nil {
		log.Error("settler: undecodable submission", zap.String("raw", raw), zap.Error(err))
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		defer cancel()
		deadLetterRaw(wctx, rdb, dlqKey, raw, log)
		return OutcomeDeadLettered
	}
	err := s.Settle(ctx, env.Submission)
	return HandleResult(ctx, rdb, queueKey, env, err, time.Now(), log)
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
