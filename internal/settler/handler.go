package settler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/order"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
)

// MaxAttempts bounds how often a transiently failing envelope is re-queued
// before it is dead-lettered.
const MaxAttempts = 3

// writeTimeout bounds the Redis writes that record an outcome. They run
// detached from the caller's context so a shutdown cannot drop a popped item.
const writeTimeout = 5 * time.Second

// HandleResult records the outcome of settling env. On a transient failure
// env is pushed back to the head of queueKey with its attempt count raised.
func HandleResult(
	ctx context.Context,
	rdb *redis.Client,
	queueKey string,
	env Envelope,
	settleErr error,
	now time.Time,
	log *zap.Logger,
) Outcome {
	interrupted := ctx.Err() != nil &&
		(errors.Is(settleErr, context.Canceled) || errors.Is(settleErr, context.DeadlineExceeded))
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	o := env.Order
	code := vaulterr.Code(settleErr)
	fields := []zap.Field{
		zap.String("queue", o.Queue.Hex()),
		zap.String("caller", o.Caller.Hex()),
		zap.String("order_id", o.OrderID.String()),
		zap.String("code", code),
	}

	switch {
	case settleErr == nil:
		persistStatus(ctx, rdb, env, order.StatusSettled, code, "", now, log)
		log.Info("order settled", fields...)
		return OutcomeSettled

	case interrupted:
		// Settlement never ran to completion; the attempt does not count.
		requeue(ctx, rdb, queueKey, env, fields, log)
		log.Info("order requeued on shutdown", fields...)
		return OutcomeRequeued

	case errors.Is(settleErr, vaulterr.ErrInvalidNonce):
		// A replay of an already-settled order lands here and must keep its
		// record. A fresh order with a stale or future nonce is rejected.
		if !persistStatusNX(ctx, rdb, env, order.StatusRejected, code, settleErr.Error(), now, log) {
			log.Warn("order discarded: invalid nonce", append(fields, zap.Error(settleErr))...)
			return OutcomeDiscarded
		}
		log.Warn("order rejected: invalid nonce", append(fields, zap.Error(settleErr))...)
		return OutcomeRejected

	case errors.Is(settleErr, vaulterr.ErrInvalidSignatures), errors.Is(settleErr, vaulterr.ErrInvalidOrder):
		persistStatus(ctx, rdb, env, order.StatusRejected, code, settleErr.Error(), now, log)
		deadLetter(ctx, rdb, env, log)
		log.Error("order rejected: bad submission", append(fields, zap.Error(settleErr))...)
		return OutcomeDeadLettered

	case code != "UNKNOWN":
		persistStatus(ctx, rdb, env, order.StatusRejected, code, settleErr.Error(), now, log)
		log.Warn("order rejected", append(fields, zap.Error(settleErr))...)
		return OutcomeRejected
	}

	env.Attempts++
	if env.Attempts >= MaxAttempts {
		persistStatus(ctx, rdb, env, order.StatusRejected, code, settleErr.Error(), now, log)
		deadLetter(ctx, rdb, env, log)
		log.Error("order dead-lettered after retries", append(fields, zap.Int("attempts", env.Attempts), zap.Error(settleErr))...)
		return OutcomeDeadLettered
	}
	requeue(ctx, rdb, queueKey, env, fields, log)
	log.Warn("order requeued", append(fields, zap.Int("attempts", env.Attempts), zap.Error(settleErr))...)
	return OutcomeRequeued
}

// requeue pushes env back to the head of queueKey.
func requeue(ctx context.Context, rdb *redis.Client, queueKey string, env Envelope, fields []zap.Field, log *zap.Logger) {
	raw, err := json.Marshal(env)
	if err == nil {
		err = rdb.LPush(ctx, queueKey, string(raw)).Err()
	}
	if err != nil {
		log.Error("settler: requeue failed", append(fields, zap.Error(err))...)
	}
}

func statusRecord(env Envelope, status order.Status, code, reason string, now time.Time) string {
	o := env.Order
	raw, _ := json.Marshal(order.Record{
		Status:  status,
		Code:    code,
		Reason:  reason,
		OrderID: o.OrderID.String(),
		Caller:  o.Caller.Hex(),
		At:      now.Unix(),
	})
	return string(raw)
}

func persistStatus(ctx context.Context, rdb *redis.Client, env Envelope, status order.Status, code, reason string, now time.Time, log *zap.Logger) {
	o := env.Order
	if err := rdb.Set(ctx, order.StatusKey(o.Queue, o.Caller, o.OrderID), statusRecord(env, status, code, reason, now), 0).Err(); err != nil {
		log.Error("settler: write status", zap.Error(err))
	}
}

// persistStatusNX writes the record only if none exists and reports whether it did.
func persistStatusNX(ctx context.Context, rdb *redis.Client, env Envelope, status order.Status, code, reason string, now time.Time, log *zap.Logger) bool {
	o := env.Order
	ok, err := rdb.SetNX(ctx, order.StatusKey(o.Queue, o.Caller, o.OrderID), statusRecord(env, status, code, reason, now), 0).Result()
	if err != nil {
		log.Error("settler: write status", zap.Error(err))
		return false
	}
	return ok
}

func deadLetter(ctx context.Context, rdb *redis.Client, env Envelope, log *zap.Logger) {
	raw, _ := json.Marshal(env)
	deadLetterRaw(ctx, rdb, fmt.Sprintf(order.DLQKeyFmt, env.Order.Queue.Hex()), string(raw), log)
}

func deadLetterRaw(ctx context.Context, rdb *redis.Client, dlqKey, raw string, log *zap.Logger) {
	if err := rdb.RPush(ctx, dlqKey, raw).Err(); err != nil {
		log.Error("settler: push DLQ", zap.String("dlq", dlqKey), zap.Error(err))
	}
}
