// Package cosign is the trusted co-signer. It checks an order against the
// pricing and deadline policy, records what it signed in Redis so it never
// signs two different orders under the same id, and returns its signature.
package cosign

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/consensus"
	"github.com/0gfoundation/0g-vault/internal/order"
)

var (
	ErrPolicy       = errors.New("cosign: order rejected by policy")
	ErrUnknownQueue = errors.New("cosign: unknown queue")
	ErrConflict     = errors.New("cosign: a different order was already signed under this id")
)

// IssuedKeyFmt records the digest co-signed for (queue, caller, orderId).
const IssuedKeyFmt = "cosign:issued:%s:%s:%s"

// Policy bounds what the co-signer will authorize at the 1:1 rate.
type Policy struct {
	MaxDeadline    time.Duration
	MaxSlippageBps uint64
}

// Check returns an ErrPolicy error if o falls outside the policy at now.
func (p Policy) Check(o *order.Order, now time.Time) error {
	deadline := o.Deadline.Int64()
	if !o.Deadline.IsInt64() || deadline <= now.Unix() {
		return fmt.Errorf("%w: deadline %s is not in the future", ErrPolicy, o.Deadline)
	}
	if p.MaxDeadline > 0 && deadline > now.Add(p.MaxDeadline).Unix() {
		return fmt.Errorf("%w: deadline more than %s ahead", ErrPolicy, p.MaxDeadline)
	}
	if o.Requested.Cmp(o.Ordered) > 0 {
		return fmt.Errorf("%w: requested %s exceeds ordered %s", ErrPolicy, o.Requested, o.Ordered)
	}
	// requested * 10000 >= ordered * (10000 - bps)
	lhs := new(big.Int).Mul(o.Requested, big.NewInt(10_000))
	rhs := new(big.Int).Mul(o.Ordered, big.NewInt(int64(10_000-min(p.MaxSlippageBps, 10_000))))
	if lhs.Cmp(rhs) < 0 {
		return fmt.Errorf("%w: requested %s below %d bps slippage bound", ErrPolicy, o.Requested, p.MaxSlippageBps)
	}
	return nil
}

type Signer struct {
	privKey *ecdsa.PrivateKey
	addr    common.Address
	domains map[common.Address]order.Domain
	policy  Policy
	rdb     *redis.Client
	now     func() time.Time
	log     *zap.Logger
}

// NewSigner creates a co-signer for the queues in domains, keyed by queue address.
func NewSigner(
	privKey *ecdsa.PrivateKey,
	domains map[common.Address]order.Domain,
	policy Policy,
	rdb *redis.Client,
	log *zap.Logger,
) *Signer {
	return &Signer{
		privKey: privKey,
		addr:    crypto.PubkeyToAddress(privKey.PublicKey),
		domains: domains,
		policy:  policy,
		rdb:     rdb,
		now:     time.Now,
		log:     log,
	}
}

// Address is the co-signer identity to register in the consensus registry.
func (s *Signer) Address() common.Address { return s.addr }

// Cosign checks o and returns the co-signature over its digest. Signing the
// same order again returns a fresh signature over the same digest.
func (s *Signer) Cosign(ctx context.Context, o *order.Order) (consensus.Signature, error) {
	if err := order.Validate(o); err != nil {
		return consensus.Signature{}, err
	}
	d, ok := s.domains[o.Queue]
	if !ok {
		return consensus.Signature{}, fmt.Errorf("%w: %s", ErrUnknownQueue, o.Queue.Hex())
	}
	now := s.now()
	if err := s.policy.Check(o, now); err != nil {
		return consensus.Signature{}, err
	}
	digest, err := order.Hash(o, d)
	if err != nil {
		return consensus.Signature{}, err
	}

	key := fmt.Sprintf(IssuedKeyFmt, o.Queue.Hex(), strings.ToLower(o.Caller.Hex()), o.OrderID.String())
	ttl := time.Unix(o.Deadline.Int64(), 0).Sub(now) + time.Minute
	if ttl < time.Minute {
		ttl = time.Minute
	}
	set, err := s.rdb.SetNX(ctx, key, digest.Hex(), ttl).Result()
	if err != nil {
		return consensus.Signature{}, fmt.Errorf("record issuance: %w", err)
	}
	if !set {
		prev, err := s.rdb.Get(ctx, key).Result()
		if err != nil {
			return consensus.Signature{}, fmt.Errorf("read issuance: %w", err)
		}
		if prev != digest.Hex() {
			s.log.Warn("conflicting cosign request",
				zap.String("caller", o.Caller.Hex()),
				zap.Stringer("order_id", o.OrderID),
			)
			return consensus.Signature{}, fmt.Errorf("%w: order %s", ErrConflict, o.OrderID)
		}
	}

	sig, err := crypto.Sign(digest[:], s.privKey)
	if err != nil {
		return consensus.Signature{}, fmt.Errorf("sign order: %w", err)
	}
	// Convert V from 0/1 to 27/28 for Solidity ecrecover
	sig[64] += 27
	s.log.Info("order cosigned",
		zap.String("queue", o.Queue.Hex()),
		zap.String("caller", o.Caller.Hex()),
		zap.Stringer("order_id", o.OrderID),
		zap.Stringer("digest", digest),
	)
	return consensus.Signature{Signer: s.addr, Signature: sig}, nil
}
