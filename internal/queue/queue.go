// Package queue settles user-signed mint and redeem orders. Each settlement
// consumes the caller's nonce and applies the asset and share movements in
// one atomic step.
package queue

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/consensus"
	"github.com/0gfoundation/0g-vault/internal/erc20"
	"github.com/0gfoundation/0g-vault/internal/ledger"
	"github.com/0gfoundation/0g-vault/internal/order"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
)

// Ledger is the share and custody surface a queue drives. The queue's address
// must hold QUEUE_ROLE.
type Ledger interface {
	Address() common.Address
	MintShares(caller, to common.Address, amount *big.Int) error
	BurnShares(caller, from common.Address, amount *big.Int) error
	Release(caller, recipient common.Address, amount *big.Int) error
}

// Consensus decides whether co-signatures over a digest are sufficient.
type Consensus interface {
	Check(digest common.Hash, sigs []consensus.Signature) error
}

type Config struct {
	Address common.Address
	Kind    order.Kind
	Asset   common.Address
}

// Nonces is the per-caller sequence shared by the mint and redeem queues of
// one vault, so a caller's orders are totally ordered across both sides.
type Nonces struct {
	env  *chain.Env
	next map[common.Address]*big.Int
}

func NewNonces(env *chain.Env) *Nonces {
	return &Nonces{env: env, next: make(map[common.Address]*big.Int)}
}

// Of returns the nonce the caller's next order must carry.
func (n *Nonces) Of(caller common.Address) *big.Int {
	if v, ok := n.next[caller]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (n *Nonces) consume(caller common.Address) {
	chain.Put(n.env, n.next, caller, new(big.Int).Add(n.Of(caller), big.NewInt(1)))
}

type usedKey struct {
	caller common.Address
	id     string
}

type Queue struct {
	env       *chain.Env
	cfg       Config
	ledger    Ledger
	consensus Consensus
	log       *zap.Logger

	nonces *Nonces
	used   map[usedKey]bool
}

// New creates a queue. nonces may be shared with the opposite-side queue; nil
// gives the queue its own sequence.
func New(env *chain.Env, cfg Config, nonces *Nonces, l Ledger, c Consensus, log *zap.Logger) (*Queue, error) {
	if _, err := order.ParseKind(string(cfg.Kind)); err != nil {
		return nil, err
	}
	if cfg.Address == (common.Address{}) || cfg.Asset == (common.Address{}) {
		return nil, fmt.Errorf("%w: queue address and asset are required", vaulterr.ErrInvalidVault)
	}
	if nonces == nil {
		nonces = NewNonces(env)
	}
	return &Queue{
		env:       env,
		cfg:       cfg,
		ledger:    l,
		consensus: c,
		log:       log.With(zap.String("queue", cfg.Address.Hex()), zap.String("kind", string(cfg.Kind))),
		nonces:    nonces,
		used:      make(map[usedKey]bool),
	}, nil
}

func (q *Queue) Address() common.Address { return q.cfg.Address }
func (q *Queue) Kind() order.Kind        { return q.cfg.Kind }
func (q *Queue) Asset() common.Address   { return q.cfg.Asset }

// Domain is the EIP-712 domain orders for this queue are signed under.
func (q *Queue) Domain() order.Domain { return order.NewDomain(q.env.ChainID(), q.cfg.Address) }

// NonceOf returns the nonce the caller's next order must carry.
func (q *Queue) NonceOf(caller common.Address) *big.Int { return q.nonces.Of(caller) }

// HashOrder is the canonical digest of o under this queue's domain.
func (q *Queue) HashOrder(o *order.Order) (common.Hash, error) {
	return order.Hash(o, q.Domain())
}

// Settle validates o against sigs and applies it. sigs must contain exactly
// one signature by o.Caller; the rest are checked by the consensus registry.
// Any failure leaves no state change behind.
func (q *Queue) Settle(submitter common.Address, o *order.Order, sigs []consensus.Signature) error {
	digest, err := q.validate(o, sigs)
	if err != nil {
		q.log.Info("order rejected",
			zap.String("submitter", submitter.Hex()),
			zap.String("code", vaulterr.Code(err)),
			zap.Error(err),
		)
		return err
	}

	err = q.env.Atomic(func() error {
		q.nonces.consume(o.Caller)
		chain.Put(q.env, q.used, usedKey{o.Caller, o.OrderID.String()}, true)
		if q.cfg.Kind == order.KindMint {
			return q.applyMint(o)
		}
		return q.applyRedeem(o)
	})
	if err != nil {
		q.log.Warn("order settlement failed", zap.Stringer("order_id", o.OrderID), zap.Error(err))
		return err
	}
	q.log.Info("order settled",
		zap.Stringer("digest", digest),
		zap.Stringer("order_id", o.OrderID),
		zap.String("caller", o.Caller.Hex()),
		zap.String("recipient", o.Recipient.Hex()),
		zap.Stringer("ordered", o.Ordered),
		zap.Stringer("requested", o.Requested),
		zap.Stringer("nonce", o.Nonce),
		zap.String("submitter", submitter.Hex()),
	)
	return nil
}

func (q *Queue) validate(o *order.Order, sigs []consensus.Signature) (common.Hash, error) {
	if err := order.Validate(o); err != nil {
		return common.Hash{}, err
	}
	if o.Queue != q.cfg.Address {
		return common.Hash{}, fmt.Errorf("%w: order for queue %s", vaulterr.ErrInvalidOrder, o.Queue.Hex())
	}
	if o.Asset != q.cfg.Asset {
		return common.Hash{}, fmt.Errorf("%w: order for asset %s", vaulterr.ErrInvalidOrder, o.Asset.Hex())
	}
	if o.Ordered.Sign() == 0 || o.Requested.Sign() == 0 {
		return common.Hash{}, fmt.Errorf("%w: zero amount", vaulterr.ErrInvalidOrder)
	}
	digest, err := q.HashOrder(o)
	if err != nil {
		return common.Hash{}, err
	}

	if want := q.NonceOf(o.Caller); o.Nonce.Cmp(want) != 0 {
		return common.Hash{}, fmt.Errorf("%w: got %s, want %s", vaulterr.ErrInvalidNonce, o.Nonce, want)
	}
	if q.used[usedKey{o.Caller, o.OrderID.String()}] {
		return common.Hash{}, fmt.Errorf("%w: orderId %s already used", vaulterr.ErrInvalidOrder, o.OrderID)
	}
	if now := big.NewInt(q.env.Now().Unix()); now.Cmp(o.Deadline) > 0 {
		return common.Hash{}, fmt.Errorf("%w: deadline %s, now %s", vaulterr.ErrOrderExpired, o.Deadline, now)
	}

	own, cosigs, err := splitSignatures(o.Caller, sigs)
	if err != nil {
		return common.Hash{}, err
	}
	if err := consensus.CheckSignature(q.env, digest, o.Caller, own); err != nil {
		return common.Hash{}, err
	}
	if err := q.consensus.Check(digest, cosigs); err != nil {
		return common.Hash{}, err
	}
	return digest, nil
}

func (q *Queue) applyMint(o *order.Order) error {
	if err := erc20.TransferFrom(q.env, q.cfg.Asset, q.cfg.Address, o.Caller, q.ledger.Address(), o.Ordered); err != nil {
		return &vaulterr.CallRevertedError{Target: q.cfg.Asset, Reason: err}
	}
	return q.ledger.MintShares(q.cfg.Address, o.Recipient, o.Requested)
}

func (q *Queue) applyRedeem(o *order.Order) error {
	if err := q.ledger.BurnShares(q.cfg.Address, o.Caller, o.Ordered); err != nil {
		if errors.Is(err, ledger.ErrInsufficientShares) {
			return fmt.Errorf("%w: %v", vaulterr.ErrInvalidOrder, err)
		}
		return err
	}
	return q.ledger.Release(q.cfg.Address, o.Recipient, o.Requested)
}

func splitSignatures(caller common.Address, sigs []consensus.Signature) ([]byte, []consensus.Signature, error) {
	var own []byte
	found := false
	cosigs := make([]consensus.Signature, 0, len(sigs))
	for _, s := range sigs {
		if s.Signer != caller {
			cosigs = append(cosigs, s)
			continue
		}
		if found {
			return nil, nil, fmt.Errorf("%w: caller signed twice", vaulterr.ErrInvalidSignatures)
		}
		own, found = s.Signature, true
	}
	if !found {
		return nil, nil, fmt.Errorf("%w: missing caller signature", vaulterr.ErrInvalidSignatures)
	}
	return own, cosigs, nil
}
