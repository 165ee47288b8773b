// Package ledger is the vault's share accounting and asset custody. It owns
// the role table every other component consults, mints and burns shares on
// behalf of the settlement queues, and moves liquidity to and from subvaults
// under the risk limiter's caps.
package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/access"
	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/erc20"
	"github.com/0gfoundation/0g-vault/internal/risk"
	"github.com/0gfoundation/0g-vault/internal/subvault"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
)

var (
	ErrInsufficientShares = errors.New("ledger: burn amount exceeds share balance")
	ErrUnknownSubvault    = errors.New("ledger: subvault not registered")
	ErrSubvaultExists     = errors.New("ledger: subvault already registered")
	ErrNonPositive        = errors.New("ledger: amount must be positive")
)

type Ledger struct {
	*access.Control

	env     *chain.Env
	addr    common.Address
	asset   common.Address
	limiter *risk.Limiter
	log     *zap.Logger

	supply    *big.Int
	shares    map[common.Address]*big.Int
	subvaults map[common.Address]bool
}

func New(env *chain.Env, addr, asset common.Address, roles *access.Control, limiter *risk.Limiter, log *zap.Logger) *Ledger {
	return &Ledger{
		Control:   roles,
		env:       env,
		addr:      addr,
		asset:     asset,
		limiter:   limiter,
		log:       log,
		supply:    new(big.Int),
		shares:    make(map[common.Address]*big.Int),
		subvaults: make(map[common.Address]bool),
	}
}

// Address is the custody account holding the vault's liquid asset.
func (l *Ledger) Address() common.Address { return l.addr }
func (l *Ledger) Asset() common.Address   { return l.asset }

// ── Shares ────────────────────────────────────────────────────────────────────

func (l *Ledger) SharesOf(holder common.Address) *big.Int {
	if s, ok := l.shares[holder]; ok {
		return new(big.Int).Set(s)
	}
	return new(big.Int)
}

func (l *Ledger) TotalSupply() *big.Int { return new(big.Int).Set(l.supply) }

// MintShares credits amount shares to to. Only a queue may mint.
func (l *Ledger) MintShares(caller, to common.Address, amount *big.Int) error {
	if err := access.Require(l, access.RoleQueue, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrNonPositive
	}
	l.setSupply(new(big.Int).Add(l.supply, amount))
	chain.Put(l.env, l.shares, to, new(big.Int).Add(l.SharesOf(to), amount))
	return nil
}

// BurnShares debits amount shares from from. Only a queue may burn.
func (l *Ledger) BurnShares(caller, from common.Address, amount *big.Int) error {
	if err := access.Require(l, access.RoleQueue, caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrNonPositive
	}
	bal := l.SharesOf(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, burning %s", ErrInsufficientShares, from.Hex(), bal, amount)
	}
	l.setSupply(new(big.Int).Sub(l.supply, amount))
	chain.Put(l.env, l.shares, from, bal.Sub(bal, amount))
	return nil
}

func (l *Ledger) setSupply(v *big.Int) {
	prev := l.supply
	l.env.Record(func() { l.supply = prev })
	l.supply = v
}

// ── Custody ───────────────────────────────────────────────────────────────────

// LiquidAssets is the asset balance held directly by the custody account.
func (l *Ledger) LiquidAssets() (*big.Int, error) {
	return erc20.BalanceOf(l.env, l.asset, l.addr)
}

// TotalAssets adds the liquid balance of every registered subvault. Open
// positions are not valued.
func (l *Ledger) TotalAssets() (*big.Int, error) {
	total, err := l.LiquidAssets()
	if err != nil {
		return nil, err
	}
	for _, sv := range l.Subvaults() {
		h, err := erc20.BalanceOf(l.env, l.asset, sv)
		if err != nil {
			return nil, err
		}
		total.Add(total, h)
	}
	return total, nil
}

// Release transfers amount of the asset from custody to recipient. It does not
// pull from subvaults; a keeper must deallocate first.
func (l *Ledger) Release(caller, recipient common.Address, amount *big.Int) error {
	if err := access.Require(l, access.RoleQueue, caller); err != nil {
		return err
	}
	liquid, err := l.LiquidAssets()
	if err != nil {
		return err
	}
	if liquid.Cmp(amount) < 0 {
		return fmt.Errorf("%w: custody holds %s, release needs %s", vaulterr.ErrInsufficientLiquidity, liquid, amount)
	}
	return erc20.Transfer(l.env, l.asset, l.addr, recipient, amount)
}

// ── Subvaults ─────────────────────────────────────────────────────────────────

// AddSubvault registers a deployed subvault. caller must hold SUBVAULT_ADMIN_ROLE.
func (l *Ledger) AddSubvault(caller, sv common.Address) error {
	if err := access.Require(l, access.RoleSubvaultAdmin, caller); err != nil {
		return err
	}
	if !l.env.HasCode(sv) {
		return fmt.Errorf("%w: no code at %s", vaulterr.ErrInvalidVault, sv.Hex())
	}
	if l.subvaults[sv] {
		return fmt.Errorf("%w: %s", ErrSubvaultExists, sv.Hex())
	}
	chain.Put(l.env, l.subvaults, sv, true)
	l.log.Info("subvault registered", zap.String("subvault", sv.Hex()))
	return nil
}

// Subvaults lists registered subvaults in address order.
func (l *Ledger) Subvaults() []common.Address {
	out := make([]common.Address, 0, len(l.subvaults))
	for a := range l.subvaults {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// PushAssets moves amount from custody into sv after the risk limiter accepts it.
func (l *Ledger) PushAssets(caller, sv common.Address, amount *big.Int) error {
	if err := l.checkMove(caller, sv, amount); err != nil {
		return err
	}
	err := l.env.Atomic(func() error {
		if err := l.limiter.Allocate(sv, amount); err != nil {
			return err
		}
		return erc20.Transfer(l.env, l.asset, l.addr, sv, amount)
	})
	if err != nil {
		return fmt.Errorf("push to %s: %w", sv.Hex(), err)
	}
	l.log.Info("assets pushed", zap.String("subvault", sv.Hex()), zap.Stringer("amount", amount), zap.String("keeper", caller.Hex()))
	return nil
}

// PullAssets asks sv to return amount to custody and releases the allocation.
func (l *Ledger) PullAssets(caller, sv common.Address, amount *big.Int) error {
	if err := l.checkMove(caller, sv, amount); err != nil {
		return err
	}
	err := l.env.Atomic(func() error {
		data, err := subvault.EncodePullAssets(l.asset, amount)
		if err != nil {
			return err
		}
		if _, err := l.env.Call(l.addr, sv, nil, data); err != nil {
			return err
		}
		return l.limiter.Release(sv, amount)
	})
	if err != nil {
		return fmt.Errorf("pull from %s: %w", sv.Hex(), err)
	}
	l.log.Info("assets pulled", zap.String("subvault", sv.Hex()), zap.Stringer("amount", amount), zap.String("keeper", caller.Hex()))
	return nil
}

func (l *Ledger) checkMove(caller, sv common.Address, amount *big.Int) error {
	if err := access.Require(l, access.RoleKeeper, caller); err != nil {
		return err
	}
	if !l.subvaults[sv] {
		return fmt.Errorf("%w: %s", ErrUnknownSubvault, sv.Hex())
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrNonPositive
	}
	return nil
}
