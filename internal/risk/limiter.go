// Package risk caps how much of the vault asset may be allocated to each
// subvault. The ledger consults it on every push and pull.
package risk

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/access"
	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
)

var ErrNoLimit = errors.New("risk: no limit configured for subvault")

// Limit bounds allocation to one subvault. A nil MaxPerPush means no per-push cap.
type Limit struct {
	MaxTotal   *big.Int `json:"max_total"`
	MaxPerPush *big.Int `json:"max_per_push,omitempty"`
}

// State is a limit plus the amount currently allocated against it.
type State struct {
	Limit
	Allocated *big.Int `json:"allocated"`
}

type Limiter struct {
	env    *chain.Env
	roles  access.Source
	states map[common.Address]State
	log    *zap.Logger
}

func NewLimiter(env *chain.Env, roles access.Source, log *zap.Logger) *Limiter {
	return &Limiter{env: env, roles: roles, states: make(map[common.Address]State), log: log}
}

// SetLimit installs or replaces the limit for subvault. Already-allocated
// amounts are kept even if they now exceed the new cap.
func (l *Limiter) SetLimit(caller, subvault common.Address, lim Limit) error {
	if err := access.Require(l.roles, access.RoleRiskManager, caller); err != nil {
		return err
	}
	if lim.MaxTotal == nil || lim.MaxTotal.Sign() < 0 {
		return fmt.Errorf("risk: max total must be non-negative")
	}
	allocated := new(big.Int)
	if cur, ok := l.states[subvault]; ok {
		allocated = cur.Allocated
	}
	chain.Put(l.env, l.states, subvault, State{Limit: lim.clone(), Allocated: allocated})
	l.log.Info("risk limit set",
		zap.String("subvault", subvault.Hex()),
		zap.Stringer("max_total", lim.MaxTotal),
	)
	return nil
}

// Allocate records amount moving into subvault. It fails with
// ErrLimitExceeded if the per-push or total cap would be crossed.
func (l *Limiter) Allocate(subvault common.Address, amount *big.Int) error {
	st, ok := l.states[subvault]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoLimit, subvault.Hex())
	}
	if st.MaxPerPush != nil && amount.Cmp(st.MaxPerPush) > 0 {
		return fmt.Errorf("%w: push %s above per-push cap %s", vaulterr.ErrLimitExceeded, amount, st.MaxPerPush)
	}
	next := new(big.Int).Add(st.Allocated, amount)
	if next.Cmp(st.MaxTotal) > 0 {
		return fmt.Errorf("%w: allocation %s above cap %s", vaulterr.ErrLimitExceeded, next, st.MaxTotal)
	}
	st.Allocated = next
	chain.Put(l.env, l.states, subvault, st)
	return nil
}

// Release records amount moving back out of subvault. Allocation floors at
// zero since strategy gains can return more than was pushed.
func (l *Limiter) Release(subvault common.Address, amount *big.Int) error {
	st, ok := l.states[subvault]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoLimit, subvault.Hex())
	}
	next := new(big.Int).Sub(st.Allocated, amount)
	if next.Sign() < 0 {
		next.SetInt64(0)
	}
	st.Allocated = next
	chain.Put(l.env, l.states, subvault, st)
	return nil
}

// State returns the limit and allocation for subvault.
func (l *Limiter) State(subvault common.Address) (State, bool) {
	st, ok := l.states[subvault]
	if !ok {
		return State{}, false
	}
	return State{Limit: st.Limit.clone(), Allocated: new(big.Int).Set(st.Allocated)}, true
}

func (lim Limit) clone() Limit {
	out := Limit{MaxTotal: new(big.Int).Set(lim.MaxTotal)}
	if lim.MaxPerPush != nil {
		out.MaxPerPush = new(big.Int).Set(lim.MaxPerPush)
	}
	return out
}
