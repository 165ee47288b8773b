package chain

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const maxCallDepth = 64

var (
	ErrCallDepth           = errors.New("max call depth exceeded")
	ErrInsufficientBalance = errors.New("insufficient native balance")
	ErrAlreadyDeployed     = errors.New("address already has code")
)

// Contract is an account with code. The Env calls it with the immediate sender
// of the frame; writes must be journaled through Env.Record so that a failing
// frame can be rolled back.
type Contract interface {
	Call(env *Env, from common.Address, value *big.Int, data []byte) ([]byte, error)
}

// Env is the in-process execution environment vault components run in.
// Execute serializes top-level operations; Call, Atomic and Record are not
// safe for concurrent use outside of Execute or View.
type Env struct {
	mu sync.Mutex

	chainID   *big.Int
	now       func() time.Time
	contracts map[common.Address]Contract
	native    map[common.Address]*big.Int

	journal []func()
	depth   int
	atomic  int
}

// NewEnv creates an empty environment. now defaults to time.Now.
func NewEnv(chainID *big.Int, now func() time.Time) *Env {
	if now == nil {
		now = time.Now
	}
	return &Env{
		chainID:   new(big.Int).Set(chainID),
		now:       now,
		contracts: make(map[common.Address]Contract),
		native:    make(map[common.Address]*big.Int),
	}
}

// ChainID returns a copy of the configured chain ID.
func (e *Env) ChainID() *big.Int { return new(big.Int).Set(e.chainID) }

// Now returns the current block time.
func (e *Env) Now() time.Time { return e.now() }

// Deploy installs code at addr.
func (e *Env) Deploy(addr common.Address, c Contract) error {
	if _, ok := e.contracts[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyDeployed, addr.Hex())
	}
	e.contracts[addr] = c
	return nil
}

// HasCode reports whether addr holds a contract.
func (e *Env) HasCode(addr common.Address) bool {
	_, ok := e.contracts[addr]
	return ok
}

// Code returns the contract at addr.
func (e *Env) Code(addr common.Address) (Contract, bool) {
	c, ok := e.contracts[addr]
	return c, ok
}

// Record appends an undo entry to the journal.
func (e *Env) Record(undo func()) {
	e.journal = append(e.journal, undo)
}

// Snapshot returns an identifier for the current journal position.
func (e *Env) Snapshot() int { return len(e.journal) }

// RevertToSnapshot undoes every write recorded after id, newest first.
func (e *Env) RevertToSnapshot(id int) {
	for i := len(e.journal) - 1; i >= id; i-- {
		e.journal[i]()
	}
	e.journal = e.journal[:id]
}

// Atomic runs fn and reverts all of its writes if it fails.
func (e *Env) Atomic(fn func() error) error {
	snap := e.Snapshot()
	e.atomic++
	err := fn()
	e.atomic--
	if err != nil {
		e.RevertToSnapshot(snap)
		return err
	}
	if e.atomic == 0 {
		e.journal = e.journal[:0]
	}
	return nil
}

// Execute runs fn as one serialized, all-or-nothing operation. It must not be
// called from inside another Execute or View.
func (e *Env) Execute(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Atomic(fn)
}

// View runs a read-only fn under the same serialization as Execute.
func (e *Env) View(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

// Call executes data against the code at to in a new frame. An address
// without code accepts the call and returns no output.
func (e *Env) Call(from, to common.Address, value *big.Int, data []byte) ([]byte, error) {
	if e.depth >= maxCallDepth {
		return nil, ErrCallDepth
	}
	snap := e.Snapshot()
	if value != nil && value.Sign() > 0 {
		if err := e.transferNative(from, to, value); err != nil {
			return nil, err
		}
	}
	c, ok := e.contracts[to]
	if !ok {
		return nil, nil
	}
	e.depth++
	out, err := c.Call(e, from, value, data)
	e.depth--
	if err != nil {
		e.RevertToSnapshot(snap)
		return nil, err
	}
	return out, nil
}

// Balance returns the native balance of addr.
func (e *Env) Balance(addr common.Address) *big.Int {
	if b, ok := e.native[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// SetBalance overwrites the native balance of addr.
func (e *Env) SetBalance(addr common.Address, amount *big.Int) {
	prev, had := e.native[addr]
	e.Record(func() {
		if had {
			e.native[addr] = prev
		} else {
			delete(e.native, addr)
		}
	})
	e.native[addr] = new(big.Int).Set(amount)
}

func (e *Env) transferNative(from, to common.Address, value *big.Int) error {
	bal := e.Balance(from)
	if bal.Cmp(value) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), bal, value)
	}
	e.SetBalance(from, bal.Sub(bal, value))
	e.SetBalance(to, new(big.Int).Add(e.Balance(to), value))
	return nil
}
