// Package yieldsim is a simulated yield protocol endpoint for sandbox
// deployments and tests. It takes the vault asset, issues a position token at
// a fixed slippage, and redeems position tokens back to the asset.
package yieldsim

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/erc20"
)

const abiJSON = `[
{"type":"function","name":"deposit","inputs":[{"name":"receiver","type":"address"},{"name":"amount","type":"uint256"},{"name":"minOut","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"withdraw","inputs":[{"name":"receiver","type":"address"},{"name":"positionAmount","type":"uint256"},{"name":"minOut","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// ABI is the simulated router interface.
var ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("yieldsim: parse abi: %v", err))
	}
	return parsed
}()

var (
	ErrPaused       = errors.New("yieldsim: router paused")
	ErrOutputTooLow = errors.New("yieldsim: output below minimum")
	ErrSelector     = errors.New("yieldsim: unknown selector")
)

// Selector returns the 4-byte selector of a router method by name.
func Selector(method string) [4]byte {
	var sel [4]byte
	copy(sel[:], ABI.Methods[method].ID)
	return sel
}

// EncodeDeposit builds deposit(receiver, amount, minOut) calldata.
func EncodeDeposit(receiver common.Address, amount, minOut *big.Int) ([]byte, error) {
	return ABI.Pack("deposit", receiver, amount, minOut)
}

// EncodeWithdraw builds withdraw(receiver, positionAmount, minOut) calldata.
func EncodeWithdraw(receiver common.Address, positionAmount, minOut *big.Int) ([]byte, error) {
	return ABI.Pack("withdraw", receiver, positionAmount, minOut)
}

// Router applies SlippageBps on each leg. The position token is owned and
// minted by the router.
type Router struct {
	addr        common.Address
	asset       common.Address
	position    *erc20.Token
	slippageBps uint64
	paused      bool

	// OnDeposit, when set, runs inside the deposit frame with the caller's address.
	OnDeposit func(env *chain.Env, from common.Address) error
}

func New(addr, asset common.Address, position *erc20.Token, slippageBps uint64) *Router {
	return &Router{addr: addr, asset: asset, position: position, slippageBps: slippageBps}
}

func (r *Router) Address() common.Address       { return r.addr }
func (r *Router) PositionToken() common.Address { return r.position.Address() }

// SetPaused makes every call revert with ErrPaused while set.
func (r *Router) SetPaused(env *chain.Env, paused bool) {
	prev := r.paused
	env.Record(func() { r.paused = prev })
	r.paused = paused
}

// Quote returns amount less slippage.
func (r *Router) Quote(amount *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(int64(10_000-r.slippageBps)))
	return out.Div(out, big.NewInt(10_000))
}

func (r *Router) Call(env *chain.Env, from common.Address, _ *big.Int, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrSelector
	}
	method, err := ABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %x", ErrSelector, data[:4])
	}
	if r.paused {
		return nil, ErrPaused
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("yieldsim: decode %s: %w", method.Name, err)
	}
	receiver, amount, minOut := args[0].(common.Address), args[1].(*big.Int), args[2].(*big.Int)

	var out *big.Int
	switch method.Name {
	case "deposit":
		out, err = r.deposit(env, from, receiver, amount)
	case "withdraw":
		out, err = r.withdraw(env, from, receiver, amount)
	}
	if err != nil {
		return nil, err
	}
	if out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: got %s, min %s", ErrOutputTooLow, out, minOut)
	}
	return method.Outputs.Pack(out)
}

func (r *Router) deposit(env *chain.Env, from, receiver common.Address, amount *big.Int) (*big.Int, error) {
	if err := erc20.TransferFrom(env, r.asset, r.addr, from, r.addr, amount); err != nil {
		return nil, err
	}
	if r.OnDeposit != nil {
		if err := r.OnDeposit(env, from); err != nil {
			return nil, err
		}
	}
	minted := r.Quote(amount)
	if err := r.position.Mint(env, receiver, minted); err != nil {
		return nil, err
	}
	return minted, nil
}

func (r *Router) withdraw(env *chain.Env, from, receiver common.Address, positionAmount *big.Int) (*big.Int, error) {
	if err := erc20.TransferFrom(env, r.position.Address(), r.addr, from, r.addr, positionAmount); err != nil {
		return nil, err
	}
	if err := r.position.Burn(env, r.addr, positionAmount); err != nil {
		return nil, err
	}
	paid := r.Quote(positionAmount)
	if err := erc20.Transfer(env, r.asset, r.addr, receiver, paid); err != nil {
		return nil, err
	}
	return paid, nil
}
