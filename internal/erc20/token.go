// Package erc20 implements a standard ERC-20 token on the in-process Env and
// typed helpers that call tokens through ABI-encoded calldata.
package erc20

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-vault/internal/chain"
)

const abiJSON = `[
{"type":"function","name":"totalSupply","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"balanceOf","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"allowance","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"}
]`

// ABI is the parsed ERC-20 interface.
var ABI = mustParse(abiJSON)

var (
	ErrInsufficientBalance   = errors.New("erc20: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("erc20: insufficient allowance")
	ErrUnknownSelector       = errors.New("erc20: unknown selector")
	ErrZeroAddress           = errors.New("erc20: zero address")
)

func mustParse(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("erc20: parse abi: %v", err))
	}
	return parsed
}

// Selector returns the 4-byte selector of an ERC-20 method by name.
func Selector(method string) [4]byte {
	var sel [4]byte
	copy(sel[:], ABI.Methods[method].ID)
	return sel
}

// Token is an ERC-20 ledger living at a fixed address.
type Token struct {
	addr     common.Address
	symbol   string
	decimals uint8

	supply     *big.Int
	balances   map[common.Address]*big.Int
	allowances map[[2]common.Address]*big.Int
}

func New(addr common.Address, symbol string, decimals uint8) *Token {
	return &Token{
		addr:       addr,
		symbol:     symbol,
		decimals:   decimals,
		supply:     new(big.Int),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[[2]common.Address]*big.Int),
	}
}

func (t *Token) Address() common.Address { return t.addr }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

// Call decodes ERC-20 calldata and applies it on behalf of from.
func (t *Token) Call(env *chain.Env, from common.Address, _ *big.Int, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrUnknownSelector
	}
	method, err := ABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %x", ErrUnknownSelector, data[:4])
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("erc20: decode %s: %w", method.Name, err)
	}
	switch method.Name {
	case "totalSupply":
		return method.Outputs.Pack(new(big.Int).Set(t.supply))
	case "balanceOf":
		return method.Outputs.Pack(t.BalanceOf(args[0].(common.Address)))
	case "allowance":
		return method.Outputs.Pack(t.Allowance(args[0].(common.Address), args[1].(common.Address)))
	case "approve":
		if err := t.approve(env, from, args[0].(common.Address), args[1].(*big.Int)); err != nil {
			return nil, err
		}
		return method.Outputs.Pack(true)
	case "transfer":
		if err := t.transfer(env, from, args[0].(common.Address), args[1].(*big.Int)); err != nil {
			return nil, err
		}
		return method.Outputs.Pack(true)
	case "transferFrom":
		owner, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		if err := t.spendAllowance(env, owner, from, amount); err != nil {
			return nil, err
		}
		if err := t.transfer(env, owner, to, amount); err != nil {
			return nil, err
		}
		return method.Outputs.Pack(true)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSelector, method.Name)
}

func (t *Token) BalanceOf(account common.Address) *big.Int {
	if b, ok := t.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[[2]common.Address{owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

func (t *Token) TotalSupply() *big.Int { return new(big.Int).Set(t.supply) }

// Mint creates amount tokens for to. Used by bootstrapping and simulated endpoints.
func (t *Token) Mint(env *chain.Env, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	t.setSupply(env, new(big.Int).Add(t.supply, amount))
	chain.Put(env, t.balances, to, new(big.Int).Add(t.BalanceOf(to), amount))
	return nil
}

// Burn destroys amount tokens held by from.
func (t *Token) Burn(env *chain.Env, from common.Address, amount *big.Int) error {
	bal := t.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	t.setSupply(env, new(big.Int).Sub(t.supply, amount))
	chain.Put(env, t.balances, from, bal.Sub(bal, amount))
	return nil
}

func (t *Token) setSupply(env *chain.Env, v *big.Int) {
	prev := t.supply
	env.Record(func() { t.supply = prev })
	t.supply = v
}

func (t *Token) approve(env *chain.Env, owner, spender common.Address, amount *big.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	chain.Put(env, t.allowances, [2]common.Address{owner, spender}, new(big.Int).Set(amount))
	return nil
}

func (t *Token) spendAllowance(env *chain.Env, owner, spender common.Address, amount *big.Int) error {
	cur := t.Allowance(owner, spender)
	if cur.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allowed %s, needs %s", ErrInsufficientAllowance, spender.Hex(), cur, amount)
	}
	chain.Put(env, t.allowances, [2]common.Address{owner, spender}, cur.Sub(cur, amount))
	return nil
}

func (t *Token) transfer(env *chain.Env, from, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	bal := t.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	chain.Put(env, t.balances, from, bal.Sub(bal, amount))
	chain.Put(env, t.balances, to, new(big.Int).Add(t.BalanceOf(to), amount))
	return nil
}
