package erc20

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-vault/internal/chain"
)

// ErrReturnedFalse is returned when a token call succeeds but answers false.
var ErrReturnedFalse = errors.New("erc20: operation returned false")

// EncodeApprove builds approve(spender, amount) calldata.
func EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ABI.Pack("approve", spender, amount)
}

// EncodeTransfer builds transfer(to, amount) calldata.
func EncodeTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return ABI.Pack("transfer", to, amount)
}

// EncodeTransferFrom builds transferFrom(from, to, amount) calldata.
func EncodeTransferFrom(from, to common.Address, amount *big.Int) ([]byte, error) {
	return ABI.Pack("transferFrom", from, to, amount)
}

// CheckBoolResult accepts an empty return (non-standard tokens) or an ABI bool true.
func CheckBoolResult(method string, out []byte) error {
	if len(out) == 0 {
		return nil
	}
	vals, err := ABI.Unpack(method, out)
	if err != nil {
		return fmt.Errorf("erc20: decode %s result: %w", method, err)
	}
	if ok, _ := vals[0].(bool); !ok {
		return ErrReturnedFalse
	}
	return nil
}

// Transfer calls token.transfer(to, amount) as from.
func Transfer(env *chain.Env, token, from, to common.Address, amount *big.Int) error {
	data, err := EncodeTransfer(to, amount)
	if err != nil {
		return err
	}
	out, err := env.Call(from, token, nil, data)
	if err != nil {
		return err
	}
	return CheckBoolResult("transfer", out)
}

// TransferFrom calls token.transferFrom(owner, to, amount) as spender.
func TransferFrom(env *chain.Env, token, spender, owner, to common.Address, amount *big.Int) error {
	data, err := EncodeTransferFrom(owner, to, amount)
	if err != nil {
		return err
	}
	out, err := env.Call(spender, token, nil, data)
	if err != nil {
		return err
	}
	return CheckBoolResult("transferFrom", out)
}

// Approve calls token.approve(spender, amount) as owner.
func Approve(env *chain.Env, token, owner, spender common.Address, amount *big.Int) error {
	data, err := EncodeApprove(spender, amount)
	if err != nil {
		return err
	}
	out, err := env.Call(owner, token, nil, data)
	if err != nil {
		return err
	}
	return CheckBoolResult("approve", out)
}

// BalanceOf reads token.balanceOf(account).
func BalanceOf(env *chain.Env, token, account common.Address) (*big.Int, error) {
	return readUint(env, token, "balanceOf", account)
}

// Allowance reads token.allowance(owner, spender).
func Allowance(env *chain.Env, token, owner, spender common.Address) (*big.Int, error) {
	return readUint(env, token, "allowance", owner, spender)
}

func readUint(env *chain.Env, token common.Address, method string, args ...any) (*big.Int, error) {
	if !env.HasCode(token) {
		return nil, fmt.Errorf("erc20: no token at %s", token.Hex())
	}
	data, err := ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := env.Call(common.Address{}, token, nil, data)
	if err != nil {
		return nil, err
	}
	vals, err := ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("erc20: decode %s: %w", method, err)
	}
	return vals[0].(*big.Int), nil
}
