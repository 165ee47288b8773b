package subvault

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-vault/internal/chain"
)

const abiJSON = `[
{"type":"function","name":"enter","inputs":[{"name":"amount","type":"uint256"},{"name":"minOutputGuard","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bytes"}]},
{"type":"function","name":"exit","inputs":[{"name":"positionAmount","type":"uint256"},{"name":"minOutputGuard","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bytes"}]},
{"type":"function","name":"sweep","inputs":[{"name":"token","type":"address"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"pullAssets","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"call","inputs":[{"name":"where","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bytes"}]},
{"type":"function","name":"totalHoldings","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

// ABI is the subvault's external interface.
var ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("subvault: parse abi: %v", err))
	}
	return parsed
}()

// EncodeEnter builds enter(amount, minOutputGuard, data) calldata.
func EncodeEnter(amount, minOutputGuard *big.Int, data []byte) ([]byte, error) {
	return ABI.Pack("enter", amount, bigOrZero(minOutputGuard), data)
}

// EncodeExit builds exit(positionAmount, minOutputGuard, data) calldata.
func EncodeExit(positionAmount, minOutputGuard *big.Int, data []byte) ([]byte, error) {
	return ABI.Pack("exit", positionAmount, bigOrZero(minOutputGuard), data)
}

// EncodePullAssets builds pullAssets(asset, amount) calldata.
func EncodePullAssets(asset common.Address, amount *big.Int) ([]byte, error) {
	return ABI.Pack("pullAssets", asset, amount)
}

// EncodeCall builds call(where, value, data) calldata.
func EncodeCall(where common.Address, value *big.Int, data []byte) ([]byte, error) {
	return ABI.Pack("call", where, bigOrZero(value), data)
}

// Call dispatches ABI calldata with from as the sender, so nested calls into
// the subvault pass through the same role checks and execution lock.
func (s *Subvault) Call(_ *chain.Env, from common.Address, _ *big.Int, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("subvault: calldata too short")
	}
	method, err := ABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("subvault: unknown selector %x", data[:4])
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("subvault: decode %s: %w", method.Name, err)
	}
	switch method.Name {
	case "enter":
		out, err := s.Enter(from, args[0].(*big.Int), args[1].(*big.Int), args[2].([]byte))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(out)
	case "exit":
		out, err := s.Exit(from, args[0].(*big.Int), args[1].(*big.Int), args[2].([]byte))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(out)
	case "sweep":
		return nil, s.Sweep(from, args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int))
	case "pullAssets":
		return nil, s.PullAssets(from, args[0].(common.Address), args[1].(*big.Int))
	case "call":
		out, err := s.Forward(from, args[0].(common.Address), args[1].(*big.Int), args[2].([]byte))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(out)
	case "totalHoldings":
		h, err := s.TotalHoldings()
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(h)
	}
	return nil, fmt.Errorf("subvault: unhandled method %s", method.Name)
}
