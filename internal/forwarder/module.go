// Package forwarder executes verified outbound calls on behalf of a custody
// component. It holds no state beyond the Verifier it consults.
package forwarder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
	"github.com/0gfoundation/0g-vault/internal/verifier"
)

type Module struct {
	env      *chain.Env
	verifier verifier.Verifier
}

func New(env *chain.Env, v verifier.Verifier) *Module {
	return &Module{env: env, verifier: v}
}

// Forward verifies and executes a call from caller with the compact payload.
func (m *Module) Forward(caller, target common.Address, value *big.Int, data []byte) ([]byte, error) {
	return m.ForwardWithPayload(caller, target, value, data, verifier.CompactPayload())
}

// ForwardWithPayload verifies the call under payload, executes it and returns
// the raw response. A failing external call is wrapped in CallRevertedError.
func (m *Module) ForwardWithPayload(caller, target common.Address, value *big.Int, data []byte, payload verifier.Payload) ([]byte, error) {
	return m.ForwardOnBehalf(caller, caller, target, value, data, payload)
}

// ForwardOnBehalf verifies the call against caller but executes it from
// executor. The generic call entry of a custody component uses it so the
// external sender is checked while the component's own balances are used.
func (m *Module) ForwardOnBehalf(caller, executor, target common.Address, value *big.Int, data []byte, payload verifier.Payload) ([]byte, error) {
	if err := m.verifier.VerifyCall(caller, target, value, data, payload); err != nil {
		return nil, err
	}
	out, err := m.env.Call(executor, target, value, data)
	if err != nil {
		return nil, &vaulterr.CallRevertedError{Target: target, Reason: err}
	}
	return out, nil
}
