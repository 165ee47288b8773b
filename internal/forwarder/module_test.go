package forwarder

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/access"
	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
	"github.com/0gfoundation/0g-vault/internal/verifier"
)

var (
	admin  = common.HexToAddress("0xAD00000000000000000000000000000000000001")
	caller = common.HexToAddress("0x5B00000000000000000000000000000000000002")
	target = common.HexToAddress("0x7A00000000000000000000000000000000000003")

	selEcho = [4]byte{0xec, 0x40, 0x00, 0x01}
	selFail = [4]byte{0xfa, 0x11, 0x00, 0x02}
)

var errEndpoint = errors.New("endpoint: bad params")

// endpoint echoes calldata for selEcho and fails for selFail.
type endpoint struct {
	seen map[string]int
}

func (e *endpoint) Call(env *chain.Env, _ common.Address, _ *big.Int, data []byte) ([]byte, error) {
	chain.Put(env, e.seen, "calls", e.seen["calls"]+1)
	if bytes.HasPrefix(data, selFail[:]) {
		return nil, errEndpoint
	}
	return data, nil
}

func newModule(t *testing.T) (*Module, *verifier.Allowlist, *endpoint) {
	t.Helper()
	env := chain.NewEnv(big.NewInt(1), nil)
	roles := access.NewControl(env, admin)
	_ = roles.Grant(admin, access.RoleAllowlistAdmin, admin)
	al := verifier.NewAllowlist(env, roles, zap.NewNop())
	ep := &endpoint{seen: map[string]int{}}
	if err := env.Deploy(target, ep); err != nil {
		t.Fatal(err)
	}
	return New(env, al), al, ep
}

func TestForward_PropagatesRawResponse(t *testing.T) {
	m, al, _ := newModule(t)
	_ = al.Allow(admin, []verifier.Entry{{Caller: caller, Target: target, Selector: selEcho}})
	data := append(selEcho[:], 0xaa, 0xbb)
	out, err := m.Forward(caller, target, nil, data)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("response: got %x want %x", out, data)
	}
}

func TestForward_VerificationFailsFast(t *testing.T) {
	m, _, ep := newModule(t)
	_, err := m.Forward(caller, target, nil, selEcho[:])
	if !errors.Is(err, vaulterr.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
	if ep.seen["calls"] != 0 {
		t.Error("endpoint must not be invoked when verification fails")
	}
}

func TestForward_CallRevertedCarriesReason(t *testing.T) {
	m, al, _ := newModule(t)
	_ = al.Allow(admin, []verifier.Entry{{Caller: caller, Target: target, Selector: selFail}})
	_, err := m.Forward(caller, target, nil, selFail[:])
	if !errors.Is(err, vaulterr.ErrCallReverted) {
		t.Fatalf("expected ErrCallReverted, got %v", err)
	}
	if !errors.Is(err, errEndpoint) {
		t.Errorf("underlying reason lost: %v", err)
	}
	var cr *vaulterr.CallRevertedError
	if errors.As(err, &cr) && cr.Target != target {
		t.Errorf("target: got %s", cr.Target.Hex())
	}
}
