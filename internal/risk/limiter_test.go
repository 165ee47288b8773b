package risk

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/access"
	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
)

var (
	admin = common.HexToAddress("0xAD00000000000000000000000000000000000001")
	mgr   = common.HexToAddress("0x4400000000000000000000000000000000000002")
	sv    = common.HexToAddress("0x5B00000000000000000000000000000000000003")
)

func newLimiter(t *testing.T) *Limiter {
	t.Helper()
	env := chain.NewEnv(big.NewInt(1), nil)
	roles := access.NewControl(env, admin)
	if err := roles.Grant(admin, access.RoleRiskManager, mgr); err != nil {
		t.Fatal(err)
	}
	return NewLimiter(env, roles, zap.NewNop())
}

func TestSetLimit_Forbidden(t *testing.T) {
	l := newLimiter(t)
	err := l.SetLimit(admin, sv, Limit{MaxTotal: big.NewInt(10)})
	if !errors.Is(err, vaulterr.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAllocate_Caps(t *testing.T) {
	l := newLimiter(t)
	if err := l.Allocate(sv, big.NewInt(1)); !errors.Is(err, ErrNoLimit) {
		t.Fatalf("expected ErrNoLimit, got %v", err)
	}
	if err := l.SetLimit(mgr, sv, Limit{MaxTotal: big.NewInt(100), MaxPerPush: big.NewInt(60)}); err != nil {
		t.Fatal(err)
	}
	if err := l.Allocate(sv, big.NewInt(61)); !errors.Is(err, vaulterr.ErrLimitExceeded) {
		t.Errorf("per-push: expected ErrLimitExceeded, got %v", err)
	}
	if err := l.Allocate(sv, big.NewInt(60)); err != nil {
		t.Fatal(err)
	}
	if err := l.Allocate(sv, big.NewInt(41)); !errors.Is(err, vaulterr.ErrLimitExceeded) {
		t.Errorf("total: expected ErrLimitExceeded, got %v", err)
	}
	if err := l.Allocate(sv, big.NewInt(40)); err != nil {
		t.Fatal(err)
	}
	st, _ := l.State(sv)
	if st.Allocated.Int64() != 100 {
		t.Errorf("allocated = %s, want 100", st.Allocated)
	}
}

func TestRelease_FloorsAtZero(t *testing.T) {
	l := newLimiter(t)
	if err := l.SetLimit(mgr, sv, Limit{MaxTotal: big.NewInt(100)}); err != nil {
		t.Fatal(err)
	}
	_ = l.Allocate(sv, big.NewInt(50))
	if err := l.Release(sv, big.NewInt(70)); err != nil {
		t.Fatal(err)
	}
	st, _ := l.State(sv)
	if st.Allocated.Sign() != 0 {
		t.Errorf("allocated = %s, want 0", st.Allocated)
	}
}

func TestSetLimit_KeepsAllocation(t *testing.T) {
	l := newLimiter(t)
	_ = l.SetLimit(mgr, sv, Limit{MaxTotal: big.NewInt(100)})
	_ = l.Allocate(sv, big.NewInt(80))
	if err := l.SetLimit(mgr, sv, Limit{MaxTotal: big.NewInt(50)}); err != nil {
		t.Fatal(err)
	}
	st, _ := l.State(sv)
	if st.Allocated.Int64() != 80 || st.MaxTotal.Int64() != 50 {
		t.Errorf("state = %+v", st)
	}
	if err := l.Allocate(sv, big.NewInt(1)); !errors.Is(err, vaulterr.ErrLimitExceeded) {
		t.Errorf("expected ErrLimitExceeded, got %v", err)
	}
}
