package subvault

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/access"
	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/erc20"
	"github.com/0gfoundation/0g-vault/internal/forwarder"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
	"github.com/0gfoundation/0g-vault/internal/verifier"
	"github.com/0gfoundation/0g-vault/internal/yieldsim"
)

var (
	admin    = common.HexToAddress("0xAD00000000000000000000000000000000000001")
	keeper   = common.HexToAddress("0x6E00000000000000000000000000000000000002")
	outsider = common.HexToAddress("0x0B00000000000000000000000000000000000003")
	vaultAcc = common.HexToAddress("0x7A00000000000000000000000000000000000004")
	svAddr   = common.HexToAddress("0x5B00000000000000000000000000000000000005")

	assetAddr   = common.HexToAddress("0xA100000000000000000000000000000000000010")
	marketAddr  = common.HexToAddress("0xA200000000000000000000000000000000000020")
	syAddr      = common.HexToAddress("0xA300000000000000000000000000000000000030")
	ptAddr      = common.HexToAddress("0xA400000000000000000000000000000000000040")
	ytAddr      = common.HexToAddress("0xA500000000000000000000000000000000000050")
	foreignAddr = common.HexToAddress("0xA600000000000000000000000000000000000060")
	routerAddr  = common.HexToAddress("0xB100000000000000000000000000000000000100")
)

type parent struct {
	*access.Control
	addr, asset common.Address
}

func (p *parent) Address() common.Address { return p.addr }
func (p *parent) Asset() common.Address   { return p.asset }

type fixture struct {
	env     *chain.Env
	roles   *access.Control
	al      *verifier.Allowlist
	asset   *erc20.Token
	market  *erc20.Token
	foreign *erc20.Token
	router  *yieldsim.Router
	sv      *Subvault
}

func newFixture(t *testing.T, slippageBps uint64) *fixture {
	t.Helper()
	env := chain.NewEnv(big.NewInt(16600), func() time.Time { return time.Unix(1_700_000_000, 0) })
	roles := access.NewControl(env, admin)
	for _, g := range []struct {
		role access.Role
		acct common.Address
	}{
		{access.RoleAllowlistAdmin, admin},
		{access.RoleSubvaultAdmin, admin},
		{access.RoleKeeper, keeper},
	} {
		if err := roles.Grant(admin, g.role, g.acct); err != nil {
			t.Fatalf("grant: %v", err)
		}
	}

	f := &fixture{
		env:     env,
		roles:   roles,
		asset:   erc20.New(assetAddr, "W0G", 18),
		market:  erc20.New(marketAddr, "LP", 18),
		foreign: erc20.New(foreignAddr, "AIR", 18),
	}
	f.router = yieldsim.New(routerAddr, assetAddr, f.market, slippageBps)
	for addr, c := range map[common.Address]chain.Contract{
		assetAddr: f.asset, marketAddr: f.market, foreignAddr: f.foreign, routerAddr: f.router,
	} {
		if err := env.Deploy(addr, c); err != nil {
			t.Fatalf("deploy: %v", err)
		}
	}

	f.al = verifier.NewAllowlist(env, roles, zap.NewNop())
	sv, err := New(env, Config{
		Address:      svAddr,
		Asset:        assetAddr,
		Router:       routerAddr,
		Market:       marketAddr,
		Constituents: []common.Address{syAddr, ptAddr, ytAddr},
	}, &parent{Control: roles, addr: vaultAcc, asset: assetAddr}, forwarder.New(env, f.al), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.sv = sv

	if err := f.al.Allow(admin, []verifier.Entry{
		{Caller: svAddr, Target: assetAddr, Selector: erc20.Selector("approve")},
		{Caller: svAddr, Target: marketAddr, Selector: erc20.Selector("approve")},
		{Caller: svAddr, Target: routerAddr, Selector: yieldsim.Selector("deposit")},
		{Caller: svAddr, Target: routerAddr, Selector: yieldsim.Selector("withdraw")},
	}); err != nil {
		t.Fatalf("allow: %v", err)
	}
	if err := f.asset.Mint(env, svAddr, big.NewInt(50)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return f
}

func (f *fixture) depositData(t *testing.T, amount int64) []byte {
	t.Helper()
	data, err := yieldsim.EncodeDeposit(svAddr, big.NewInt(amount), big.NewInt(0))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func (f *fixture) withdrawData(t *testing.T, amount *big.Int) []byte {
	t.Helper()
	data, err := yieldsim.EncodeWithdraw(svAddr, amount, big.NewInt(0))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func (f *fixture) allowance(token common.Address) int64 {
	a, _ := erc20.Allowance(f.env, token, svAddr, routerAddr)
	return a.Int64()
}

// ── Config ────────────────────────────────────────────────────────────────────

func TestNew_AssetMismatch(t *testing.T) {
	env := chain.NewEnv(big.NewInt(1), nil)
	roles := access.NewControl(env, admin)
	_, err := New(env, Config{
		Address: svAddr, Asset: assetAddr, Router: routerAddr, Market: marketAddr,
	}, &parent{Control: roles, addr: vaultAcc, asset: foreignAddr}, forwarder.New(env, verifier.NewAllowlist(env, roles, zap.NewNop())), zap.NewNop())
	if !errors.Is(err, vaulterr.ErrInvalidVault) {
		t.Fatalf("expected ErrInvalidVault, got %v", err)
	}
}

func TestConfig_IsCopy(t *testing.T) {
	f := newFixture(t, 0)
	cfg := f.sv.Config()
	cfg.Constituents[0] = foreignAddr
	cfg.Router = outsider
	if got := f.sv.Config(); got.Constituents[0] != syAddr || got.Router != routerAddr {
		t.Fatal("mutating a returned Config changed the subvault")
	}
	if err := f.sv.Sweep(admin, syAddr, admin, big.NewInt(1)); !errors.Is(err, vaulterr.ErrProtectedToken) {
		t.Fatalf("SY must stay protected, got %v", err)
	}
}

// ── Enter / Exit ──────────────────────────────────────────────────────────────

func TestEnterExit_ApprovalHygiene(t *testing.T) {
	f := newFixture(t, 500)

	if _, err := f.sv.Enter(keeper, big.NewInt(50), big.NewInt(47), f.depositData(t, 50)); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if a := f.allowance(assetAddr); a != 0 {
		t.Errorf("asset allowance after enter = %d, want 0", a)
	}
	lp := f.market.BalanceOf(svAddr)
	if lp.Int64() != 47 {
		t.Fatalf("position = %s, want 47", lp)
	}

	if _, err := f.sv.Exit(keeper, lp, big.NewInt(0), f.withdrawData(t, lp)); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if a := f.allowance(marketAddr); a != 0 {
		t.Errorf("market allowance after exit = %d, want 0", a)
	}
	if got := f.asset.BalanceOf(svAddr).Int64(); got != 0 {
		t.Errorf("subvault liquid asset after exit = %d, want 0", got)
	}
	// 47 * 0.95 = 44.65
	if got := f.asset.BalanceOf(vaultAcc).Int64(); got != 44 {
		t.Errorf("vault received %d, want 44", got)
	}
}

func TestEnterExit_ResetsUnconsumedApproval(t *testing.T) {
	f := newFixture(t, 0)

	// Approve 50, the protocol pulls only 30.
	if _, err := f.sv.Enter(keeper, big.NewInt(50), big.NewInt(30), f.depositData(t, 30)); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if a := f.allowance(assetAddr); a != 0 {
		t.Errorf("asset allowance after enter(50) consuming 30 = %d, want 0", a)
	}
	if got := f.asset.BalanceOf(svAddr).Int64(); got != 20 {
		t.Errorf("unspent asset = %d, want 20", got)
	}
	if got := f.market.BalanceOf(svAddr).Int64(); got != 30 {
		t.Fatalf("position = %d, want 30", got)
	}

	// Approve the whole position, the protocol burns only 10.
	if _, err := f.sv.Exit(keeper, big.NewInt(30), big.NewInt(0), f.withdrawData(t, big.NewInt(10))); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if a := f.allowance(marketAddr); a != 0 {
		t.Errorf("market allowance after exit(30) burning 10 = %d, want 0", a)
	}
	if got := f.market.BalanceOf(svAddr).Int64(); got != 20 {
		t.Errorf("remaining position = %d, want 20", got)
	}
	// Exit sweeps all liquid asset: 20 unspent plus 10 withdrawn.
	if got := f.asset.BalanceOf(vaultAcc).Int64(); got != 30 {
		t.Errorf("vault received %d, want 30", got)
	}
}

func TestEnter_ViaABI(t *testing.T) {
	f := newFixture(t, 0)
	data, err := EncodeEnter(big.NewInt(20), nil, f.depositData(t, 20))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.env.Call(keeper, svAddr, nil, data); err != nil {
		t.Fatalf("enter via Call: %v", err)
	}
	if got := f.market.BalanceOf(svAddr).Int64(); got != 20 {
		t.Errorf("position = %d, want 20", got)
	}
}

func TestEnterExit_Forbidden(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.sv.Enter(outsider, big.NewInt(10), nil, f.depositData(t, 10)); !errors.Is(err, vaulterr.ErrForbidden) {
		t.Errorf("Enter by outsider: expected ErrForbidden, got %v", err)
	}
	if _, err := f.sv.Exit(admin, big.NewInt(10), nil, f.withdrawData(t, big.NewInt(10))); !errors.Is(err, vaulterr.ErrForbidden) {
		t.Errorf("Exit by admin without keeper role: expected ErrForbidden, got %v", err)
	}
	var fe *access.ForbiddenError
	_, err := f.sv.Enter(outsider, big.NewInt(10), nil, nil)
	if !errors.As(err, &fe) || fe.Role != access.RoleKeeper {
		t.Errorf("expected ForbiddenError for keeper role, got %v", err)
	}
}

func TestEnter_IncompleteAllowlist(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.al.Revoke(admin, []verifier.Entry{
		{Caller: svAddr, Target: routerAddr, Selector: yieldsim.Selector("deposit")},
	}); err != nil {
		t.Fatal(err)
	}
	_, err := f.sv.Enter(keeper, big.NewInt(50), nil, f.depositData(t, 50))
	if !errors.Is(err, vaulterr.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
	if a := f.allowance(assetAddr); a != 0 {
		t.Errorf("approval survived failed enter: %d", a)
	}
	if got := f.asset.BalanceOf(svAddr).Int64(); got != 50 {
		t.Errorf("balance = %d, want 50", got)
	}
}

func TestEnter_ProtocolRevertRollsBack(t *testing.T) {
	f := newFixture(t, 0)
	f.router.SetPaused(f.env, true)

	_, err := f.sv.Enter(keeper, big.NewInt(50), nil, f.depositData(t, 50))
	if !errors.Is(err, vaulterr.ErrCallReverted) {
		t.Fatalf("expected ErrCallReverted, got %v", err)
	}
	if !errors.Is(err, yieldsim.ErrPaused) {
		t.Errorf("revert reason not propagated: %v", err)
	}
	if a := f.allowance(assetAddr); a != 0 {
		t.Errorf("approval survived reverted enter: %d", a)
	}
	if got := f.asset.BalanceOf(svAddr).Int64(); got != 50 {
		t.Errorf("balance = %d, want 50", got)
	}
}

func TestEnter_MinOutputGuardNotEnforced(t *testing.T) {
	f := newFixture(t, 1000)
	// Guard above the actual output. Only calldata-encoded bounds are checked.
	if _, err := f.sv.Enter(keeper, big.NewInt(50), big.NewInt(50), f.depositData(t, 50)); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if got := f.market.BalanceOf(svAddr).Int64(); got != 45 {
		t.Errorf("position = %d, want 45", got)
	}
}

func TestEnter_ZeroAmount(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.sv.Enter(keeper, big.NewInt(0), nil, f.depositData(t, 0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("expected ErrZeroAmount, got %v", err)
	}
}

// ── Reentrancy ────────────────────────────────────────────────────────────────

func TestEnter_ReentrantCallRejected(t *testing.T) {
	f := newFixture(t, 0)
	var inner error
	f.router.OnDeposit = func(env *chain.Env, _ common.Address) error {
		data, err := EncodeEnter(big.NewInt(1), nil, f.depositData(t, 1))
		if err != nil {
			return err
		}
		_, inner = env.Call(keeper, svAddr, nil, data)
		return inner
	}

	_, err := f.sv.Enter(keeper, big.NewInt(10), nil, f.depositData(t, 10))
	if !errors.Is(inner, vaulterr.ErrReentrantCall) {
		t.Fatalf("nested enter: expected ErrReentrantCall, got %v", inner)
	}
	if !errors.Is(err, vaulterr.ErrReentrantCall) {
		t.Fatalf("outer enter: expected ErrReentrantCall, got %v", err)
	}
	if got := f.asset.BalanceOf(svAddr).Int64(); got != 50 {
		t.Errorf("balance = %d, want 50", got)
	}

	// Lock is released after the failed operation.
	f.router.OnDeposit = nil
	if _, err := f.sv.Enter(keeper, big.NewInt(10), nil, f.depositData(t, 10)); err != nil {
		t.Fatalf("Enter after reentrancy failure: %v", err)
	}
}

func TestSweep_ReentrantFromCallback(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.foreign.Mint(f.env, svAddr, big.NewInt(5)); err != nil {
		t.Fatal(err)
	}
	f.router.OnDeposit = func(env *chain.Env, _ common.Address) error {
		return f.sv.Sweep(admin, foreignAddr, admin, big.NewInt(5))
	}
	if _, err := f.sv.Enter(keeper, big.NewInt(10), nil, f.depositData(t, 10)); !errors.Is(err, vaulterr.ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	if got := f.foreign.BalanceOf(svAddr).Int64(); got != 5 {
		t.Errorf("foreign balance = %d, want 5", got)
	}
}

// ── Sweep ─────────────────────────────────────────────────────────────────────

func TestSweep_ProtectedTokens(t *testing.T) {
	f := newFixture(t, 0)
	for _, tok := range []common.Address{assetAddr, marketAddr, syAddr, ptAddr, ytAddr} {
		for _, amt := range []int64{1, 50, 1 << 40} {
			err := f.sv.Sweep(admin, tok, outsider, big.NewInt(amt))
			if !errors.Is(err, vaulterr.ErrProtectedToken) {
				t.Errorf("Sweep(%s, %d): expected ErrProtectedToken, got %v", tok.Hex(), amt, err)
			}
		}
	}
}

func TestSweep_Forbidden(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.sv.Sweep(keeper, foreignAddr, keeper, big.NewInt(1)); !errors.Is(err, vaulterr.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSweep_ForeignToken(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.foreign.Mint(f.env, svAddr, big.NewInt(7)); err != nil {
		t.Fatal(err)
	}
	// No allowlist entry exists for the foreign token.
	if err := f.sv.Sweep(admin, foreignAddr, outsider, big.NewInt(7)); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got := f.foreign.BalanceOf(outsider).Int64(); got != 7 {
		t.Errorf("recipient got %d, want 7", got)
	}
}

// ── PullAssets / Forward / TotalHoldings ──────────────────────────────────────

func TestPullAssets_OnlyVault(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.sv.PullAssets(keeper, assetAddr, big.NewInt(10)); !errors.Is(err, vaulterr.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	data, err := EncodePullAssets(assetAddr, big.NewInt(10))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.env.Call(vaultAcc, svAddr, nil, data); err != nil {
		t.Fatalf("pullAssets from vault: %v", err)
	}
	if got := f.asset.BalanceOf(vaultAcc).Int64(); got != 10 {
		t.Errorf("vault balance = %d, want 10", got)
	}
	h, err := f.sv.TotalHoldings()
	if err != nil {
		t.Fatal(err)
	}
	if h.Int64() != 40 {
		t.Errorf("TotalHoldings = %s, want 40", h)
	}
	if err := f.sv.PullAssets(vaultAcc, foreignAddr, big.NewInt(1)); !errors.Is(err, ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestForward_CheckedAgainstSender(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.foreign.Mint(f.env, svAddr, big.NewInt(3)); err != nil {
		t.Fatal(err)
	}
	data, err := erc20.EncodeTransfer(outsider, big.NewInt(3))
	if err != nil {
		t.Fatal(err)
	}
	// The subvault's own tuples do not open the generic entry point.
	if _, err := f.sv.Forward(outsider, assetAddr, nil, data); !errors.Is(err, vaulterr.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}

	if err := f.al.Allow(admin, []verifier.Entry{
		{Caller: outsider, Target: foreignAddr, Selector: erc20.Selector("transfer")},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.sv.Forward(outsider, foreignAddr, nil, data); err != nil {
		t.Fatalf("Forward after grant: %v", err)
	}
	if got := f.foreign.BalanceOf(outsider).Int64(); got != 3 {
		t.Errorf("outsider got %d, want 3", got)
	}
}
