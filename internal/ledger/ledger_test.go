package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/access"
	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/erc20"
	"github.com/0gfoundation/0g-vault/internal/forwarder"
	"github.com/0gfoundation/0g-vault/internal/risk"
	"github.com/0gfoundation/0g-vault/internal/subvault"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
	"github.com/0gfoundation/0g-vault/internal/verifier"
)

var (
	admin     = common.HexToAddress("0xAD00000000000000000000000000000000000001")
	keeper    = common.HexToAddress("0x6E00000000000000000000000000000000000002")
	queueAcc  = common.HexToAddress("0x9900000000000000000000000000000000000003")
	user      = common.HexToAddress("0x0100000000000000000000000000000000000004")
	custody   = common.HexToAddress("0x7A00000000000000000000000000000000000005")
	svAddr    = common.HexToAddress("0x5B00000000000000000000000000000000000006")
	assetAddr = common.HexToAddress("0xA100000000000000000000000000000000000010")
	lpAddr    = common.HexToAddress("0xA200000000000000000000000000000000000020")
	router    = common.HexToAddress("0xB100000000000000000000000000000000000100")
)

type fixture struct {
	env   *chain.Env
	asset *erc20.Token
	l     *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	env := chain.NewEnv(big.NewInt(1), nil)
	roles := access.NewControl(env, admin)
	for role, acct := range map[access.Role]common.Address{
		access.RoleKeeper:        keeper,
		access.RoleQueue:         queueAcc,
		access.RoleSubvaultAdmin: admin,
		access.RoleRiskManager:   admin,
	} {
		if err := roles.Grant(admin, role, acct); err != nil {
			t.Fatal(err)
		}
	}
	asset := erc20.New(assetAddr, "W0G", 18)
	if err := env.Deploy(assetAddr, asset); err != nil {
		t.Fatal(err)
	}
	limiter := risk.NewLimiter(env, roles, zap.NewNop())
	l := New(env, custody, assetAddr, roles, limiter, zap.NewNop())

	fwd := forwarder.New(env, verifier.NewAllowlist(env, roles, zap.NewNop()))
	if _, err := subvault.New(env, subvault.Config{
		Address: svAddr, Asset: assetAddr, Router: router, Market: lpAddr,
	}, l, fwd, zap.NewNop()); err != nil {
		t.Fatal(err)
	}
	if err := l.AddSubvault(admin, svAddr); err != nil {
		t.Fatal(err)
	}
	if err := limiter.SetLimit(admin, svAddr, risk.Limit{MaxTotal: big.NewInt(60)}); err != nil {
		t.Fatal(err)
	}
	if err := asset.Mint(env, custody, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	return &fixture{env: env, asset: asset, l: l}
}

// ── Shares ────────────────────────────────────────────────────────────────────

func TestMintBurn_QueueOnly(t *testing.T) {
	f := newFixture(t)
	if err := f.l.MintShares(keeper, user, big.NewInt(5)); !errors.Is(err, vaulterr.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := f.l.MintShares(queueAcc, user, big.NewInt(5)); err != nil {
		t.Fatal(err)
	}
	if err := f.l.BurnShares(queueAcc, user, big.NewInt(6)); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
	if err := f.l.BurnShares(queueAcc, user, big.NewInt(5)); err != nil {
		t.Fatal(err)
	}
	if f.l.SharesOf(user).Sign() != 0 || f.l.TotalSupply().Sign() != 0 {
		t.Errorf("shares=%s supply=%s, want 0/0", f.l.SharesOf(user), f.l.TotalSupply())
	}
}

func TestRelease_InsufficientLiquidity(t *testing.T) {
	f := newFixture(t)
	if err := f.l.Release(queueAcc, user, big.NewInt(101)); !errors.Is(err, vaulterr.ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	if err := f.l.Release(queueAcc, user, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if got := f.asset.BalanceOf(user).Int64(); got != 100 {
		t.Errorf("user = %d, want 100", got)
	}
}

// ── Push / Pull ───────────────────────────────────────────────────────────────

func TestPushPull(t *testing.T) {
	f := newFixture(t)
	if err := f.l.PushAssets(keeper, svAddr, big.NewInt(50)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := f.asset.BalanceOf(svAddr).Int64(); got != 50 {
		t.Errorf("subvault = %d, want 50", got)
	}
	total, err := f.l.TotalAssets()
	if err != nil || total.Int64() != 100 {
		t.Errorf("TotalAssets = %v, %v, want 100", total, err)
	}

	if err := f.l.PushAssets(keeper, svAddr, big.NewInt(11)); !errors.Is(err, vaulterr.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if got := f.asset.BalanceOf(svAddr).Int64(); got != 50 {
		t.Errorf("subvault after rejected push = %d, want 50", got)
	}

	if err := f.l.PullAssets(keeper, svAddr, big.NewInt(30)); err != nil {
		t.Fatalf("pull: %v", err)
	}
	liquid, _ := f.l.LiquidAssets()
	if liquid.Int64() != 80 {
		t.Errorf("liquid = %s, want 80", liquid)
	}
}

func TestPushPull_Forbidden(t *testing.T) {
	f := newFixture(t)
	if err := f.l.PushAssets(user, svAddr, big.NewInt(1)); !errors.Is(err, vaulterr.ErrForbidden) {
		t.Errorf("push: expected ErrForbidden, got %v", err)
	}
	if err := f.l.PullAssets(queueAcc, svAddr, big.NewInt(1)); !errors.Is(err, vaulterr.ErrForbidden) {
		t.Errorf("pull: expected ErrForbidden, got %v", err)
	}
}

func TestPull_MoreThanHeld(t *testing.T) {
	f := newFixture(t)
	_ = f.l.PushAssets(keeper, svAddr, big.NewInt(10))
	if err := f.l.PullAssets(keeper, svAddr, big.NewInt(11)); !errors.Is(err, erc20.ErrInsufficientBalance) {
		t.Fatalf("expected erc20.ErrInsufficientBalance, got %v", err)
	}
}

func TestSubvaultRegistry(t *testing.T) {
	f := newFixture(t)
	other := common.HexToAddress("0x5C")
	if err := f.l.PushAssets(keeper, other, big.NewInt(1)); !errors.Is(err, ErrUnknownSubvault) {
		t.Errorf("expected ErrUnknownSubvault, got %v", err)
	}
	if err := f.l.AddSubvault(admin, other); !errors.Is(err, vaulterr.ErrInvalidVault) {
		t.Errorf("no code: expected ErrInvalidVault, got %v", err)
	}
	if err := f.l.AddSubvault(admin, svAddr); !errors.Is(err, ErrSubvaultExists) {
		t.Errorf("expected ErrSubvaultExists, got %v", err)
	}
	if got := f.l.Subvaults(); len(got) != 1 || got[0] != svAddr {
		t.Errorf("Subvaults = %v", got)
	}
}
