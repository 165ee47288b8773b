// Package vault assembles the ledger, verifier, subvaults, consensus registry
// and settlement queues into one System over a shared execution environment.
// Every mutating entry point runs under Env.Execute, so operations are
// serialized and all-or-nothing; reads run under Env.View.
package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/access"
	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/consensus"
	"github.com/0gfoundation/0g-vault/internal/erc20"
	"github.com/0gfoundation/0g-vault/internal/forwarder"
	"github.com/0gfoundation/0g-vault/internal/ledger"
	"github.com/0gfoundation/0g-vault/internal/order"
	"github.com/0gfoundation/0g-vault/internal/queue"
	"github.com/0gfoundation/0g-vault/internal/risk"
	"github.com/0gfoundation/0g-vault/internal/subvault"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
	"github.com/0gfoundation/0g-vault/internal/verifier"
	"github.com/0gfoundation/0g-vault/internal/yieldsim"
)

var (
	ErrUnknownQueue = errors.New("vault: unknown queue")
	ErrSandboxOnly  = errors.New("vault: only available in sandbox mode")
)

// bootstrapRoles are held by the admin while the genesis state is written and
// dropped afterwards unless the deployment grants them explicitly.
var bootstrapRoles = []access.Role{
	access.RoleSubvaultAdmin,
	access.RoleAllowlistAdmin,
	access.RoleConsensusAdmin,
	access.RoleRiskManager,
}

type System struct {
	env *chain.Env
	dep Deployment
	log *zap.Logger

	asset     *erc20.Token
	roles     *access.Control
	limiter   *risk.Limiter
	ledger    *ledger.Ledger
	allowlist *verifier.Allowlist
	registry  *consensus.Registry
	queues    map[common.Address]*queue.Queue
	subvaults map[common.Address]*subvault.Subvault
	routers   map[common.Address]*yieldsim.Router
}

// New builds the environment described by dep. now drives the block clock
// and defaults to time.Now.
func New(dep Deployment, now func() time.Time, log *zap.Logger) (*System, error) {
	if dep.ChainID == nil || dep.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id required", vaulterr.ErrInvalidVault)
	}
	if dep.AssetSymbol == "" {
		dep.AssetSymbol = "ASSET"
	}
	env := chain.NewEnv(dep.ChainID, now)
	s := &System{
		env:       env,
		dep:       dep,
		log:       log,
		asset:     erc20.New(dep.Asset, dep.AssetSymbol, dep.AssetDecimals),
		roles:     access.NewControl(env, dep.Admin),
		queues:    make(map[common.Address]*queue.Queue),
		subvaults: make(map[common.Address]*subvault.Subvault),
		routers:   make(map[common.Address]*yieldsim.Router),
	}
	if err := env.Deploy(dep.Asset, s.asset); err != nil {
		return nil, fmt.Errorf("deploy asset: %w", err)
	}

	s.limiter = risk.NewLimiter(env, s.roles, log)
	s.ledger = ledger.New(env, dep.Ledger, dep.Asset, s.roles, s.limiter, log)
	s.allowlist = verifier.NewAllowlist(env, s.roles, log)
	s.registry = consensus.NewRegistry(env, s.roles, 1, log)
	fwd := forwarder.New(env, s.allowlist)

	nonces := queue.NewNonces(env)
	for kind, addr := range map[order.Kind]common.Address{
		order.KindMint:   dep.MintQueue,
		order.KindRedeem: dep.RedeemQueue,
	} {
		q, err := queue.New(env, queue.Config{Address: addr, Kind: kind, Asset: dep.Asset}, nonces, s.ledger, s.registry, log)
		if err != nil {
			return nil, fmt.Errorf("%s queue: %w", kind, err)
		}
		s.queues[addr] = q
	}
	if len(s.queues) != 2 {
		return nil, fmt.Errorf("%w: mint and redeem queue must differ", vaulterr.ErrInvalidVault)
	}

	for i, st := range dep.Strategies {
		if dep.Sandbox {
			if err := s.deployRouter(i, st); err != nil {
				return nil, err
			}
		}
		sv, err := subvault.New(env, subvault.Config{
			Address:      st.Address,
			Asset:        dep.Asset,
			Router:       st.Router,
			Market:       st.Market,
			Constituents: st.Constituents,
		}, s.ledger, fwd, log)
		if err != nil {
			return nil, fmt.Errorf("subvault %s: %w", st.Address.Hex(), err)
		}
		s.subvaults[st.Address] = sv
	}

	if err := env.Execute(s.genesis); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	log.Info("vault assembled",
		zap.String("ledger", dep.Ledger.Hex()),
		zap.String("asset", dep.Asset.Hex()),
		zap.Int("subvaults", len(s.subvaults)),
		zap.Int("signers", len(dep.Signers)),
		zap.Bool("sandbox", dep.Sandbox),
	)
	return s, nil
}

func (s *System) deployRouter(i int, st Strategy) error {
	lp := erc20.New(st.Market, fmt.Sprintf("LP-%d", i), s.asset.Decimals())
	if err := s.env.Deploy(st.Market, lp); err != nil {
		return fmt.Errorf("deploy market %s: %w", st.Market.Hex(), err)
	}
	r := yieldsim.New(st.Router, s.dep.Asset, lp, s.dep.SlippageBps)
	if err := s.env.Deploy(st.Router, r); err != nil {
		return fmt.Errorf("deploy router %s: %w", st.Router.Hex(), err)
	}
	s.routers[st.Router] = r
	return nil
}

// genesis writes the initial role table, registries and limits as the admin.
func (s *System) genesis() error {
	admin := s.dep.Admin
	for _, r := range bootstrapRoles {
		if err := s.roles.Grant(admin, r, admin); err != nil {
			return err
		}
	}
	for _, q := range s.queues {
		if err := s.roles.Grant(admin, access.RoleQueue, q.Address()); err != nil {
			return err
		}
	}
	for role, holders := range s.dep.Roles {
		for _, h := range holders {
			if err := s.roles.Grant(admin, role, h); err != nil {
				return fmt.Errorf("grant %s: %w", role, err)
			}
		}
	}

	for _, sg := range s.dep.Signers {
		scheme := sg.Scheme
		if scheme == 0 {
			scheme = consensus.SchemeEIP712
		}
		if err := s.registry.AddSigner(admin, sg.Address, sg.Weight, scheme); err != nil {
			return fmt.Errorf("signer %s: %w", sg.Address.Hex(), err)
		}
	}
	if s.dep.Threshold > 1 {
		if err := s.registry.SetThreshold(admin, s.dep.Threshold); err != nil {
			return err
		}
	}

	entries := append([]verifier.Entry(nil), s.dep.Allowlist...)
	for _, st := range s.dep.Strategies {
		if err := s.ledger.AddSubvault(admin, st.Address); err != nil {
			return err
		}
		if err := s.limiter.SetLimit(admin, st.Address, st.Limit); err != nil {
			return err
		}
		if s.dep.Sandbox {
			entries = append(entries, sandboxEntries(s.dep.Asset, st)...)
		}
	}
	if len(entries) > 0 {
		if err := s.allowlist.Allow(admin, entries); err != nil {
			return err
		}
	}

	for to, amt := range s.dep.Faucet {
		if !s.dep.Sandbox {
			return fmt.Errorf("faucet: %w", ErrSandboxOnly)
		}
		if err := s.asset.Mint(s.env, to, amt); err != nil {
			return err
		}
	}

	for _, r := range bootstrapRoles {
		if s.explicitlyGranted(r, admin) {
			continue
		}
		if err := s.roles.Revoke(admin, r, admin); err != nil {
			return err
		}
	}
	return nil
}

// sandboxEntries permits exactly the calls a subvault makes against a
// simulated router.
func sandboxEntries(asset common.Address, st Strategy) []verifier.Entry {
	return []verifier.Entry{
		{Caller: st.Address, Target: asset, Selector: erc20.Selector("approve")},
		{Caller: st.Address, Target: st.Market, Selector: erc20.Selector("approve")},
		{Caller: st.Address, Target: st.Router, Selector: yieldsim.Selector("deposit")},
		{Caller: st.Address, Target: st.Router, Selector: yieldsim.Selector("withdraw")},
	}
}

func (s *System) explicitlyGranted(role access.Role, account common.Address) bool {
	for _, h := range s.dep.Roles[role] {
		if h == account {
			return true
		}
	}
	return false
}

// ── settlement ────────────────────────────────────────────────────────────────

// Settle applies a signed submission to the queue named in its order.
func (s *System) Settle(ctx context.Context, sub order.Submission) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q, ok := s.queues[sub.Order.Queue]
	if !ok {
		return fmt.Errorf("%w: %w %s", vaulterr.ErrInvalidOrder, ErrUnknownQueue, sub.Order.Queue.Hex())
	}
	if sub.Kind != q.Kind() {
		return fmt.Errorf("%w: %s order sent to %s queue", vaulterr.ErrInvalidOrder, sub.Kind, q.Kind())
	}
	return s.env.Execute(func() error {
		return q.Settle(s.dep.Relayer, &sub.Order, sub.Signatures)
	})
}

// Queue returns the settlement queue for kind.
func (s *System) Queue(kind order.Kind) *queue.Queue {
	if kind == order.KindMint {
		return s.queues[s.dep.MintQueue]
	}
	return s.queues[s.dep.RedeemQueue]
}

// Domains maps each queue address to its EIP-712 domain.
func (s *System) Domains() map[common.Address]order.Domain {
	out := make(map[common.Address]order.Domain, len(s.queues))
	for addr, q := range s.queues {
		out[addr] = q.Domain()
	}
	return out
}

// Nonce is the nonce the caller's next order must carry on either queue.
func (s *System) Nonce(caller common.Address) *big.Int {
	var n *big.Int
	s.env.View(func() { n = s.Queue(order.KindMint).NonceOf(caller) })
	return n
}

// ── token ─────────────────────────────────────────────────────────────────────

// Approve lets owner grant spender an allowance on the vault asset. Mint
// orders need the mint queue approved for the ordered amount.
func (s *System) Approve(owner, spender common.Address, amount *big.Int) error {
	return s.env.Execute(func() error {
		return erc20.Approve(s.env, s.dep.Asset, owner, spender, amount)
	})
}

// Faucet credits to with amount of the asset. Sandbox only.
func (s *System) Faucet(to common.Address, amount *big.Int) error {
	if !s.dep.Sandbox {
		return ErrSandboxOnly
	}
	return s.env.Execute(func() error { return s.asset.Mint(s.env, to, amount) })
}

// BalanceOf reads token.balanceOf(account); a zero token means the vault asset.
func (s *System) BalanceOf(token, account common.Address) (*big.Int, error) {
	if token == (common.Address{}) {
		token = s.dep.Asset
	}
	var (
		bal *big.Int
		err error
	)
	s.env.View(func() { bal, err = erc20.BalanceOf(s.env, token, account) })
	return bal, err
}

// ── roles ─────────────────────────────────────────────────────────────────────

func (s *System) GrantRole(sender common.Address, role access.Role, account common.Address) error {
	return s.env.Execute(func() error { return s.roles.Grant(sender, role, account) })
}

func (s *System) RevokeRole(sender common.Address, role access.Role, account common.Address) error {
	return s.env.Execute(func() error { return s.roles.Revoke(sender, role, account) })
}

func (s *System) RoleMembers(role access.Role) []common.Address {
	var out []common.Address
	s.env.View(func() { out = s.roles.Members(role) })
	return out
}

func (s *System) HasRole(role access.Role, account common.Address) bool {
	var ok bool
	s.env.View(func() { ok = s.roles.HasRole(role, account) })
	return ok
}

// ── allowlist ─────────────────────────────────────────────────────────────────

func (s *System) Allow(sender common.Address, entries []verifier.Entry) error {
	return s.env.Execute(func() error { return s.allowlist.Allow(sender, entries) })
}

func (s *System) Disallow(sender common.Address, entries []verifier.Entry) error {
	return s.env.Execute(func() error { return s.allowlist.Revoke(sender, entries) })
}

func (s *System) AllowlistEntries() []verifier.Entry {
	var out []verifier.Entry
	s.env.View(func() { out = s.allowlist.Entries() })
	return out
}

// ── consensus ─────────────────────────────────────────────────────────────────

func (s *System) AddSigner(sender, id common.Address, weight uint64, scheme consensus.SchemeID) error {
	return s.env.Execute(func() error { return s.registry.AddSigner(sender, id, weight, scheme) })
}

func (s *System) RemoveSigner(sender, id common.Address) error {
	return s.env.Execute(func() error { return s.registry.RemoveSigner(sender, id) })
}

func (s *System) SetThreshold(sender common.Address, threshold uint64) error {
	return s.env.Execute(func() error { return s.registry.SetThreshold(sender, threshold) })
}

// Signers returns the registered members and the current threshold.
func (s *System) Signers() ([]consensus.Member, uint64) {
	var (
		members   []consensus.Member
		threshold uint64
	)
	s.env.View(func() {
		members = s.registry.Members()
		threshold = s.registry.Threshold()
	})
	return members, threshold
}

// ── liquidity and strategies ──────────────────────────────────────────────────

// Stats is a consistent snapshot of the vault's books.
type Stats struct {
	TotalAssets  *big.Int `json:"total_assets"`
	LiquidAssets *big.Int `json:"liquid_assets"`
	TotalSupply  *big.Int `json:"total_supply"`
}

func (s *System) Stats() (Stats, error) {
	var (
		st  Stats
		err error
	)
	s.env.View(func() {
		st.TotalSupply = s.ledger.TotalSupply()
		if st.LiquidAssets, err = s.ledger.LiquidAssets(); err != nil {
			return
		}
		st.TotalAssets, err = s.ledger.TotalAssets()
	})
	return st, err
}

func (s *System) SharesOf(holder common.Address) *big.Int {
	var out *big.Int
	s.env.View(func() { out = s.ledger.SharesOf(holder) })
	return out
}

func (s *System) Push(sender, sv common.Address, amount *big.Int) error {
	return s.env.Execute(func() error { return s.ledger.PushAssets(sender, sv, amount) })
}

func (s *System) Pull(sender, sv common.Address, amount *big.Int) error {
	return s.env.Execute(func() error { return s.ledger.PullAssets(sender, sv, amount) })
}

func (s *System) SetLimit(sender, sv common.Address, lim risk.Limit) error {
	return s.env.Execute(func() error { return s.limiter.SetLimit(sender, sv, lim) })
}

func (s *System) Enter(sender, sv common.Address, amount, minOutputGuard *big.Int, data []byte) ([]byte, error) {
	v, err := s.subvault(sv)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = s.env.Execute(func() error {
		res, err := v.Enter(sender, amount, minOutputGuard, data)
		out = res
		return err
	})
	return out, err
}

// Exit unwinds a position. The asset returned to custody is released from the
// subvault's risk allocation in the same operation.
func (s *System) Exit(sender, sv common.Address, positionAmount, minOutputGuard *big.Int, data []byte) ([]byte, error) {
	v, err := s.subvault(sv)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = s.env.Execute(func() error {
		before, err := s.ledger.LiquidAssets()
		if err != nil {
			return err
		}
		if out, err = v.Exit(sender, positionAmount, minOutputGuard, data); err != nil {
			return err
		}
		after, err := s.ledger.LiquidAssets()
		if err != nil {
			return err
		}
		// Exit returns liquidity to custody directly; net it off the allocation.
		return s.limiter.Release(sv, new(big.Int).Sub(after, before))
	})
	return out, err
}

func (s *System) Sweep(sender, sv, token, recipient common.Address, amount *big.Int) error {
	v, err := s.subvault(sv)
	if err != nil {
		return err
	}
	return s.env.Execute(func() error { return v.Sweep(sender, token, recipient, amount) })
}

// Call is the generic subvault forwarding entry, verified against sender.
func (s *System) Call(sender, sv, target common.Address, value *big.Int, data []byte) ([]byte, error) {
	v, err := s.subvault(sv)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = s.env.Execute(func() error {
		res, err := v.Forward(sender, target, value, data)
		out = res
		return err
	})
	return out, err
}

// SubvaultView summarizes one strategy for the API.
type SubvaultView struct {
	Address      common.Address   `json:"address"`
	Router       common.Address   `json:"router"`
	Market       common.Address   `json:"market"`
	Constituents []common.Address `json:"constituents,omitempty"`
	Holdings     *big.Int         `json:"holdings"`
	Position     *big.Int         `json:"position"`
	Limit        *risk.State      `json:"limit,omitempty"`
}

func (s *System) Subvaults() ([]SubvaultView, error) {
	var (
		out []SubvaultView
		err error
	)
	s.env.View(func() {
		for _, addr := range s.ledger.Subvaults() {
			sv, ok := s.subvaults[addr]
			if !ok {
				continue
			}
			cfg := sv.Config()
			view := SubvaultView{
				Address:      addr,
				Router:       cfg.Router,
				Market:       cfg.Market,
				Constituents: cfg.Constituents,
				Position:     new(big.Int),
			}
			if view.Holdings, err = sv.TotalHoldings(); err != nil {
				return
			}
			if s.env.HasCode(cfg.Market) {
				if view.Position, err = erc20.BalanceOf(s.env, cfg.Market, addr); err != nil {
					return
				}
			}
			if st, ok := s.limiter.State(addr); ok {
				view.Limit = &st
			}
			out = append(out, view)
		}
	})
	return out, err
}

// Router returns the simulated endpoint deployed at addr in sandbox mode.
func (s *System) Router(addr common.Address) (*yieldsim.Router, bool) {
	r, ok := s.routers[addr]
	return r, ok
}

func (s *System) subvault(addr common.Address) (*subvault.Subvault, error) {
	v, ok := s.subvaults[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownSubvault, addr.Hex())
	}
	return v, nil
}

// Deployment returns the addresses the system was assembled with.
func (s *System) Deployment() Deployment { return s.dep }
