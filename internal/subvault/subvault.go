// Package subvault implements the strategy custody unit. A Subvault holds a
// slice of the vault's assets and moves them into and out of one external
// yield protocol through verified approve -> call -> reset sequences.
package subvault

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/access"
	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/erc20"
	"github.com/0gfoundation/0g-vault/internal/forwarder"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
	"github.com/0gfoundation/0g-vault/internal/verifier"
)

var (
	ErrZeroAmount   = errors.New("subvault: amount must be positive")
	ErrUnknownAsset = errors.New("subvault: asset not managed by this subvault")
)

// Parent is the owning vault, consulted for roles and its custody address.
type Parent interface {
	access.Source
	Address() common.Address
	Asset() common.Address
}

// Config holds the identifiers fixed at construction. Subvault keeps a private
// copy and exposes no setter.
type Config struct {
	Address common.Address
	Asset   common.Address
	Router  common.Address
	// Market is the protocol's position/LP token.
	Market common.Address
	// Constituents are the market's sub-tokens (e.g. SY, PT, YT).
	Constituents []common.Address

	KeeperRole access.Role
	AdminRole  access.Role
}

func (c Config) clone() Config {
	c.Constituents = append([]common.Address(nil), c.Constituents...)
	return c
}

func (c Config) validate(parent Parent) error {
	for name, a := range map[string]common.Address{
		"address": c.Address,
		"asset":   c.Asset,
		"router":  c.Router,
		"market":  c.Market,
	} {
		if a == (common.Address{}) {
			return fmt.Errorf("%w: zero %s", vaulterr.ErrInvalidVault, name)
		}
	}
	if parent == nil {
		return fmt.Errorf("%w: no parent vault", vaulterr.ErrInvalidVault)
	}
	if parent.Asset() != c.Asset {
		return fmt.Errorf("%w: vault asset %s, subvault asset %s", vaulterr.ErrInvalidVault, parent.Asset().Hex(), c.Asset.Hex())
	}
	if c.Market == c.Asset {
		return fmt.Errorf("%w: market equals asset", vaulterr.ErrInvalidVault)
	}
	for _, t := range c.Constituents {
		if t == (common.Address{}) || t == c.Asset {
			return fmt.Errorf("%w: bad constituent %s", vaulterr.ErrInvalidVault, t.Hex())
		}
	}
	return nil
}

type Subvault struct {
	env    *chain.Env
	cfg    Config
	parent Parent
	fwd    *forwarder.Module
	log    *zap.Logger

	// entered is the execution lock held for the duration of a mutating operation.
	entered bool
}

// New validates cfg against parent and deploys the subvault at cfg.Address.
func New(env *chain.Env, cfg Config, parent Parent, fwd *forwarder.Module, log *zap.Logger) (*Subvault, error) {
	cfg = cfg.clone()
	if cfg.KeeperRole == "" {
		cfg.KeeperRole = access.RoleKeeper
	}
	if cfg.AdminRole == "" {
		cfg.AdminRole = access.RoleSubvaultAdmin
	}
	if err := cfg.validate(parent); err != nil {
		return nil, err
	}
	s := &Subvault{
		env:    env,
		cfg:    cfg,
		parent: parent,
		fwd:    fwd,
		log:    log.With(zap.String("subvault", cfg.Address.Hex())),
	}
	if err := env.Deploy(cfg.Address, s); err != nil {
		return nil, fmt.Errorf("%w: %v", vaulterr.ErrInvalidVault, err)
	}
	return s, nil
}

func (s *Subvault) Address() common.Address { return s.cfg.Address }

// Config returns a copy of the construction-time identifiers.
func (s *Subvault) Config() Config { return s.cfg.clone() }

// Enter approves the router for exactly amount of the asset, forwards
// protocolCalldata to the router and resets the approval to zero.
// minOutputGuard is not checked here; output bounds must be encoded in
// protocolCalldata.
func (s *Subvault) Enter(sender common.Address, amount, minOutputGuard *big.Int, protocolCalldata []byte) ([]byte, error) {
	return s.position("enter", sender, s.cfg.Asset, amount, minOutputGuard, protocolCalldata, false)
}

// Exit approves the router for positionAmount of the market token, forwards
// protocolCalldata, resets the approval and returns all liquid asset to the vault.
func (s *Subvault) Exit(sender common.Address, positionAmount, minOutputGuard *big.Int, protocolCalldata []byte) ([]byte, error) {
	return s.position("exit", sender, s.cfg.Market, positionAmount, minOutputGuard, protocolCalldata, true)
}

func (s *Subvault) position(op string, sender, token common.Address, amount, minOutputGuard *big.Int, data []byte, sweepToVault bool) ([]byte, error) {
	if err := access.Require(s.parent, s.cfg.KeeperRole, sender); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	release, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer release()

	var out []byte
	err = s.env.Atomic(func() error {
		if err := s.setApproval(token, s.cfg.Router, amount); err != nil {
			return fmt.Errorf("%s: approve: %w", op, err)
		}
		res, err := s.fwd.Forward(s.cfg.Address, s.cfg.Router, new(big.Int), data)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := s.setApproval(token, s.cfg.Router, new(big.Int)); err != nil {
			return fmt.Errorf("%s: reset approval: %w", op, err)
		}
		if sweepToVault {
			if err := s.returnLiquid(); err != nil {
				return fmt.Errorf("%s: return liquid: %w", op, err)
			}
		}
		out = res
		return nil
	})
	if err != nil {
		s.log.Warn("subvault "+op+" failed", zap.String("keeper", sender.Hex()), zap.Error(err))
		return nil, err
	}
	s.log.Info("subvault "+op,
		zap.String("keeper", sender.Hex()),
		zap.String("token", token.Hex()),
		zap.Stringer("amount", amount),
		zap.Stringer("min_output_guard", bigOrZero(minOutputGuard)),
	)
	return out, nil
}

// Sweep transfers a foreign token to recipient. Managed tokens are refused.
// This path does not consult the verifier.
func (s *Subvault) Sweep(sender, token, recipient common.Address, amount *big.Int) error {
	if err := access.Require(s.parent, s.cfg.AdminRole, sender); err != nil {
		return err
	}
	if s.isProtected(token) {
		return fmt.Errorf("%w: %s", vaulterr.ErrProtectedToken, token.Hex())
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	release, err := s.lock()
	if err != nil {
		return err
	}
	defer release()

	if err := s.env.Atomic(func() error {
		return erc20.Transfer(s.env, token, s.cfg.Address, recipient, amount)
	}); err != nil {
		return fmt.Errorf("sweep %s: %w", token.Hex(), err)
	}
	s.log.Info("subvault sweep",
		zap.String("token", token.Hex()),
		zap.String("recipient", recipient.Hex()),
		zap.Stringer("amount", amount),
	)
	return nil
}

// PullAssets returns amount of the asset to the parent vault. Only the parent may call it.
func (s *Subvault) PullAssets(sender, asset common.Address, amount *big.Int) error {
	if sender != s.parent.Address() {
		return fmt.Errorf("%w: pullAssets caller %s is not the parent vault", vaulterr.ErrForbidden, sender.Hex())
	}
	if asset != s.cfg.Asset {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	release, err := s.lock()
	if err != nil {
		return err
	}
	defer release()
	return s.env.Atomic(func() error {
		return erc20.Transfer(s.env, asset, s.cfg.Address, s.parent.Address(), amount)
	})
}

// Forward is the generic call entry point. The call is verified against the
// sender's identity and executed from the subvault, so it is closed unless
// the sender has been granted tuples.
func (s *Subvault) Forward(sender, target common.Address, value *big.Int, data []byte) ([]byte, error) {
	release, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.fwd.ForwardOnBehalf(sender, s.cfg.Address, target, value, data, verifier.CompactPayload())
}

// TotalHoldings returns the liquid asset balance. Position tokens are not valued.
func (s *Subvault) TotalHoldings() (*big.Int, error) {
	return erc20.BalanceOf(s.env, s.cfg.Asset, s.cfg.Address)
}

func (s *Subvault) lock() (func(), error) {
	if s.entered {
		return nil, fmt.Errorf("%w: %s", vaulterr.ErrReentrantCall, s.cfg.Address.Hex())
	}
	s.entered = true
	return func() { s.entered = false }, nil
}

func (s *Subvault) setApproval(token, spender common.Address, amount *big.Int) error {
	data, err := erc20.EncodeApprove(spender, amount)
	if err != nil {
		return err
	}
	out, err := s.fwd.Forward(s.cfg.Address, token, new(big.Int), data)
	if err != nil {
		return err
	}
	if err := erc20.CheckBoolResult("approve", out); err != nil {
		return &vaulterr.CallRevertedError{Target: token, Reason: err}
	}
	return nil
}

func (s *Subvault) returnLiquid() error {
	bal, err := erc20.BalanceOf(s.env, s.cfg.Asset, s.cfg.Address)
	if err != nil {
		return err
	}
	if bal.Sign() == 0 {
		return nil
	}
	return erc20.Transfer(s.env, s.cfg.Asset, s.cfg.Address, s.parent.Address(), bal)
}

func (s *Subvault) isProtected(token common.Address) bool {
	if token == s.cfg.Asset || token == s.cfg.Market {
		return true
	}
	for _, t := range s.cfg.Constituents {
		if token == t {
			return true
		}
	}
	return false
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
