package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-vault/internal/access"
	"github.com/0gfoundation/0g-vault/internal/config"
	"github.com/0gfoundation/0g-vault/internal/consensus"
	"github.com/0gfoundation/0g-vault/internal/risk"
	"github.com/0gfoundation/0g-vault/internal/verifier"
)

// Deployment is everything needed to assemble a System: fixed addresses, the
// genesis role table and the strategy wiring.
type Deployment struct {
	ChainID *big.Int

	Admin         common.Address
	Ledger        common.Address
	Asset         common.Address
	AssetSymbol   string
	AssetDecimals uint8
	MintQueue     common.Address
	RedeemQueue   common.Address
	Relayer       common.Address

	Roles      map[access.Role][]common.Address
	Threshold  uint64
	Signers    []Signer
	Strategies []Strategy
	Allowlist  []verifier.Entry

	Sandbox     bool
	SlippageBps uint64
	Faucet      map[common.Address]*big.Int
}

type Signer struct {
	Address common.Address
	Weight  uint64
	Scheme  consensus.SchemeID
}

// Strategy is one subvault and the protocol endpoint it trades against.
type Strategy struct {
	Address      common.Address
	Router       common.Address
	Market       common.Address
	Constituents []common.Address
	Limit        risk.Limit
}

// FromConfig converts the loaded config into a Deployment. cosigner, when not
// the zero address, is registered with weight 1 under eip712 unless the config
// already lists it.
func FromConfig(cfg *config.Config, cosigner common.Address) (Deployment, error) {
	vc := cfg.Vault
	dep := Deployment{
		ChainID:       big.NewInt(cfg.Chain.ChainID),
		AssetSymbol:   vc.AssetSymbol,
		AssetDecimals: vc.AssetDecimals,
		Threshold:     vc.Threshold,
		Roles:         make(map[access.Role][]common.Address),
		Sandbox:       cfg.Sandbox.Enabled,
		SlippageBps:   cfg.Sandbox.SlippageBps,
		Faucet:        make(map[common.Address]*big.Int),
	}

	var err error
	for _, f := range []struct {
		dst  *common.Address
		val  string
		name string
	}{
		{&dep.Admin, vc.Admin, "vault.admin"},
		{&dep.Ledger, vc.Ledger, "vault.ledger"},
		{&dep.Asset, vc.Asset, "vault.asset"},
		{&dep.MintQueue, vc.MintQueue, "vault.mint_queue"},
		{&dep.RedeemQueue, vc.RedeemQueue, "vault.redeem_queue"},
	} {
		if *f.dst, err = parseAddress(f.name, f.val); err != nil {
			return Deployment{}, err
		}
	}
	if cfg.Settler.Relayer != "" {
		if dep.Relayer, err = parseAddress("settler.relayer", cfg.Settler.Relayer); err != nil {
			return Deployment{}, err
		}
	}

	for name, holders := range vc.Roles {
		role, err := access.ParseRole(name)
		if err != nil {
			return Deployment{}, err
		}
		for i, h := range holders {
			a, err := parseAddress(fmt.Sprintf("vault.roles.%s[%d]", name, i), h)
			if err != nil {
				return Deployment{}, err
			}
			dep.Roles[role] = append(dep.Roles[role], a)
		}
	}

	for i, s := range vc.Signers {
		a, err := parseAddress(fmt.Sprintf("vault.signers[%d].address", i), s.Address)
		if err != nil {
			return Deployment{}, err
		}
		scheme := consensus.SchemeEIP712
		if s.Scheme != "" {
			if scheme, err = consensus.ParseScheme(s.Scheme); err != nil {
				return Deployment{}, err
			}
		}
		weight := s.Weight
		if weight == 0 {
			weight = 1
		}
		dep.Signers = append(dep.Signers, Signer{Address: a, Weight: weight, Scheme: scheme})
	}
	if cosigner != (common.Address{}) && !dep.hasSigner(cosigner) {
		dep.Signers = append(dep.Signers, Signer{Address: cosigner, Weight: 1, Scheme: consensus.SchemeEIP712})
	}

	for i, s := range vc.Subvaults {
		field := func(n string) string { return fmt.Sprintf("vault.subvaults[%d].%s", i, n) }
		var st Strategy
		if st.Address, err = parseAddress(field("address"), s.Address); err != nil {
			return Deployment{}, err
		}
		if st.Router, err = parseAddress(field("router"), s.Router); err != nil {
			return Deployment{}, err
		}
		if st.Market, err = parseAddress(field("market"), s.Market); err != nil {
			return Deployment{}, err
		}
		for j, c := range s.Constituents {
			a, err := parseAddress(fmt.Sprintf("%s[%d]", field("constituents"), j), c)
			if err != nil {
				return Deployment{}, err
			}
			st.Constituents = append(st.Constituents, a)
		}
		if st.Limit.MaxTotal, err = parseAmount(field("max_total"), s.MaxTotal); err != nil {
			return Deployment{}, err
		}
		if s.MaxPerPush != "" {
			if st.Limit.MaxPerPush, err = parseAmount(field("max_per_push"), s.MaxPerPush); err != nil {
				return Deployment{}, err
			}
		}
		dep.Strategies = append(dep.Strategies, st)
	}

	for i, e := range vc.Allowlist {
		field := func(n string) string { return fmt.Sprintf("vault.allowlist[%d].%s", i, n) }
		var entry verifier.Entry
		if entry.Caller, err = parseAddress(field("caller"), e.Caller); err != nil {
			return Deployment{}, err
		}
		if entry.Target, err = parseAddress(field("target"), e.Target); err != nil {
			return Deployment{}, err
		}
		if entry.Selector, err = verifier.ParseSelector(e.Selector); err != nil {
			return Deployment{}, err
		}
		dep.Allowlist = append(dep.Allowlist, entry)
	}

	for i, f := range cfg.Sandbox.Faucet {
		a, err := parseAddress(fmt.Sprintf("sandbox.faucet[%d].address", i), f.Address)
		if err != nil {
			return Deployment{}, err
		}
		amt, err := parseAmount(fmt.Sprintf("sandbox.faucet[%d].amount", i), f.Amount)
		if err != nil {
			return Deployment{}, err
		}
		dep.Faucet[a] = amt
	}
	return dep, nil
}

func (d Deployment) hasSigner(a common.Address) bool {
	for _, s := range d.Signers {
		if s.Address == a {
			return true
		}
	}
	return false
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount accepts a base-10 integer in the asset's smallest unit.
func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%s: invalid amount %q", field, s)
	}
	return v, nil
}
