// Package access is the capability source consulted at the start of every
// privileged operation. The Vault Ledger owns the Control instance; other
// components only query it through Source.
package access

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
)

type Role string

const (
	RoleDefaultAdmin   Role = "DEFAULT_ADMIN_ROLE"
	RoleKeeper         Role = "KEEPER_ROLE"
	RoleSubvaultAdmin  Role = "SUBVAULT_ADMIN_ROLE"
	RoleAllowlistAdmin Role = "ALLOWLIST_ADMIN_ROLE"
	RoleConsensusAdmin Role = "CONSENSUS_ADMIN_ROLE"
	RoleRiskManager    Role = "RISK_MANAGER_ROLE"
	RoleQueue          Role = "QUEUE_ROLE"
)

// Roles lists every role in a stable order.
var Roles = []Role{
	RoleDefaultAdmin,
	RoleKeeper,
	RoleSubvaultAdmin,
	RoleAllowlistAdmin,
	RoleConsensusAdmin,
	RoleRiskManager,
	RoleQueue,
}

// ParseRole accepts a role by its full name or its short form, in any case:
// "KEEPER_ROLE", "keeper" and "Keeper" all name RoleKeeper.
func ParseRole(s string) (Role, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasSuffix(name, "_ROLE") {
		name += "_ROLE"
	}
	for _, r := range Roles {
		if Role(name) == r {
			return r, nil
		}
	}
	return "", fmt.Errorf("access: unknown role %q", s)
}

// Source answers capability queries.
type Source interface {
	HasRole(role Role, account common.Address) bool
}

// ForbiddenError is the typed result of a failed capability check.
type ForbiddenError struct {
	Role    Role
	Account common.Address
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s lacks %s", e.Account.Hex(), e.Role)
}

func (e *ForbiddenError) Is(target error) bool { return target == vaulterr.ErrForbidden }

// Require returns nil if account holds role in src, or a *ForbiddenError.
func Require(src Source, role Role, account common.Address) error {
	if src == nil || !src.HasRole(role, account) {
		return &ForbiddenError{Role: role, Account: account}
	}
	return nil
}

// ErrZeroAccount is returned when granting a role to the zero address.
var ErrZeroAccount = errors.New("access: zero account")

// Control is a journaled role table.
type Control struct {
	env     *chain.Env
	members map[Role]map[common.Address]bool
}

// NewControl creates a table where admin holds DEFAULT_ADMIN_ROLE.
func NewControl(env *chain.Env, admin common.Address) *Control {
	return &Control{
		env: env,
		members: map[Role]map[common.Address]bool{
			RoleDefaultAdmin: {admin: true},
		},
	}
}

func (c *Control) HasRole(role Role, account common.Address) bool {
	return c.members[role][account]
}

// Grant gives role to account. caller must hold DEFAULT_ADMIN_ROLE.
func (c *Control) Grant(caller common.Address, role Role, account common.Address) error {
	if err := Require(c, RoleDefaultAdmin, caller); err != nil {
		return err
	}
	if account == (common.Address{}) {
		return ErrZeroAccount
	}
	set, ok := c.members[role]
	if !ok {
		set = make(map[common.Address]bool)
		chain.Put(c.env, c.members, role, set)
	}
	chain.Put(c.env, set, account, true)
	return nil
}

// Revoke removes role from account. caller must hold DEFAULT_ADMIN_ROLE.
func (c *Control) Revoke(caller common.Address, role Role, account common.Address) error {
	if err := Require(c, RoleDefaultAdmin, caller); err != nil {
		return err
	}
	if set, ok := c.members[role]; ok {
		chain.Delete(c.env, set, account)
	}
	return nil
}

// Members lists the holders of role in address order.
func (c *Control) Members(role Role) []common.Address {
	out := make([]common.Address, 0, len(c.members[role]))
	for a := range c.members[role] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
