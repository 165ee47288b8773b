// Package verifier gates every outbound call made by custody-holding
// components. The default scheme is an exact-match allowlist of
// (caller, target, selector) tuples; anything absent is rejected.
package verifier

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/access"
	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
)

// Scheme tags the verification payload format.
type Scheme uint8

const (
	// SchemeCompact carries no proof; the call is checked against the allowlist only.
	SchemeCompact Scheme = iota
)

func (s Scheme) String() string {
	switch s {
	case SchemeCompact:
		return "compact"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// Payload is the scheme-specific data attached to a forwarded call.
type Payload struct {
	Scheme Scheme
	Proof  []byte
}

// CompactPayload is the default no-proof payload.
func CompactPayload() Payload { return Payload{Scheme: SchemeCompact} }

// Verifier decides whether caller may send value and data to target.
type Verifier interface {
	VerifyCall(caller, target common.Address, value *big.Int, data []byte, payload Payload) error
}

var (
	ErrZeroAddress    = errors.New("verifier: zero address in entry")
	ErrAlreadyAllowed = errors.New("verifier: entry already allowed")
	ErrNotAllowed     = errors.New("verifier: entry not present")
	ErrEmptyBatch     = errors.New("verifier: empty batch")
)

// Entry is one permitted call tuple.
type Entry struct {
	Caller   common.Address `json:"caller"`
	Target   common.Address `json:"target"`
	Selector [4]byte        `json:"-"`
}

func (e Entry) String() string {
	return fmt.Sprintf("%s->%s:0x%x", e.Caller.Hex(), e.Target.Hex(), e.Selector)
}

// ParseSelector decodes a 0x-prefixed 4-byte hex selector.
func ParseSelector(s string) ([4]byte, error) {
	var sel [4]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return sel, fmt.Errorf("verifier: selector %q: %w", s, err)
	}
	if len(raw) != 4 {
		return sel, fmt.Errorf("verifier: selector %q must be 4 bytes", s)
	}
	copy(sel[:], raw)
	return sel, nil
}

// Allowlist is the exact-tuple Verifier.
type Allowlist struct {
	env     *chain.Env
	roles   access.Source
	entries map[Entry]bool
	log     *zap.Logger
}

func NewAllowlist(env *chain.Env, roles access.Source, log *zap.Logger) *Allowlist {
	return &Allowlist{
		env:     env,
		roles:   roles,
		entries: make(map[Entry]bool),
		log:     log,
	}
}

// Allow adds entries. admin must hold ALLOWLIST_ADMIN_ROLE. The batch is all-or-nothing.
func (a *Allowlist) Allow(admin common.Address, entries []Entry) error {
	if err := access.Require(a.roles, access.RoleAllowlistAdmin, admin); err != nil {
		return err
	}
	if len(entries) == 0 {
		return ErrEmptyBatch
	}
	return a.env.Atomic(func() error {
		for _, e := range entries {
			if e.Caller == (common.Address{}) || e.Target == (common.Address{}) {
				return fmt.Errorf("%w: %s", ErrZeroAddress, e)
			}
			if a.entries[e] {
				return fmt.Errorf("%w: %s", ErrAlreadyAllowed, e)
			}
			chain.Put(a.env, a.entries, e, true)
			a.log.Info("allowlist entry added", zap.Stringer("entry", e), zap.String("admin", admin.Hex()))
		}
		return nil
	})
}

// Revoke removes entries. admin must hold ALLOWLIST_ADMIN_ROLE.
func (a *Allowlist) Revoke(admin common.Address, entries []Entry) error {
	if err := access.Require(a.roles, access.RoleAllowlistAdmin, admin); err != nil {
		return err
	}
	if len(entries) == 0 {
		return ErrEmptyBatch
	}
	return a.env.Atomic(func() error {
		for _, e := range entries {
			if !a.entries[e] {
				return fmt.Errorf("%w: %s", ErrNotAllowed, e)
			}
			chain.Delete(a.env, a.entries, e)
			a.log.Info("allowlist entry revoked", zap.Stringer("entry", e), zap.String("admin", admin.Hex()))
		}
		return nil
	})
}

func (a *Allowlist) IsAllowed(caller, target common.Address, selector [4]byte) bool {
	return a.entries[Entry{Caller: caller, Target: target, Selector: selector}]
}

// VerifyCall fails closed: unknown schemes, short calldata and absent tuples are rejected.
func (a *Allowlist) VerifyCall(caller, target common.Address, _ *big.Int, data []byte, payload Payload) error {
	if payload.Scheme != SchemeCompact {
		return fmt.Errorf("%w: unsupported scheme %s", vaulterr.ErrVerificationFailed, payload.Scheme)
	}
	if len(data) < 4 {
		return fmt.Errorf("%w: calldata shorter than a selector", vaulterr.ErrVerificationFailed)
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	if !a.IsAllowed(caller, target, sel) {
		return fmt.Errorf("%w: %s", vaulterr.ErrVerificationFailed, Entry{Caller: caller, Target: target, Selector: sel})
	}
	return nil
}

// Entries returns the permitted set in a stable order.
func (a *Allowlist) Entries() []Entry {
	out := make([]Entry, 0, len(a.entries))
	for e := range a.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Caller[:], out[j].Caller[:]); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(out[i].Target[:], out[j].Target[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].Selector[:], out[j].Selector[:]) < 0
	})
	return out
}
