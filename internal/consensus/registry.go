// Package consensus holds the trusted co-signer set and answers whether a
// signature set over an order digest reaches the weighted threshold.
package consensus

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/access"
	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
)

var (
	ErrZeroWeight           = errors.New("consensus: weight must be positive")
	ErrZeroSigner           = errors.New("consensus: zero signer")
	ErrUnknownSigner        = errors.New("consensus: signer not registered")
	ErrThresholdUnreachable = errors.New("consensus: threshold above total weight")
	ErrZeroThreshold        = errors.New("consensus: threshold must be positive")
	ErrWeightOverflow       = errors.New("consensus: total weight overflows")
)

// Member is a registered co-signer.
type Member struct {
	Signer  common.Address `json:"signer"`
	Weight  uint64         `json:"weight"`
	Schemes []SchemeID     `json:"schemes"`
}

func (m Member) has(s SchemeID) bool {
	for _, x := range m.Schemes {
		if x == s {
			return true
		}
	}
	return false
}

type Registry struct {
	env       *chain.Env
	roles     access.Source
	threshold uint64
	members   map[common.Address]Member
	log       *zap.Logger
}

// NewRegistry creates an empty registry. A zero threshold means 1.
func NewRegistry(env *chain.Env, roles access.Source, threshold uint64, log *zap.Logger) *Registry {
	if threshold == 0 {
		threshold = 1
	}
	return &Registry{
		env:       env,
		roles:     roles,
		threshold: threshold,
		members:   make(map[common.Address]Member),
		log:       log,
	}
}

// AddSigner registers id under scheme. Adding an existing signer enables the
// extra scheme and replaces its weight.
func (r *Registry) AddSigner(admin, id common.Address, weight uint64, scheme SchemeID) error {
	if err := access.Require(r.roles, access.RoleConsensusAdmin, admin); err != nil {
		return err
	}
	if id == (common.Address{}) {
		return ErrZeroSigner
	}
	if weight == 0 {
		return ErrZeroWeight
	}
	if scheme != SchemeEIP712 && scheme != SchemeEIP1271 {
		return fmt.Errorf("consensus: unknown scheme %s", scheme)
	}
	m, ok := r.members[id]
	if !ok {
		m = Member{Signer: id}
	}
	// The sum of all weights must stay representable.
	if rest := r.TotalWeight() - m.Weight; weight > math.MaxUint64-rest {
		return fmt.Errorf("%w: %d on top of %d", ErrWeightOverflow, weight, rest)
	}
	next := Member{Signer: id, Weight: weight, Schemes: append([]SchemeID(nil), m.Schemes...)}
	if !next.has(scheme) {
		next.Schemes = append(next.Schemes, scheme)
	}
	chain.Put(r.env, r.members, id, next)
	r.log.Info("consensus signer added",
		zap.String("signer", id.Hex()),
		zap.Uint64("weight", weight),
		zap.Stringer("scheme", scheme),
	)
	return nil
}

// RemoveSigner drops id. It fails if the remaining weight could no longer reach the threshold.
func (r *Registry) RemoveSigner(admin, id common.Address) error {
	if err := access.Require(r.roles, access.RoleConsensusAdmin, admin); err != nil {
		return err
	}
	m, ok := r.members[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSigner, id.Hex())
	}
	if r.TotalWeight()-m.Weight < r.threshold {
		return fmt.Errorf("%w: removing %s leaves %d, threshold %d", ErrThresholdUnreachable, id.Hex(), r.TotalWeight()-m.Weight, r.threshold)
	}
	chain.Delete(r.env, r.members, id)
	r.log.Info("consensus signer removed", zap.String("signer", id.Hex()))
	return nil
}

// SetThreshold changes the weight a signature set must reach.
func (r *Registry) SetThreshold(admin common.Address, threshold uint64) error {
	if err := access.Require(r.roles, access.RoleConsensusAdmin, admin); err != nil {
		return err
	}
	if threshold == 0 {
		return ErrZeroThreshold
	}
	if threshold > r.TotalWeight() {
		return fmt.Errorf("%w: %d > %d", ErrThresholdUnreachable, threshold, r.TotalWeight())
	}
	prev := r.threshold
	r.env.Record(func() { r.threshold = prev })
	r.threshold = threshold
	r.log.Info("consensus threshold set", zap.Uint64("threshold", threshold))
	return nil
}

func (r *Registry) Threshold() uint64 { return r.threshold }

func (r *Registry) TotalWeight() uint64 {
	var total uint64
	for _, m := range r.members {
		total += m.Weight
	}
	return total
}

// Member returns the registration of id.
func (r *Registry) Member(id common.Address) (Member, bool) {
	m, ok := r.members[id]
	if !ok {
		return Member{}, false
	}
	m.Schemes = append([]SchemeID(nil), m.Schemes...)
	return m, true
}

// Members lists all registrations in address order.
func (r *Registry) Members() []Member {
	out := make([]Member, 0, len(r.members))
	for id := range r.members {
		m, _ := r.Member(id)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Signer[:], out[j].Signer[:]) < 0 })
	return out
}

// Check returns nil if sigs reach the threshold over digest, or an
// ErrInvalidSignatures error naming the first problem found.
func (r *Registry) Check(digest common.Hash, sigs []Signature) error {
	seen := make(map[common.Address]bool, len(sigs))
	var weight uint64
	for _, s := range sigs {
		if seen[s.Signer] {
			return fmt.Errorf("%w: duplicate signer %s", vaulterr.ErrInvalidSignatures, s.Signer.Hex())
		}
		seen[s.Signer] = true
		m, ok := r.members[s.Signer]
		if !ok {
			return fmt.Errorf("%w: %s is not a registered signer", vaulterr.ErrInvalidSignatures, s.Signer.Hex())
		}
		if !r.validUnderAny(m, digest, s.Signature) {
			return fmt.Errorf("%w: bad signature from %s", vaulterr.ErrInvalidSignatures, s.Signer.Hex())
		}
		weight += m.Weight
	}
	if weight < r.threshold {
		return fmt.Errorf("%w: weight %d below threshold %d", vaulterr.ErrInvalidSignatures, weight, r.threshold)
	}
	return nil
}

// IsSatisfied reports whether Check passes.
func (r *Registry) IsSatisfied(digest common.Hash, sigs []Signature) bool {
	return r.Check(digest, sigs) == nil
}

func (r *Registry) validUnderAny(m Member, digest common.Hash, sig []byte) bool {
	for _, s := range m.Schemes {
		if Verify(r.env, s, digest, m.Signer, sig) == nil {
			return true
		}
	}
	return false
}
