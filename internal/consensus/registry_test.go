package consensus

import (
	"crypto/ecdsa"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/access"
	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
)

var (
	admin      = common.HexToAddress("0xAD00000000000000000000000000000000000001")
	walletAddr = common.HexToAddress("0x3100000000000000000000000000000000000002")
	digest     = crypto.Keccak256Hash([]byte("order"))
)

// wallet is an EIP-1271 signer that accepts signatures from its owner key.
type wallet struct{ owner common.Address }

func (w *wallet) Call(_ *chain.Env, _ common.Address, _ *big.Int, data []byte) ([]byte, error) {
	h, sig, err := DecodeIsValidSignature(data)
	if err != nil {
		return nil, err
	}
	if got, err := RecoverDigest(h, sig); err == nil && got == w.owner {
		return EncodeIsValidSignatureResult(MagicValue)
	}
	return EncodeIsValidSignatureResult([4]byte{0xff, 0xff, 0xff, 0xff})
}

type key struct {
	priv *ecdsa.PrivateKey
	addr common.Address
}

func newKey(t *testing.T) key {
	t.Helper()
	k, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key{priv: k, addr: crypto.PubkeyToAddress(k.PublicKey)}
}

func (k key) sign(t *testing.T, h common.Hash) []byte {
	t.Helper()
	sig, err := crypto.Sign(h[:], k.priv)
	if err != nil {
		t.Fatal(err)
	}
	sig[64] += 27
	return sig
}

func newRegistry(t *testing.T, threshold uint64) (*chain.Env, *Registry) {
	t.Helper()
	env := chain.NewEnv(big.NewInt(1), nil)
	roles := access.NewControl(env, admin)
	if err := roles.Grant(admin, access.RoleConsensusAdmin, admin); err != nil {
		t.Fatal(err)
	}
	return env, NewRegistry(env, roles, threshold, zap.NewNop())
}

// ── Membership ────────────────────────────────────────────────────────────────

func TestAddSigner_Forbidden(t *testing.T) {
	_, r := newRegistry(t, 1)
	k := newKey(t)
	if err := r.AddSigner(k.addr, k.addr, 1, SchemeEIP712); !errors.Is(err, vaulterr.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAddSigner_MultipleSchemes(t *testing.T) {
	_, r := newRegistry(t, 1)
	k := newKey(t)
	if err := r.AddSigner(admin, k.addr, 1, SchemeEIP712); err != nil {
		t.Fatal(err)
	}
	if err := r.AddSigner(admin, k.addr, 2, SchemeEIP1271); err != nil {
		t.Fatal(err)
	}
	m, ok := r.Member(k.addr)
	if !ok || m.Weight != 2 || len(m.Schemes) != 2 {
		t.Fatalf("member = %+v", m)
	}
	if r.TotalWeight() != 2 {
		t.Errorf("TotalWeight = %d, want 2", r.TotalWeight())
	}
	if err := r.AddSigner(admin, k.addr, 0, SchemeEIP712); !errors.Is(err, ErrZeroWeight) {
		t.Errorf("expected ErrZeroWeight, got %v", err)
	}
}

func TestAddSigner_WeightOverflow(t *testing.T) {
	_, r := newRegistry(t, 1)
	a, b := newKey(t), newKey(t)
	if err := r.AddSigner(admin, a.addr, 2, SchemeEIP712); err != nil {
		t.Fatal(err)
	}
	if err := r.AddSigner(admin, b.addr, math.MaxUint64, SchemeEIP712); !errors.Is(err, ErrWeightOverflow) {
		t.Fatalf("expected ErrWeightOverflow, got %v", err)
	}
	if _, ok := r.Member(b.addr); ok || r.TotalWeight() != 2 {
		t.Fatalf("rejected signer registered: total %d", r.TotalWeight())
	}
	// Replacing a member's own weight only counts the others.
	if err := r.AddSigner(admin, a.addr, math.MaxUint64, SchemeEIP712); err != nil {
		t.Fatalf("replace weight: %v", err)
	}
	if err := r.AddSigner(admin, b.addr, 1, SchemeEIP712); !errors.Is(err, ErrWeightOverflow) {
		t.Fatalf("expected ErrWeightOverflow, got %v", err)
	}
	if err := r.SetThreshold(admin, math.MaxUint64); err != nil {
		t.Fatalf("SetThreshold: %v", err)
	}
}

func TestRemoveSigner_ThresholdGuard(t *testing.T) {
	_, r := newRegistry(t, 1)
	a, b := newKey(t), newKey(t)
	_ = r.AddSigner(admin, a.addr, 1, SchemeEIP712)
	_ = r.AddSigner(admin, b.addr, 1, SchemeEIP712)
	if err := r.SetThreshold(admin, 2); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveSigner(admin, a.addr); !errors.Is(err, ErrThresholdUnreachable) {
		t.Fatalf("expected ErrThresholdUnreachable, got %v", err)
	}
	if err := r.SetThreshold(admin, 3); !errors.Is(err, ErrThresholdUnreachable) {
		t.Fatalf("expected ErrThresholdUnreachable, got %v", err)
	}
	if err := r.SetThreshold(admin, 1); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveSigner(admin, a.addr); err != nil {
		t.Fatalf("RemoveSigner: %v", err)
	}
	if err := r.RemoveSigner(admin, a.addr); !errors.Is(err, ErrUnknownSigner) {
		t.Fatalf("expected ErrUnknownSigner, got %v", err)
	}
}

// ── Check ─────────────────────────────────────────────────────────────────────

func TestCheck_SingleSigner(t *testing.T) {
	_, r := newRegistry(t, 1)
	k := newKey(t)
	_ = r.AddSigner(admin, k.addr, 1, SchemeEIP712)
	if err := r.Check(digest, []Signature{{Signer: k.addr, Signature: k.sign(t, digest)}}); err != nil {
		t.Fatalf("Check: %v", err)
	}
	// V in {0,1} is accepted too.
	sig := k.sign(t, digest)
	sig[64] -= 27
	if !r.IsSatisfied(digest, []Signature{{Signer: k.addr, Signature: sig}}) {
		t.Error("raw V signature rejected")
	}
}

func TestCheck_Reasons(t *testing.T) {
	_, r := newRegistry(t, 2)
	a, b, stranger := newKey(t), newKey(t), newKey(t)
	_ = r.AddSigner(admin, a.addr, 1, SchemeEIP712)
	_ = r.AddSigner(admin, b.addr, 1, SchemeEIP712)

	sa := Signature{Signer: a.addr, Signature: a.sign(t, digest)}
	sb := Signature{Signer: b.addr, Signature: b.sign(t, digest)}

	tests := []struct {
		name string
		sigs []Signature
		ok   bool
	}{
		{"empty", nil, false},
		{"below threshold", []Signature{sa}, false},
		{"duplicate", []Signature{sa, sa}, false},
		{"unregistered", []Signature{sa, {Signer: stranger.addr, Signature: stranger.sign(t, digest)}}, false},
		{"wrong key", []Signature{sa, {Signer: b.addr, Signature: stranger.sign(t, digest)}}, false},
		{"truncated", []Signature{sa, {Signer: b.addr, Signature: b.sign(t, digest)[:64]}}, false},
		{"two of two", []Signature{sa, sb}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Check(digest, tc.sigs)
			if tc.ok && err != nil {
				t.Fatalf("Check: %v", err)
			}
			if !tc.ok && !errors.Is(err, vaulterr.ErrInvalidSignatures) {
				t.Fatalf("expected ErrInvalidSignatures, got %v", err)
			}
		})
	}
}


func TestCheck_ContractSigner(t *testing.T) {
	env, r := newRegistry(t, 1)
	owner := newKey(t)
	if err := env.Deploy(walletAddr, &wallet{owner: owner.addr}); err != nil {
		t.Fatal(err)
	}
	_ = r.AddSigner(admin, walletAddr, 1, SchemeEIP1271)
	if err := r.Check(digest, []Signature{{Signer: walletAddr, Signature: owner.sign(t, digest)}}); err != nil {
		t.Fatalf("Check: %v", err)
	}
	other := newKey(t)
	if r.IsSatisfied(digest, []Signature{{Signer: walletAddr, Signature: other.sign(t, digest)}}) {
		t.Fatal("wallet accepted a signature from a non-owner")
	}
}

func TestCheck_SchemeMustBeRegistered(t *testing.T) {
	env, r := newRegistry(t, 1)
	owner := newKey(t)
	_ = env.Deploy(walletAddr, &wallet{owner: owner.addr})
	// Registered for ECDSA only: a contract answer is not consulted.
	_ = r.AddSigner(admin, walletAddr, 1, SchemeEIP712)
	if r.IsSatisfied(digest, []Signature{{Signer: walletAddr, Signature: owner.sign(t, digest)}}) {
		t.Fatal("EIP-1271 answer accepted for an ECDSA-only signer")
	}
}

// ── CheckSignature ────────────────────────────────────────────────────────────

func TestCheckSignature_ByCode(t *testing.T) {
	env := chain.NewEnv(big.NewInt(1), nil)
	user, owner := newKey(t), newKey(t)
	if err := CheckSignature(env, digest, user.addr, user.sign(t, digest)); err != nil {
		t.Fatalf("EOA: %v", err)
	}
	_ = env.Deploy(walletAddr, &wallet{owner: owner.addr})
	if err := CheckSignature(env, digest, walletAddr, owner.sign(t, digest)); err != nil {
		t.Fatalf("contract: %v", err)
	}
	if err := CheckSignature(env, digest, user.addr, owner.sign(t, digest)); !errors.Is(err, vaulterr.ErrInvalidSignatures) {
		t.Fatalf("expected ErrInvalidSignatures, got %v", err)
	}
}

func TestParseScheme(t *testing.T) {
	for _, s := range []SchemeID{SchemeEIP712, SchemeEIP1271} {
		got, err := ParseScheme(s.String())
		if err != nil || got != s {
			t.Errorf("ParseScheme(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseScheme("bls"); err == nil {
		t.Error("expected error for unknown scheme")
	}
}
