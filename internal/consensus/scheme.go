package consensus

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-vault/internal/chain"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
)

// SchemeID names a signature scheme a signer may be registered under.
type SchemeID uint8

const (
	SchemeEIP712  SchemeID = 1 // secp256k1 over the typed-data digest
	SchemeEIP1271 SchemeID = 2 // contract signer, isValidSignature(bytes32,bytes)
)

func (s SchemeID) String() string {
	switch s {
	case SchemeEIP712:
		return "eip712"
	case SchemeEIP1271:
		return "eip1271"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// ParseScheme accepts the String form of a scheme.
func ParseScheme(s string) (SchemeID, error) {
	switch strings.ToLower(s) {
	case "eip712":
		return SchemeEIP712, nil
	case "eip1271":
		return SchemeEIP1271, nil
	}
	return 0, fmt.Errorf("consensus: unknown scheme %q", s)
}

// Signature is one entry of a signature set.
type Signature struct {
	Signer    common.Address `json:"signer"`
	Signature hexutil.Bytes  `json:"signature"`
}

// MagicValue is the EIP-1271 success return, bytes4(keccak256("isValidSignature(bytes32,bytes)")).
var MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

var erc1271ABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(`[{"type":"function","name":"isValidSignature","inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],"outputs":[{"name":"","type":"bytes4"}],"stateMutability":"view"}]`))
	if err != nil {
		panic(fmt.Sprintf("consensus: parse abi: %v", err))
	}
	return parsed
}()

var errBadSignature = errors.New("signature does not match signer")

// RecoverDigest recovers the secp256k1 signer of a 32-byte digest. V may be 0/1 or 27/28.
func RecoverDigest(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	norm := make([]byte, 65)
	copy(norm, sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], norm)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks sig by signer over digest under one scheme.
func Verify(env *chain.Env, scheme SchemeID, digest common.Hash, signer common.Address, sig []byte) error {
	switch scheme {
	case SchemeEIP712:
		got, err := RecoverDigest(digest, sig)
		if err != nil {
			return err
		}
		if got != signer {
			return errBadSignature
		}
		return nil
	case SchemeEIP1271:
		return verifyContract(env, digest, signer, sig)
	}
	return fmt.Errorf("consensus: unknown scheme %s", scheme)
}

func verifyContract(env *chain.Env, digest common.Hash, signer common.Address, sig []byte) error {
	if !env.HasCode(signer) {
		return fmt.Errorf("no contract at %s", signer.Hex())
	}
	data, err := erc1271ABI.Pack("isValidSignature", [32]byte(digest), sig)
	if err != nil {
		return err
	}
	out, err := env.Call(common.Address{}, signer, nil, data)
	if err != nil {
		return err
	}
	vals, err := erc1271ABI.Unpack("isValidSignature", out)
	if err != nil {
		return fmt.Errorf("decode isValidSignature: %w", err)
	}
	if magic, _ := vals[0].([4]byte); magic != MagicValue {
		return errBadSignature
	}
	return nil
}

// CheckSignature verifies an account's own signature, using EIP-1271 when the
// account has code and ECDSA otherwise.
func CheckSignature(env *chain.Env, digest common.Hash, signer common.Address, sig []byte) error {
	scheme := SchemeEIP712
	if env.HasCode(signer) {
		scheme = SchemeEIP1271
	}
	if err := Verify(env, scheme, digest, signer, sig); err != nil {
		return fmt.Errorf("%w: %s (%s): %v", vaulterr.ErrInvalidSignatures, signer.Hex(), scheme, err)
	}
	return nil
}

// EncodeIsValidSignatureResult packs an EIP-1271 return value. Contract
// signers use it to answer isValidSignature calls.
func EncodeIsValidSignatureResult(magic [4]byte) ([]byte, error) {
	return erc1271ABI.Methods["isValidSignature"].Outputs.Pack(magic)
}

// DecodeIsValidSignature unpacks isValidSignature calldata.
func DecodeIsValidSignature(data []byte) (common.Hash, []byte, error) {
	if len(data) < 4 {
		return common.Hash{}, nil, errors.New("consensus: calldata too short")
	}
	method, err := erc1271ABI.MethodById(data[:4])
	if err != nil {
		return common.Hash{}, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Hash{}, nil, err
	}
	return common.Hash(args[0].([32]byte)), args[1].([]byte), nil
}
