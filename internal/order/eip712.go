// Package order defines the signed settlement order and its canonical,
// domain-separated EIP-712 encoding.
package order

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-vault/internal/consensus"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
)

const (
	DomainName    = "Vault Signature Queue"
	DomainVersion = "1"

	TypeString = "Order(uint256 orderId,address queue,address asset,address caller,address recipient,uint256 ordered,uint256 requested,uint256 deadline,uint256 nonce)"
)

var (
	orderTypeHash  = crypto.Keccak256Hash([]byte(TypeString))
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Domain binds an order hash to one queue on one chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain returns the current-version domain for queue.
func NewDomain(chainID *big.Int, queue common.Address) Domain {
	return Domain{Name: DomainName, Version: DomainVersion, ChainID: chainID, VerifyingContract: queue}
}

// Separator computes the EIP-712 domain separator.
func (d Domain) Separator() common.Hash {
	nameHash := crypto.Keccak256Hash([]byte(d.Name))
	versionHash := crypto.Keccak256Hash([]byte(d.Version))

	// abi.encode(bytes32, bytes32, bytes32, uint256, address)
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	d.ChainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], d.VerifyingContract.Bytes())
	return crypto.Keccak256Hash(encoded)
}

// Validate checks that every numeric field is set and fits a uint256.
func Validate(o *Order) error {
	if o == nil {
		return fmt.Errorf("%w: nil order", vaulterr.ErrInvalidOrder)
	}
	for name, v := range map[string]*big.Int{
		"orderId":   o.OrderID,
		"ordered":   o.Ordered,
		"requested": o.Requested,
		"deadline":  o.Deadline,
		"nonce":     o.Nonce,
	} {
		if v == nil {
			return fmt.Errorf("%w: missing %s", vaulterr.ErrInvalidOrder, name)
		}
		if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
			return fmt.Errorf("%w: %s out of uint256 range", vaulterr.ErrInvalidOrder, name)
		}
	}
	if o.Caller == (common.Address{}) || o.Recipient == (common.Address{}) {
		return fmt.Errorf("%w: zero caller or recipient", vaulterr.ErrInvalidOrder)
	}
	return nil
}

// StructHash is keccak256(typeHash || abi.encode(fields)).
func StructHash(o *Order) (common.Hash, error) {
	if err := Validate(o); err != nil {
		return common.Hash{}, err
	}
	encoded := make([]byte, 10*32)
	copy(encoded[0:32], orderTypeHash[:])
	o.OrderID.FillBytes(encoded[32:64])
	copy(encoded[76:96], o.Queue.Bytes())
	copy(encoded[108:128], o.Asset.Bytes())
	copy(encoded[140:160], o.Caller.Bytes())
	copy(encoded[172:192], o.Recipient.Bytes())
	o.Ordered.FillBytes(encoded[192:224])
	o.Requested.FillBytes(encoded[224:256])
	o.Deadline.FillBytes(encoded[256:288])
	o.Nonce.FillBytes(encoded[288:320])
	return crypto.Keccak256Hash(encoded), nil
}

// Hash is the digest signers sign: keccak256(0x1901 || domainSeparator || structHash).
func Hash(o *Order, d Domain) (common.Hash, error) {
	if d.ChainID == nil {
		return common.Hash{}, errors.New("order: domain without chain id")
	}
	structHash, err := StructHash(o)
	if err != nil {
		return common.Hash{}, err
	}
	sep := d.Separator()
	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg), nil
}

// Sign produces a 65-byte signature with V in {27, 28}.
func Sign(o *Order, d Domain, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := Hash(o, d)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, err
	}
	// Convert V from 0/1 to 27/28 for Solidity ecrecover
	sig[64] += 27
	return sig, nil
}

// Recover returns the EOA that produced sig over o.
func Recover(o *Order, d Domain, sig []byte) (common.Address, error) {
	digest, err := Hash(o, d)
	if err != nil {
		return common.Address{}, err
	}
	return consensus.RecoverDigest(digest, sig)
}
