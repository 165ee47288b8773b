package auth

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-vault/internal/consensus"
)

// HashMessage constructs the EIP-191 personal_sign hash:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg)
func HashMessage(msg []byte) common.Hash {
	return common.BytesToHash(accounts.TextHash(msg))
}

// Recover extracts the signer address from an EIP-191 signature.
// sig must be 65 bytes (R || S || V), with V in {0,1} or {27,28}.
func Recover(msg, sig []byte) (common.Address, error) {
	addr, err := consensus.RecoverDigest(HashMessage(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("auth: %w", err)
	}
	return addr, nil
}

// SignMessage produces a personal_sign signature over msg with V in {27,28},
// the form wallets emit and Middleware accepts.
func SignMessage(msg []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(HashMessage(msg).Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}
