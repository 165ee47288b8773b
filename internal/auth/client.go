package auth

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignHeaders signs req with key and returns the three headers Middleware expects.
func SignHeaders(req SignedRequest, key *ecdsa.PrivateKey) (http.Header, error) {
	msg, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	sig, err := SignMessage(msg, key)
	if err != nil {
		return nil, err
	}
	h := make(http.Header)
	h.Set("X-Wallet-Address", crypto.PubkeyToAddress(key.PublicKey).Hex())
	h.Set("X-Signed-Message", base64.StdEncoding.EncodeToString(msg))
	h.Set("X-Wallet-Signature", hexutil.Encode(sig))
	return h, nil
}
