package main

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-vault/internal/order"
)

// Well-known development keys.
const (
	devKey0 = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devKey1 = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

func baseOptions() options {
	return options{
		key:     devKey0,
		chainID: 16602,
		queue:   "0xa100000000000000000000000000000000000003",
		asset:   "0xa100000000000000000000000000000000000002",
		kind:    "mint",
		orderID: "42",
		ordered: "1000",
		nonce:   "3",
		ttl:     time.Minute,
	}
}

func TestBuildSubmission_SignedByCallerAndCosigners(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	o := baseOptions()
	o.cosignerKeys = devKey1
	sub, err := buildSubmission(o, now)
	if err != nil {
		t.Fatalf("buildSubmission: %v", err)
	}

	caller := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if sub.Order.Caller != caller || sub.Order.Recipient != caller {
		t.Fatalf("caller/recipient = %s/%s", sub.Order.Caller.Hex(), sub.Order.Recipient.Hex())
	}
	if sub.Order.Requested.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("requested = %s, want ordered", sub.Order.Requested)
	}
	if sub.Order.Deadline.Int64() != now.Add(time.Minute).Unix() {
		t.Errorf("deadline = %s", sub.Order.Deadline)
	}
	if len(sub.Signatures) != 2 {
		t.Fatalf("signatures = %d, want 2", len(sub.Signatures))
	}

	domain := order.NewDomain(big.NewInt(16602), sub.Order.Queue)
	for _, s := range sub.Signatures {
		got, err := order.Recover(&sub.Order, domain, s.Signature)
		if err != nil {
			t.Fatalf("Recover: %v", err)
		}
		if got != s.Signer {
			t.Errorf("signature by %s recovered to %s", s.Signer.Hex(), got.Hex())
		}
	}
	k1, _ := crypto.HexToECDSA(devKey1)
	if sub.Signatures[1].Signer != crypto.PubkeyToAddress(k1.PublicKey) {
		t.Errorf("cosigner = %s", sub.Signatures[1].Signer.Hex())
	}
}

func TestBuildSubmission_Errors(t *testing.T) {
	cases := map[string]func(*options){
		"missing key":    func(o *options) { o.key = "" },
		"bad kind":       func(o *options) { o.kind = "swap" },
		"bad queue":      func(o *options) { o.queue = "nope" },
		"missing amount": func(o *options) { o.ordered = "" },
		"negative nonce": func(o *options) { o.nonce = "-1" },
		"bad cosigner":   func(o *options) { o.cosignerKeys = "zz" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := baseOptions()
			mutate(&o)
			if _, err := buildSubmission(o, time.Now()); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
