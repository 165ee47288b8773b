// cmd/signorder/main.go: builds and signs a mint or redeem order for vaultd.
//
// The caller signs with --key. Each --cosigner-key adds a co-signature over
// the same EIP-712 digest. The submission JSON is printed to stdout. With
// --url the order is also submitted to vaultd: an empty --nonce is fetched
// from the server, --remote-cosign asks the vaultd co-signer for a signature
// and --wait polls until the order settles or is rejected.
//
// Usage:
//
//	go run ./cmd/signorder/ --key <hex> --queue <addr> --asset <addr> \
//	    --kind mint --ordered <wei> [--requested <wei>] [--nonce <n>] [--id <n>] \
//	    [--cosigner-key <hex>,<hex>] [--ttl 10m] \
//	    [--url http://localhost:8080/v1 [--remote-cosign] [--wait 30s]]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/0g-vault/internal/client"
	"github.com/0gfoundation/0g-vault/internal/consensus"
	"github.com/0gfoundation/0g-vault/internal/cosign"
	"github.com/0gfoundation/0g-vault/internal/order"
)

type options struct {
	key          string
	cosignerKeys string
	chainID      int64
	queue        string
	asset        string
	recipient    string
	kind         string
	orderID      string
	ordered      string
	requested    string
	nonce        string
	ttl          time.Duration

	url          string
	remoteCosign bool
	wait         time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.key, "key", "", "caller private key (hex, with or without 0x)")
	flag.StringVar(&o.cosignerKeys, "cosigner-key", "", "comma-separated co-signer private keys")
	flag.Int64Var(&o.chainID, "chain-id", 16602, "chain ID")
	flag.StringVar(&o.queue, "queue", "", "settlement queue address (required)")
	flag.StringVar(&o.asset, "asset", "", "vault asset address (required)")
	flag.StringVar(&o.recipient, "recipient", "", "recipient address (defaults to the caller)")
	flag.StringVar(&o.kind, "kind", "mint", "mint or redeem")
	flag.StringVar(&o.orderID, "id", "", "order id (defaults to the current unix time in ns)")
	flag.StringVar(&o.ordered, "ordered", "", "amount given up (wei, required)")
	flag.StringVar(&o.requested, "requested", "", "amount received (wei, defaults to --ordered)")
	flag.StringVar(&o.nonce, "nonce", "0", "caller nonce; empty fetches it from --url")
	flag.DurationVar(&o.ttl, "ttl", 10*time.Minute, "deadline offset from now")
	flag.StringVar(&o.url, "url", "", "vaultd API base URL; submits the order when set")
	flag.BoolVar(&o.remoteCosign, "remote-cosign", false, "request a co-signature from vaultd (needs --url)")
	flag.DurationVar(&o.wait, "wait", 0, "poll for the settlement result this long (needs --url)")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute+o.wait)
	defer cancel()

	var api *client.Client
	if o.url != "" {
		api = client.New(o.url)
	}
	if api != nil && o.nonce == "" {
		key, err := cosign.ParseKey(o.key)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse key: %v\n", err)
			os.Exit(1)
		}
		n, err := api.Nonce(ctx, crypto.PubkeyToAddress(key.PublicKey))
		if err != nil {
			fmt.Fprintf(os.Stderr, "fetch nonce: %v\n", err)
			os.Exit(1)
		}
		o.nonce = n.String()
	}

	sub, err := buildSubmission(o, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if api != nil && o.remoteCosign {
		sig, err := api.Cosign(ctx, &sub.Order)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cosign: %v\n", err)
			os.Exit(1)
		}
		sub.Signatures = append(sub.Signatures, sig)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sub); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
	if api == nil {
		return
	}

	// ── submit ────────────────────────────────────────────────────────────────
	if err := api.Submit(ctx, sub); err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "queued order %s on %s\n", sub.Order.OrderID, sub.Order.Queue.Hex())
	if o.wait <= 0 {
		return
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, o.wait)
	defer waitCancel()
	rec, err := api.WaitStatus(waitCtx, sub.Order.Queue, sub.Order.Caller, sub.Order.OrderID, time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wait: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%s %s %s\n", rec.Status, rec.Code, rec.Reason)
	if rec.Status != order.StatusSettled {
		os.Exit(2)
	}
}

func buildSubmission(o options, now time.Time) (*order.Submission, error) {
	if o.key == "" {
		return nil, fmt.Errorf("--key is required")
	}
	key, err := cosign.ParseKey(o.key)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	kind, err := order.ParseKind(o.kind)
	if err != nil {
		return nil, err
	}
	queue, err := addressFlag("queue", o.queue)
	if err != nil {
		return nil, err
	}
	asset, err := addressFlag("asset", o.asset)
	if err != nil {
		return nil, err
	}
	caller := crypto.PubkeyToAddress(key.PublicKey)
	recipient := caller
	if o.recipient != "" {
		if recipient, err = addressFlag("recipient", o.recipient); err != nil {
			return nil, err
		}
	}

	ordered, err := intFlag("ordered", o.ordered)
	if err != nil {
		return nil, err
	}
	requested := new(big.Int).Set(ordered)
	if o.requested != "" {
		if requested, err = intFlag("requested", o.requested); err != nil {
			return nil, err
		}
	}
	nonce, err := intFlag("nonce", o.nonce)
	if err != nil {
		return nil, err
	}
	id := big.NewInt(now.UnixNano())
	if o.orderID != "" {
		if id, err = intFlag("id", o.orderID); err != nil {
			return nil, err
		}
	}

	ord := order.Order{
		OrderID:   id,
		Queue:     queue,
		Asset:     asset,
		Caller:    caller,
		Recipient: recipient,
		Ordered:   ordered,
		Requested: requested,
		Deadline:  big.NewInt(now.Add(o.ttl).Unix()),
		Nonce:     nonce,
	}
	domain := order.NewDomain(big.NewInt(o.chainID), queue)

	// ── signatures ────────────────────────────────────────────────────────────
	sig, err := order.Sign(&ord, domain, key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sigs := []consensus.Signature{{Signer: caller, Signature: sig}}
	for _, raw := range strings.Split(o.cosignerKeys, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		ck, err := cosign.ParseKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parse cosigner key: %w", err)
		}
		csig, err := order.Sign(&ord, domain, ck)
		if err != nil {
			return nil, fmt.Errorf("cosign: %w", err)
		}
		sigs = append(sigs, consensus.Signature{Signer: crypto.PubkeyToAddress(ck.PublicKey), Signature: csig})
	}
	return &order.Submission{Kind: kind, Order: ord, Signatures: sigs}, nil
}

func addressFlag(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("--%s: %q is not an address", name, s)
	}
	return common.HexToAddress(s), nil
}

func intFlag(name, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("--%s: invalid amount %q", name, s)
	}
	return v, nil
}
