// Package client is a REST client for the vaultd HTTP API.
package client

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-vault/internal/auth"
	"github.com/0gfoundation/0g-vault/internal/consensus"
	"github.com/0gfoundation/0g-vault/internal/order"
)

// ErrPending is returned by Status while no terminal record exists.
var ErrPending = errors.New("client: order pending")

// APIError is a non-2xx answer from vaultd.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("vaultd: status %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("vaultd: status %d: %s", e.Status, e.Message)
}

// Client talks to one vaultd instance. Paths are relative to baseURL, which
// normally ends in /v1.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, header http.Header, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Nonce returns the nonce caller's next order must carry.
func (c *Client) Nonce(ctx context.Context, caller common.Address) (*big.Int, error) {
	var resp struct {
		Nonce *big.Int `json:"nonce"`
	}
	if err := c.do(ctx, http.MethodGet, "/nonce/"+caller.Hex(), nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Nonce == nil {
		return nil, fmt.Errorf("client: nonce missing from response")
	}
	return resp.Nonce, nil
}

// Cosign asks the vaultd co-signer to sign o.
func (c *Client) Cosign(ctx context.Context, o *order.Order) (consensus.Signature, error) {
	var sig consensus.Signature
	err := c.do(ctx, http.MethodPost, "/cosign", o, nil, &sig)
	return sig, err
}

// Submit queues a signed order for settlement.
func (c *Client) Submit(ctx context.Context, sub *order.Submission) error {
	return c.do(ctx, http.MethodPost, "/orders", sub, nil, nil)
}

// Status returns the terminal record of an order, or ErrPending.
func (c *Client) Status(ctx context.Context, queue, caller common.Address, orderID *big.Int) (*order.Record, error) {
	var rec order.Record
	path := fmt.Sprintf("/orders/%s/%s/%s", queue.Hex(), caller.Hex(), orderID)
	err := c.do(ctx, http.MethodGet, path, nil, nil, &rec)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, ErrPending
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// WaitStatus polls Status every interval until a record appears or ctx ends.
func (c *Client) WaitStatus(ctx context.Context, queue, caller common.Address, orderID *big.Int, interval time.Duration) (*order.Record, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rec, err := c.Status(ctx, queue, caller, orderID)
		if !errors.Is(err, ErrPending) {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Operator sends a signed operator request. payload becomes the signed
// payload; target names the subvault where the route needs one.
func (c *Client) Operator(ctx context.Context, key *ecdsa.PrivateKey, method, path, action string, target common.Address, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	nonce, err := randomNonce()
	if err != nil {
		return err
	}
	header, err := auth.SignHeaders(auth.SignedRequest{
		Action:    action,
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
		Nonce:     nonce,
		Payload:   raw,
		Target:    target.Hex(),
	}, key)
	if err != nil {
		return err
	}
	return c.do(ctx, method, path, nil, header, out)
}

func randomNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
