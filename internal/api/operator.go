package api

import (
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/auth"
	"github.com/0gfoundation/0g-vault/internal/consensus"
	"github.com/0gfoundation/0g-vault/internal/verifier"
)

// entryJSON is the wire form of a verifier.Entry.
type entryJSON struct {
	Caller   common.Address `json:"caller"`
	Target   common.Address `json:"target"`
	Selector string         `json:"selector"`
}

type entriesPayload struct {
	Entries []entryJSON `json:"entries"`
}

type signerPayload struct {
	Signer common.Address `json:"signer"`
	Weight uint64         `json:"weight"`
	Scheme string         `json:"scheme"`
}

type amountPayload struct {
	Amount *big.Int `json:"amount"`
}

type positionPayload struct {
	Amount         *big.Int      `json:"amount"`
	MinOutputGuard *big.Int      `json:"min_output_guard"`
	Calldata       hexutil.Bytes `json:"calldata"`
}

type sweepPayload struct {
	Token     common.Address `json:"token"`
	Recipient common.Address `json:"recipient"`
	Amount    *big.Int       `json:"amount"`
}

type approvePayload struct {
	Spender common.Address `json:"spender"`
	Amount  *big.Int       `json:"amount"`
}

// ── Allowlist ───────────────────────────────────────────────────────────────

func (h *Handler) handleAllowlist(c *gin.Context) {
	entries := h.vault.AllowlistEntries()
	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryJSON{Caller: e.Caller, Target: e.Target, Selector: hexutil.Encode(e.Selector[:])})
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

func (h *Handler) handleAllow(c *gin.Context) {
	h.editAllowlist(c, "allowed", h.vault.Allow)
}

func (h *Handler) handleRevoke(c *gin.Context) {
	h.editAllowlist(c, "revoked", h.vault.Disallow)
}

func (h *Handler) editAllowlist(c *gin.Context, verb string, apply func(common.Address, []verifier.Entry) error) {
	var p entriesPayload
	if err := bindPayload(c, &p); err != nil {
		h.fail(c, err)
		return
	}
	entries := make([]verifier.Entry, 0, len(p.Entries))
	for _, e := range p.Entries {
		sel, err := verifier.ParseSelector(e.Selector)
		if err != nil {
			h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		entries = append(entries, verifier.Entry{Caller: e.Caller, Target: e.Target, Selector: sel})
	}
	if err := apply(auth.Wallet(c), entries); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{verb: len(entries)})
}

// ── Consensus ───────────────────────────────────────────────────────────────

func (h *Handler) handleAddSigner(c *gin.Context) {
	var p signerPayload
	if err := bindPayload(c, &p); err != nil {
		h.fail(c, err)
		return
	}
	scheme := consensus.SchemeEIP712
	if p.Scheme != "" {
		var err error
		if scheme, err = consensus.ParseScheme(p.Scheme); err != nil {
			h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	if err := h.vault.AddSigner(auth.Wallet(c), p.Signer, p.Weight, scheme); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signer": p.Signer.Hex(), "weight": p.Weight, "scheme": scheme.String()})
}

func (h *Handler) handleRemoveSigner(c *gin.Context) {
	var p signerPayload
	if err := bindPayload(c, &p); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.vault.RemoveSigner(auth.Wallet(c), p.Signer); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": p.Signer.Hex()})
}

// ── Keeper ──────────────────────────────────────────────────────────────────

func (h *Handler) handlePush(c *gin.Context) {
	h.moveLiquidity(c, "push", h.vault.Push)
}

func (h *Handler) handlePull(c *gin.Context) {
	h.moveLiquidity(c, "pull", h.vault.Pull)
}

func (h *Handler) moveLiquidity(c *gin.Context, op string, apply func(sender, sv common.Address, amount *big.Int) error) {
	sv, err := signedTarget(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var p amountPayload
	if err := bindPayload(c, &p); err != nil {
		h.fail(c, err)
		return
	}
	if err := requirePositive("amount", p.Amount); err != nil {
		h.fail(c, err)
		return
	}
	if err := apply(auth.Wallet(c), sv, p.Amount); err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("keeper "+op, zap.String("keeper", auth.Wallet(c).Hex()), zap.String("subvault", sv.Hex()), zap.Stringer("amount", p.Amount))
	c.JSON(http.StatusOK, gin.H{"subvault": sv.Hex(), "amount": p.Amount})
}

func (h *Handler) handleEnter(c *gin.Context) {
	h.position(c, h.vault.Enter)
}

func (h *Handler) handleExit(c *gin.Context) {
	h.position(c, h.vault.Exit)
}

func (h *Handler) position(c *gin.Context, apply func(sender, sv common.Address, amount, guard *big.Int, data []byte) ([]byte, error)) {
	sv, err := signedTarget(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var p positionPayload
	if err := bindPayload(c, &p); err != nil {
		h.fail(c, err)
		return
	}
	if err := requirePositive("amount", p.Amount); err != nil {
		h.fail(c, err)
		return
	}
	out, err := apply(auth.Wallet(c), sv, p.Amount, orZero(p.MinOutputGuard), p.Calldata)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subvault": sv.Hex(), "result": encodeResult(out)})
}

// ── Admin ───────────────────────────────────────────────────────────────────

func (h *Handler) handleSweep(c *gin.Context) {
	sv, err := signedTarget(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	var p sweepPayload
	if err := bindPayload(c, &p); err != nil {
		h.fail(c, err)
		return
	}
	if err := requirePositive("amount", p.Amount); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.vault.Sweep(auth.Wallet(c), sv, p.Token, p.Recipient, p.Amount); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subvault": sv.Hex(), "token": p.Token.Hex(), "recipient": p.Recipient.Hex(), "amount": p.Amount})
}

// ── Token ───────────────────────────────────────────────────────────────────

// handleApprove sets the signing wallet's allowance on the vault asset, which
// a mint order needs for the mint queue.
func (h *Handler) handleApprove(c *gin.Context) {
	var p approvePayload
	if err := bindPayload(c, &p); err != nil {
		h.fail(c, err)
		return
	}
	if p.Amount == nil || p.Amount.Sign() < 0 {
		h.fail(c, fmt.Errorf("%w: amount must be non-negative", errBadRequest))
		return
	}
	if err := h.vault.Approve(auth.Wallet(c), p.Spender, p.Amount); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": auth.Wallet(c).Hex(), "spender": p.Spender.Hex(), "amount": p.Amount})
}
