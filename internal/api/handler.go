// Package api exposes the vault over HTTP. Public routes submit signed orders
// and read state; operator routes require an EIP-191 signed request whose
// recovered wallet is the caller every capability check runs against.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/auth"
	"github.com/0gfoundation/0g-vault/internal/consensus"
	"github.com/0gfoundation/0g-vault/internal/order"
	"github.com/0gfoundation/0g-vault/internal/settler"
	"github.com/0gfoundation/0g-vault/internal/vault"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
	"github.com/0gfoundation/0g-vault/internal/verifier"
)

// Vault is the subset of *vault.System the handlers drive.
type Vault interface {
	Deployment() vault.Deployment
	Nonce(caller common.Address) *big.Int
	Stats() (vault.Stats, error)
	SharesOf(holder common.Address) *big.Int
	Subvaults() ([]vault.SubvaultView, error)
	Signers() ([]consensus.Member, uint64)
	AllowlistEntries() []verifier.Entry

	Approve(owner, spender common.Address, amount *big.Int) error
	Allow(sender common.Address, entries []verifier.Entry) error
	Disallow(sender common.Address, entries []verifier.Entry) error
	AddSigner(sender, id common.Address, weight uint64, scheme consensus.SchemeID) error
	RemoveSigner(sender, id common.Address) error
	Push(sender, sv common.Address, amount *big.Int) error
	Pull(sender, sv common.Address, amount *big.Int) error
	Enter(sender, sv common.Address, amount, minOutputGuard *big.Int, data []byte) ([]byte, error)
	Exit(sender, sv common.Address, positionAmount, minOutputGuard *big.Int, data []byte) ([]byte, error)
	Sweep(sender, sv, token, recipient common.Address, amount *big.Int) error
}

// Cosigner is satisfied by *cosign.Signer.
type Cosigner interface {
	Cosign(ctx context.Context, o *order.Order) (consensus.Signature, error)
}

// Signed actions. The action in the signed message must match the route.
const (
	ActionAllow        = "allowlist.allow"
	ActionRevoke       = "allowlist.revoke"
	ActionList         = "allowlist.list"
	ActionAddSigner    = "signer.add"
	ActionRemoveSigner = "signer.remove"
	ActionPush         = "keeper.push"
	ActionPull         = "keeper.pull"
	ActionEnter        = "keeper.enter"
	ActionExit         = "keeper.exit"
	ActionSweep        = "admin.sweep"
	ActionApprove      = "token.approve"
)

type Handler struct {
	vault    Vault
	cosigner Cosigner
	rdb      *redis.Client
	log      *zap.Logger
}

// NewHandler creates the handler. cosigner may be nil, in which case the
// co-signature route answers 503.
func NewHandler(v Vault, cosigner Cosigner, rdb *redis.Client, log *zap.Logger) *Handler {
	return &Handler{vault: v, cosigner: cosigner, rdb: rdb, log: log}
}

// Register mounts the public routes on pub and the operator routes on signed,
// which must already carry auth.Middleware.
func (h *Handler) Register(pub, signed *gin.RouterGroup) {
	// ── Orders ─────────────────────────────────────────────────────────────
	pub.POST("/orders", h.handleSubmit)
	pub.GET("/orders/:queue/:caller/:id", h.handleStatus)
	pub.GET("/nonce/:caller", h.handleNonce)
	pub.POST("/cosign", h.handleCosign)

	// ── Read-only state ────────────────────────────────────────────────────
	pub.GET("/vault", h.handleVault)
	pub.GET("/shares/:holder", h.handleShares)
	pub.GET("/subvaults", h.handleSubvaults)
	pub.GET("/signers", h.handleSigners)

	// ── Operator ───────────────────────────────────────────────────────────
	signed.GET("/allowlist", auth.RequireAction(ActionList), h.handleAllowlist)
	signed.POST("/allowlist/allow", auth.RequireAction(ActionAllow), h.handleAllow)
	signed.POST("/allowlist/revoke", auth.RequireAction(ActionRevoke), h.handleRevoke)
	signed.POST("/signers/add", auth.RequireAction(ActionAddSigner), h.handleAddSigner)
	signed.POST("/signers/remove", auth.RequireAction(ActionRemoveSigner), h.handleRemoveSigner)
	signed.POST("/keeper/push", auth.RequireAction(ActionPush), h.handlePush)
	signed.POST("/keeper/pull", auth.RequireAction(ActionPull), h.handlePull)
	signed.POST("/keeper/enter", auth.RequireAction(ActionEnter), h.handleEnter)
	signed.POST("/keeper/exit", auth.RequireAction(ActionExit), h.handleExit)
	signed.POST("/admin/sweep", auth.RequireAction(ActionSweep), h.handleSweep)
	signed.POST("/token/approve", auth.RequireAction(ActionApprove), h.handleApprove)
}

// ── Orders ──────────────────────────────────────────────────────────────────

func (h *Handler) handleSubmit(c *gin.Context) {
	var sub order.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := h.checkSubmission(&sub); err != nil {
		h.fail(c, err)
		return
	}
	if err := settler.Enqueue(c.Request.Context(), h.rdb, sub); err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("order queued",
		zap.String("kind", string(sub.Kind)),
		zap.String("queue", sub.Order.Queue.Hex()),
		zap.String("caller", sub.Order.Caller.Hex()),
		zap.Stringer("order_id", sub.Order.OrderID),
	)
	c.JSON(http.StatusAccepted, gin.H{
		"status":   "QUEUED",
		"order_id": sub.Order.OrderID.String(),
		"queue":    sub.Order.Queue.Hex(),
	})
}

// checkSubmission rejects what no settler could ever accept, so it never
// reaches a queue list nobody consumes.
func (h *Handler) checkSubmission(sub *order.Submission) error {
	if _, err := order.ParseKind(string(sub.Kind)); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := order.Validate(&sub.Order); err != nil {
		return err
	}
	dep := h.vault.Deployment()
	want := dep.MintQueue
	if sub.Kind == order.KindRedeem {
		want = dep.RedeemQueue
	}
	if sub.Order.Queue != want {
		return fmt.Errorf("%w: %s order for unknown queue %s", vaulterr.ErrInvalidOrder, sub.Kind, sub.Order.Queue.Hex())
	}
	if len(sub.Signatures) == 0 {
		return fmt.Errorf("%w: no signatures", errBadRequest)
	}
	return nil
}

func (h *Handler) handleStatus(c *gin.Context) {
	queue, err := addressParam(c, "queue")
	if err != nil {
		h.fail(c, err)
		return
	}
	caller, err := addressParam(c, "caller")
	if err != nil {
		h.fail(c, err)
		return
	}
	id, ok := new(big.Int).SetString(c.Param("id"), 10)
	if !ok {
		h.fail(c, fmt.Errorf("%w: order id %q", errBadRequest, c.Param("id")))
		return
	}
	rec, err := settler.Status(c.Request.Context(), h.rdb, queue, caller, id)
	if errors.Is(err, settler.ErrNoStatus) {
		c.JSON(http.StatusNotFound, gin.H{"status": "PENDING", "order_id": id.String()})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) handleNonce(c *gin.Context) {
	caller, err := addressParam(c, "caller")
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"caller": caller.Hex(), "nonce": h.vault.Nonce(caller)})
}

func (h *Handler) handleCosign(c *gin.Context) {
	if h.cosigner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "co-signer disabled"})
		return
	}
	var o order.Order
	if err := c.ShouldBindJSON(&o); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	sig, err := h.cosigner.Cosign(c.Request.Context(), &o)
	if err != nil {
		h.log.Info("co-signature refused", zap.String("caller", o.Caller.Hex()), zap.Error(err))
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sig)
}

// ── Read-only state ─────────────────────────────────────────────────────────

func (h *Handler) handleVault(c *gin.Context) {
	st, err := h.vault.Stats()
	if err != nil {
		h.fail(c, err)
		return
	}
	dep := h.vault.Deployment()
	pending := gin.H{}
	for kind, q := range map[string]common.Address{"mint": dep.MintQueue, "redeem": dep.RedeemQueue} {
		n, err := settler.Pending(c.Request.Context(), h.rdb, q)
		if err != nil {
			h.fail(c, err)
			return
		}
		pending[kind] = n
	}
	c.JSON(http.StatusOK, gin.H{
		"chain_id":     dep.ChainID,
		"ledger":       dep.Ledger.Hex(),
		"asset":        dep.Asset.Hex(),
		"mint_queue":   dep.MintQueue.Hex(),
		"redeem_queue": dep.RedeemQueue.Hex(),
		"sandbox":      dep.Sandbox,
		"stats":        st,
		"pending":      pending,
	})
}

func (h *Handler) handleShares(c *gin.Context) {
	holder, err := addressParam(c, "holder")
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"holder": holder.Hex(), "shares": h.vault.SharesOf(holder)})
}

func (h *Handler) handleSubvaults(c *gin.Context) {
	views, err := h.vault.Subvaults()
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subvaults": views})
}

func (h *Handler) handleSigners(c *gin.Context) {
	members, threshold := h.vault.Signers()
	out := make([]gin.H, 0, len(members))
	for _, m := range members {
		schemes := make([]string, 0, len(m.Schemes))
		for _, s := range m.Schemes {
			schemes = append(schemes, s.String())
		}
		out = append(out, gin.H{"signer": m.Signer.Hex(), "weight": m.Weight, "schemes": schemes})
	}
	c.JSON(http.StatusOK, gin.H{"threshold": threshold, "signers": out})
}

// ── helpers ─────────────────────────────────────────────────────────────────

func addressParam(c *gin.Context, name string) (common.Address, error) {
	return parseAddress(name, c.Param(name))
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", errBadRequest, name, s)
	}
	return common.HexToAddress(s), nil
}

// bindPayload decodes the signed payload into dst.
func bindPayload(c *gin.Context, dst any) error {
	req, ok := auth.Request(c)
	if !ok {
		return fmt.Errorf("%w: unsigned request", errBadRequest)
	}
	if len(req.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", errBadRequest)
	}
	if err := json.Unmarshal(req.Payload, dst); err != nil {
		return fmt.Errorf("%w: payload: %v", errBadRequest, err)
	}
	return nil
}

// signedTarget is the subvault the signed request names.
func signedTarget(c *gin.Context) (common.Address, error) {
	req, _ := auth.Request(c)
	return parseAddress("target", req.Target)
}

func requirePositive(name string, v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return fmt.Errorf("%w: %s must be positive", errBadRequest, name)
	}
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func encodeResult(out []byte) string { return hexutil.Encode(out) }
