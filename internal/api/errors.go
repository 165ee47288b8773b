package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-vault/internal/consensus"
	"github.com/0gfoundation/0g-vault/internal/cosign"
	"github.com/0gfoundation/0g-vault/internal/erc20"
	"github.com/0gfoundation/0g-vault/internal/ledger"
	"github.com/0gfoundation/0g-vault/internal/risk"
	"github.com/0gfoundation/0g-vault/internal/subvault"
	"github.com/0gfoundation/0g-vault/internal/vault"
	"github.com/0gfoundation/0g-vault/internal/vaulterr"
	"github.com/0gfoundation/0g-vault/internal/verifier"
)

// errBadRequest marks input that could not be decoded or is structurally wrong.
var errBadRequest = errors.New("bad request")

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, vaulterr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrUnknownSubvault),
		errors.Is(err, cosign.ErrUnknownQueue),
		errors.Is(err, vault.ErrUnknownQueue),
		errors.Is(err, consensus.ErrUnknownSigner):
		return http.StatusNotFound
	case errors.Is(err, vaulterr.ErrInvalidOrder),
		errors.Is(err, vaulterr.ErrInvalidNonce),
		errors.Is(err, vaulterr.ErrOrderExpired),
		errors.Is(err, vaulterr.ErrInvalidSignatures),
		errors.Is(err, cosign.ErrPolicy):
		return http.StatusUnprocessableEntity
	case errors.Is(err, vaulterr.ErrVerificationFailed),
		errors.Is(err, vaulterr.ErrCallReverted),
		errors.Is(err, vaulterr.ErrProtectedToken),
		errors.Is(err, vaulterr.ErrLimitExceeded),
		errors.Is(err, vaulterr.ErrInsufficientLiquidity),
		errors.Is(err, vaulterr.ErrReentrantCall),
		errors.Is(err, cosign.ErrConflict),
		errors.Is(err, verifier.ErrAlreadyAllowed),
		errors.Is(err, verifier.ErrNotAllowed),
		errors.Is(err, consensus.ErrThresholdUnreachable),
		errors.Is(err, risk.ErrNoLimit),
		errors.Is(err, erc20.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, verifier.ErrZeroAddress),
		errors.Is(err, verifier.ErrEmptyBatch),
		errors.Is(err, consensus.ErrZeroWeight),
		errors.Is(err, consensus.ErrZeroSigner),
		errors.Is(err, consensus.ErrZeroThreshold),
		errors.Is(err, consensus.ErrWeightOverflow),
		errors.Is(err, subvault.ErrZeroAmount),
		errors.Is(err, ledger.ErrNonPositive),
		errors.Is(err, erc20.ErrZeroAddress):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrSandboxOnly):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error", "code": vaulterr.Code(err)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": vaulterr.Code(err)})
}
