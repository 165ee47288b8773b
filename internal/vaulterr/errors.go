// Package vaulterr defines the failure taxonomy shared by every vault component.
// Components wrap these sentinels with fmt.Errorf("%w: ...") so callers can
// branch on errors.Is while still seeing the concrete reason.
package vaulterr

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrForbidden             = errors.New("forbidden")
	ErrVerificationFailed    = errors.New("verification failed")
	ErrCallReverted          = errors.New("call reverted")
	ErrInvalidNonce          = errors.New("invalid nonce")
	ErrOrderExpired          = errors.New("order expired")
	ErrInvalidSignatures     = errors.New("invalid signatures")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrProtectedToken        = errors.New("protected token")
	ErrInvalidVault          = errors.New("invalid vault")
	ErrInvalidOrder          = errors.New("invalid order")
	ErrReentrantCall         = errors.New("reentrant call")
	ErrLimitExceeded         = errors.New("allocation limit exceeded")
)

// CallRevertedError is returned when a forwarded external call fails.
// It matches both ErrCallReverted and the underlying reason.
type CallRevertedError struct {
	Target common.Address
	Reason error
}

func (e *CallRevertedError) Error() string {
	return fmt.Sprintf("call reverted: %s: %v", e.Target.Hex(), e.Reason)
}

func (e *CallRevertedError) Unwrap() []error {
	return []error{ErrCallReverted, e.Reason}
}

// Code maps an error to the stable string persisted in order status records.
func Code(err error) string {
	switch {
	case err == nil:
		return "SUCCESS"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrVerificationFailed):
		return "VERIFICATION_FAILED"
	case errors.Is(err, ErrCallReverted):
		return "CALL_REVERTED"
	case errors.Is(err, ErrInvalidNonce):
		return "INVALID_NONCE"
	case errors.Is(err, ErrOrderExpired):
		return "ORDER_EXPIRED"
	case errors.Is(err, ErrInvalidSignatures):
		return "INVALID_SIGNATURES"
	case errors.Is(err, ErrInsufficientLiquidity):
		return "INSUFFICIENT_LIQUIDITY"
	case errors.Is(err, ErrProtectedToken):
		return "PROTECTED_TOKEN"
	case errors.Is(err, ErrInvalidVault):
		return "INVALID_VAULT"
	case errors.Is(err, ErrInvalidOrder):
		return "INVALID_ORDER"
	case errors.Is(err, ErrReentrantCall):
		return "REENTRANT_CALL"
	case errors.Is(err, ErrLimitExceeded):
		return "LIMIT_EXCEEDED"
	default:
		return "UNKNOWN"
	}
}
