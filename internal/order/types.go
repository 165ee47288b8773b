package order

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/0g-vault/internal/consensus"
)

// Kind selects the settlement side.
type Kind string

const (
	KindMint   Kind = "mint"
	KindRedeem Kind = "redeem"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMint, KindRedeem:
		return Kind(s), nil
	}
	return "", fmt.Errorf("order: unknown kind %q", s)
}

// Order is the user-signed settlement instruction. Ordered is what the caller
// gives up; Requested is what the recipient receives.
type Order struct {
	OrderID   *big.Int       `json:"order_id"`
	Queue     common.Address `json:"queue"`
	Asset     common.Address `json:"asset"`
	Caller    common.Address `json:"caller"`
	Recipient common.Address `json:"recipient"`
	Ordered   *big.Int       `json:"ordered"`
	Requested *big.Int       `json:"requested"`
	Deadline  *big.Int       `json:"deadline"`
	Nonce     *big.Int       `json:"nonce"`
}

// Submission is a signed order as carried over HTTP and through Redis. The
// signature set holds the caller's own signature plus the co-signatures.
type Submission struct {
	Kind       Kind                  `json:"kind"`
	Order      Order                 `json:"order"`
	Signatures []consensus.Signature `json:"signatures"`
}

// Status is the terminal state of a processed submission.
type Status string

const (
	StatusSettled  Status = "SETTLED"
	StatusRejected Status = "REJECTED"
)

// Record is persisted once a submission reaches a terminal state.
type Record struct {
	Status  Status `json:"status"`
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	OrderID string `json:"order_id"`
	Caller  string `json:"caller"`
	At      int64  `json:"at"`
}

// Redis key templates
const (
	QueueKeyFmt  = "orders:queue:%s"        // %s = queue address (checksummed)
	DLQKeyFmt    = "orders:dlq:%s"          // %s = queue address
	StatusKeyFmt = "orders:status:%s:%s:%s" // %s = queue, caller, orderId
)

// StatusKey is the Redis key holding the Record for one order.
func StatusKey(queue, caller common.Address, orderID *big.Int) string {
	return fmt.Sprintf(StatusKeyFmt, queue.Hex(), caller.Hex(), orderID.String())
}
