package vaulterr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestCallRevertedError_MatchesBoth(t *testing.T) {
	reason := errors.New("insufficient balance")
	err := fmt.Errorf("enter: %w", &CallRevertedError{
		Target: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Reason: reason,
	})
	if !errors.Is(err, ErrCallReverted) {
		t.Error("expected ErrCallReverted")
	}
	if !errors.Is(err, reason) {
		t.Error("expected underlying reason to be reachable")
	}
	var cr *CallRevertedError
	if !errors.As(err, &cr) {
		t.Fatal("errors.As failed")
	}
	if cr.Target != common.HexToAddress("0x1111111111111111111111111111111111111111") {
		t.Errorf("target: got %s", cr.Target.Hex())
	}
}

func TestCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "SUCCESS"},
		{fmt.Errorf("%w: nonce 3 want 2", ErrInvalidNonce), "INVALID_NONCE"},
		{fmt.Errorf("%w: deadline passed", ErrOrderExpired), "ORDER_EXPIRED"},
		{&CallRevertedError{Reason: errors.New("x")}, "CALL_REVERTED"},
		{errors.New("boom"), "UNKNOWN"},
	}
	for _, c := range cases {
		if got := Code(c.err); got != c.want {
			t.Errorf("Code(%v): got %q want %q", c.err, got, c.want)
		}
	}
}
