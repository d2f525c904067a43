// Package assets normalizes native-vs-wrapped asset addresses ahead of
// routing. Pure functions, no I/O.
package assets

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// NativeSOL is the system-program sentinel callers use for the chain's
// native asset. Venues only trade the wrapped SPL form.
const (
	NativeSOL  = "11111111111111111111111111111111"
	WrappedSOL = "So11111111111111111111111111111111111111112"
)

var (
	ErrSameAsset      = errors.New("token_in and token_out resolve to the same asset")
	ErrInvalidAddress = errors.New("invalid token address")
)

// Normalize maps the native sentinel to wrapped SOL; identity otherwise.
// Idempotent: Normalize(Normalize(a)) == Normalize(a).
func Normalize(addr string) string {
	if addr == NativeSOL {
		return WrappedSOL
	}
	return addr
}

// ValidateAddress checks base58 shape: 32-44 chars decoding to 32 bytes.
func ValidateAddress(addr string) error {
	if len(addr) < 32 || len(addr) > 44 {
		return fmt.Errorf("%w: %q must be 32-44 characters", ErrInvalidAddress, addr)
	}
	raw, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("%w: %q is not base58", ErrInvalidAddress, addr)
	}
	if len(raw) != 32 {
		return fmt.Errorf("%w: %q does not decode to 32 bytes", ErrInvalidAddress, addr)
	}
	return nil
}

// ValidatePair rejects degenerate pairs: identical addresses, or a pair that
// collapses to the same asset after normalization (native vs wrapped SOL).
func ValidatePair(in, out string) error {
	if err := ValidateAddress(in); err != nil {
		return err
	}
	if err := ValidateAddress(out); err != nil {
		return err
	}
	if in == out {
		return fmt.Errorf("%w: %s", ErrSameAsset, in)
	}
	if Normalize(in) == Normalize(out) {
		return fmt.Errorf("%w: %s and %s are the native and wrapped form of the same asset",
			ErrSameAsset, in, out)
	}
	return nil
}

// WrapPlan describes the wrap/unwrap legs a swap needs around venue
// execution, plus the normalized pair handed to the router.
type WrapPlan struct {
	NeedsWrapIn   bool
	NeedsUnwrapOut bool
	WrapAmount    float64
	NormalizedIn  string
	NormalizedOut string
}

// WrapInstructions computes the wrap plan for a pair. The order keeps the
// original addresses; only the normalized pair reaches venue drivers.
func WrapInstructions(in, out string, amount float64) WrapPlan {
	plan := WrapPlan{
		NormalizedIn:  Normalize(in),
		NormalizedOut: Normalize(out),
	}
	if in == NativeSOL {
		plan.NeedsWrapIn = true
		plan.WrapAmount = amount
	}
	if out == NativeSOL {
		plan.NeedsUnwrapOut = true
	}
	return plan
}
