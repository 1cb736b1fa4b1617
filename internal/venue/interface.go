// Package venue is the boundary to the external lending venue. The venue has
// its own internal accounting (interest-bearing receipts), so the principal
// the engine tracks and the balance the venue reports drift apart as yield
// accrues; callers reconcile with OutstandingBalance.
package venue

import (
	"context"

	sdkmath "cosmossdk.io/math"
)

// Client defines the operations the rebalancing engine needs from the yield
// venue. Calls are synchronous and fallible; they either complete (with a
// possibly-adjusted actual amount) or fail immediately. No retries happen at
// this layer.
type Client interface {
	// Deposit places principal with the venue and returns the venue's receipt
	// identifier for the deposit.
	Deposit(ctx context.Context, denom string, amount sdkmath.Int, beneficiary string) (string, error)

	// Withdraw pulls funds back out. The actual amount returned may differ
	// from the requested amount due to accrued yield or venue rounding.
	Withdraw(ctx context.Context, denom string, amount sdkmath.Int, destination string) (sdkmath.Int, error)

	// OutstandingBalance reports the venue's current balance for a holder,
	// including accrued yield. Used for proportional withdrawal calculations.
	OutstandingBalance(ctx context.Context, denom, holder string) (sdkmath.Int, error)
}
