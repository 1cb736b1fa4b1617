/*

Two-phase result type for rebalancing steps. A "single" deposit or withdrawal
is really two independent venue calls, one per asset, and each leg can fail on
its own. State transitions only advance when both legs succeed, but whichever
leg did succeed stays committed.

*/

package types

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// LegResult is the outcome of one asset's venue call.
type LegResult struct {
	Asset     int         `json:"asset"` // 0 or 1
	Denom     string      `json:"denom"`
	Requested sdkmath.Int `json:"requested"`
	Moved     sdkmath.Int `json:"moved"` // actual amount confirmed moved
	Err       error       `json:"-"`
}

// OK reports whether this leg completed.
func (l LegResult) OK() bool {
	return l.Err == nil
}

// RebalanceOutcome aggregates both legs of a two-asset move.
type RebalanceOutcome struct {
	Asset0 LegResult
	Asset1 LegResult
}

// Success reports whether both legs completed.
func (o RebalanceOutcome) Success() bool {
	return o.Asset0.OK() && o.Asset1.OK()
}

// Partial reports whether exactly one leg completed.
func (o RebalanceOutcome) Partial() bool {
	return o.Asset0.OK() != o.Asset1.OK()
}

// Err flattens the per-leg failures into a single error, nil on full success.
func (o RebalanceOutcome) Err() error {
	if o.Success() {
		return nil
	}
	var errs []error
	if o.Asset0.Err != nil {
		errs = append(errs, fmt.Errorf("asset0 (%s): %w", o.Asset0.Denom, o.Asset0.Err))
	}
	if o.Asset1.Err != nil {
		errs = append(errs, fmt.Errorf("asset1 (%s): %w", o.Asset1.Denom, o.Asset1.Err))
	}
	return errors.Join(errs...)
}
