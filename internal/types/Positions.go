/*

This file contains the types for liquidity positions which carry all the state
needed for rebalancing funds between the AMM reserve and the yield venue.

*/

package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
)

type PoolID uint64

// PositionState tracks where a position's capital currently lives.
type PositionState string

const (
	// StateInRange means all capital sits in the AMM reserve and is usable for trading.
	StateInRange PositionState = "IN_RANGE"
	// StateInYield means the out-of-range share of capital is deposited with the yield venue.
	StateInYield PositionState = "IN_YIELD"
	// StateStuck means a venue withdrawal failed and the position is pending recovery.
	StateStuck PositionState = "STUCK"
)

const (
	// DefaultReservePercent is applied when a position's reserve percent is unset (0).
	DefaultReservePercent int64 = 20
	// MinReservePercent / MaxReservePercent bound the configurable reserve fraction.
	MinReservePercent int64 = 10
	MaxReservePercent int64 = 50
	// PostWithdrawDepositPercent is the fixed fraction of the remaining reserve
	// deposited after a partial liquidity withdrawal leaves the position out-of-range.
	PostWithdrawDepositPercent int64 = 80
)

// Position is a liquidity range on a pool together with the split of its
// capital between the AMM reserve and the yield venue.
type Position struct {
	ID             string        `json:"id"`
	Owner          string        `json:"owner,omitempty"`
	PoolID         PoolID        `json:"pool_id"`
	TickLower      int32         `json:"tick_lower"`
	TickUpper      int32         `json:"tick_upper"`
	Denom0         string        `json:"denom0"`
	Denom1         string        `json:"denom1"`
	Reserve0       sdkmath.Int   `json:"reserve0"` // held in the AMM reserve
	Reserve1       sdkmath.Int   `json:"reserve1"`
	Yield0         sdkmath.Int   `json:"yield0"` // principal deposited with the yield venue
	Yield1         sdkmath.Int   `json:"yield1"`
	TotalLiquidity sdkmath.Int   `json:"total_liquidity"` // denormalized, used for dust filtering only
	ReservePercent int64         `json:"reserve_percent"` // 0 means "use the default"
	State          PositionState `json:"state"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// DerivePositionID produces the stable identifier for a (pool, range) pair.
// Identical ranges on the same pool always resolve to the same position.
func DerivePositionID(pool PoolID, tickLower, tickUpper int32) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d|%d", pool, tickLower, tickUpper)))
	return hex.EncodeToString(sum[:])
}

// NewPosition creates an in-range position from a first liquidity contribution.
func NewPosition(pool PoolID, tickLower, tickUpper int32, owner, denom0, denom1 string, amount0, amount1 sdkmath.Int) (*Position, error) {
	if tickLower >= tickUpper {
		return nil, fmt.Errorf("%w: lower %d, upper %d", ErrInvalidTickRange, tickLower, tickUpper)
	}
	now := time.Now().UTC()
	return &Position{
		ID:             DerivePositionID(pool, tickLower, tickUpper),
		Owner:          owner,
		PoolID:         pool,
		TickLower:      tickLower,
		TickUpper:      tickUpper,
		Denom0:         denom0,
		Denom1:         denom1,
		Reserve0:       amount0,
		Reserve1:       amount1,
		Yield0:         sdkmath.ZeroInt(),
		Yield1:         sdkmath.ZeroInt(),
		TotalLiquidity: amount0.Add(amount1),
		ReservePercent: 0,
		State:          StateInRange,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// EffectiveReservePercent resolves the unset sentinel (0) to the default.
func (p *Position) EffectiveReservePercent() int64 {
	if p.ReservePercent == 0 {
		return DefaultReservePercent
	}
	return p.ReservePercent
}

// SetReservePercent enforces the [MinReservePercent, MaxReservePercent] bounds
// at write time. Passing 0 resets to "unset".
func (p *Position) SetReservePercent(percent int64) error {
	if percent == 0 {
		p.ReservePercent = 0
		return nil
	}
	if percent < MinReservePercent || percent > MaxReservePercent {
		return fmt.Errorf("%w: %d not in [%d,%d]", ErrInvalidReservePercent, percent, MinReservePercent, MaxReservePercent)
	}
	p.ReservePercent = percent
	return nil
}

// Total returns reserve + yield for the given asset index.
func (p *Position) Total(asset int) sdkmath.Int {
	if asset == 0 {
		return p.Reserve0.Add(p.Yield0)
	}
	return p.Reserve1.Add(p.Yield1)
}

// HasYield reports whether any principal is still with the venue.
func (p *Position) HasYield() bool {
	return p.Yield0.IsPositive() || p.Yield1.IsPositive()
}

// IsEmpty reports whether both reserve and yield balances are zero for both
// assets. Empty positions are deleted from the ledger.
func (p *Position) IsEmpty() bool {
	return p.Reserve0.IsZero() && p.Reserve1.IsZero() && p.Yield0.IsZero() && p.Yield1.IsZero()
}

// Clone returns a deep copy so stores can hand out positions without aliasing.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}

// Denom returns the venue denom for the given asset index.
func (p *Position) Denom(asset int) string {
	if asset == 0 {
		return p.Denom0
	}
	return p.Denom1
}
