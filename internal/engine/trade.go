/*

Pre-trade and post-trade lifecycle handling.

Before a trade the engine makes sure an in-range position's capital is back in
the AMM reserve; after a trade it moves the idle share of a position that left
its range over to the yield venue.

*/

package engine

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridianfi/rlm/internal/metrics"
	"github.com/meridianfi/rlm/internal/ticks"
	"github.com/meridianfi/rlm/internal/types"
)

// PrepareForTrade readies a position for an incoming trade at currentTick and
// returns the reserve amounts available to the trade. If the position is
// in-range but its funds are still with the yield venue, the full yield
// balance is withdrawn first.
//
// The returned reserves are valid even when err is non-nil: a failed venue
// withdrawal must not block the underlying trade, which falls back to
// whatever reserve is already local.
func (e *Engine) PrepareForTrade(ctx context.Context, id string, currentTick int32) (sdkmath.Int, sdkmath.Int, error) {
	unlock := e.lockPosition(id)
	defer unlock()

	log := e.logger.With().Str("op_id", uuid.New().String()).Str("position", id).Int32("tick", currentTick).Logger()

	pos, err := e.store.GetPosition(ctx, id)
	if err != nil {
		metrics.RebalanceOperations.WithLabelValues("pre_trade", "error").Inc()
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	if e.isDust(pos) {
		log.Debug().Str("totalLiquidity", pos.TotalLiquidity.String()).Msg("Position below minimum size, nothing to prepare")
		metrics.RebalanceOperations.WithLabelValues("pre_trade", "noop").Inc()
		return pos.Reserve0, pos.Reserve1, nil
	}

	inRange := ticks.InRange(currentTick, pos.TickLower, pos.TickUpper)

	// A stuck position's yield funds are unavailable until the recovery
	// sweep clears it; the trade proceeds on the local reserve only.
	if pos.State == types.StateStuck {
		log.Warn().Msg("Position is stuck; trade falls back to local reserve")
		metrics.RebalanceOperations.WithLabelValues("pre_trade", "stuck_fallback").Inc()
		return pos.Reserve0, pos.Reserve1, nil
	}

	if !inRange || pos.State == types.StateInRange || !pos.HasYield() {
		metrics.RebalanceOperations.WithLabelValues("pre_trade", "noop").Inc()
		return pos.Reserve0, pos.Reserve1, nil
	}

	// In-range with funds still at the venue: withdraw everything back.
	deltas := make(map[string]sdkmath.Int)
	outcome := e.withdrawLegs(ctx, log, pos, deltas)

	if !outcome.Success() {
		if err := e.markStuck(ctx, log, pos, deltas); err != nil {
			return pos.Reserve0, pos.Reserve1, err
		}
		metrics.RebalanceOperations.WithLabelValues("pre_trade", "stuck").Inc()
		return pos.Reserve0, pos.Reserve1, outcome.Err()
	}

	pos.State = types.StateInRange
	syncLiquidity(pos)
	if err := e.store.ApplyRebalance(ctx, pos, deltas); err != nil {
		return pos.Reserve0, pos.Reserve1, fmt.Errorf("failed to persist pre-trade withdrawal for %s: %w", id, err)
	}

	log.Info().
		Str("reserve0", pos.Reserve0.String()).
		Str("reserve1", pos.Reserve1.String()).
		Msg("Yield balance withdrawn ahead of trade")
	metrics.RebalanceOperations.WithLabelValues("pre_trade", "ok").Inc()
	return pos.Reserve0, pos.Reserve1, nil
}

// SettleAfterTrade applies the trade's balance changes to the reserve and, if
// the trade moved the tick out of the position's range, deposits the idle
// share of the reserve with the yield venue.
//
// delta0/delta1 are the trade's net flows from the position's point of view:
// positive for funds that flowed into the pool, negative for funds that
// flowed out. Reserves are floored at zero to tolerate rounding.
func (e *Engine) SettleAfterTrade(ctx context.Context, id string, oldTick, newTick int32, delta0, delta1 sdkmath.Int) error {
	unlock := e.lockPosition(id)
	defer unlock()

	log := e.logger.With().Str("op_id", uuid.New().String()).Str("position", id).
		Int32("oldTick", oldTick).Int32("newTick", newTick).Logger()

	pos, err := e.store.GetPosition(ctx, id)
	if err != nil {
		metrics.RebalanceOperations.WithLabelValues("post_trade", "error").Inc()
		return err
	}

	pos.Reserve0 = flooredAdd(pos.Reserve0, delta0)
	pos.Reserve1 = flooredAdd(pos.Reserve1, delta1)
	syncLiquidity(pos)
	if err := e.store.PutPosition(ctx, pos); err != nil {
		return fmt.Errorf("failed to apply trade deltas for %s: %w", id, err)
	}

	if e.isDust(pos) {
		metrics.RebalanceOperations.WithLabelValues("post_trade", "noop").Inc()
		return nil
	}

	leftRange := ticks.LeftRange(oldTick, newTick, pos.TickLower, pos.TickUpper)
	if !leftRange || pos.State != types.StateInRange {
		metrics.RebalanceOperations.WithLabelValues("post_trade", "noop").Inc()
		return nil
	}

	idlePercent := 100 - pos.EffectiveReservePercent()
	amount0 := percentOf(pos.Reserve0, idlePercent)
	amount1 := percentOf(pos.Reserve1, idlePercent)
	if amount0.IsZero() && amount1.IsZero() {
		metrics.RebalanceOperations.WithLabelValues("post_trade", "noop").Inc()
		return nil
	}

	return e.depositAndCommit(ctx, log, "post_trade", pos, amount0, amount1)
}

// depositAndCommit runs the two deposit legs and commits the outcome. The
// state advances to InYield only when both legs succeed; a partial success
// commits the succeeded leg but leaves the state unchanged, so the position's
// yield balances can be transiently non-zero while InRange.
func (e *Engine) depositAndCommit(ctx context.Context, log zerolog.Logger, op string, pos *types.Position, amount0, amount1 sdkmath.Int) error {
	deltas := make(map[string]sdkmath.Int)
	outcome := e.depositLegs(ctx, log, pos, amount0, amount1, deltas)

	if outcome.Success() {
		pos.State = types.StateInYield
	}

	if len(deltas) > 0 {
		syncLiquidity(pos)
		if err := e.store.ApplyRebalance(ctx, pos, deltas); err != nil {
			return fmt.Errorf("failed to persist deposit for %s: %w", pos.ID, err)
		}
	}

	if !outcome.Success() {
		if outcome.Partial() {
			log.Warn().Str("position", pos.ID).Msg("Partial venue deposit; succeeded leg committed, state unchanged")
		}
		metrics.RebalanceOperations.WithLabelValues(op, "error").Inc()
		return outcome.Err()
	}

	log.Info().
		Str("position", pos.ID).
		Str("deposited0", amount0.String()).
		Str("deposited1", amount1.String()).
		Str("reserve0", pos.Reserve0.String()).
		Str("reserve1", pos.Reserve1.String()).
		Msg("Idle funds deposited with yield venue")
	metrics.RebalanceOperations.WithLabelValues(op, "ok").Inc()
	return nil
}

// flooredAdd adds a signed delta to an amount, flooring the result at zero.
func flooredAdd(amount, delta sdkmath.Int) sdkmath.Int {
	result := amount.Add(delta)
	if result.IsNegative() {
		return sdkmath.ZeroInt()
	}
	return result
}
