/*

Liquidity contribution and withdrawal lifecycle handling.

Contributions create or top up a position; if the range is inactive the idle
share of the new funds goes straight to the yield venue. Before a provider
removes liquidity the full yield balance is pulled back so the funds are
available; afterwards the remainder is re-split against the current tick.

*/

package engine

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/meridianfi/rlm/internal/metrics"
	"github.com/meridianfi/rlm/internal/ticks"
	"github.com/meridianfi/rlm/internal/types"
)

// Contribution describes a liquidity provider's deposit into a (pool, range)
// pair. The position id is derived from the pool and bounds, so repeated
// contributions to the same range accrue to one position.
type Contribution struct {
	Pool           types.PoolID
	TickLower      int32
	TickUpper      int32
	Owner          string
	Denom0         string
	Denom1         string
	Amount0        sdkmath.Int
	Amount1        sdkmath.Int
	ReservePercent int64 // optional; 0 keeps the current/default setting
}

// RegisterContribution records a liquidity contribution and rebalances the
// newly added funds against the current tick. A first contribution creates
// the position in-range; while the range is inactive the idle share of the
// added amounts is deposited with the yield venue immediately.
func (e *Engine) RegisterContribution(ctx context.Context, c Contribution, currentTick int32) (*types.Position, error) {
	id := types.DerivePositionID(c.Pool, c.TickLower, c.TickUpper)
	unlock := e.lockPosition(id)
	defer unlock()

	log := e.logger.With().Str("op_id", uuid.New().String()).Str("position", id).Int32("tick", currentTick).Logger()

	if c.Amount0.IsNil() || c.Amount1.IsNil() || c.Amount0.IsNegative() || c.Amount1.IsNegative() {
		return nil, fmt.Errorf("%w: contribution amounts must be non-negative", types.ErrInvalidAmount)
	}

	pos, err := e.store.GetPosition(ctx, id)
	switch {
	case err == nil:
		pos.Reserve0 = pos.Reserve0.Add(c.Amount0)
		pos.Reserve1 = pos.Reserve1.Add(c.Amount1)
		if pos.Owner == "" {
			pos.Owner = c.Owner
		}
	case errors.Is(err, types.ErrPositionNotFound):
		pos, err = types.NewPosition(c.Pool, c.TickLower, c.TickUpper, c.Owner, c.Denom0, c.Denom1, c.Amount0, c.Amount1)
		if err != nil {
			return nil, err
		}
		log.Info().Uint64("pool", uint64(c.Pool)).Msg("Position created from first contribution")
	default:
		metrics.RebalanceOperations.WithLabelValues("contribute", "error").Inc()
		return nil, err
	}

	if c.ReservePercent != 0 {
		if err := pos.SetReservePercent(c.ReservePercent); err != nil {
			return nil, err
		}
	}

	syncLiquidity(pos)
	if err := e.store.PutPosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("failed to persist contribution for %s: %w", id, err)
	}

	inRange := ticks.InRange(currentTick, pos.TickLower, pos.TickUpper)

	// In-range: the new funds stay in reserve. The state only flips to
	// InRange once no principal remains with the venue; pre-trade
	// preparation restores it otherwise.
	if inRange {
		if pos.State != types.StateStuck && !pos.HasYield() && pos.State != types.StateInRange {
			pos.State = types.StateInRange
			syncLiquidity(pos)
			if err := e.store.PutPosition(ctx, pos); err != nil {
				return nil, fmt.Errorf("failed to persist state for %s: %w", id, err)
			}
		}
		metrics.RebalanceOperations.WithLabelValues("contribute", "ok").Inc()
		return pos.Clone(), nil
	}

	// Stuck positions get no further venue exposure until recovered.
	if pos.State == types.StateStuck || e.isDust(pos) {
		metrics.RebalanceOperations.WithLabelValues("contribute", "ok").Inc()
		return pos.Clone(), nil
	}

	// Out-of-range: deposit the idle share of the newly added amounts.
	idlePercent := 100 - pos.EffectiveReservePercent()
	amount0 := percentOf(c.Amount0, idlePercent)
	amount1 := percentOf(c.Amount1, idlePercent)
	if amount0.IsZero() && amount1.IsZero() {
		metrics.RebalanceOperations.WithLabelValues("contribute", "ok").Inc()
		return pos.Clone(), nil
	}

	if err := e.depositAndCommit(ctx, log, "contribute", pos, amount0, amount1); err != nil {
		return pos.Clone(), err
	}
	return pos.Clone(), nil
}

// PrepareWithdrawal pulls the position's full yield balance back into the
// reserve ahead of a liquidity removal, unconditionally of the current tick:
// the provider needs the funds available. A stuck position is given one
// recovery attempt here since this is the same full-withdrawal operation the
// sweep performs.
func (e *Engine) PrepareWithdrawal(ctx context.Context, id string) error {
	unlock := e.lockPosition(id)
	defer unlock()

	log := e.logger.With().Str("op_id", uuid.New().String()).Str("position", id).Logger()

	pos, err := e.store.GetPosition(ctx, id)
	if err != nil {
		metrics.RebalanceOperations.WithLabelValues("pre_withdraw", "error").Inc()
		return err
	}

	if !pos.HasYield() {
		if pos.State == types.StateInYield {
			pos.State = types.StateInRange
			syncLiquidity(pos)
			if err := e.store.PutPosition(ctx, pos); err != nil {
				return fmt.Errorf("failed to persist state for %s: %w", id, err)
			}
		}
		metrics.RebalanceOperations.WithLabelValues("pre_withdraw", "noop").Inc()
		return nil
	}

	wasStuck := pos.State == types.StateStuck

	deltas := make(map[string]sdkmath.Int)
	outcome := e.withdrawLegs(ctx, log, pos, deltas)

	if !outcome.Success() {
		if err := e.markStuck(ctx, log, pos, deltas); err != nil {
			return err
		}
		metrics.RebalanceOperations.WithLabelValues("pre_withdraw", "stuck").Inc()
		return outcome.Err()
	}

	pos.State = types.StateInRange
	syncLiquidity(pos)
	if err := e.store.ApplyRebalance(ctx, pos, deltas); err != nil {
		return fmt.Errorf("failed to persist pre-withdrawal for %s: %w", id, err)
	}
	if wasStuck {
		if err := e.store.RemoveStuck(ctx, id); err != nil {
			return fmt.Errorf("failed to clear stuck entry for %s: %w", id, err)
		}
	}

	log.Info().
		Str("reserve0", pos.Reserve0.String()).
		Str("reserve1", pos.Reserve1.String()).
		Msg("Yield balance withdrawn ahead of liquidity removal")
	metrics.RebalanceOperations.WithLabelValues("pre_withdraw", "ok").Inc()
	return nil
}

// SettleWithdrawal records the outcome of a liquidity removal. remaining0/1
// are the reserve amounts left after the provider's withdrawal executed. A
// fully drained position is deleted; otherwise the ledger is overwritten with
// the remainder and, if the range is still inactive, the fixed post-withdrawal
// share of the remainder goes back to the yield venue.
func (e *Engine) SettleWithdrawal(ctx context.Context, id string, remaining0, remaining1 sdkmath.Int, currentTick int32) error {
	unlock := e.lockPosition(id)
	defer unlock()

	log := e.logger.With().Str("op_id", uuid.New().String()).Str("position", id).Int32("tick", currentTick).Logger()

	pos, err := e.store.GetPosition(ctx, id)
	if err != nil {
		metrics.RebalanceOperations.WithLabelValues("post_withdraw", "error").Inc()
		return err
	}

	if remaining0.IsNil() || remaining1.IsNil() || remaining0.IsNegative() || remaining1.IsNegative() {
		return fmt.Errorf("%w: remaining amounts must be non-negative", types.ErrInvalidAmount)
	}

	wasInRangeState := pos.State == types.StateInRange

	pos.Reserve0 = remaining0
	pos.Reserve1 = remaining1
	// Preparation already drained the venue unless the position is stuck,
	// in which case the residual principal must not be zeroed away.
	if pos.State != types.StateStuck {
		pos.Yield0 = sdkmath.ZeroInt()
		pos.Yield1 = sdkmath.ZeroInt()
	}

	if pos.IsEmpty() {
		if err := e.store.DeletePosition(ctx, id); err != nil {
			return fmt.Errorf("failed to delete drained position %s: %w", id, err)
		}
		log.Info().Msg("Position fully withdrawn and deleted")
		metrics.RebalanceOperations.WithLabelValues("post_withdraw", "deleted").Inc()
		return nil
	}

	syncLiquidity(pos)
	if err := e.store.PutPosition(ctx, pos); err != nil {
		return fmt.Errorf("failed to persist post-withdrawal state for %s: %w", id, err)
	}

	if ticks.InRange(currentTick, pos.TickLower, pos.TickUpper) || !wasInRangeState || e.isDust(pos) {
		metrics.RebalanceOperations.WithLabelValues("post_withdraw", "ok").Inc()
		return nil
	}

	// Still out-of-range: move the fixed share of the remainder back to the
	// venue. This ratio is deliberately distinct from the configurable
	// reserve percent.
	amount0 := percentOf(pos.Reserve0, types.PostWithdrawDepositPercent)
	amount1 := percentOf(pos.Reserve1, types.PostWithdrawDepositPercent)
	if amount0.IsZero() && amount1.IsZero() {
		metrics.RebalanceOperations.WithLabelValues("post_withdraw", "ok").Inc()
		return nil
	}

	return e.depositAndCommit(ctx, log, "post_withdraw", pos, amount0, amount1)
}
