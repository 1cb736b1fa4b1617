/*

Stuck-position recovery and administrative controls.

The recovery sweep is the ordinary exit from the stuck state: it walks the
worklist, retries the full withdrawal for each position, and clears whatever
succeeds. It is idempotent and safe to invoke repeatedly, on a timer or on
demand.

*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridianfi/rlm/internal/metrics"
	"github.com/meridianfi/rlm/internal/types"
)

// RetryStuckPositions attempts a full withdrawal for every position on the
// recovery worklist. It returns the number of positions recovered and the
// number of stale worklist entries dropped (positions deleted since they were
// enqueued); the two are reported separately so a cleanup is never mistaken
// for a recovery. Failures keep their worklist entry for a later sweep.
func (e *Engine) RetryStuckPositions(ctx context.Context) (recovered, dropped int, err error) {
	sweepLog := e.logger.With().Str("sweep_id", uuid.New().String()).Logger()

	ids, err := e.store.ListStuck(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list stuck positions: %w", err)
	}
	if len(ids) == 0 {
		metrics.StuckPositions.Set(0)
		return 0, 0, nil
	}

	sweepLog.Info().Int("stuck", len(ids)).Msg("Starting stuck-position recovery sweep")

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return recovered, dropped, err
		}
		switch e.recoverOne(ctx, sweepLog, id) {
		case sweepRecovered:
			recovered++
		case sweepDropped:
			dropped++
		}
	}

	remaining := len(ids) - recovered - dropped
	metrics.StuckPositions.Set(float64(remaining))
	sweepLog.Info().
		Int("recovered", recovered).
		Int("dropped", dropped).
		Int("remaining", remaining).
		Msg("Recovery sweep completed")
	return recovered, dropped, nil
}

// sweepResult classifies one worklist entry's outcome within a sweep.
type sweepResult int

const (
	sweepFailed sweepResult = iota
	sweepRecovered
	sweepDropped
)

func (e *Engine) recoverOne(ctx context.Context, sweepLog zerolog.Logger, id string) sweepResult {
	unlock := e.lockPosition(id)
	defer unlock()

	log := sweepLog.With().Str("position", id).Logger()

	pos, err := e.store.GetPosition(ctx, id)
	if errors.Is(err, types.ErrPositionNotFound) {
		// Deleted since it was enqueued; drop the stale entry.
		if err := e.store.RemoveStuck(ctx, id); err != nil {
			log.Error().Err(err).Msg("Failed to drop stale worklist entry")
			return sweepFailed
		}
		log.Info().Msg("Dropped stale worklist entry for deleted position")
		return sweepDropped
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load stuck position")
		return sweepFailed
	}

	if !pos.HasYield() {
		// Nothing left with the venue; the stuck flag is purely residual.
		pos.State = types.StateInRange
		syncLiquidity(pos)
		if err := e.store.PutPosition(ctx, pos); err != nil {
			log.Error().Err(err).Msg("Failed to clear residually stuck position")
			return sweepFailed
		}
		if err := e.store.RemoveStuck(ctx, id); err != nil {
			log.Error().Err(err).Msg("Failed to remove recovered position from worklist")
			return sweepFailed
		}
		metrics.RecoveredPositions.Inc()
		log.Info().Msg("Stuck position cleared without venue interaction")
		return sweepRecovered
	}

	deltas := make(map[string]sdkmath.Int)
	outcome := e.withdrawLegs(ctx, log, pos, deltas)

	if !outcome.Success() {
		// Commit whatever leg succeeded; the worklist entry stays.
		if len(deltas) > 0 {
			syncLiquidity(pos)
			if err := e.store.ApplyRebalance(ctx, pos, deltas); err != nil {
				log.Error().Err(err).Msg("Failed to persist partial recovery")
			}
		}
		log.Warn().Err(outcome.Err()).Msg("Recovery attempt failed; position stays on worklist")
		return sweepFailed
	}

	pos.State = types.StateInRange
	syncLiquidity(pos)
	if err := e.store.ApplyRebalance(ctx, pos, deltas); err != nil {
		log.Error().Err(err).Msg("Failed to persist recovered position")
		return sweepFailed
	}
	if err := e.store.RemoveStuck(ctx, id); err != nil {
		log.Error().Err(err).Msg("Failed to remove recovered position from worklist")
		return sweepFailed
	}

	metrics.RecoveredPositions.Inc()
	log.Info().
		Str("reserve0", pos.Reserve0.String()).
		Str("reserve1", pos.Reserve1.String()).
		Msg("Stuck position recovered")
	return sweepRecovered
}

// RunSweepLoop runs the recovery sweep on a ticker until the context is
// cancelled. The first sweep runs immediately. A non-positive interval is
// rejected rather than handed to time.NewTicker, which would panic.
func (e *Engine) RunSweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		e.logger.Error().Dur("interval", interval).Msg("Sweep interval must be positive; recovery sweep loop not started")
		return
	}

	e.logger.Info().Dur("interval", interval).Msg("Starting recovery sweep loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, _, err := e.RetryStuckPositions(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Recovery sweep failed")
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Recovery sweep loop stopped due to context cancellation")
			return
		case <-ticker.C:
			if _, _, err := e.RetryStuckPositions(ctx); err != nil {
				e.logger.Error().Err(err).Msg("Recovery sweep failed")
			}
		}
	}
}

// Pause forces a position into the stuck state as an emergency stop. The
// position is deliberately kept off the recovery worklist so the sweep does
// not undo the operator's intervention.
func (e *Engine) Pause(ctx context.Context, id string) error {
	unlock := e.lockPosition(id)
	defer unlock()

	pos, err := e.store.GetPosition(ctx, id)
	if err != nil {
		return err
	}

	pos.State = types.StateStuck
	syncLiquidity(pos)
	if err := e.store.PutPosition(ctx, pos); err != nil {
		return fmt.Errorf("failed to pause position %s: %w", id, err)
	}

	e.logger.Warn().Str("position", id).Msg("Position paused by operator")
	return nil
}

// Resume forces a paused or stuck position back to the in-range state and
// clears any worklist entry.
func (e *Engine) Resume(ctx context.Context, id string) error {
	unlock := e.lockPosition(id)
	defer unlock()

	pos, err := e.store.GetPosition(ctx, id)
	if err != nil {
		return err
	}

	pos.State = types.StateInRange
	syncLiquidity(pos)
	if err := e.store.PutPosition(ctx, pos); err != nil {
		return fmt.Errorf("failed to resume position %s: %w", id, err)
	}
	if err := e.store.RemoveStuck(ctx, id); err != nil {
		return fmt.Errorf("failed to clear worklist entry for %s: %w", id, err)
	}

	e.logger.Warn().Str("position", id).Msg("Position resumed by operator")
	return nil
}
