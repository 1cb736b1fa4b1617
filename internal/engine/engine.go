// Package engine implements the per-position rebalancing state machine. It
// decides, for each lifecycle event, whether funds move between the ledger's
// AMM reserve and the yield venue, performs the per-asset venue calls, and
// commits the outcome to the ledger including failure paths.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/meridianfi/rlm/internal/ledger"
	"github.com/meridianfi/rlm/internal/logger"
	"github.com/meridianfi/rlm/internal/metrics"
	"github.com/meridianfi/rlm/internal/types"
	"github.com/meridianfi/rlm/internal/venue"
)

// Engine orchestrates fund movement for liquidity positions. Operations on
// the same position id are serialized; different positions proceed
// independently.
type Engine struct {
	logger zerolog.Logger
	store  ledger.Store
	venue  venue.Client

	// account is the venue beneficiary/destination holding the reserves.
	account string

	minLiquidity   sdkmath.Int
	maxDiscrepancy sdkmath.Int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Config holds the dependencies for creating a new Engine instance.
type Config struct {
	Store          ledger.Store
	Venue          venue.Client
	VenueAccount   string
	MinLiquidity   sdkmath.Int
	MaxDiscrepancy sdkmath.Int
}

// NewEngine creates an engine instance with dependency injection.
func NewEngine(cfg Config) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	e := &Engine{
		logger:         logger.GetForComponent("rebalance_engine"),
		store:          cfg.Store,
		venue:          cfg.Venue,
		account:        cfg.VenueAccount,
		minLiquidity:   cfg.MinLiquidity,
		maxDiscrepancy: cfg.MaxDiscrepancy,
		locks:          make(map[string]*sync.Mutex),
	}

	e.logger.Info().
		Str("venueAccount", e.account).
		Str("minLiquidity", e.minLiquidity.String()).
		Str("maxDiscrepancy", e.maxDiscrepancy.String()).
		Msg("Rebalancing engine created")

	return e, nil
}

func validateConfig(cfg Config) error {
	if cfg.Store == nil {
		return fmt.Errorf("ledger store cannot be nil")
	}
	if cfg.Venue == nil {
		return fmt.Errorf("venue client cannot be nil")
	}
	if cfg.VenueAccount == "" {
		return fmt.Errorf("venue account cannot be empty")
	}
	if cfg.MinLiquidity.IsNil() || cfg.MinLiquidity.IsNegative() {
		return fmt.Errorf("min liquidity must be non-negative")
	}
	if cfg.MaxDiscrepancy.IsNil() || cfg.MaxDiscrepancy.IsNegative() {
		return fmt.Errorf("max discrepancy must be non-negative")
	}
	return nil
}

// lockPosition serializes operations per position id. Intermediate ledger
// state during a venue call must not be observed or mutated concurrently.
func (e *Engine) lockPosition(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// percentOf computes amount * pct / 100 with integer truncation.
func percentOf(amount sdkmath.Int, pct int64) sdkmath.Int {
	return amount.MulRaw(pct).QuoRaw(100)
}

// isDust reports whether the position is below the rebalancing threshold.
func (e *Engine) isDust(pos *types.Position) bool {
	return pos.TotalLiquidity.LT(e.minLiquidity)
}

// syncLiquidity recomputes the denormalized total after balance mutations.
func syncLiquidity(pos *types.Position) {
	pos.TotalLiquidity = pos.Total(0).Add(pos.Total(1))
	pos.UpdatedAt = time.Now().UTC()
}

// depositLegs moves the given amounts from the reserve to the yield venue,
// one independent call per asset. Each successful leg is applied to pos
// immediately; a failed leg leaves its asset untouched. The caller decides
// the state transition from the returned outcome and commits pos.
func (e *Engine) depositLegs(ctx context.Context, log zerolog.Logger, pos *types.Position, amount0, amount1 sdkmath.Int, deltas map[string]sdkmath.Int) types.RebalanceOutcome {
	var outcome types.RebalanceOutcome

	outcome.Asset0 = e.depositLeg(ctx, log, pos, 0, amount0, deltas)
	outcome.Asset1 = e.depositLeg(ctx, log, pos, 1, amount1, deltas)
	return outcome
}

func (e *Engine) depositLeg(ctx context.Context, log zerolog.Logger, pos *types.Position, asset int, amount sdkmath.Int, deltas map[string]sdkmath.Int) types.LegResult {
	denom := pos.Denom(asset)
	leg := types.LegResult{Asset: asset, Denom: denom, Requested: amount, Moved: sdkmath.ZeroInt()}
	if !amount.IsPositive() {
		return leg
	}

	receipt, err := e.venue.Deposit(ctx, denom, amount, e.account)
	if err != nil {
		metrics.VenueDeposits.WithLabelValues(denom, "error").Inc()
		log.Warn().Err(err).Int("asset", asset).Str("denom", denom).Str("amount", amount.String()).Msg("Venue deposit leg failed")
		leg.Err = fmt.Errorf("%w: %w", types.ErrVenueDepositFailed, err)
		return leg
	}
	metrics.VenueDeposits.WithLabelValues(denom, "ok").Inc()

	if asset == 0 {
		pos.Reserve0 = pos.Reserve0.Sub(amount)
		pos.Yield0 = pos.Yield0.Add(amount)
	} else {
		pos.Reserve1 = pos.Reserve1.Sub(amount)
		pos.Yield1 = pos.Yield1.Add(amount)
	}
	addDelta(deltas, denom, amount)
	leg.Moved = amount

	log.Debug().Int("asset", asset).Str("denom", denom).Str("amount", amount.String()).Str("receipt", receipt).Msg("Venue deposit leg confirmed")
	return leg
}

// withdrawLegs pulls the full yield balance of each asset back to the
// reserve, one independent call per asset. The withdrawal request is sized
// proportionally against the venue's outstanding balance so accrued yield is
// returned along with the principal. Successful legs are applied to pos
// immediately; the reserve keeps whatever succeeded before a failure.
func (e *Engine) withdrawLegs(ctx context.Context, log zerolog.Logger, pos *types.Position, deltas map[string]sdkmath.Int) types.RebalanceOutcome {
	var outcome types.RebalanceOutcome

	outcome.Asset0 = e.withdrawLeg(ctx, log, pos, 0, deltas)
	outcome.Asset1 = e.withdrawLeg(ctx, log, pos, 1, deltas)
	return outcome
}

func (e *Engine) withdrawLeg(ctx context.Context, log zerolog.Logger, pos *types.Position, asset int, deltas map[string]sdkmath.Int) types.LegResult {
	denom := pos.Denom(asset)
	principal := pos.Yield0
	if asset == 1 {
		principal = pos.Yield1
	}

	leg := types.LegResult{Asset: asset, Denom: denom, Requested: principal, Moved: sdkmath.ZeroInt()}
	if !principal.IsPositive() {
		return leg
	}

	request, err := e.withdrawalRequest(ctx, denom, principal)
	if err != nil {
		metrics.VenueWithdrawals.WithLabelValues(denom, "error").Inc()
		log.Warn().Err(err).Int("asset", asset).Str("denom", denom).Msg("Venue balance query failed")
		leg.Err = fmt.Errorf("%w: %w", types.ErrVenueWithdrawFailed, err)
		return leg
	}
	leg.Requested = request

	actual, err := e.venue.Withdraw(ctx, denom, request, e.account)
	if err != nil {
		metrics.VenueWithdrawals.WithLabelValues(denom, "error").Inc()
		log.Warn().Err(err).Int("asset", asset).Str("denom", denom).Str("requested", request.String()).Msg("Venue withdrawal leg failed")
		leg.Err = fmt.Errorf("%w: %w", types.ErrVenueWithdrawFailed, err)
		return leg
	}
	metrics.VenueWithdrawals.WithLabelValues(denom, "ok").Inc()

	if asset == 0 {
		pos.Reserve0 = pos.Reserve0.Add(actual)
		pos.Yield0 = sdkmath.ZeroInt()
	} else {
		pos.Reserve1 = pos.Reserve1.Add(actual)
		pos.Yield1 = sdkmath.ZeroInt()
	}
	addDelta(deltas, denom, principal.Neg())
	leg.Moved = actual

	log.Debug().Int("asset", asset).Str("denom", denom).Str("requested", request.String()).Str("actual", actual.String()).Msg("Venue withdrawal leg confirmed")
	return leg
}

// withdrawalRequest sizes a withdrawal as this position's share of the
// venue's live balance. The venue compounds value internally, so the share is
// principal / totalDeposited of the outstanding balance, never less than the
// principal itself.
func (e *Engine) withdrawalRequest(ctx context.Context, denom string, principal sdkmath.Int) (sdkmath.Int, error) {
	total, err := e.store.VenueTotal(ctx, denom)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !total.IsPositive() || principal.GTE(total) {
		// Sole depositor (or accounting already drained): take the venue's word.
		outstanding, err := e.venue.OutstandingBalance(ctx, denom, e.account)
		if err != nil {
			return sdkmath.Int{}, err
		}
		if outstanding.GT(principal) {
			return outstanding, nil
		}
		return principal, nil
	}

	outstanding, err := e.venue.OutstandingBalance(ctx, denom, e.account)
	if err != nil {
		return sdkmath.Int{}, err
	}
	share := outstanding.Mul(principal).Quo(total)
	if share.LT(principal) {
		// The venue never pays out less than principal absent losses; floor
		// the request so rounding can't strand funds.
		share = principal
	}
	return share, nil
}

func addDelta(deltas map[string]sdkmath.Int, denom string, delta sdkmath.Int) {
	cur, ok := deltas[denom]
	if !ok {
		cur = sdkmath.ZeroInt()
	}
	deltas[denom] = cur.Add(delta)
}

// markStuck transitions the position to the stuck state and records it on the
// recovery worklist, committing whatever legs already succeeded.
func (e *Engine) markStuck(ctx context.Context, log zerolog.Logger, pos *types.Position, deltas map[string]sdkmath.Int) error {
	pos.State = types.StateStuck
	syncLiquidity(pos)
	if err := e.store.ApplyRebalance(ctx, pos, deltas); err != nil {
		return fmt.Errorf("failed to persist stuck position %s: %w", pos.ID, err)
	}
	if err := e.store.EnqueueStuck(ctx, pos.ID); err != nil {
		return fmt.Errorf("failed to enqueue stuck position %s: %w", pos.ID, err)
	}
	log.Warn().Str("position", pos.ID).Msg("Position marked stuck and queued for recovery")
	return nil
}
