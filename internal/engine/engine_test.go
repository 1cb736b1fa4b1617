package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianfi/rlm/internal/engine"
	"github.com/meridianfi/rlm/internal/ledger"
	"github.com/meridianfi/rlm/internal/types"
)

const (
	denom0 = "uatom"
	denom1 = "uusdc"
)

// fakeVenue is a scripted in-memory yield venue. Failures are injected per
// denom; balances compound only when accrue is called explicitly.
type fakeVenue struct {
	mu            sync.Mutex
	balances      map[string]sdkmath.Int
	failDeposit   map[string]bool
	failWithdraw  map[string]bool
	depositCalls  int
	withdrawCalls int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		balances:     make(map[string]sdkmath.Int),
		failDeposit:  make(map[string]bool),
		failWithdraw: make(map[string]bool),
	}
}

func (v *fakeVenue) Deposit(_ context.Context, denom string, amount sdkmath.Int, _ string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.depositCalls++
	if v.failDeposit[denom] {
		return "", fmt.Errorf("venue offline for %s", denom)
	}
	v.balances[denom] = v.balance(denom).Add(amount)
	return fmt.Sprintf("receipt-%d", v.depositCalls), nil
}

func (v *fakeVenue) Withdraw(_ context.Context, denom string, amount sdkmath.Int, _ string) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.withdrawCalls++
	if v.failWithdraw[denom] {
		return sdkmath.Int{}, fmt.Errorf("venue offline for %s", denom)
	}
	balance := v.balance(denom)
	if amount.GT(balance) {
		return sdkmath.Int{}, fmt.Errorf("insufficient venue balance for %s", denom)
	}
	v.balances[denom] = balance.Sub(amount)
	return amount, nil
}

func (v *fakeVenue) OutstandingBalance(_ context.Context, denom, _ string) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failWithdraw[denom] {
		return sdkmath.Int{}, fmt.Errorf("venue offline for %s", denom)
	}
	return v.balance(denom), nil
}

func (v *fakeVenue) balance(denom string) sdkmath.Int {
	if b, ok := v.balances[denom]; ok {
		return b
	}
	return sdkmath.ZeroInt()
}

// accrue simulates yield compounding inside the venue.
func (v *fakeVenue) accrue(denom string, amount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[denom] = v.balance(denom).AddRaw(amount)
}

func newTestEngine(t *testing.T, minLiquidity int64) (*engine.Engine, *ledger.MemoryStore, *fakeVenue) {
	t.Helper()
	store := ledger.NewMemoryStore()
	fv := newFakeVenue()
	eng, err := engine.NewEngine(engine.Config{
		Store:          store,
		Venue:          fv,
		VenueAccount:   "rlm-reserve",
		MinLiquidity:   sdkmath.NewInt(minLiquidity),
		MaxDiscrepancy: sdkmath.NewInt(10),
	})
	require.NoError(t, err)
	return eng, store, fv
}

func contribute(t *testing.T, eng *engine.Engine, tick int32, amount0, amount1 int64) *types.Position {
	t.Helper()
	pos, err := eng.RegisterContribution(context.Background(), engine.Contribution{
		Pool:      7,
		TickLower: 100,
		TickUpper: 200,
		Owner:     "lp-owner",
		Denom0:    denom0,
		Denom1:    denom1,
		Amount0:   sdkmath.NewInt(amount0),
		Amount1:   sdkmath.NewInt(amount1),
	}, tick)
	require.NoError(t, err)
	return pos
}

// --- Contribution / creation ---

func TestRegisterContribution_CreatesInRangePosition(t *testing.T) {
	eng, _, fv := newTestEngine(t, 0)

	pos := contribute(t, eng, 150, 1000, 1000)

	assert.Equal(t, types.DerivePositionID(7, 100, 200), pos.ID)
	assert.Equal(t, types.StateInRange, pos.State)
	assert.Equal(t, int64(1000), pos.Reserve0.Int64())
	assert.Equal(t, int64(1000), pos.Reserve1.Int64())
	assert.True(t, pos.Yield0.IsZero())
	assert.True(t, pos.Yield1.IsZero())
	assert.Equal(t, 0, fv.depositCalls, "in-range contribution must not touch the venue")
}

func TestRegisterContribution_OutOfRangeDepositsIdleShare(t *testing.T) {
	eng, store, _ := newTestEngine(t, 0)

	pos := contribute(t, eng, 300, 1000, 1000)

	assert.Equal(t, types.StateInYield, pos.State)
	assert.Equal(t, int64(200), pos.Reserve0.Int64())
	assert.Equal(t, int64(800), pos.Yield0.Int64())
	assert.Equal(t, int64(200), pos.Reserve1.Int64())
	assert.Equal(t, int64(800), pos.Yield1.Int64())

	total, err := store.VenueTotal(context.Background(), denom0)
	require.NoError(t, err)
	assert.Equal(t, int64(800), total.Int64())
}

func TestRegisterContribution_SameRangeAccruesToOnePosition(t *testing.T) {
	eng, store, _ := newTestEngine(t, 0)

	first := contribute(t, eng, 150, 500, 500)
	second := contribute(t, eng, 150, 300, 200)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(800), second.Reserve0.Int64())
	assert.Equal(t, int64(700), second.Reserve1.Int64())

	all, err := store.ListPositions(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegisterContribution_ReservePercentBounds(t *testing.T) {
	eng, _, _ := newTestEngine(t, 0)

	_, err := eng.RegisterContribution(context.Background(), engine.Contribution{
		Pool: 7, TickLower: 100, TickUpper: 200,
		Denom0: denom0, Denom1: denom1,
		Amount0: sdkmath.NewInt(100), Amount1: sdkmath.NewInt(100),
		ReservePercent: 60,
	}, 150)
	require.ErrorIs(t, err, types.ErrInvalidReservePercent)
}

// --- Post-trade rebalancing ---

func TestSettleAfterTrade_DepositsOnLeavingRange(t *testing.T) {
	eng, _, _ := newTestEngine(t, 0)
	pos := contribute(t, eng, 150, 1000, 1000)

	err := eng.SettleAfterTrade(context.Background(), pos.ID, 150, 300, sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.NoError(t, err)

	updated, err := eng.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateInYield, updated.State)
	assert.Equal(t, int64(200), updated.Reserve0.Int64())
	assert.Equal(t, int64(200), updated.Reserve1.Int64())
	assert.Equal(t, int64(800), updated.Yield0.Int64())
	assert.Equal(t, int64(800), updated.Yield1.Int64())
}

func TestSettleAfterTrade_AppliesDeltasBeforeSplit(t *testing.T) {
	eng, _, _ := newTestEngine(t, 0)
	pos := contribute(t, eng, 150, 1000, 1000)

	// Trade pushes 500 of asset0 in, takes 400 of asset1 out, and crosses the range.
	err := eng.SettleAfterTrade(context.Background(), pos.ID, 150, 300, sdkmath.NewInt(500), sdkmath.NewInt(-400))
	require.NoError(t, err)

	updated, err := eng.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)
	// 1500 and 600 split 20/80.
	assert.Equal(t, int64(300), updated.Reserve0.Int64())
	assert.Equal(t, int64(1200), updated.Yield0.Int64())
	assert.Equal(t, int64(120), updated.Reserve1.Int64())
	assert.Equal(t, int64(480), updated.Yield1.Int64())
}

func TestSettleAfterTrade_FloorsReserveAtZero(t *testing.T) {
	eng, _, _ := newTestEngine(t, 0)
	pos := contribute(t, eng, 150, 100, 100)

	// Rounding in the adapter can over-report the outflow.
	err := eng.SettleAfterTrade(context.Background(), pos.ID, 150, 160, sdkmath.NewInt(-150), sdkmath.ZeroInt())
	require.NoError(t, err)

	updated, err := eng.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.True(t, updated.Reserve0.IsZero())
}

func TestSettleAfterTrade_NoDepositWhileInRange(t *testing.T) {
	eng, _, fv := newTestEngine(t, 0)
	pos := contribute(t, eng, 150, 1000, 1000)

	err := eng.SettleAfterTrade(context.Background(), pos.ID, 150, 180, sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.NoError(t, err)
	assert.Equal(t, 0, fv.depositCalls)
}

func TestSettleAfterTrade_PartialDepositKeepsStateInRange(t *testing.T) {
	eng, store, fv := newTestEngine(t, 0)
	pos := contribute(t, eng, 150, 1000, 1000)

	fv.failDeposit[denom1] = true
	err := eng.SettleAfterTrade(context.Background(), pos.ID, 150, 300, sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrVenueDepositFailed)

	updated, err := eng.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)
	// Succeeded leg committed, failed leg untouched, state unchanged.
	assert.Equal(t, types.StateInRange, updated.State)
	assert.Equal(t, int64(200), updated.Reserve0.Int64())
	assert.Equal(t, int64(800), updated.Yield0.Int64())
	assert.Equal(t, int64(1000), updated.Reserve1.Int64())
	assert.True(t, updated.Yield1.IsZero())

	total1, err := store.VenueTotal(context.Background(), denom1)
	require.NoError(t, err)
	assert.True(t, total1.IsZero())
}

func TestSettleAfterTrade_NotFound(t *testing.T) {
	eng, _, _ := newTestEngine(t, 0)
	err := eng.SettleAfterTrade(context.Background(), "missing", 150, 300, sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrPositionNotFound)
}

// --- Pre-trade preparation ---

func TestPrepareForTrade_WithdrawsOnReentry(t *testing.T) {
	eng, store, _ := newTestEngine(t, 0)
	pos := contribute(t, eng, 150, 1000, 1000)
	require.NoError(t, eng.SettleAfterTrade(context.Background(), pos.ID, 150, 300, sdkmath.ZeroInt(), sdkmath.ZeroInt()))

	reserve0, reserve1, err := eng.PrepareForTrade(context.Background(), pos.ID, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), reserve0.Int64())
	assert.Equal(t, int64(1000), reserve1.Int64())

	updated, err := eng.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateInRange, updated.State)
	assert.True(t, updated.Yield0.IsZero())
	assert.True(t, updated.Yield1.IsZero())

	total, err := store.VenueTotal(context.Background(), denom0)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestPrepareForTrade_NotFound(t *testing.T) {
	eng, _, _ := newTestEngine(t, 0)
	_, _, err := eng.PrepareForTrade(context.Background(), "missing", 150)
	require.ErrorIs(t, err, types.ErrPositionNotFound)
}

func TestPrepareForTrade_DustIsNoop(t *testing.T) {
	eng, _, fv := newTestEngine(t, 1000)
	pos := contribute(t, eng, 150, 10, 10)

	reserve0, reserve1, err := eng.PrepareForTrade(context.Background(), pos.ID, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(10), reserve0.Int64())
	assert.Equal(t, int64(10), reserve1.Int64())
	assert.Equal(t, 0, fv.withdrawCalls)
}

func TestPrepareForTrade_IdempotentWhenInRange(t *testing.T) {
	eng, _, _ := newTestEngine(t, 0)
	pos := contribute(t, eng, 150, 1000, 1000)

	_, _, err := eng.PrepareForTrade(context.Background(), pos.ID, 150)
	require.NoError(t, err)
	first, err := eng.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)

	_, _, err = eng.PrepareForTrade(context.Background(), pos.ID, 150)
	require.NoError(t, err)
	second, err := eng.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPrepareForTrade_PartialWithdrawFailureMarksStuck(t *testing.T) {
	eng, store, fv := newTestEngine(t, 0)
	pos := contribute(t, eng, 150, 1000, 1000)
	require.NoError(t, eng.SettleAfterTrade(context.Background(), pos.ID, 150, 300, sdkmath.ZeroInt(), sdkmath.ZeroInt()))

	fv.failWithdraw[denom1] = true
	reserve0, reserve1, err := eng.PrepareForTrade(context.Background(), pos.ID, 150)
	require.ErrorIs(t, err, types.ErrVenueWithdrawFailed)

	// Asset0's returned funds are credited; asset1's principal stays with the venue.
	assert.Equal(t, int64(1000), reserve0.Int64())
	assert.Equal(t, int64(200), reserve1.Int64())

	updated, getErr := eng.GetPosition(context.Background(), pos.ID)
	require.NoError(t, getErr)
	assert.Equal(t, types.StateStuck, updated.State)
	assert.True(t, updated.Yield0.IsZero())
	assert.Equal(t, int64(800), updated.Yield1.Int64())

	stuck, listErr := store.ListStuck(context.Background())
	require.NoError(t, listErr)
	assert.Equal(t, []string{pos.ID}, stuck)
}

func TestPrepareForTrade_StuckFallsBackToLocalReserve(t *testing.T) {
	eng, _, fv := newTestEngine(t, 0)
	pos := contribute(t, eng, 150, 1000, 1000)
	require.NoError(t, eng.SettleAfterTrade(context.Background(), pos.ID, 150, 300, sdkmath.ZeroInt(), sdkmath.ZeroInt()))

	fv.failWithdraw[denom0] = true
	fv.failWithdraw[denom1] = true
	_, _, err := eng.PrepareForTrade(context.Background(), pos.ID, 150)
	require.Error(t, err)

	// Second pre-trade on the now-stuck position must not retry the venue.
	calls := fv.withdrawCalls
	reserve0, reserve1, err := eng.PrepareForTrade(context.Background(), pos.ID, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(200), reserve0.Int64())
	assert.Equal(t, int64(200), reserve1.Int64())
	assert.Equal(t, calls, fv.withdrawCalls)
}

// --- Liquidity withdrawal ---

func TestWithdrawalLifecycle_DeletesDrainedPosition(t *testing.T) {
	eng, _, _ := newTestEngine(t, 0)
	pos := contribute(t, eng, 150, 1000, 1000)
	require.NoError(t, eng.SettleAfterTrade(context.Background(), pos.ID, 150, 300, sdkmath.ZeroInt(), sdkmath.ZeroInt()))

	require.NoError(t, eng.PrepareWithdrawal(context.Background(), pos.ID))
	require.NoError(t, eng.SettleWithdrawal(context.Background(), pos.ID, sdkmath.ZeroInt(), sdkmath.ZeroInt(), 300))

	_, err := eng.GetPosition(context.Background(), pos.ID)
	require.ErrorIs(t, err, types.ErrPositionNotFound)

	exists, err := eng.PositionExists(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSettleWithdrawal_RedepositsWhileOutOfRange(t *testing.T) {
	eng, _, _ := newTestEngine(t, 0)
	pos := contribute(t, eng, 150, 1000, 1000)
	require.NoError(t, eng.SettleAfterTrade(context.Background(), pos.ID, 150, 300, sdkmath.ZeroInt(), sdkmath.ZeroInt()))
	require.NoError(t, eng.PrepareWithdrawal(context.Background(), pos.ID))

	// Provider took most of the funds; 100/100 remains and the range is still inactive.
	require.NoError(t, eng.SettleWithdrawal(context.Background(), pos.ID, sdkmath.NewInt(100), sdkmath.NewInt(100), 300))

	updated, err := eng.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateInYield, updated.State)
	assert.Equal(t, int64(20), updated.Reserve0.Int64())
	assert.Equal(t, int64(80), updated.Yield0.Int64())
	assert.Equal(t, int64(20), updated.Reserve1.Int64())
	assert.Equal(t, int64(80), updated.Yield1.Int64())
}

func TestSettleWithdrawal_NoRedepositInRange(t *testing.T) {
	eng, _, fv := newTestEngine(t, 0)
	pos := contribute(t, eng, 150, 1000, 1000)

	require.NoError(t, eng.PrepareWithdrawal(context.Background(), pos.ID))
	require.NoError(t, eng.SettleWithdrawal(context.Background(), pos.ID, sdkmath.NewInt(400), sdkmath.NewInt(400), 150))

	updated, err := eng.GetPosition(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateInRange, updated.State)
	assert.Equal(t, int64(400), updated.Reserve0.Int64())
	assert.Equal(t, 0, fv.depositCalls)
}

// --- Properties ---

func TestConservation_AcrossLifecycle(t *testing.T) {
	eng, _, _ := newTestEngine(t, 0)
	ctx := context.Background()

	pos := contribute(t, eng, 150, 1000, 1000)
	require.NoError(t, eng.SettleAfterTrade(ctx, pos.ID, 150, 300, sdkmath.ZeroInt(), sdkmath.ZeroInt()))
	_, _, err := eng.PrepareForTrade(ctx, pos.ID, 150)
	require.NoError(t, err)
	require.NoError(t, eng.SettleAfterTrade(ctx, pos.ID, 150, 50, sdkmath.NewInt(-200), sdkmath.NewInt(300)))
	_, _, err = eng.PrepareForTrade(ctx, pos.ID, 120)
	require.NoError(t, err)

	// Net inflows: asset0 1000-200=800, asset1 1000+300=1300. No venue accrual.
	amount0, amount1, _, err := eng.GetAvailableLiquidity(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(800), amount0.Int64())
	assert.Equal(t, int64(1300), amount1.Int64())
}

func TestWithdrawal_ReturnsAccruedYield(t *testing.T) {
	eng, _, fv := newTestEngine(t, 0)
	pos := contribute(t, eng, 150, 1000, 1000)
	require.NoError(t, eng.SettleAfterTrade(context.Background(), pos.ID, 150, 300, sdkmath.ZeroInt(), sdkmath.ZeroInt()))

	// The venue compounds 10% on asset0 while the position is idle.
	fv.accrue(denom0, 80)

	reserve0, reserve1, err := eng.PrepareForTrade(context.Background(), pos.ID, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(1080), reserve0.Int64())
	assert.Equal(t, int64(1000), reserve1.Int64())
}
