package engine

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"

	"github.com/meridianfi/rlm/internal/types"
)

// GetPosition returns the ledger record for a position id.
func (e *Engine) GetPosition(ctx context.Context, id string) (*types.Position, error) {
	return e.store.GetPosition(ctx, id)
}

// GetAvailableLiquidity returns the position's total holding per asset
// (reserve plus yield) and its current state.
func (e *Engine) GetAvailableLiquidity(ctx context.Context, id string) (sdkmath.Int, sdkmath.Int, types.PositionState, error) {
	pos, err := e.store.GetPosition(ctx, id)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, "", err
	}
	return pos.Total(0), pos.Total(1), pos.State, nil
}

// PositionExists reports whether a record exists for the id.
func (e *Engine) PositionExists(ctx context.Context, id string) (bool, error) {
	_, err := e.store.GetPosition(ctx, id)
	if errors.Is(err, types.ErrPositionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListStuck returns the ids currently on the recovery worklist.
func (e *Engine) ListStuck(ctx context.Context) ([]string, error) {
	return e.store.ListStuck(ctx)
}
