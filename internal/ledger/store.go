// Package ledger is the durable store of position records, the stuck-position
// worklist, and the per-denom running total of principal deposited with the
// yield venue. PostgreSQL is the source of truth; Redis provides an optional
// read-through cache; the in-memory store backs tests and development.
package ledger

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/meridianfi/rlm/internal/types"
)

// Store is the persistence interface for the rebalancing engine.
type Store interface {
	// GetPosition retrieves a position by id. Returns types.ErrPositionNotFound
	// when no record exists.
	GetPosition(ctx context.Context, id string) (*types.Position, error)

	// PutPosition inserts or overwrites a position record.
	PutPosition(ctx context.Context, pos *types.Position) error

	// DeletePosition removes a position record and any stuck-worklist entry for it.
	DeletePosition(ctx context.Context, id string) error

	// ListPositions returns all position records.
	ListPositions(ctx context.Context) ([]types.Position, error)

	// ApplyRebalance persists the position and adjusts the venue principal
	// totals in one atomic step. totalDeltas is keyed by denom and may carry
	// negative deltas for withdrawals.
	ApplyRebalance(ctx context.Context, pos *types.Position, totalDeltas map[string]sdkmath.Int) error

	// --- Stuck worklist ---

	// EnqueueStuck adds a position id to the recovery worklist. Idempotent.
	EnqueueStuck(ctx context.Context, id string) error

	// RemoveStuck drops a position id from the recovery worklist. Idempotent.
	RemoveStuck(ctx context.Context, id string) error

	// ListStuck returns the ids currently on the recovery worklist.
	ListStuck(ctx context.Context) ([]string, error)

	// --- Venue principal totals ---

	// VenueTotal returns the running total of principal deposited with the
	// venue for a denom. Zero when the denom has never been deposited.
	VenueTotal(ctx context.Context, denom string) (sdkmath.Int, error)

	// Close releases any resources held by the store.
	Close() error
}
