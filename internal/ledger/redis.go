package ledger

import (
	"context"
	"encoding/json"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/redis/go-redis/v9"

	"github.com/meridianfi/rlm/internal/types"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for position lookups. Writes go to the primary store and invalidate
// the cache; reads check Redis first then fall back to the primary. Worklist
// and venue-total operations pass straight through since they feed accounting
// decisions and must never be stale.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func positionKey(id string) string {
	return "rlm:position:" + id
}

func (s *CachedStore) GetPosition(ctx context.Context, id string) (*types.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(id)).Bytes()
	if err == nil {
		var pos types.Position
		if json.Unmarshal(data, &pos) == nil {
			return &pos, nil
		}
	}

	// Cache miss: read from primary.
	pos, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePosition(ctx, pos)
	return pos, nil
}

func (s *CachedStore) PutPosition(ctx context.Context, pos *types.Position) error {
	if err := s.primary.PutPosition(ctx, pos); err != nil {
		return err
	}
	s.cachePosition(ctx, pos)
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, id string) error {
	if err := s.primary.DeletePosition(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionKey(id))
	return nil
}

func (s *CachedStore) ListPositions(ctx context.Context) ([]types.Position, error) {
	return s.primary.ListPositions(ctx)
}

func (s *CachedStore) ApplyRebalance(ctx context.Context, pos *types.Position, totalDeltas map[string]sdkmath.Int) error {
	if err := s.primary.ApplyRebalance(ctx, pos, totalDeltas); err != nil {
		return err
	}
	// Invalidate rather than re-cache; next read re-populates from the
	// source of truth after the transaction landed.
	s.rdb.Del(ctx, positionKey(pos.ID))
	return nil
}

func (s *CachedStore) EnqueueStuck(ctx context.Context, id string) error {
	return s.primary.EnqueueStuck(ctx, id)
}

func (s *CachedStore) RemoveStuck(ctx context.Context, id string) error {
	return s.primary.RemoveStuck(ctx, id)
}

func (s *CachedStore) ListStuck(ctx context.Context) ([]string, error) {
	return s.primary.ListStuck(ctx)
}

func (s *CachedStore) VenueTotal(ctx context.Context, denom string) (sdkmath.Int, error) {
	return s.primary.VenueTotal(ctx, denom)
}

func (s *CachedStore) Close() error {
	s.rdb.Close()
	return s.primary.Close()
}

func (s *CachedStore) cachePosition(ctx context.Context, pos *types.Position) {
	if data, err := json.Marshal(pos); err == nil {
		s.rdb.Set(ctx, positionKey(pos.ID), data, s.ttl)
	}
}
