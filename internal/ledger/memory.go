package ledger

import (
	"context"
	"sort"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/meridianfi/rlm/internal/types"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]*types.Position
	stuck     map[string]struct{}
	totals    map[string]sdkmath.Int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]*types.Position),
		stuck:     make(map[string]struct{}),
		totals:    make(map[string]sdkmath.Int),
	}
}

func (s *MemoryStore) GetPosition(_ context.Context, id string) (*types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[id]
	if !ok {
		return nil, types.ErrPositionNotFound
	}
	return pos.Clone(), nil
}

func (s *MemoryStore) PutPosition(_ context.Context, pos *types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	s.positions[pos.ID] = pos.Clone()
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.positions, id)
	delete(s.stuck, id)
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context) ([]types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, *pos.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ApplyRebalance(_ context.Context, pos *types.Position, totalDeltas map[string]sdkmath.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions[pos.ID] = pos.Clone()
	for denom, delta := range totalDeltas {
		total, ok := s.totals[denom]
		if !ok {
			total = sdkmath.ZeroInt()
		}
		total = total.Add(delta)
		if total.IsNegative() {
			total = sdkmath.ZeroInt()
		}
		s.totals[denom] = total
	}
	return nil
}

func (s *MemoryStore) EnqueueStuck(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stuck[id] = struct{}{}
	return nil
}

func (s *MemoryStore) RemoveStuck(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.stuck, id)
	return nil
}

func (s *MemoryStore) ListStuck(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.stuck))
	for id := range s.stuck {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) VenueTotal(_ context.Context, denom string) (sdkmath.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total, ok := s.totals[denom]
	if !ok {
		return sdkmath.ZeroInt(), nil
	}
	return total, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
