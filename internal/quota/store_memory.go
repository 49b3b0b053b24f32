package quota

import (
	"context"
	"sync"
	"time"

	"mentorbook/internal/domain"
)

// MemoryCounterStore is the in-process CounterStore, used when redis is not
// configured and in tests. Counters expire lazily on access.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	clock    domain.Clock
}

type memoryCounter struct {
	count    int64
	expireAt time.Time
}

func NewMemoryCounterStore(clk domain.Clock) *MemoryCounterStore {
	return &MemoryCounterStore{
		counters: make(map[string]*memoryCounter),
		clock:    clk,
	}
}

func (s *MemoryCounterStore) Increment(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	c, ok := s.counters[key]
	if !ok || !c.expireAt.After(now) {
		c = &memoryCounter{expireAt: expireAt}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}

func (s *MemoryCounterStore) Decrement(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok {
		return 0, nil
	}
	if c.count > 0 {
		c.count--
	}
	return c.count, nil
}
