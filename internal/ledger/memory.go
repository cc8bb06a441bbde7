package ledger

import (
	"context"
	"sync"
	"time"

	"studypal_go_backend/internal/plans"
)

// MemoryStore is an in-memory Store with lazy daily reset. It backs tests and
// single-instance deployments that run without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	date  string
	count int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]*memoryRecord),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&s.now)
	}
	return s
}

// record returns the identity's record for today, resetting it in place if
// its date has rolled over. Callers must hold s.mu.
func (s *MemoryStore) record(id Identity) *memoryRecord {
	today := DateKey(s.now())
	rec, ok := s.records[id.Key()]
	if !ok {
		rec = &memoryRecord{date: today}
		s.records[id.Key()] = rec
	}
	if rec.date != today {
		rec.date = today
		rec.count = 0
	}
	return rec
}

func (s *MemoryStore) GetUsage(_ context.Context, id Identity, plan plans.Plan) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(id)
	return usageFor(rec.count, plan, rec.date), nil
}

func (s *MemoryStore) RecordQuestion(_ context.Context, id Identity, plan plans.Plan) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(id)
	limit := plans.QuotaFor(plan)
	if rec.count >= limit {
		return usageFor(rec.count, plan, rec.date), ErrLimitExceeded
	}
	rec.count++

	return usageFor(rec.count, plan, rec.date), nil
}
