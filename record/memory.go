package record

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leeforge/thumbforge/errors"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and
// single-process deployments; multi-worker deployments use the redis
// store so the conditional update is atomic across processes.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[uuid.UUID]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[uuid.UUID]*Record)}
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return nil, errors.NewNotFound("record", id.String())
	}
	return r.Clone(), nil
}

func (s *MemoryStore) BulkGet(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]*Record, len(ids))
	for _, id := range ids {
		if r, ok := s.recs[id]; ok {
			out[id] = r.Clone()
		}
	}
	return out, nil
}

func (s *MemoryStore) BulkCreateIfAbsent(_ context.Context, recs []*Record) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var created []*Record
	for _, r := range recs {
		if _, exists := s.recs[r.ID]; exists {
			continue
		}
		s.recs[r.ID] = r.Clone()
		created = append(created, r.Clone())
	}
	return created, nil
}

func (s *MemoryStore) ConditionalUpdate(_ context.Context, id uuid.UUID, notIn []Status, set Update) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return 0, nil
	}
	for _, blocked := range notIn {
		if r.Status == blocked {
			return 0, nil
		}
	}
	set.Apply(r)
	return 1, nil
}

func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, set Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return errors.NewNotFound("record", id.String())
	}
	set.Apply(r)
	return nil
}

func (s *MemoryStore) ListBuildable(_ context.Context, f BuildableFilter) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []*Record
	for _, r := range s.recs {
		if buildable(r, f, now) {
			out = append(out, r.Clone())
		}
	}
	sortByCreated(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Requeue(_ context.Context, f RequeueFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for _, r := range s.recs {
		if !requeueable(r, f, now) {
			continue
		}
		r.Status = StatusQueued
		r.StatusChangedAt = now
		n++
	}
	return n, nil
}

func (s *MemoryStore) StatusCounts(_ context.Context, staleAfter time.Duration) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	stats := Stats{ErrorDist: map[int]int{}}
	for _, r := range s.recs {
		tally(&stats, r, staleAfter, now)
	}
	return stats, nil
}

// buildable, requeueable, tally and sortByCreated hold the sweep
// semantics shared by all store implementations.

// Oldest first so a bounded sweep drains the queue fairly.
func sortByCreated(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
}

func buildable(r *Record, f BuildableFilter, now time.Time) bool {
	switch r.Status {
	case StatusQueued:
		return true
	case StatusBuilding:
		return f.StaleAfter > 0 && r.Stale(f.StaleAfter, now)
	case StatusSourceError, StatusBuildError:
		return f.MaxErrors >= 0 && r.ErrorCount <= f.MaxErrors
	}
	return false
}

func requeueable(r *Record, f RequeueFilter, now time.Time) bool {
	if r.Status.IsError() {
		return f.MaxErrors < 0 || r.ErrorCount <= f.MaxErrors
	}
	if r.Status == StatusBuilding && f.IncludeStale {
		return r.Stale(f.StaleAfter, now)
	}
	return false
}

func tally(stats *Stats, r *Record, staleAfter time.Duration, now time.Time) {
	switch r.Status {
	case StatusQueued:
		stats.Queued++
	case StatusBuilding:
		stats.Building++
		if staleAfter > 0 && r.Stale(staleAfter, now) {
			stats.Stale++
		}
	case StatusBuilt:
		stats.Built++
	case StatusSourceError:
		stats.SourceErrors++
	case StatusBuildError:
		stats.BuildErrors++
	}
	if r.Status.IsError() {
		stats.ErrorDist[r.ErrorCount]++
	}
}
