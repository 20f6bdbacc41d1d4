package engine

import (
	"context"
	"sync"
	"time"

	"github.com/bitmerchant/clerk/internal/clerk/intent"
)

// MemoryRepository is an in-memory Repository for tests and ephemeral runs.
// Snapshots are cloned on the way in and out so callers never share slices
// with the stored records.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]*Execution
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*Execution)}
}

// Save upserts a snapshot of ex.
func (r *MemoryRepository) Save(_ context.Context, ex *Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[ex.ID] = ex.Clone()
	return nil
}

// Get returns a copy of the stored execution, or ErrNotFound.
func (r *MemoryRepository) Get(_ context.Context, id string) (*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ex.Clone(), nil
}

// ListByStatus returns copies of all executions in the given status.
func (r *MemoryRepository) ListByStatus(_ context.Context, status Status) ([]*Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Execution
	for _, ex := range r.byID {
		if ex.Status == status {
			out = append(out, ex.Clone())
		}
	}
	return out, nil
}

// CountCompletedSince counts completed executions for userID created at or
// after since.
func (r *MemoryRepository) CountCompletedSince(_ context.Context, userID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ex := range r.byID {
		if ex.UserID == userID && ex.Status == StatusCompleted && !ex.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

// EvictBefore removes terminal executions created before cutoff.
func (r *MemoryRepository) EvictBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, ex := range r.byID {
		if ex.Status.Terminal() && ex.Timestamp.Before(cutoff) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

// Stats summarises the stored executions.
func (r *MemoryRepository) Stats(_ context.Context) (*Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := &Stats{
		ByStatus: make(map[Status]int),
		ByType:   make(map[intent.Type]int),
	}
	for _, ex := range r.byID {
		st.Total++
		st.ByStatus[ex.Status]++
		st.ByType[ex.Intent.Type]++
	}
	return st, nil
}
