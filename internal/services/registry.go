package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActiveRegistry tracks which essays currently have a correction attempt in
// flight, so a second dispatch is coalesced instead of duplicated. It is
// advisory: entries expire after staleTTL, so a worker that died without
// releasing cannot block resubmission forever. This is the only shared
// mutable state in the pipeline.
type ActiveRegistry struct {
	mu       sync.Mutex
	active   map[uuid.UUID]time.Time
	staleTTL time.Duration

	now func() time.Time
}

func NewActiveRegistry(staleTTL time.Duration) *ActiveRegistry {
	if staleTTL <= 0 {
		staleTTL = 10 * time.Minute
	}
	return &ActiveRegistry{
		active:   make(map[uuid.UUID]time.Time),
		staleTTL: staleTTL,
		now:      time.Now,
	}
}

// Acquire registers the essay as in flight. It returns false when a live
// entry already exists; a stale entry is reclaimed.
func (r *ActiveRegistry) Acquire(essayID uuid.UUID) bool {
	if essayID == uuid.Nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if started, ok := r.active[essayID]; ok {
		if r.now().Sub(started) < r.staleTTL {
			return false
		}
	}
	r.active[essayID] = r.now()
	return true
}

func (r *ActiveRegistry) Release(essayID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, essayID)
}

func (r *ActiveRegistry) IsActive(essayID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	started, ok := r.active[essayID]
	if !ok {
		return false
	}
	return r.now().Sub(started) < r.staleTTL
}

func (r *ActiveRegistry) ActiveSince(essayID uuid.UUID) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	started, ok := r.active[essayID]
	return started, ok
}

func (r *ActiveRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
