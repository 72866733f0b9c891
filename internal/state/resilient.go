package state

import (
	"fmt"
	"log/slog"
	"sync"
)

// Resilient wraps a primary Store and keeps a write-through copy in memory.
// After the first failure of the primary it serves everything from memory
// for the rest of the process.
type Resilient struct {
	mu       sync.Mutex
	primary  Store
	memory   *MemoryStore
	degraded bool
}

// NewResilient wraps primary. A nil primary starts degraded.
func NewResilient(primary Store) *Resilient {
	return &Resilient{
		primary:  primary,
		memory:   NewMemoryStore(),
		degraded: primary == nil,
	}
}

// Degraded reports whether the primary store has been abandoned
func (r *Resilient) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

func (r *Resilient) degrade(op string, err error) {
	if r.degraded {
		return
	}
	r.degraded = true
	slog.Warn("Local state unavailable, continuing in memory",
		"operation", op,
		"error", fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err),
	)
}

// Load never fails on primary errors; it falls back to the in-memory copy
func (r *Resilient) Load(key string, v any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.degraded {
		found, err := r.primary.Load(key, v)
		if err == nil {
			return found, nil
		}
		r.degrade("load "+key, err)
	}
	return r.memory.Load(key, v)
}

// Save always updates memory; primary failures are logged, not returned
func (r *Resilient) Save(entries map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.memory.Save(entries); err != nil {
		return err
	}
	if r.degraded {
		return nil
	}
	if err := r.primary.Save(entries); err != nil {
		r.degrade("save", err)
	}
	return nil
}

// Close closes the primary store
func (r *Resilient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.primary == nil {
		return nil
	}
	return r.primary.Close()
}
