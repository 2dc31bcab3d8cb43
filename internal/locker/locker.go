// Package locker serializes operations on individual entities. A purchase
// must hold both the product row and the buyer row for its whole duration,
// so conflicting purchases queue up instead of losing updates.
package locker

import (
	"fmt"
	"sort"
	"sync"
)

type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New() *Registry {
	return &Registry{locks: make(map[string]*sync.Mutex)}
}

func UserKey(id uint) string    { return fmt.Sprintf("user:%d", id) }
func ProductKey(id uint) string { return fmt.Sprintf("product:%d", id) }

func (r *Registry) get(key string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[key]
	if !ok {
		m = &sync.Mutex{}
		r.locks[key] = m
	}
	return m
}

// Lock acquires every key in a fixed global order so that two callers
// holding overlapping key sets can never deadlock each other.
func (r *Registry) Lock(keys ...string) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, k := range sorted {
		r.get(k).Lock()
	}
}

// Unlock releases the keys in reverse acquisition order.
func (r *Registry) Unlock(keys ...string) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for i := len(sorted) - 1; i >= 0; i-- {
		r.get(sorted[i]).Unlock()
	}
}
