package zbd

import "sync"

// Registry shares ZoneTables by device path across every File that
// references the same underlying device, the same way original fio's
// zbd_init_zone_info walks other threads' files looking for a matching
// file name before building a fresh table. A process normally has exactly
// one Registry (DefaultRegistry); tests construct their own to avoid
// cross-test leakage.
type Registry struct {
	mu     sync.Mutex
	tables map[string]*ZoneTable
}

// NewRegistry creates an empty table registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*ZoneTable)}
}

// DefaultRegistry is the process-wide registry used when a Job doesn't
// supply its own.
var DefaultRegistry = NewRegistry()

// Acquire returns the ZoneTable for devicePath, building one with build
// if none is registered yet. On a cache hit the existing table's
// refcount is incremented; the caller must call Release exactly once per
// successful Acquire.
func (r *Registry) Acquire(devicePath string, build func() (*ZoneTable, error)) (*ZoneTable, error) {
	r.mu.Lock()
	if zt, ok := r.tables[devicePath]; ok {
		zt.acquire()
		r.mu.Unlock()
		return zt, nil
	}
	r.mu.Unlock()

	zt, err := build()
	if err != nil {
		return nil, err
	}
	zt.DevicePath = devicePath

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tables[devicePath]; ok {
		// another goroutine built it first; keep theirs, let ours drop.
		existing.acquire()
		return existing, nil
	}
	zt.refcount = 1
	r.tables[devicePath] = zt
	return zt, nil
}

// Release decrements devicePath's table refcount, removing it from the
// registry once the last reference drops. Corresponds to spec.md's
// free_zone_info.
func (r *Registry) Release(devicePath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	zt, ok := r.tables[devicePath]
	if !ok {
		return
	}
	if zt.release() {
		delete(r.tables, devicePath)
	}
}
